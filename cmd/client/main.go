package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"chat-relay/protocol"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddr string `envconfig:"CHAT_SERVER_ADDR" default:"localhost:4000"`
	User       string `envconfig:"CHAT_USER" required:"true"`
	Pass       string `envconfig:"CHAT_PASS" required:"true"`
	Create     bool   `envconfig:"CHAT_CREATE" default:"false"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run dials the relay, logs in, then relays stdin lines of the form
// "recipient text..." until EOF. Incoming records print concurrently.
func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	conn, err := net.Dial("tcp", config.ServerAddr)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to relay at %s: %w", config.ServerAddr, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	if err := send(conn, protocol.LoginRequest{
		User:   &config.User,
		Pass:   &config.Pass,
		Create: config.Create,
	}); err != nil {
		return exitRuntime, err
	}

	reader := &recordReader{conn: conn, framer: &protocol.Framer{}}
	result, err := readLoginResult(reader)
	if err != nil {
		return exitRuntime, err
	}
	if result.Response != protocol.ResponseOK {
		return exitRuntime, fmt.Errorf("login rejected (%d): %s", result.Response, result.Message)
	}
	fmt.Println(color.New(color.FgGreen).Render("Logged in. Roster: " + strings.Join(result.Users, ", ")))

	// Incoming chat records, including the offline backlog drained at login
	go printIncoming(reader)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		recipient, text, found := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !found || recipient == "" {
			fmt.Println("usage: <recipient> <message>")
			continue
		}
		if err := send(conn, protocol.MessageRequest{Users: []string{recipient}, Message: &text}); err != nil {
			return exitRuntime, err
		}
	}
	return exitOK, scanner.Err()
}

func send(conn net.Conn, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(payload, protocol.Terminator))
	return err
}

// recordReader hands out framed records one at a time, keeping records that
// arrived in the same read queued for the next call.
type recordReader struct {
	conn   net.Conn
	framer *protocol.Framer
	queue  [][]byte
}

func (r *recordReader) next() ([]byte, error) {
	buf := make([]byte, 4096)
	for len(r.queue) == 0 {
		n, err := r.conn.Read(buf)
		if n > 0 {
			r.queue = append(r.queue, r.framer.Push(buf[:n])...)
		}
		if err != nil {
			return nil, err
		}
	}
	record := r.queue[0]
	r.queue = r.queue[1:]
	return record, nil
}

func readLoginResult(reader *recordReader) (protocol.LoginResult, error) {
	var result protocol.LoginResult
	record, err := reader.next()
	if err != nil {
		return result, err
	}
	return result, json.Unmarshal(record, &result)
}

func printIncoming(reader *recordReader) {
	for {
		record, err := reader.next()
		if err != nil {
			fmt.Println(color.New(color.FgRed).Render("Connection lost"))
			return
		}
		var message protocol.ChatMessage
		if err := json.Unmarshal(record, &message); err != nil {
			continue
		}
		header := color.New(color.FgCyan).Render(message.User)
		fmt.Printf("%s %s\n", header, message.Message)
	}
}
