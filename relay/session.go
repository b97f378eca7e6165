package relay

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/protocol"
	"chat-relay/repositories"
)

// State is the lifecycle of a session. Any parse or protocol failure moves
// it straight to StateClosed and tears the connection down.
type State int

const (
	StateLoggingIn State = iota
	StateAuthenticated
	StateClosed
)

// Session owns one client connection. It parses framed records into
// structured requests and dispatches them to the login state machine or the
// router, depending on state. Run executes on a dedicated goroutine; Deliver
// is called concurrently from other sessions' goroutines and timer
// goroutines, so connection writes are serialized by writeMu.
type Session struct {
	conn     net.Conn
	registry *Registry
	router   *Router
	users    repositories.IUserRepository
	messages repositories.IMessageRepository
	log      *slog.Logger
	bufSize  int

	writeMu sync.Mutex

	mu     sync.RWMutex
	state  State
	name   string
	userID int64
}

func NewSession(conn net.Conn, registry *Registry, router *Router,
	users repositories.IUserRepository, messages repositories.IMessageRepository,
	log *slog.Logger, bufSize int) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		router:   router,
		users:    users,
		messages: messages,
		log:      log,
		bufSize:  bufSize,
		state:    StateLoggingIn,
	}
}

// Name returns the display name assigned at login, empty before that.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// UserID returns the numeric id assigned at login.
func (s *Session) UserID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != 0
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Deliver writes one chat record to this session's client.
func (s *Session) Deliver(sender, text string) error {
	return s.send(protocol.ChatMessage{
		User:    sender,
		Message: text,
		Type:    protocol.MessageTypeUser,
	})
}

// Run reads the connection until it closes or a record is fatal to the
// session. A zero-length read means the client disconnected; the residual
// framing tail is still processed, EOF acting as a final terminator.
func (s *Session) Run() {
	defer s.teardown()

	framer := &protocol.Framer{}
	buf := make([]byte, s.bufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, record := range framer.Push(buf[:n]) {
				if handleErr := s.handle(record); handleErr != nil {
					s.log.Warn("Invalid record, kicking client", "error", handleErr)
					return
				}
			}
		}
		if err != nil {
			if record, ok := framer.Flush(); ok {
				if handleErr := s.handle(record); handleErr != nil {
					s.log.Warn("Invalid trailing record", "error", handleErr)
				}
			}
			if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) {
				s.log.Warn("Read failed", "error", err)
			}
			s.log.Info("Client exiting", "user", s.Name())
			return
		}
	}
}

func (s *Session) handle(record []byte) error {
	switch s.State() {
	case StateLoggingIn:
		return s.handleLogin(record)
	case StateAuthenticated:
		return s.handleMessage(record)
	default:
		return errors.ErrSessionClosed
	}
}

// handleLogin drives the LoggingIn -> Authenticated transition. Every
// failure path replies with a structured error and is fatal to the session.
func (s *Session) handleLogin(record []byte) error {
	var req protocol.LoginRequest
	if err := json.Unmarshal(record, &req); err != nil {
		return fmt.Errorf("parse login: %w", err)
	}

	if err := auth.ValidateLogin(req); err != nil {
		s.reply(protocol.LoginResult{Response: protocol.ResponseBadLogin, Message: "Bad login message"})
		return fmt.Errorf("%w: %v", errors.ErrBadLoginMessage, err)
	}
	name, secret := *req.User, *req.Pass

	var id int64
	var err error
	if req.Create {
		id, err = s.users.CreateUser(name, secret)
	} else {
		_, found, lookupErr := s.users.Exists(name)
		if lookupErr != nil {
			return lookupErr
		}
		if !found {
			s.reply(protocol.LoginResult{Response: protocol.ResponseBadLoginNoUser, Message: "Bad login message"})
			return errors.ErrBadLoginMessage
		}
		id, err = s.users.Authenticate(name, secret)
	}
	if err != nil {
		s.reply(protocol.LoginResult{Response: protocol.ResponseUnknownUser, Message: "Unknown user"})
		return fmt.Errorf("%w: %v", errors.ErrUnknownUser, err)
	}

	s.mu.Lock()
	s.name = name
	s.userID = id
	s.state = StateAuthenticated
	s.mu.Unlock()

	names, err := s.users.ListUsernames()
	if err != nil {
		return err
	}
	roster := append(names, SyntheticNames()...)
	if err := s.reply(protocol.LoginResult{Response: protocol.ResponseOK, Message: "OK", Users: roster}); err != nil {
		return err
	}
	s.log.Info("User logged in", "user", name, "id", id)

	return s.drainPending()
}

// drainPending delivers every persisted message addressed to this session,
// marking each delivered as it goes out. A crash mid-drain redelivers on
// the next login: at-least-once.
func (s *Session) drainPending() error {
	pending, err := s.messages.PendingFor(s.userID)
	if err != nil {
		s.log.Error("Pending lookup failed", "user", s.Name(), "error", err)
		return nil
	}
	for _, msg := range pending {
		if err := s.Deliver(msg.SenderName, msg.Text); err != nil {
			return err
		}
		if err := s.messages.MarkDelivered(msg.Key); err != nil {
			s.log.Error("Failed to mark message delivered", "key", msg.Key, "error", err)
		}
	}
	return nil
}

// handleMessage relays a chat record once per recipient. Malformed records
// are dropped silently; only an unparseable one is fatal.
func (s *Session) handleMessage(record []byte) error {
	var req protocol.MessageRequest
	if err := json.Unmarshal(record, &req); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	if err := auth.ValidateMessage(req); err != nil {
		s.log.Debug("Dropping malformed message record", "user", s.Name())
		return nil
	}
	for _, recipient := range req.Users {
		s.log.Debug("Routing message", "from", s.Name(), "to", recipient)
		s.router.Route(s, recipient, *req.Message)
	}
	return nil
}

func (s *Session) reply(result protocol.LoginResult) error {
	return s.send(result)
}

func (s *Session) send(record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.State() == StateClosed {
		return errors.ErrSessionClosed
	}
	_, err = s.conn.Write(append(payload, protocol.Terminator))
	return err
}

// teardown closes the connection and removes this session from the
// registry. Only this session is affected; peers keep running.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	_ = s.conn.Close()
	s.registry.Remove(s)
}
