package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"chat-relay/repositories"
)

// Server owns the listening endpoint and the registry shared by every
// session. The three synthetic responders are registered once, before any
// client is accepted, and stay for the process lifetime.
type Server struct {
	addr     string
	registry *Registry
	router   *Router
	users    repositories.IUserRepository
	messages repositories.IMessageRepository
	log      *slog.Logger
	bufSize  int
}

func NewServer(log *slog.Logger, users repositories.IUserRepository,
	messages repositories.IMessageRepository, addr string, bufSize int,
	echoDelay time.Duration) *Server {
	registry := NewRegistry()
	registry.Add(NewEchoResponder(registry))
	registry.Add(NewDoubleEchoResponder(registry))
	registry.Add(NewDelayedEchoResponder(registry, echoDelay))

	return &Server{
		addr:     addr,
		registry: registry,
		router:   NewRouter(registry, users, messages, log),
		users:    users,
		messages: messages,
		log:      log,
		bufSize:  bufSize,
	}
}

// Registry exposes the live peer set, mainly for tests and inspection.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run listens on the configured address and accepts clients until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from an existing listener. Each accepted client
// gets a session goroutine; teardown of one session never affects another.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	s.log.Info("Waiting for clients", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.log.Error("Accept failed", "error", err)
			continue
		}
		s.log.Info("Accepted client", "remote", conn.RemoteAddr().String())
		session := NewSession(conn, s.registry, s.router, s.users, s.messages, s.log, s.bufSize)
		s.registry.Add(session)
		go session.Run()
	}
}
