// Package smtptest runs an in-process SMTP server for tests. It speaks
// enough ESMTP for a real client: STARTTLS or implicit TLS with a
// self-signed certificate, AUTH PLAIN and LOGIN, and per-recipient
// rejection. Delivered messages are parsed and kept in memory.
package smtptest

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/shineum/groupmail/internal/email"
	tlsutil "github.com/shineum/groupmail/internal/tls"
)

// Config controls how the server behaves.
type Config struct {
	// Hostname is the server hostname used in the greeting and EHLO responses.
	Hostname string

	// Username and Password configure SMTP AUTH. If both are empty,
	// authentication is not offered or required.
	Username string
	Password string

	// StartTLS advertises STARTTLS with a self-signed certificate.
	StartTLS bool

	// ImplicitTLS wraps every connection in TLS from the first byte.
	ImplicitTLS bool

	// Reject, when set, answers RCPT TO for matching addresses with 550.
	Reject func(rcpt string) bool
}

// Message is one accepted DATA transaction.
type Message struct {
	From  string
	To    []string
	Raw   []byte
	Email *email.Email
}

// Server is an SMTP server listening on a random loopback port.
type Server struct {
	config    Config
	listener  net.Listener
	tlsConfig *tls.Config
	caPEM     []byte
	cancel    context.CancelFunc

	mu          sync.Mutex
	messages    []Message
	conns       map[net.Conn]struct{}
	connections int

	// wg tracks the accept loop and in-flight session goroutines.
	wg sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	s := &Server{
		config: cfg,
		conns:  make(map[net.Conn]struct{}),
	}

	if cfg.StartTLS || cfg.ImplicitTLS {
		tlsConfig, err := tlsutil.LoadOrGenerateTLS("", "")
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tlsConfig
		s.caPEM = tlsutil.CertificatePEM(&tlsConfig.Certificates[0])
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if cfg.ImplicitTLS {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.serve(ctx)

	slog.Debug("test SMTP server listening",
		"addr", ln.Addr().String(),
		"auth", s.authRequired(),
		"starttls", cfg.StartTLS,
		"implicit_tls", cfg.ImplicitTLS,
	)
	return s, nil
}

func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.connections++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.forget(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close stops accepting connections, drops open sessions and waits for
// their goroutines to exit.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Host returns the loopback address the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// CertificatePEM returns the server certificate, or nil when TLS is off.
// Clients trust it by writing it to a CA file.
func (s *Server) CertificatePEM() []byte {
	return s.caPEM
}

// Messages returns a copy of every message accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Connections returns how many connections have been accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) deliver(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *Server) authRequired() bool {
	return s.config.Username != "" || s.config.Password != ""
}

func (s *Server) rejects(rcpt string) bool {
	return s.config.Reject != nil && s.config.Reject(rcpt)
}
