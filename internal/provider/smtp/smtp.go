// Package smtp implements a Provider that submits mail to an SMTP server
// over one authenticated session.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-mail/mail"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

// TLS modes.
const (
	ModeStartTLS = "starttls"
	ModeSSL      = "ssl"
	ModeNone     = "none"
)

// defaultTimeout bounds dialing and each command on the session.
const defaultTimeout = 30 * time.Second

// Config holds the configuration for creating a Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Mode is one of ModeStartTLS (default), ModeSSL or ModeNone. Port 465
	// always uses implicit TLS.
	Mode string

	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config

	// LocalName is the name sent in EHLO.
	LocalName string
}

// Provider submits messages through github.com/go-mail/mail.
type Provider struct {
	config Config
}

// New creates an SMTP Provider.
func New(cfg Config) *Provider {
	if cfg.Mode == "" {
		cfg.Mode = ModeStartTLS
	}
	return &Provider{config: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Open dials the server, upgrades to TLS and authenticates. STARTTLS is
// mandatory unless Mode is ModeNone.
func (p *Provider) Open(_ context.Context) (provider.Session, error) {
	d := p.dialer()

	slog.Debug("opening SMTP session",
		"host", p.config.Host,
		"port", p.config.Port,
		"ssl", d.SSL,
		"mode", p.config.Mode,
	)

	sc, err := d.Dial()
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s:%d: %w", p.config.Host, p.config.Port, err)
	}

	slog.Info("SMTP session opened", "host", p.config.Host, "port", p.config.Port)
	return &session{dialer: d, sender: sc}, nil
}

func (p *Provider) dialer() *mail.Dialer {
	d := mail.NewDialer(p.config.Host, p.config.Port, p.config.Username, p.config.Password)
	d.Timeout = defaultTimeout
	d.LocalName = p.config.LocalName
	if p.config.Username != "" {
		d.Auth = &requiredAuth{
			username: p.config.Username,
			password: p.config.Password,
			host:     p.config.Host,
		}
	}

	// One attempt per message: never redial and resend behind the caller.
	d.RetryFailure = false

	tlsConfig := p.config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = p.config.Host
	}
	d.TLSConfig = tlsConfig

	switch p.config.Mode {
	case ModeSSL:
		d.SSL = true
	case ModeNone:
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d
}

// session wraps a go-mail SendCloser.
type session struct {
	dialer *mail.Dialer
	sender mail.SendCloser
}

// Send builds a multipart/alternative message (plain text, then HTML) and
// submits it to the single recipient.
//
// A refused recipient leaves the server mid-transaction, so after any
// failure the connection is quit and the next message starts on a fresh
// one. The failed message itself is never resent.
func (s *session) Send(_ context.Context, msg *email.Email) error {
	if s.sender == nil {
		sc, err := s.dialer.Dial()
		if err != nil {
			return fmt.Errorf("smtp redial: %w", err)
		}
		s.sender = sc
	}

	if err := s.sender.Send(msg.From, msg.To, buildMessage(msg)); err != nil {
		if closeErr := s.sender.Close(); closeErr != nil {
			slog.Debug("failed to quit SMTP session after send error", "error", closeErr)
		}
		s.sender = nil
		return err
	}
	return nil
}

// Close quits the SMTP session.
func (s *session) Close() error {
	if s.sender == nil {
		return nil
	}
	err := s.sender.Close()
	s.sender = nil
	return err
}

// buildMessage converts an email.Email into a go-mail message.
func buildMessage(msg *email.Email) *mail.Message {
	m := mail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	if len(msg.To) == 1 && msg.ToName != "" {
		m.SetAddressHeader("To", msg.To[0], msg.ToName)
	} else {
		m.SetHeader("To", msg.To...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.MessageID != "" {
		m.SetHeader("Message-ID", msg.MessageID)
	}

	switch {
	case msg.TextBody != "" && msg.HtmlBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HtmlBody)
	case msg.HtmlBody != "":
		m.SetBody("text/html", msg.HtmlBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}
	return m
}
