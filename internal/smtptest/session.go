package smtptest

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/shineum/groupmail/internal/parser"
)

const (
	idleTimeout    = 60 * time.Second
	maxMessageSize = 10 << 20
)

// transaction is the envelope collected between MAIL and DATA.
type transaction struct {
	from string
	to   []string
}

// conn is one client connection.
type conn struct {
	srv  *Server
	raw  net.Conn
	text *textproto.Conn

	secure   bool
	greeted  bool
	authed   bool
	envelope *transaction
}

// handler runs one command and reports whether the connection should end.
type handler func(c *conn, arg string) bool

var commands = map[string]handler{
	"EHLO":     (*conn).ehlo,
	"HELO":     (*conn).helo,
	"STARTTLS": (*conn).startTLS,
	"AUTH":     (*conn).auth,
	"MAIL":     (*conn).mail,
	"RCPT":     (*conn).rcpt,
	"DATA":     (*conn).data,
	"RSET": func(c *conn, _ string) bool {
		c.envelope = nil
		return c.reply(250, "OK")
	},
	"NOOP": func(c *conn, _ string) bool { return c.reply(250, "OK") },
	"QUIT": func(c *conn, _ string) bool {
		c.reply(221, "Bye")
		return true
	},
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	c := &conn{srv: s, raw: raw, text: textproto.NewConn(raw), secure: s.config.ImplicitTLS}
	defer func() { c.text.Close() }()

	c.reply(220, "%s ESMTP smtptest", s.config.Hostname)
	for ctx.Err() == nil {
		if err := c.raw.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		line, err := c.text.ReadLine()
		if err != nil {
			slog.Debug("smtptest: connection closed", "error", err)
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		h, ok := commands[verb]
		if !ok {
			c.reply(500, "Unrecognized command")
			continue
		}
		if h(c, arg) {
			return
		}
	}
	c.reply(421, "Service shutting down")
}

// reply writes one response line. It reports true when the write failed so
// handlers can end the connection.
func (c *conn) reply(code int, format string, args ...any) bool {
	if err := c.text.PrintfLine("%d %s", code, fmt.Sprintf(format, args...)); err != nil {
		slog.Debug("smtptest: write failed", "error", err)
		return true
	}
	return false
}

func (c *conn) helo(arg string) bool {
	if arg == "" {
		return c.reply(501, "Syntax: HELO hostname")
	}
	c.greeted = true
	return c.reply(250, "%s Hello %s", c.srv.config.Hostname, arg)
}

func (c *conn) ehlo(arg string) bool {
	if arg == "" {
		return c.reply(501, "Syntax: EHLO hostname")
	}
	c.greeted = true

	lines := []string{fmt.Sprintf("%s Hello %s", c.srv.config.Hostname, arg)}
	if c.srv.config.StartTLS && !c.secure {
		lines = append(lines, "STARTTLS")
	}
	if c.srv.authRequired() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", maxMessageSize), "OK")

	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if err := c.text.PrintfLine("250%s%s", sep, l); err != nil {
			return true
		}
	}
	return false
}

func (c *conn) startTLS(string) bool {
	if !c.srv.config.StartTLS || c.secure {
		return c.reply(454, "TLS not available")
	}
	if c.reply(220, "Ready to start TLS") {
		return true
	}

	tlsConn := tls.Server(c.raw, c.srv.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("smtptest: TLS handshake failed", "error", err)
		return true
	}
	// RFC 3207: the client starts over after the handshake.
	c.raw, c.text = tlsConn, textproto.NewConn(tlsConn)
	c.secure, c.greeted, c.authed, c.envelope = true, false, false, nil
	return false
}

func (c *conn) auth(arg string) bool {
	switch {
	case !c.greeted:
		return c.reply(503, "Send EHLO/HELO first")
	case !c.srv.authRequired():
		return c.reply(503, "AUTH not available")
	}

	mech, initial, _ := strings.Cut(arg, " ")
	var user, pass string
	switch strings.ToUpper(mech) {
	case "PLAIN":
		resp, ok := c.challenge("", initial)
		if !ok {
			return true
		}
		// authzid NUL authcid NUL password
		parts := strings.SplitN(resp, "\x00", 3)
		if len(parts) == 3 {
			user, pass = parts[1], parts[2]
		}
	case "LOGIN":
		var ok bool
		if user, ok = c.challenge("Username:", ""); !ok {
			return true
		}
		if pass, ok = c.challenge("Password:", ""); !ok {
			return true
		}
	default:
		return c.reply(504, "Unrecognized authentication type")
	}

	if user != c.srv.config.Username || pass != c.srv.config.Password {
		return c.reply(535, "5.7.8 Authentication failed")
	}
	c.authed = true
	return c.reply(235, "Authentication successful")
}

// challenge sends a 334 prompt unless the client already supplied a
// response, then decodes the base64 answer. A failed decode or a "*"
// cancel yields an empty response that will not match any credential.
func (c *conn) challenge(prompt, initial string) (string, bool) {
	resp := initial
	if resp == "" {
		if c.reply(334, "%s", base64.StdEncoding.EncodeToString([]byte(prompt))) {
			return "", false
		}
		line, err := c.text.ReadLine()
		if err != nil {
			return "", false
		}
		resp = line
	}
	decoded, err := base64.StdEncoding.DecodeString(resp)
	if err != nil {
		return "", true
	}
	return string(decoded), true
}

func (c *conn) mail(arg string) bool {
	switch {
	case !c.greeted:
		return c.reply(503, "Send EHLO/HELO first")
	case c.srv.authRequired() && !c.authed:
		return c.reply(530, "Authentication required")
	case c.envelope != nil:
		return c.reply(503, "5.5.1 Nested MAIL command")
	}

	from, ok := parsePath(arg, "FROM:")
	if !ok {
		return c.reply(501, "Syntax: MAIL FROM:<address>")
	}
	c.envelope = &transaction{from: from}
	return c.reply(250, "OK")
}

func (c *conn) rcpt(arg string) bool {
	if c.envelope == nil {
		return c.reply(503, "Send MAIL FROM first")
	}
	to, ok := parsePath(arg, "TO:")
	if !ok {
		return c.reply(501, "Syntax: RCPT TO:<address>")
	}
	if c.srv.rejects(to) {
		return c.reply(550, "5.1.1 <%s>: Recipient address rejected", to)
	}
	c.envelope.to = append(c.envelope.to, to)
	return c.reply(250, "OK")
}

func (c *conn) data(string) bool {
	if c.envelope == nil || len(c.envelope.to) == 0 {
		return c.reply(503, "Send RCPT TO first")
	}
	if c.reply(354, "Start mail input; end with <CRLF>.<CRLF>") {
		return true
	}

	lines, err := c.text.ReadDotLines()
	if err != nil {
		return true
	}
	var raw []byte
	if len(lines) > 0 {
		raw = []byte(strings.Join(lines, "\r\n") + "\r\n")
	}

	env := c.envelope
	c.envelope = nil

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Debug("smtptest: unparseable message", "error", err)
		return c.reply(550, "Failed to process message")
	}
	c.srv.deliver(Message{From: env.from, To: env.to, Raw: raw, Email: msg})
	return c.reply(250, "OK message accepted")
}

// parseCommand splits a command line into its upper-cased verb and the rest.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

// parsePath reads the address after a FROM:/TO: keyword, with or without
// angle brackets. ESMTP parameters after the address are ignored.
func parsePath(arg, keyword string) (string, bool) {
	if len(arg) < len(keyword) || !strings.EqualFold(arg[:len(keyword)], keyword) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(keyword):])

	if strings.HasPrefix(rest, "<") {
		addr, _, found := strings.Cut(rest[1:], ">")
		return addr, found && addr != ""
	}
	addr, _, _ := strings.Cut(rest, " ")
	return addr, addr != ""
}
