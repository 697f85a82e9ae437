// Package mailer sends one personalized message per recipient over a single
// transport session and reports the outcome of each send.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
	"github.com/shineum/groupmail/internal/recipients"
)

var (
	// ErrConnect wraps any failure to open the transport session. Nothing
	// has been sent when it is returned.
	ErrConnect = errors.New("failed to connect to the mail transport")

	// ErrNoRecipients is returned when there is nothing to send.
	ErrNoRecipients = errors.New("no valid recipients")
)

// Renderer produces the HTML body for one recipient name.
type Renderer interface {
	Render(name string) string
}

// Options are the per-run message settings.
type Options struct {
	// From is the sender address, the configured username.
	From     string
	FromName string
	Subject  string
	TextBody string
}

// Failure is one recipient that could not be sent to.
type Failure struct {
	Email string
	Err   error
}

// Report aggregates the outcome of a run.
type Report struct {
	Sent     int
	Failures []Failure
}

// Total returns the number of attempted sends.
func (r Report) Total() int {
	return r.Sent + len(r.Failures)
}

// PrintSummary writes the summary block.
func (r Report) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "\n=== Summary ===")
	fmt.Fprintf(w, "Sent successfully: %d\n", r.Sent)
	if len(r.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "Failed (%d):\n", len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, " - %s: %v\n", f.Email, f.Err)
	}
}

// Mailer drives one run.
type Mailer struct {
	provider provider.Provider
	renderer Renderer
	opts     Options
	out      io.Writer
	newID    func() string
}

// New creates a Mailer that prints status lines to out.
func New(p provider.Provider, r Renderer, opts Options, out io.Writer) *Mailer {
	return &Mailer{
		provider: p,
		renderer: r,
		opts:     opts,
		out:      out,
		newID:    uuid.NewString,
	}
}

// Run opens one session, sends to every recipient in order and closes the
// session. A failed send is recorded and the loop moves on; only a failure
// to open the session aborts the run.
func (m *Mailer) Run(ctx context.Context, rs []recipients.Recipient) (Report, error) {
	var report Report
	if len(rs) == 0 {
		return report, ErrNoRecipients
	}

	fmt.Fprintf(m.out, "\nSending to %d recipient(s)...\n\n", len(rs))

	session, err := m.provider.Open(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close transport session",
				"provider", m.provider.Name(),
				"error", err,
			)
		}
	}()

	for _, r := range rs {
		msg := m.compose(r)
		if err := session.Send(ctx, msg); err != nil {
			fmt.Fprintf(m.out, "ERRO -> %s: %v\n", r.Email, err)
			slog.Debug("send failed",
				"provider", m.provider.Name(),
				"to", r.Email,
				"error", err,
			)
			report.Failures = append(report.Failures, Failure{Email: r.Email, Err: err})
			continue
		}
		fmt.Fprintf(m.out, "OK -> %s\n", r.Email)
		report.Sent++
	}

	slog.Info("run finished",
		"provider", m.provider.Name(),
		"sent", report.Sent,
		"failed", len(report.Failures),
	)
	return report, nil
}

// compose builds the message for one recipient.
func (m *Mailer) compose(r recipients.Recipient) *email.Email {
	return &email.Email{
		From:      m.opts.From,
		FromName:  m.opts.FromName,
		To:        []string{r.Email},
		ToName:    r.Name,
		Subject:   m.opts.Subject,
		TextBody:  m.opts.TextBody,
		HtmlBody:  m.renderer.Render(r.Name),
		MessageID: fmt.Sprintf("<%s@%s>", m.newID(), senderDomain(m.opts.From)),
	}
}

// senderDomain returns the domain part of addr, or "localhost".
func senderDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
