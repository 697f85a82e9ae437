// Package stdout implements a dry-run Provider that prints each message
// instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// Open never fails: there is nothing to connect to.
func (p *Provider) Open(_ context.Context) (provider.Session, error) {
	return provider.NopCloser(p.send), nil
}

// send prints the message, HTML body included, so a dry run shows the
// personalized content.
func (p *Provider) send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.FromHeader())
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, email.Address(msg.ToName, addr))
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	}
	if msg.TextBody != "" {
		b.WriteString("Text:\n")
		b.WriteString(msg.TextBody + "\n")
	}
	if msg.HtmlBody != "" {
		b.WriteString("HTML:\n")
		b.WriteString(msg.HtmlBody + "\n")
	}
	b.WriteString("========================================\n")

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to print message: %w", err)
	}
	return nil
}
