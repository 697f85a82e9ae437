// Package resend implements a Provider backed by the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("resend: api_key is required")

// Emails is the part of the Resend client the provider uses.
type Emails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends messages through the Resend API.
type Provider struct {
	apiKey string
	emails Emails
}

// New creates a Provider for the given API key.
func New(apiKey string) *Provider {
	return &Provider{
		apiKey: apiKey,
		emails: resend.NewClient(apiKey).Emails,
	}
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(apiKey string, emails Emails) *Provider {
	return &Provider{apiKey: apiKey, emails: emails}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Open only checks that a key is present. Sending-only keys cannot call
// any read endpoint, so the first send is the real credential check.
func (p *Provider) Open(_ context.Context) (provider.Session, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return provider.NopCloser(p.send), nil
}

func (p *Provider) send(ctx context.Context, msg *email.Email) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, email.Address(msg.ToName, addr))
	}

	resp, err := p.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.FromHeader(),
		To:      to,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	slog.Debug("resend accepted message", "id", resp.Id)
	return nil
}
