// Package postmark implements a Provider backed by the Postmark API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

// ErrMissingToken is returned when no server token is configured.
var ErrMissingToken = errors.New("postmark: server_token is required")

// Config holds the configuration for creating a Provider.
type Config struct {
	ServerToken   string
	AccountToken  string
	MessageStream string
}

// API is the part of the Postmark client the provider uses.
type API interface {
	GetCurrentServer(ctx context.Context) (postmark.Server, error)
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Provider sends messages through the Postmark API.
type Provider struct {
	config Config
	client API
}

// New creates a Provider from the configured tokens.
func New(cfg Config) *Provider {
	return &Provider{
		config: cfg,
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
	}
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(cfg Config, client API) *Provider {
	return &Provider{config: cfg, client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "postmark"
}

// Open verifies the server token by reading the current server.
func (p *Provider) Open(ctx context.Context) (provider.Session, error) {
	if p.config.ServerToken == "" {
		return nil, ErrMissingToken
	}

	server, err := p.client.GetCurrentServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("postmark: failed to verify server token: %w", err)
	}

	slog.Info("postmark session opened", "server", server.Name)
	return provider.NopCloser(p.send), nil
}

func (p *Provider) send(ctx context.Context, msg *email.Email) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, email.Address(msg.ToName, addr))
	}

	pm := postmark.Email{
		From:          msg.FromHeader(),
		To:            strings.Join(to, ","),
		Subject:       msg.Subject,
		HTMLBody:      msg.HtmlBody,
		TextBody:      msg.TextBody,
		MessageStream: p.config.MessageStream,
	}
	if msg.MessageID != "" {
		pm.Headers = []postmark.Header{{Name: "Message-ID", Value: msg.MessageID}}
	}

	resp, err := p.client.SendEmail(ctx, pm)
	if err != nil {
		return fmt.Errorf("postmark: failed to send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}

	slog.Debug("postmark accepted message", "message_id", resp.MessageID)
	return nil
}
