package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

const (
	graphScope     = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox that sends, usually the configured username.
	Sender string
}

// Provider sends emails via the Microsoft Graph API using OAuth2 client
// credentials.
type Provider struct {
	graphURL   string
	oauth      *clientcredentials.Config
	httpClient *http.Client
}

// New creates a Provider for the given tenant and sender mailbox.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: requestTimeout})
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		graphURL:   graphURL,
		httpClient: client,
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "graph"
}

// Open fetches an access token. The returned session reuses it and
// refreshes it when it expires.
func (p *Provider) Open(ctx context.Context) (provider.Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	ts := p.oauth.TokenSource(ctx)

	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("failed to get Graph access token: %w", err)
	}

	client := oauth2.NewClient(ctx, ts)
	client.Timeout = p.httpClient.Timeout

	slog.Info("Graph session opened")
	return &session{graphURL: p.graphURL, client: client}, nil
}

type session struct {
	graphURL string
	client   *http.Client
}

// Send performs one sendMail request. Graph answers 202 Accepted on success.
func (s *session) Send(ctx context.Context, msg *email.Email) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("Graph API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return &sendError{statusCode: resp.StatusCode, code: graphErrResp.Error.Code, message: graphErrResp.Error.Message}
	}
	return &sendError{statusCode: resp.StatusCode, message: string(body)}
}

// Close implements provider.Session.
func (s *session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// sendError is a non-success answer from the sendMail endpoint.
type sendError struct {
	statusCode int
	code       string
	message    string
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
