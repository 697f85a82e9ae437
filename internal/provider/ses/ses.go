// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/groupmail/internal/email"
	"github.com/shineum/groupmail/internal/provider"
)

// ErrSendingDisabled is returned by Open when the account cannot send.
var ErrSendingDisabled = errors.New("SES sending is disabled for this account")

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the SES v2 client the provider calls.
// Used for testing with mock implementations.
type API interface {
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	client API
}

// New creates a Provider from static credentials, or from the default AWS
// credential chain when they are empty. The SDK retryer is limited to a
// single attempt.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client API) *Provider {
	return &Provider{client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// Open checks the credentials with GetAccount.
func (p *Provider) Open(ctx context.Context) (provider.Session, error) {
	out, err := p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, fmt.Errorf("SES GetAccount: %w", err)
	}
	if !out.SendingEnabled {
		return nil, ErrSendingDisabled
	}

	slog.Info("SES session opened", "production_access", out.ProductionAccessEnabled)
	return provider.NopCloser(p.send), nil
}

// send delivers one message as SES simple content. SES assigns its own
// Message-ID.
func (p *Provider) send(ctx context.Context, msg *email.Email) error {
	out, err := p.client.SendEmail(ctx, buildInput(msg))
	if err != nil {
		return fmt.Errorf("SES SendEmail: %w", err)
	}
	slog.Debug("SES accepted message", "message_id", aws.ToString(out.MessageId))
	return nil
}

// buildInput creates a SendEmailInput with text and HTML bodies.
func buildInput(msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, email.Address(msg.ToName, addr))
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromHeader()),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}
