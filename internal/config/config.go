// Package config loads the mailer configuration file. The file may be JSON
// or YAML; optional keys fall back to defaults and the SMTP credentials are
// required.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in the "transport" key.
const (
	TransportSMTP     = "smtp"
	TransportSES      = "ses"
	TransportGraph    = "graph"
	TransportResend   = "resend"
	TransportPostmark = "postmark"
	TransportStdout   = "stdout"
)

// TLS modes for the SMTP transport.
const (
	TLSModeStartTLS = "starttls"
	TLSModeSSL      = "ssl"
	TLSModeNone     = "none"
)

const (
	// DefaultSubject is used when the config omits "subject".
	DefaultSubject = "Aviso automático"

	// DefaultTextBody is the plain-text part sent alongside the HTML body.
	DefaultTextBody = "Seu cliente de e-mail não suporta HTML. Mensagem automática."

	// DefaultFallbackName replaces {{name}} for recipients without a name.
	DefaultFallbackName = "Gabi"
)

var (
	// ErrMissingKey is returned when a required key is absent.
	ErrMissingKey = errors.New("missing required config key")

	// ErrInvalidValue is returned when a key holds an unsupported value.
	ErrInvalidValue = errors.New("invalid config value")
)

// Config holds the complete mailer configuration.
type Config struct {
	SMTPServer    string `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort      Port   `json:"smtp_port" yaml:"smtp_port"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`
	FromName      string `json:"from_name" yaml:"from_name"`
	Subject       string `json:"subject" yaml:"subject"`
	TextBody      string `json:"text_body" yaml:"text_body"`
	FallbackName  string `json:"fallback_name" yaml:"fallback_name"`
	SanitizeNames bool   `json:"sanitize_names" yaml:"sanitize_names"`
	Transport     string `json:"transport" yaml:"transport"`

	TLS      TLSConfig      `json:"tls" yaml:"tls"`
	SES      SESConfig      `json:"ses" yaml:"ses"`
	Graph    GraphConfig    `json:"graph" yaml:"graph"`
	Resend   ResendConfig   `json:"resend" yaml:"resend"`
	Postmark PostmarkConfig `json:"postmark" yaml:"postmark"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// TLSConfig controls transport encryption for the SMTP transport.
type TLSConfig struct {
	Mode               string `json:"mode" yaml:"mode"`
	CAFile             string `json:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES v2 settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
}

// PostmarkConfig holds Postmark API configuration.
type PostmarkConfig struct {
	ServerToken   string `json:"server_token" yaml:"server_token"`
	AccountToken  string `json:"account_token" yaml:"account_token"`
	MessageStream string `json:"message_stream" yaml:"message_stream"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Port is a TCP port that decodes from a number or a numeric string.
// Integral floats such as 587.0 are accepted.
type Port int

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: smtp_port %s is not a number", ErrInvalidValue, raw)
		}
		return p.set(s, false)
	}
	return p.set(raw, true)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: smtp_port must be a number", ErrInvalidValue)
	}
	return p.set(value.Value, value.ShortTag() == "!!float")
}

func (p *Port) set(raw string, allowFloat bool) error {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		*p = Port(n)
		return nil
	}
	if allowFloat {
		f, err := strconv.ParseFloat(raw, 64)
		if err == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
			*p = Port(int(f))
			return nil
		}
	}
	return fmt.Errorf("%w: smtp_port %q is not a number", ErrInvalidValue, raw)
}

// Defaults returns the values applied to every key the file leaves empty.
func Defaults() Config {
	return Config{
		SMTPServer:   "smtp.gmail.com",
		SMTPPort:     587,
		Subject:      DefaultSubject,
		TextBody:     DefaultTextBody,
		FallbackName: DefaultFallbackName,
		Transport:    TransportSMTP,
		TLS:          TLSConfig{Mode: TLSModeStartTLS},
		Postmark:     PostmarkConfig{MessageStream: "outbound"},
		Logging:      LoggingConfig{Level: "warn"},
	}
}

// LoadFromFile reads and validates the configuration at path. Files ending
// in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// Parse decodes a JSON configuration, applies defaults and validates
// required keys. A key given twice keeps its last value.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(cfg)
}

// ParseYAML is Parse for YAML documents.
func ParseYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(cfg)
}

var utf8BOM = []byte("\xef\xbb\xbf")

func finish(cfg *Config) (*Config, error) {
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if cfg.FromName == "" {
		cfg.FromName = cfg.Username
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	cfg.TLS.Mode = strings.ToLower(cfg.TLS.Mode)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and enumerated values.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("%w: username", ErrMissingKey)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password", ErrMissingKey)
	}

	switch c.Transport {
	case TransportSMTP, TransportSES, TransportGraph, TransportResend, TransportPostmark, TransportStdout:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidValue, c.Transport)
	}

	switch c.TLS.Mode {
	case TLSModeStartTLS, TLSModeSSL, TLSModeNone:
	default:
		return fmt.Errorf("%w: unknown tls.mode %q", ErrInvalidValue, c.TLS.Mode)
	}

	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("%w: smtp_port %d out of range", ErrInvalidValue, c.SMTPPort)
	}
	return nil
}

// SESConfigured returns true if a region is set for SES.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}
