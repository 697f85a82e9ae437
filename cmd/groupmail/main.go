// Package main is the entry point for groupmail, a one-shot HTML mailer that
// sends a personalized message to every member of a chosen recipient group.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/shineum/groupmail/internal/config"
	"github.com/shineum/groupmail/internal/mailer"
	"github.com/shineum/groupmail/internal/menu"
	"github.com/shineum/groupmail/internal/provider"
	"github.com/shineum/groupmail/internal/provider/graph"
	"github.com/shineum/groupmail/internal/provider/postmark"
	"github.com/shineum/groupmail/internal/provider/resend"
	"github.com/shineum/groupmail/internal/provider/ses"
	"github.com/shineum/groupmail/internal/provider/smtp"
	"github.com/shineum/groupmail/internal/provider/stdout"
	"github.com/shineum/groupmail/internal/recipients"
	"github.com/shineum/groupmail/internal/tmpl"
	smtptls "github.com/shineum/groupmail/internal/tls"
)

// Process exit codes.
const (
	exitOK      = 0
	exitSetup   = 1
	exitConnect = 2
)

const (
	recipientsFile = "recipients.json"
	templateFile   = "email_template.html"
)

// configFiles are tried in order inside each search directory.
var configFiles = []string{"config.json", "config.yaml", "config.yml"}

var errMissingFiles = errors.New("required files not found")

func main() {
	os.Exit(run(context.Background(), searchDirs(), os.Stdin, os.Stdout))
}

// run executes one mailing and returns the process exit code. Operator
// output goes to out; diagnostics go to the slog logger on stderr.
func run(ctx context.Context, dirs []string, in io.Reader, out io.Writer) int {
	setupLogger("warn")

	files, err := resolvePaths(dirs)
	if err != nil {
		fmt.Fprintf(out, "Required files not found. Check %s, %s and %s.\n", configFiles[0], recipientsFile, templateFile)
		slog.Error("failed to locate input files", "error", err)
		return exitSetup
	}

	cfg, err := config.LoadFromFile(files.config)
	if err != nil {
		fmt.Fprintf(out, "Invalid configuration: %v\n", err)
		return exitSetup
	}
	setupLogger(cfg.Logging.Level)
	slog.Debug("input files resolved",
		"config", files.config,
		"recipients", files.recipients,
		"template", files.template,
	)

	book, err := recipients.LoadFromFile(files.recipients)
	if err != nil {
		if errors.Is(err, recipients.ErrInvalidShape) {
			fmt.Fprintf(out, "The %s file must contain an object with groups.\n", recipientsFile)
		} else {
			fmt.Fprintf(out, "Invalid recipients file: %v\n", err)
		}
		return exitSetup
	}

	opts := []tmpl.Option{tmpl.WithFallback(cfg.FallbackName)}
	if cfg.SanitizeNames {
		opts = append(opts, tmpl.WithSanitizedNames())
	}
	template, err := tmpl.LoadFromFile(files.template, opts...)
	if err != nil {
		fmt.Fprintf(out, "Invalid template file: %v\n", err)
		return exitSetup
	}

	prov, err := selectProvider(ctx, cfg, out)
	if err != nil {
		fmt.Fprintf(out, "Invalid transport configuration: %v\n", err)
		return exitSetup
	}

	options := make([]menu.Option, 0, len(book.Groups))
	for _, g := range book.Groups {
		options = append(options, menu.Option{Name: g.Name, Count: len(g.Entries)})
	}
	choice, err := menu.New(in, out).Pick(options)
	if err != nil {
		fmt.Fprintln(out, "No option selected.")
		slog.Error("group selection aborted", "error", err)
		return exitSetup
	}

	selected := book.Select(choice.Group, choice.All)
	slog.Debug("recipients selected",
		"group", choice.Group,
		"all", choice.All,
		"count", len(selected),
	)

	m := mailer.New(prov, template, mailer.Options{
		From:     cfg.Username,
		FromName: cfg.FromName,
		Subject:  cfg.Subject,
		TextBody: cfg.TextBody,
	}, out)

	report, err := m.Run(ctx, selected)
	switch {
	case errors.Is(err, mailer.ErrNoRecipients):
		fmt.Fprintln(out, "No valid recipients found for the selected group.")
		return exitOK
	case errors.Is(err, mailer.ErrConnect):
		fmt.Fprintf(out, "Failed to connect/send via %s: %v\n", prov.Name(), err)
		return exitConnect
	case err != nil:
		fmt.Fprintf(out, "Unexpected error: %v\n", err)
		return exitConnect
	}

	report.PrintSummary(out)
	return exitOK
}

// inputFiles are the three files a run reads.
type inputFiles struct {
	config     string
	recipients string
	template   string
}

// searchDirs returns the working directory and the executable's directory.
func searchDirs() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dirs = append(dirs, filepath.Dir(exe))
	}
	return dirs
}

// resolvePaths picks the first directory holding a config file and checks
// that all three input files exist there before any of them is parsed.
func resolvePaths(dirs []string) (inputFiles, error) {
	for _, dir := range dirs {
		for _, name := range configFiles {
			path := filepath.Join(dir, name)
			if !fileExists(path) {
				continue
			}
			files := inputFiles{
				config:     path,
				recipients: filepath.Join(dir, recipientsFile),
				template:   filepath.Join(dir, templateFile),
			}
			var missing []string
			for _, p := range []string{files.recipients, files.template} {
				if !fileExists(p) {
					missing = append(missing, p)
				}
			}
			if len(missing) > 0 {
				return inputFiles{}, fmt.Errorf("%w: %v", errMissingFiles, missing)
			}
			return files, nil
		}
	}
	return inputFiles{}, fmt.Errorf("%w: no %s in %v", errMissingFiles, configFiles[0], dirs)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// setupLogger installs a charmbracelet/log handler on stderr as the slog
// default. Unknown levels fall back to warn.
func setupLogger(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.WarnLevel
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "groupmail",
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the transport named in the configuration. No
// network activity happens here.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	switch cfg.Transport {
	case config.TransportSES:
		if !cfg.SESConfigured() {
			return nil, errors.New("ses transport selected but ses.region is not set")
		}
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})

	case config.TransportGraph:
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph transport selected but graph.tenant_id, graph.client_id and graph.client_secret are required")
		}
		slog.Info("using Microsoft Graph transport", "sender", cfg.Username)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Username,
		}), nil

	case config.TransportResend:
		if cfg.Resend.APIKey == "" {
			return nil, resend.ErrMissingAPIKey
		}
		slog.Info("using Resend transport")
		return resend.New(cfg.Resend.APIKey), nil

	case config.TransportPostmark:
		if cfg.Postmark.ServerToken == "" {
			return nil, postmark.ErrMissingToken
		}
		slog.Info("using Postmark transport", "stream", cfg.Postmark.MessageStream)
		return postmark.New(postmark.Config{
			ServerToken:   cfg.Postmark.ServerToken,
			AccountToken:  cfg.Postmark.AccountToken,
			MessageStream: cfg.Postmark.MessageStream,
		}), nil

	case config.TransportStdout:
		slog.Info("using stdout transport (dry run)")
		return stdout.NewWithWriter(out), nil

	default:
		tlsConfig, err := smtptls.ClientConfig(cfg.SMTPServer, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP transport",
			"host", cfg.SMTPServer,
			"port", int(cfg.SMTPPort),
			"tls_mode", cfg.TLS.Mode,
		)
		return smtp.New(smtp.Config{
			Host:      cfg.SMTPServer,
			Port:      int(cfg.SMTPPort),
			Username:  cfg.Username,
			Password:  cfg.Password,
			Mode:      cfg.TLS.Mode,
			TLSConfig: tlsConfig,
		}), nil
	}
}
