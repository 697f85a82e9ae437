package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/groupmail/internal/smtptest"
)

const testRecipients = `{
  "clients": [
    {"email": "ana@example.com", "name": "Ana"},
    "bruno@example.com",
    "not-an-email",
    {"email": "carla@example.com", "name": "Carla"}
  ],
  "internal": [
    {"email": "ops@example.com", "name": "Ops"}
  ],
  "empty": ["broken", 42]
}`

const testTemplate = `<html><body><p>Hello {{name}}!</p></body></html>`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// workspace writes the three input files for a run against s.
func workspace(t *testing.T, s *smtptest.Server, extra string) string {
	t.Helper()
	dir := t.TempDir()

	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, s.CertificatePEM(), 0o600))

	writeFile(t, dir, "config.json", fmt.Sprintf(`{
  "smtp_server": %q,
  "smtp_port": %d,
  "username": "sender@example.com",
  "password": "app-pass",
  "from_name": "Sender Team",
  "tls": {"ca_file": %q}%s
}`, s.Host(), s.Port(), caFile, extra))
	writeFile(t, dir, "recipients.json", testRecipients)
	writeFile(t, dir, "email_template.html", testTemplate)
	return dir
}

func startServer(t *testing.T, cfg smtptest.Config) *smtptest.Server {
	t.Helper()
	cfg.Username = "sender@example.com"
	cfg.Password = "app-pass"
	cfg.StartTLS = true
	s, err := smtptest.NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun_SendsToSelectedGroup(t *testing.T) {
	s := startServer(t, smtptest.Config{})
	dir := workspace(t, s, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("1\n"), &out)
	require.Equal(t, exitOK, code, out.String())

	output := out.String()
	assert.Contains(t, output, "1. clients  (4 recipient(s))")
	assert.Contains(t, output, "2. internal  (1 recipient(s))")
	assert.Contains(t, output, "3. empty  (2 recipient(s))")
	assert.Contains(t, output, "4. all  (all groups)")
	assert.Contains(t, output, "Sending to 3 recipient(s)...")
	assert.Contains(t, output, "OK -> ana@example.com\nOK -> bruno@example.com\nOK -> carla@example.com\n")
	assert.Contains(t, output, "=== Summary ===\nSent successfully: 3\n")
	assert.NotContains(t, output, "Failed (")

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "<html><body><p>Hello Ana!</p></body></html>", msgs[0].Email.HtmlBody)
	assert.Equal(t, "<html><body><p>Hello Gabi!</p></body></html>", msgs[1].Email.HtmlBody)
	assert.Equal(t, "Seu cliente de e-mail não suporta HTML. Mensagem automática.", msgs[0].Email.TextBody)
	assert.Equal(t, "Aviso automático", msgs[0].Email.Subject)
	assert.Equal(t, "Sender Team", msgs[0].Email.FromName)
	assert.Equal(t, "sender@example.com", msgs[0].From)
	assert.True(t, strings.HasSuffix(msgs[0].Email.MessageID, "@example.com>"))
	assert.Equal(t, 1, s.Connections())
}

func TestRun_AllGroups(t *testing.T) {
	s := startServer(t, smtptest.Config{})
	dir := workspace(t, s, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("9\nabc\n4\n"), &out)
	require.Equal(t, exitOK, code, out.String())

	assert.Equal(t, 2, strings.Count(out.String(), "Invalid option. Try again."))
	assert.Contains(t, out.String(), "Sent successfully: 4")
	assert.Len(t, s.Messages(), 4)
}

func TestRun_RejectedRecipientKeepsGoing(t *testing.T) {
	s := startServer(t, smtptest.Config{Reject: func(rcpt string) bool { return rcpt == "bruno@example.com" }})
	dir := workspace(t, s, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("1\n"), &out)
	require.Equal(t, exitOK, code, "per-recipient failures keep exit code 0")

	output := out.String()
	assert.Contains(t, output, "OK -> ana@example.com\nERRO -> bruno@example.com: 550")
	assert.Contains(t, output, "OK -> carla@example.com\n")
	assert.Contains(t, output, "Sent successfully: 2\nFailed (1):\n - bruno@example.com: 550")
	assert.Len(t, s.Messages(), 2)
}

func TestRun_NoValidRecipients(t *testing.T) {
	s := startServer(t, smtptest.Config{})
	dir := workspace(t, s, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("3\n"), &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "No valid recipients found for the selected group.")
	assert.Zero(t, s.Connections(), "nothing to send means no connection")
}

func TestRun_AuthenticationFailure(t *testing.T) {
	s := startServer(t, smtptest.Config{})
	dir := workspace(t, s, "")
	writeFile(t, dir, "config.json", fmt.Sprintf(`{
  "smtp_server": %q, "smtp_port": %d,
  "username": "sender@example.com", "password": "wrong",
  "tls": {"ca_file": %q}
}`, s.Host(), s.Port(), filepath.Join(dir, "ca.pem")))

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("1\n"), &out)
	assert.Equal(t, exitConnect, code)
	assert.Contains(t, out.String(), "Failed to connect/send via smtp")
	assert.NotContains(t, out.String(), "OK ->")
	assert.Empty(t, s.Messages())
}

func TestRun_AuthenticationNotOffered(t *testing.T) {
	s, err := smtptest.NewServer(smtptest.Config{StartTLS: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	dir := workspace(t, s, "")

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("1\n"), &out)
	assert.Equal(t, exitConnect, code)
	assert.Contains(t, out.String(), "Failed to connect/send via smtp")
	assert.Empty(t, s.Messages())
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "username: sender@example.com\npassword: p\ntransport: stdout\nfallback_name: friend\n")
	writeFile(t, dir, "recipients.json", testRecipients)
	writeFile(t, dir, "email_template.html", testTemplate)

	var out bytes.Buffer
	code := run(context.Background(), []string{dir}, strings.NewReader("1\n"), &out)
	require.Equal(t, exitOK, code, out.String())

	output := out.String()
	assert.Contains(t, output, `To: "Ana" <ana@example.com>`)
	assert.Contains(t, output, "<p>Hello friend!</p>")
	assert.Contains(t, output, "Sent successfully: 3")
}

func TestRun_SetupErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		files      map[string]string
		input      string
		wantOutput string
	}{
		{
			name:       "no files",
			files:      map[string]string{},
			wantOutput: "Required files not found.",
		},
		{
			name: "template missing",
			files: map[string]string{
				"config.json":     `{"username": "u@example.com", "password": "p"}`,
				"recipients.json": testRecipients,
			},
			wantOutput: "Required files not found.",
		},
		{
			name: "missing password",
			files: map[string]string{
				"config.json":         `{"username": "u@example.com"}`,
				"recipients.json":     testRecipients,
				"email_template.html": testTemplate,
			},
			wantOutput: "missing required config key: password",
		},
		{
			name: "recipients not an object",
			files: map[string]string{
				"config.json":         `{"username": "u@example.com", "password": "p", "transport": "stdout"}`,
				"recipients.json":     `["a@example.com"]`,
				"email_template.html": testTemplate,
			},
			wantOutput: "must contain an object with groups",
		},
		{
			name: "graph without credentials",
			files: map[string]string{
				"config.json":         `{"username": "u@example.com", "password": "p", "transport": "graph"}`,
				"recipients.json":     testRecipients,
				"email_template.html": testTemplate,
			},
			wantOutput: "Invalid transport configuration",
		},
		{
			name: "input closed at menu",
			files: map[string]string{
				"config.json":         `{"username": "u@example.com", "password": "p", "transport": "stdout"}`,
				"recipients.json":     testRecipients,
				"email_template.html": testTemplate,
			},
			input:      "abc\n",
			wantOutput: "No option selected.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}

			var out bytes.Buffer
			code := run(context.Background(), []string{dir}, strings.NewReader(tt.input), &out)
			assert.Equal(t, exitSetup, code)
			assert.Contains(t, out.String(), tt.wantOutput)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	full := t.TempDir()
	writeFile(t, full, "config.yml", "username: u\n")
	writeFile(t, full, "recipients.json", "{}")
	writeFile(t, full, "email_template.html", "")

	files, err := resolvePaths([]string{empty, full})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(full, "config.yml"), files.config)
	assert.Equal(t, filepath.Join(full, "recipients.json"), files.recipients)
	assert.Equal(t, filepath.Join(full, "email_template.html"), files.template)

	writeFile(t, full, "config.json", "{}")
	files, err = resolvePaths([]string{full})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(full, "config.json"), files.config, "config.json wins over YAML")

	_, err = resolvePaths([]string{empty})
	require.ErrorIs(t, err, errMissingFiles)
}
