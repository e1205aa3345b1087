package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	t.Setenv("IMAP_PASS", "")

	cmd := &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	RegisterWaitFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return LoadConfig(cmd, now)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := load(t, "--imap-user", "user@gmail.com", "--imap-pass", "secret", "--sender", "noreply@medium.com", "--link-text", "Sign in to Medium")
	require.NoError(t, err)

	assert.Equal(t, "imap.gmail.com", cfg.IMAPHost)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "INBOX", cfg.Mailbox)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)
	assert.Equal(t, now, cfg.Since)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.UsesIMAP())
	require.NoError(t, cfg.RequireLinkText())
	require.NoError(t, cfg.RequirePassword())

	assert.Equal(t, "user@gmail.com", cfg.Credentials().Username)
	assert.Equal(t, "Sign in to Medium", cfg.Criterion().LinkText)
}

func TestLoadConfig_EnvironmentAndPrecedence(t *testing.T) {
	t.Setenv("MAGICLINK_IMAP_USER", "env@example.com")
	t.Setenv("MAGICLINK_SENDER", "env-sender@example.com")
	t.Setenv("MAGICLINK_TIMEOUT", "30s")

	cfg, err := load(t, "--sender", "flag-sender@example.com")
	require.NoError(t, err)

	assert.Equal(t, "env@example.com", cfg.IMAPUser)
	assert.Equal(t, "flag-sender@example.com", cfg.Sender)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestLoadConfig_IMAPPassEnvFallback(t *testing.T) {
	cmd := &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	RegisterWaitFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--imap-user", "u", "--sender", "s@example.com"}))

	t.Setenv("IMAP_PASS", "from-env")
	cfg, err := LoadConfig(cmd, now)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.IMAPPass)
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magiclink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
imap-host: imap.example.com
imap-port: 143
use-tls: false
starttls: true
imap-user: file@example.com
sender: file-sender@example.com
link-text: Log in
interval: 2s
`), 0o600))

	cfg, err := load(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.IMAPHost)
	assert.Equal(t, 143, cfg.IMAPPort)
	assert.False(t, cfg.UseTLS)
	assert.True(t, cfg.StartTLS)
	assert.Equal(t, "file@example.com", cfg.IMAPUser)
	assert.Equal(t, "Log in", cfg.LinkText)
	assert.Equal(t, 2*time.Second, cfg.Interval)
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--sender", "s@example.com")
	require.Error(t, err)
}

func TestLoadConfig_MboxSkipsIMAPChecks(t *testing.T) {
	cfg, err := load(t, "--mbox", "/var/mail/user", "--sender", "s@example.com")
	require.NoError(t, err)

	assert.False(t, cfg.UsesIMAP())
	assert.Equal(t, "/var/mail/user", cfg.MboxPath)
	require.NoError(t, cfg.RequirePassword())
	assert.ErrorIs(t, cfg.RequireLinkText(), ErrMissingLinkText)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing sender", args: []string{"--imap-user", "u"}},
		{name: "missing user", args: []string{"--sender", "s@example.com"}},
		{name: "bad port", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--imap-port", "70000"}},
		{name: "tls and starttls", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--starttls"}},
		{name: "bad log level", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--log-level", "loud"}},
		{name: "negative timeout", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--timeout", "-1s"}},
		{name: "include and exclude", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--include-header", "a", "--exclude-body", "b"}},
		{name: "bad since", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--since", "last tuesday"}},
		{name: "bad timezone", args: []string{"--imap-user", "u", "--sender", "s@example.com", "--timezone", "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingPassword(t *testing.T) {
	cfg, err := load(t, "--imap-user", "u", "--sender", "s@example.com")
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequirePassword(), ErrMissingPassword)
}

func TestLoadConfig_PatternsKeepCommas(t *testing.T) {
	cfg, err := load(t, "--mbox", "x.mbox", "--sender", "s@example.com", "--include-header", `Subject: [A-Z]{2,4}`, "--include-header", "X-Tag: a")
	require.NoError(t, err)
	assert.Equal(t, []string{`Subject: [A-Z]{2,4}`, "X-Tag: a"}, cfg.IncludeHeader)
}

func TestParseSince(t *testing.T) {
	loc := time.FixedZone("CET", 60*60)

	got, err := parseSince("2024-05-01T10:00:00Z", now, loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	got, err = parseSince("2024-05-01 10:00:00", now, loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)))

	got, err = parseSince("10m", now, loc)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute), got)

	got, err = parseSince("", now, loc)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestLoadUsername(t *testing.T) {
	cmd := &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--imap-user", " user@gmail.com "}))

	user, err := LoadUsername(cmd)
	require.NoError(t, err)
	assert.Equal(t, "user@gmail.com", user)
}

func TestLoadLogging(t *testing.T) {
	cmd := &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "WARNING"}))

	l, err := LoadLogging(cmd)
	require.NoError(t, err)
	assert.Equal(t, "warn", l.Level)
	assert.Empty(t, l.Dir)

	t.Setenv("MAGICLINK_LOG_LEVEL", "verbose")
	cmd = &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(nil))
	_, err = LoadLogging(cmd)
	require.Error(t, err)
}

func TestLoadTimezone(t *testing.T) {
	t.Setenv("MAGICLINK_TIMEZONE", "Europe/Berlin")

	cmd := &cobra.Command{Use: "magiclink"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(nil))

	tz, err := LoadTimezone(cmd)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", tz)
}
