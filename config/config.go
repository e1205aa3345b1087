package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/magiclink/localtime"
	"github.com/dhcgn/magiclink/model"
	"github.com/dhcgn/magiclink/poller"
)

const envPrefix = "MAGICLINK"

var (
	ErrMissingSender   = errors.New("--sender is required")
	ErrMissingLinkText = errors.New("--link-text is required")
	ErrMissingPassword = errors.New("IMAP password must be provided via --imap-pass, IMAP_PASS, the keyring or a terminal prompt")
)

// Config captures all options of one invocation.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	Mailbox            string
	MboxPath           string
	Sender             string
	LinkText           string
	Since              time.Time
	Timeout            time.Duration
	Interval           time.Duration
	Timezone           string
	StateDir           string
	LogLevel           string
	LogDir             string
	NoProgress         bool
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
}

// Credentials returns the IMAP login pair.
func (c Config) Credentials() model.Credentials {
	return model.Credentials{Username: c.IMAPUser, Password: c.IMAPPass}
}

// Criterion returns what the poller should look for.
func (c Config) Criterion() model.Criterion {
	return model.Criterion{Sender: c.Sender, LinkText: c.LinkText, Since: c.Since}
}

// UsesIMAP reports whether the mailbox is remote.
func (c Config) UsesIMAP() bool {
	return c.MboxPath == ""
}

// RegisterFlags attaches the connection, logging and selection flags shared
// by every command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; keys are flag names")
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the keyring)")
	flags.Bool("use-tls", true, "Use implicit TLS for the IMAP connection")
	flags.Bool("starttls", false, "Upgrade a plain connection with STARTTLS (requires --use-tls=false)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "IMAP mailbox to search")
	flags.String("mbox", "", "Read a local mbox file or mail spool instead of IMAP")
	flags.String("sender", "", "Address of the sender of the link mail")
	flags.String("since", "", "Ignore mail dated before this time (RFC 3339, default: now)")
	flags.String("timezone", "", "Timezone used to compare mail dates (default: system timezone)")
	flags.String("log-level", "warn", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a rotating file in this directory")
}

// RegisterWaitFlags attaches the flags that only apply to waiting for a link.
func RegisterWaitFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("link-text", "", "Exact visible text of the link")
	flags.Duration("timeout", poller.DefaultTimeout, "Give up after this long")
	flags.Duration("interval", poller.DefaultInterval, "Delay between inbox checks")
	flags.String("state-dir", "", "Remember consumed links in this directory so they are not returned twice")
	flags.Bool("no-progress", false, "Do not show the progress spinner")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig resolves flags, the optional config file, MAGICLINK_* environment
// variables and a .env file into a validated Config. Explicit flags win over
// the environment, which wins over the config file.
func LoadConfig(cmd *cobra.Command, now time.Time) (Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap-user")),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		StartTLS:           v.GetBool("starttls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Mailbox:            v.GetString("mailbox"),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		Sender:             strings.TrimSpace(v.GetString("sender")),
		LinkText:           v.GetString("link-text"),
		Timeout:            v.GetDuration("timeout"),
		Interval:           v.GetDuration("interval"),
		Timezone:           v.GetString("timezone"),
		StateDir:           v.GetString("state-dir"),
		LogLevel:           normalizeLevel(v.GetString("log-level")),
		LogDir:             strings.TrimSpace(v.GetString("log-dir")),
		NoProgress:         v.GetBool("no-progress"),
		IncludeHeader:      stringArray(cmd, v, "include-header"),
		IncludeBody:        stringArray(cmd, v, "include-body"),
		ExcludeHeader:      stringArray(cmd, v, "exclude-header"),
		ExcludeBody:        stringArray(cmd, v, "exclude-body"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	tz, err := localtime.New(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --timezone: %w", err)
	}
	since, err := parseSince(v.GetString("since"), now, tz.Location())
	if err != nil {
		return Config{}, err
	}
	cfg.Since = since

	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(expandHome(cfg.StateDir))
	}
	if cfg.MboxPath != "" {
		cfg.MboxPath = filepath.Clean(expandHome(cfg.MboxPath))
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadUsername resolves only --imap-user, for commands that manage
// credentials.
func LoadUsername(cmd *cobra.Command) (string, error) {
	v, err := newViper(cmd)
	if err != nil {
		return "", err
	}
	user := strings.TrimSpace(v.GetString("imap-user"))
	if user == "" {
		return "", fmt.Errorf("--imap-user is required")
	}
	return user, nil
}

// LoadTimezone resolves only --timezone.
func LoadTimezone(cmd *cobra.Command) (string, error) {
	v, err := newViper(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v.GetString("timezone")), nil
}

// Logging is the part of the config needed before any command runs.
type Logging struct {
	Level string
	Dir   string
}

// LoadLogging resolves --log-level and --log-dir.
func LoadLogging(cmd *cobra.Command) (Logging, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Logging{}, err
	}
	l := Logging{
		Level: normalizeLevel(v.GetString("log-level")),
		Dir:   strings.TrimSpace(v.GetString("log-dir")),
	}
	if err := validateLevel(l.Level); err != nil {
		return Logging{}, err
	}
	if l.Dir != "" {
		l.Dir = filepath.Clean(expandHome(l.Dir))
	}
	return l, nil
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}

func validateLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid --log-level: %s", level)
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

// RequireLinkText is checked by commands that match anchors.
func (c Config) RequireLinkText() error {
	if c.LinkText == "" {
		return ErrMissingLinkText
	}
	return nil
}

// RequirePassword is checked once every password source was tried.
func (c Config) RequirePassword() error {
	if c.UsesIMAP() && c.IMAPPass == "" {
		return ErrMissingPassword
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Sender == "" {
		return ErrMissingSender
	}
	if cfg.UsesIMAP() {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.UseTLS && cfg.StartTLS {
			return fmt.Errorf("--starttls requires --use-tls=false")
		}
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("--interval must not be negative")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	return validateLevel(cfg.LogLevel)
}

func parseSince(value string, now time.Time, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	// Without an offset the value is wall-clock time in the comparison zone.
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use RFC 3339, a local date-time or a duration such as 10m", value)
}

// stringArray keeps regex patterns intact when given as flags; viper would
// split them on commas.
func stringArray(cmd *cobra.Command, v *viper.Viper, name string) []string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		values, err := cmd.Flags().GetStringArray(name)
		if err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
