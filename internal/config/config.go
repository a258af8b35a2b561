// Package config provides configuration types and defaults for examshell.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/examalpha/examshell/internal/flags"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/tracing"
)

// Config holds all configuration options for examshell. The shell reads
// host and ui; the supervisor reads daemon; the validator stub reads
// validator. All of them share tracing and flags.
type Config struct {
	Host      HostConfig      `mapstructure:"host"`
	UI        UIConfig        `mapstructure:"ui"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Flags     map[string]bool `mapstructure:"flags"`
}

// HostConfig tells the shell how to reach its supervising process.
type HostConfig struct {
	Addr           string        `mapstructure:"addr"`            // host:port or base URL of the supervisor
	CommandTimeout time.Duration `mapstructure:"command_timeout"` // upper bound for a single command
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"` // wait between event stream reconnects
}

// UIConfig holds user interface configuration options.
type UIConfig struct {
	Notice        string `mapstructure:"notice"`         // markdown shown above the server form
	MarkdownStyle string `mapstructure:"markdown_style"` // "dark" (default) or "light"
}

// DaemonConfig configures the supervising process (examshell host).
type DaemonConfig struct {
	Listen          string        `mapstructure:"listen"`
	DataDir         string        `mapstructure:"data_dir"`
	ValidatorPort   int           `mapstructure:"validator_port"`
	ValidateTimeout time.Duration `mapstructure:"validate_timeout"`
	PasswordRefresh time.Duration `mapstructure:"password_refresh"`
	TriggerFile     string        `mapstructure:"trigger_file"` // relative to data_dir unless absolute
}

// DBPath is the sqlite database inside DataDir.
func (d DaemonConfig) DBPath() string {
	return filepath.Join(d.DataDir, "examshell.db")
}

// TriggerPath resolves TriggerFile against DataDir.
func (d DaemonConfig) TriggerPath() string {
	if filepath.IsAbs(d.TriggerFile) {
		return d.TriggerFile
	}
	return filepath.Join(d.DataDir, d.TriggerFile)
}

// ValidatorConfig configures the stub validation server.
type ValidatorConfig struct {
	Listen      string `mapstructure:"listen"`
	RedirectURL string `mapstructure:"redirect_url"`
	Password    string `mapstructure:"password"`
}

const (
	DefaultHostAddr        = "127.0.0.1:7420"
	DefaultValidatorPort   = 8080
	DefaultTriggerFile     = "exit.request"
	DefaultCommandTimeout  = 15 * time.Second
	DefaultReconnectDelay  = 2 * time.Second
	DefaultValidateTimeout = 10 * time.Second
	DefaultPasswordRefresh = time.Minute
	DefaultNotice          = "## Connect to Server\n\nEnter the address of your examination server. " +
		"Once it is accepted the session locks until an invigilator ends it."
)

// DefaultDataDir returns ~/.examshell, or .examshell when the home directory
// is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".examshell"
	}
	return filepath.Join(home, ".examshell")
}

// DefaultTracesFilePath returns ~/.config/examshell/traces/traces.jsonl or
// empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "examshell", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Host: HostConfig{
			Addr:           DefaultHostAddr,
			CommandTimeout: DefaultCommandTimeout,
			ReconnectDelay: DefaultReconnectDelay,
		},
		UI: UIConfig{
			Notice:        DefaultNotice,
			MarkdownStyle: "dark",
		},
		Daemon: DaemonConfig{
			Listen:          DefaultHostAddr,
			DataDir:         DefaultDataDir(),
			ValidatorPort:   DefaultValidatorPort,
			ValidateTimeout: DefaultValidateTimeout,
			PasswordRefresh: DefaultPasswordRefresh,
			TriggerFile:     DefaultTriggerFile,
		},
		Validator: ValidatorConfig{
			Listen:      fmt.Sprintf("0.0.0.0:%d", DefaultValidatorPort),
			RedirectURL: "https://admin-examalpha.netlify.app",
			Password:    "password",
		},
		Tracing: tc,
		Flags:   flags.Defaults(),
	}
}

// ValidateHost checks the shell's host section.
func ValidateHost(h HostConfig) error {
	if strings.TrimSpace(h.Addr) == "" {
		return fmt.Errorf("host.addr is required")
	}
	if strings.Contains(h.Addr, "://") {
		if _, err := url.ParseRequestURI(h.Addr); err != nil {
			return fmt.Errorf("host.addr is not a valid URL: %w", err)
		}
	} else if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		return fmt.Errorf("host.addr must be host:port or a URL, got %q", h.Addr)
	}
	if h.CommandTimeout < 0 {
		return fmt.Errorf("host.command_timeout must not be negative, got %v", h.CommandTimeout)
	}
	if h.ReconnectDelay < 0 {
		return fmt.Errorf("host.reconnect_delay must not be negative, got %v", h.ReconnectDelay)
	}
	return nil
}

// ValidateUI checks user interface configuration.
func ValidateUI(ui UIConfig) error {
	switch ui.MarkdownStyle {
	case "", "dark", "light":
		return nil
	default:
		return fmt.Errorf("ui.markdown_style must be \"dark\" or \"light\", got %q", ui.MarkdownStyle)
	}
}

// ValidateDaemon checks the supervisor section.
func ValidateDaemon(d DaemonConfig) error {
	if _, _, err := net.SplitHostPort(d.Listen); err != nil {
		return fmt.Errorf("daemon.listen must be host:port, got %q", d.Listen)
	}
	if d.DataDir == "" {
		return fmt.Errorf("daemon.data_dir is required")
	}
	if d.ValidatorPort < 1 || d.ValidatorPort > 65535 {
		return fmt.Errorf("daemon.validator_port must be between 1 and 65535, got %d", d.ValidatorPort)
	}
	if d.ValidateTimeout <= 0 {
		return fmt.Errorf("daemon.validate_timeout must be positive, got %v", d.ValidateTimeout)
	}
	if d.PasswordRefresh <= 0 {
		return fmt.Errorf("daemon.password_refresh must be positive, got %v", d.PasswordRefresh)
	}
	if d.TriggerFile == "" {
		return fmt.Errorf("daemon.trigger_file is required")
	}
	return nil
}

// ValidateValidator checks the validator stub section.
func ValidateValidator(v ValidatorConfig) error {
	if _, _, err := net.SplitHostPort(v.Listen); err != nil {
		return fmt.Errorf("validator.listen must be host:port, got %q", v.Listen)
	}
	u, err := url.Parse(v.RedirectURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("validator.redirect_url must be an absolute URL, got %q", v.RedirectURL)
	}
	if v.Password == "" {
		return fmt.Errorf("validator.password is required")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == tracing.ExporterOTLP && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# examshell configuration

# How the shell reaches its supervising process
host:
  addr: 127.0.0.1:7420      # host:port or http(s) base URL
  command_timeout: 15s      # upper bound for a single command
  reconnect_delay: 2s       # wait between event stream reconnects

# UI settings
ui:
  # Markdown shown above the server form
  notice: |
    ## Connect to Server

    Enter the address of your examination server. Once it is accepted the session locks until an invigilator ends it.
  markdown_style: dark      # "dark" (default) or "light"

# Supervising process (examshell host)
daemon:
  listen: 127.0.0.1:7420
  # data_dir: ~/.examshell   # sqlite database and trigger file live here
  validator_port: 8080      # port appended to the submitted server address
  validate_timeout: 10s
  password_refresh: 1m      # how often the exit password is re-fetched
  trigger_file: exit.request

# Stub validation server (examshell validator)
validator:
  listen: 0.0.0.0:8080
  redirect_url: https://admin-examalpha.netlify.app
  password: password

# Distributed tracing
# tracing:
#   enabled: false                 # default: false
#   exporter: file                 # none, file, stdout, otlp (default: file)
#   file_path: ~/.config/examshell/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# Feature flags
flags:
  kiosk: true                 # hide quit keys until the session is terminating
  host-event-log: false       # log every supervisor event at info level
  audit-exit-attempts: true   # supervisor records exit attempts in sqlite
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
