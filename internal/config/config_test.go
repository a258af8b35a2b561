package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/flags"
	"github.com/examalpha/examshell/internal/tracing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, DefaultHostAddr, cfg.Host.Addr)
	require.Equal(t, 15*time.Second, cfg.Host.CommandTimeout)
	require.Equal(t, 2*time.Second, cfg.Host.ReconnectDelay)
	require.Equal(t, "dark", cfg.UI.MarkdownStyle)
	require.Equal(t, 8080, cfg.Daemon.ValidatorPort)
	require.Equal(t, 10*time.Second, cfg.Daemon.ValidateTimeout)
	require.Equal(t, time.Minute, cfg.Daemon.PasswordRefresh)
	require.False(t, cfg.Tracing.Enabled)
	require.True(t, cfg.Flags[flags.FlagKiosk])

	require.NoError(t, ValidateHost(cfg.Host))
	require.NoError(t, ValidateUI(cfg.UI))
	require.NoError(t, ValidateDaemon(cfg.Daemon))
	require.NoError(t, ValidateValidator(cfg.Validator))
	require.NoError(t, ValidateTracing(cfg.Tracing))
}

func TestDaemonConfig_Paths(t *testing.T) {
	d := DaemonConfig{DataDir: "/var/lib/examshell", TriggerFile: "exit.request"}
	require.Equal(t, "/var/lib/examshell/examshell.db", d.DBPath())
	require.Equal(t, "/var/lib/examshell/exit.request", d.TriggerPath())

	d.TriggerFile = "/run/examshell/exit"
	require.Equal(t, "/run/examshell/exit", d.TriggerPath())
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		host    HostConfig
		wantErr string
	}{
		{name: "host and port", host: HostConfig{Addr: "localhost:7420"}},
		{name: "url", host: HostConfig{Addr: "http://10.0.0.2:7420"}},
		{name: "empty", host: HostConfig{Addr: " "}, wantErr: "host.addr is required"},
		{name: "missing port", host: HostConfig{Addr: "localhost"}, wantErr: "host.addr must be host:port"},
		{name: "negative timeout", host: HostConfig{Addr: "localhost:1", CommandTimeout: -time.Second}, wantErr: "command_timeout"},
		{name: "negative reconnect", host: HostConfig{Addr: "localhost:1", ReconnectDelay: -time.Second}, wantErr: "reconnect_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHost(tt.host)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateUI(t *testing.T) {
	require.NoError(t, ValidateUI(UIConfig{}))
	require.NoError(t, ValidateUI(UIConfig{MarkdownStyle: "light"}))
	require.ErrorContains(t, ValidateUI(UIConfig{MarkdownStyle: "neon"}), "markdown_style")
}

func TestValidateDaemon(t *testing.T) {
	valid := Defaults().Daemon

	mutate := func(fn func(*DaemonConfig)) DaemonConfig {
		d := valid
		fn(&d)
		return d
	}

	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.Listen = "nope" })), "daemon.listen")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.DataDir = "" })), "data_dir")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.ValidatorPort = 0 })), "validator_port")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.ValidatorPort = 70000 })), "validator_port")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.ValidateTimeout = 0 })), "validate_timeout")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.PasswordRefresh = 0 })), "password_refresh")
	require.ErrorContains(t, ValidateDaemon(mutate(func(d *DaemonConfig) { d.TriggerFile = "" })), "trigger_file")
}

func TestValidateValidator(t *testing.T) {
	valid := Defaults().Validator
	require.NoError(t, ValidateValidator(valid))

	bad := valid
	bad.RedirectURL = "admin-examalpha"
	require.ErrorContains(t, ValidateValidator(bad), "redirect_url")

	bad = valid
	bad.Password = ""
	require.ErrorContains(t, ValidateValidator(bad), "password")

	bad = valid
	bad.Listen = "8080"
	require.ErrorContains(t, ValidateValidator(bad), "validator.listen")
}

func TestValidateTracing(t *testing.T) {
	require.NoError(t, ValidateTracing(tracing.Config{}))
	require.ErrorContains(t, ValidateTracing(tracing.Config{SampleRate: 1.5}), "sample_rate")
	require.ErrorContains(t, ValidateTracing(tracing.Config{Exporter: "zipkin"}), "exporter")
	require.ErrorContains(t, ValidateTracing(tracing.Config{Enabled: true, Exporter: tracing.ExporterFile}), "file_path")
	require.ErrorContains(t, ValidateTracing(tracing.Config{Enabled: true, Exporter: tracing.ExporterOTLP}), "otlp_endpoint")
	require.NoError(t, ValidateTracing(tracing.Config{Exporter: tracing.ExporterFile}), "paths only matter when enabled")
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(DefaultConfigTemplate())))

	cfg, err := Unmarshal(v)
	require.NoError(t, err)

	want := Defaults()
	require.Equal(t, want.Host, cfg.Host)
	require.Equal(t, want.Daemon, cfg.Daemon)
	require.Equal(t, want.Validator, cfg.Validator)
	require.Equal(t, want.Tracing, cfg.Tracing)
	require.Equal(t, want.Flags, cfg.Flags)
	require.Equal(t, want.UI.MarkdownStyle, cfg.UI.MarkdownStyle)
	require.Equal(t, want.UI.Notice, strings.TrimSpace(cfg.UI.Notice))
}

func TestUnmarshal_PartialFileKeepsDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader("host:\n  addr: 10.1.1.1:9000\nflags:\n  kiosk: false\n")))

	cfg, err := Unmarshal(v)
	require.NoError(t, err)
	require.Equal(t, "10.1.1.1:9000", cfg.Host.Addr)
	require.Equal(t, DefaultCommandTimeout, cfg.Host.CommandTimeout)
	require.False(t, cfg.Flags[flags.FlagKiosk])
	require.True(t, cfg.Flags[flags.FlagAuditExitAttempts])
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
