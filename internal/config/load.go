package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults registers every default with v so keys missing from the file
// still resolve.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("host.addr", d.Host.Addr)
	v.SetDefault("host.command_timeout", d.Host.CommandTimeout)
	v.SetDefault("host.reconnect_delay", d.Host.ReconnectDelay)
	v.SetDefault("ui.notice", d.UI.Notice)
	v.SetDefault("ui.markdown_style", d.UI.MarkdownStyle)
	v.SetDefault("daemon.listen", d.Daemon.Listen)
	v.SetDefault("daemon.data_dir", d.Daemon.DataDir)
	v.SetDefault("daemon.validator_port", d.Daemon.ValidatorPort)
	v.SetDefault("daemon.validate_timeout", d.Daemon.ValidateTimeout)
	v.SetDefault("daemon.password_refresh", d.Daemon.PasswordRefresh)
	v.SetDefault("daemon.trigger_file", d.Daemon.TriggerFile)
	v.SetDefault("validator.listen", d.Validator.Listen)
	v.SetDefault("validator.redirect_url", d.Validator.RedirectURL)
	v.SetDefault("validator.password", d.Validator.Password)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("flags", d.Flags)
}

// Unmarshal decodes v into a Config. Durations accept "10s" style strings.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
