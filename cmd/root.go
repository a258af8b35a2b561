package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examalpha/examshell/internal/app"
	"github.com/examalpha/examshell/internal/config"
	"github.com/examalpha/examshell/internal/eventbus"
	"github.com/examalpha/examshell/internal/flags"
	"github.com/examalpha/examshell/internal/gateway"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/session"
	"github.com/examalpha/examshell/internal/tracing"
)

func init() {
	// Query the terminal background before any program starts so the OSC 11
	// reply cannot race bubbletea's input loop and land in a text field.
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const (
	localConfigPath = ".examshell/config.yaml"
	debugEnv        = "EXAMSHELL_DEBUG"
	logPathEnv      = "EXAMSHELL_LOG"
	defaultLogPath  = "debug.log"
)

var (
	version   = "dev"
	cfgFile   string
	cfgPath   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "examshell",
	Short: "Locked-down exam session shell",
	Long: `examshell connects to a supervising process, asks for the examination
server's address and stays locked until an authorized exit.

Run "examshell host" for a reference supervisor and "examshell validator"
for a mock validation server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runShell,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .examshell/config.yaml, then ~/.config/examshell/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also "+debugEnv+")")
	rootCmd.Flags().String("host", "", "supervisor address (overrides host.addr)")
	rootCmd.Flags().Bool("save-host", false, "write --host back into the config file")

	_ = viper.BindPFlag("host.addr", rootCmd.Flags().Lookup("host"))
}

// findConfig returns the config file to read: the explicit path if given,
// else the first candidate that exists. found is false when none exists.
func findConfig(explicit, home string) (path string, found bool) {
	if explicit != "" {
		return explicit, true
	}
	candidates := []string{localConfigPath}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "examshell", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return localConfigPath, false
}

// loadConfig reads path into v, writing the default template first when
// the file does not exist yet.
func loadConfig(v *viper.Viper, path string, found bool) (config.Config, error) {
	config.SetDefaults(v)

	if !found {
		if err := config.WriteDefaultConfig(path); err != nil {
			log.Warn(log.CatConfig, "Could not write default config, using built-in defaults", "path", path, "error", err)
			return config.Unmarshal(v)
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return config.Unmarshal(v)
}

func initConfig() {
	home, _ := os.UserHomeDir()
	path, found := findConfig(cfgFile, home)
	cfgPath = path

	loaded, err := loadConfig(viper.GetViper(), path, found)
	if err != nil {
		fmt.Fprintf(os.Stderr, "examshell: %v\n", err)
		loaded, _ = config.Unmarshal(viper.GetViper())
	}
	cfg = loaded
}

// debugEnabled reports whether --debug or EXAMSHELL_DEBUG asks for logs.
func debugEnabled() bool {
	return debugFlag || os.Getenv(debugEnv) != ""
}

func logPath() string {
	if p := os.Getenv(logPathEnv); p != "" {
		return p
	}
	return defaultLogPath
}

// initTUILogging logs to a file so nothing reaches the terminal the UI owns.
func initTUILogging(prefix string) (func(), error) {
	if !debugEnabled() {
		return func() {}, nil
	}
	cleanup, err := log.InitWithTeaLog(logPath(), prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "examshell starting", "version", version, "config", cfgPath)
	return cleanup, nil
}

// initServiceLogging logs to stderr, or to the debug file when debugging.
func initServiceLogging() (func(), error) {
	if debugEnabled() {
		cleanup, err := log.Init(logPath())
		if err != nil {
			return nil, fmt.Errorf("initializing logging: %w", err)
		}
		return cleanup, nil
	}
	log.InitWriter(os.Stderr)
	log.SetMinLevel(log.LevelInfo)
	return func() {}, nil
}

func validateShellConfig(c config.Config) error {
	if err := config.ValidateHost(c.Host); err != nil {
		return err
	}
	if err := config.ValidateUI(c.UI); err != nil {
		return err
	}
	return config.ValidateTracing(c.Tracing)
}

func runShell(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := initTUILogging("examshell")
	if err != nil {
		return err
	}
	defer cleanupLog()

	if err := validateShellConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if save, _ := cmd.Flags().GetBool("save-host"); save {
		if err := config.SaveHostAddr(cfgPath, cfg.Host.Addr); err != nil {
			return fmt.Errorf("saving host address: %w", err)
		}
		log.Info(log.CatConfig, "Saved host address", "addr", cfg.Host.Addr, "path", cfgPath)
	}

	features := flags.New(cfg.Flags)

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	invoker, err := gateway.NewHTTPInvoker(gateway.HTTPConfig{
		Addr:    cfg.Host.Addr,
		Timeout: cfg.Host.CommandTimeout,
		Tracer:  tp.Tracer(),
	})
	if err != nil {
		return fmt.Errorf("supervisor address: %w", err)
	}

	bus := eventbus.New()
	defer bus.Close()

	stream, err := gateway.NewStream(gateway.StreamConfig{
		Addr:           cfg.Host.Addr,
		ReconnectDelay: cfg.Host.ReconnectDelay,
		Verbose:        features.Enabled(flags.FlagHostEventLog),
	}, bus)
	if err != nil {
		return fmt.Errorf("supervisor address: %w", err)
	}

	machine := session.New(session.Config{
		Gateway: gateway.NewClient(invoker),
		Tracer:  tp.Tracer(),
		// The program quits on Terminated and restores the terminal
		// before main exits 0.
		Exit: func(code int) {
			log.Info(log.CatSession, "Session ended", "code", code)
		},
	})
	detach := machine.Attach(bus)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The model subscribes to link states in New, so it must exist before
	// the stream can report its first connection.
	kiosk := features.Enabled(flags.FlagKiosk)
	model := app.New(app.Config{
		Session:       machine,
		Notice:        cfg.UI.Notice,
		MarkdownStyle: cfg.UI.MarkdownStyle,
		Kiosk:         kiosk,
		Debug:         debugEnabled(),
		Link:          stream.States(),
	})
	defer model.Close()

	log.SafeGo("event-stream", func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorErr(log.CatGateway, "Event stream stopped", err)
		}
	})

	zone.NewGlobal()
	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if kiosk {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(model, opts...).Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
