package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/examalpha/examshell/internal/config"
	"github.com/examalpha/examshell/internal/flags"
	"github.com/examalpha/examshell/internal/host"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/store"
	"github.com/examalpha/examshell/internal/tracing"
	"github.com/examalpha/examshell/internal/validator"
	"github.com/examalpha/examshell/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the reference supervisor",
	Long: `Run the supervising process a shell connects to.

The supervisor stores the examination server address, keeps the exit
password fresh from the server's validator and pushes start::exit to every
connected shell when the trigger file appears or POST /emit/start::exit is
received.`,
	RunE: runHost,
}

func init() {
	hostCmd.Flags().String("listen", "", "address to listen on (overrides daemon.listen)")
	hostCmd.Flags().String("data-dir", "", "state directory (overrides daemon.data_dir)")
	hostCmd.Flags().Bool("save-data-dir", false, "write --data-dir back into the config file")
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := initServiceLogging()
	if err != nil {
		return err
	}
	defer cleanupLog()

	dc := cfg.Daemon
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		dc.Listen = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		dc.DataDir = v
		if save, _ := cmd.Flags().GetBool("save-data-dir"); save {
			if err := config.SaveDataDir(cfgPath, v); err != nil {
				return fmt.Errorf("saving data directory: %w", err)
			}
		}
	}
	if err := config.ValidateDaemon(dc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.ValidateTracing(cfg.Tracing); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
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

	db, err := store.NewDB(dc.DBPath())
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer func() { _ = db.Close() }()

	hub := host.NewHub()
	svcCfg := host.ServiceConfig{
		Settings:    store.NewSettings(db),
		Validator:   validator.NewClient(dc.ValidatorPort, dc.ValidateTimeout, nil),
		Events:      hub,
		PasswordTTL: dc.PasswordRefresh,
	}
	if features.Enabled(flags.FlagAuditExitAttempts) {
		svcCfg.Attempts = store.NewExitAttempts(db)
	}
	svc := host.NewService(svcCfg)

	server, err := host.NewServer(host.ServerConfig{
		Addr: dc.Listen,
		Handler: host.HandlerConfig{
			Commands: svc,
			Hub:      hub,
			Tracer:   tp.Tracer(),
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.SafeGo("password-refresher", func() { svc.RunRefresher(ctx, dc.PasswordRefresh) })

	trigger, err := watcher.New(watcher.DefaultConfig(dc.TriggerPath()))
	if err != nil {
		return err
	}
	defer func() { _ = trigger.Stop() }()
	log.SafeGo("exit-trigger", func() {
		if err := host.WatchTrigger(ctx, trigger, hub); err != nil {
			log.ErrorErr(log.CatWatcher, "Trigger watcher stopped", err, "path", trigger.Path())
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Supervisor listening on %s (state in %s)\n", server.Addr(), dc.DataDir)
	fmt.Fprintf(cmd.OutOrStdout(), "Request exit with: touch %s\n", trigger.Path())

	select {
	case sig := <-sigCh:
		log.Info(log.CatHost, "Received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Info(log.CatHost, "Supervisor stopped")
	return nil
}
