package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/examalpha/examshell/internal/config"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/validator"
)

var validatorCmd = &cobra.Command{
	Use:   "validator",
	Short: "Run a mock examination-server validator",
	Long: `Serve the validation endpoints the supervisor queries when a server
address is submitted: /validate returns the redirect URL and /password the
exit password. Meant for local testing only.`,
	RunE: runValidator,
}

func init() {
	validatorCmd.Flags().String("listen", "", "address to listen on (overrides validator.listen)")
	validatorCmd.Flags().String("password", "", "exit password to hand out (overrides validator.password)")
	rootCmd.AddCommand(validatorCmd)
}

func runValidator(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := initServiceLogging()
	if err != nil {
		return err
	}
	defer cleanupLog()

	vc := cfg.Validator
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		vc.Listen = v
	}
	if v, _ := cmd.Flags().GetString("password"); v != "" {
		vc.Password = v
	}
	if err := config.ValidateValidator(vc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	server, err := validator.NewServer(validator.ServerConfig{
		Addr: vc.Listen,
		Handler: validator.HandlerConfig{
			RedirectURL: vc.RedirectURL,
			Password:    vc.Password,
		},
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Validator listening on port %d\n", server.Port())

	select {
	case sig := <-sigCh:
		log.Info(log.CatValidator, "Received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Stop(ctx)
}
