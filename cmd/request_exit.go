package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/examalpha/examshell/internal/gateway"
	"github.com/examalpha/examshell/internal/protocol"
)

var requestExitCmd = &cobra.Command{
	Use:   "request-exit",
	Short: "Ask every connected shell to show the exit prompt",
	Long: `Post start::exit to the supervisor at host.addr. Every shell connected
to its event stream switches to the exit password prompt. When no shell is
connected the supervisor holds the request for the next one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		timeout := cfg.Host.CommandTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		resp, err := postEmit(ctx, http.DefaultClient, cfg.Host.Addr, protocol.EventStartExit)
		if err != nil {
			return err
		}
		reportExit(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestExitCmd)
}

// reportExit tells the operator whether any shell was listening.
func reportExit(w io.Writer, resp protocol.EmitResponse) {
	if resp.Subscribers == 0 {
		fmt.Fprintf(w, "Warning: no shell is connected (seq %d). The request is held for the next shell that connects.\n", resp.Seq)
		return
	}
	fmt.Fprintf(w, "Exit requested (seq %d, %d connected)\n", resp.Seq, resp.Subscribers)
}

// postEmit asks the supervisor at addr to broadcast the named event.
func postEmit(ctx context.Context, hc *http.Client, addr, name string) (protocol.EmitResponse, error) {
	base, err := gateway.BaseURL(addr)
	if err != nil {
		return protocol.EmitResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+protocol.PathEmit+name, nil)
	if err != nil {
		return protocol.EmitResponse{}, err
	}

	res, err := hc.Do(req)
	if err != nil {
		return protocol.EmitResponse{}, fmt.Errorf("contacting supervisor: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e protocol.ErrorResponse
		if json.NewDecoder(res.Body).Decode(&e) == nil && e.Error != "" {
			return protocol.EmitResponse{}, fmt.Errorf("supervisor rejected %s: %s", name, e.Error)
		}
		return protocol.EmitResponse{}, fmt.Errorf("supervisor rejected %s: %s", name, res.Status)
	}

	var out protocol.EmitResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return protocol.EmitResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
