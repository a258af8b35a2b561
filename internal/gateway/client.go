package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/examalpha/examshell/internal/protocol"
)

// Client exposes the supervisor's commands with typed arguments and results.
type Client struct {
	inv Invoker
}

// NewClient wraps inv.
func NewClient(inv Invoker) *Client {
	return &Client{inv: inv}
}

// ServerURL returns the configured server address, or nil when none is set.
func (c *Client) ServerURL(ctx context.Context) (*string, error) {
	raw, err := c.inv.Invoke(ctx, protocol.CmdServerURL, nil)
	if err != nil {
		return nil, err
	}
	var u *string
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, transportErr(protocol.CmdServerURL, fmt.Errorf("decode result: %w", err))
	}
	return u, nil
}

// SetServer asks the supervisor to validate and store url. The success value
// is opaque and discarded.
func (c *Client) SetServer(ctx context.Context, url string) error {
	_, err := c.inv.Invoke(ctx, protocol.CmdSetServer, protocol.SetServerArgs{URL: url})
	return err
}

// ExitExam submits password. A well-formed false is not an error.
func (c *Client) ExitExam(ctx context.Context, password string) (bool, error) {
	raw, err := c.inv.Invoke(ctx, protocol.CmdExitExam, protocol.ExitExamArgs{Password: password})
	if err != nil {
		return false, err
	}
	var ok *bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, transportErr(protocol.CmdExitExam, fmt.Errorf("decode result: %w", err))
	}
	if ok == nil {
		return false, transportErr(protocol.CmdExitExam, fmt.Errorf("result is null"))
	}
	return *ok, nil
}
