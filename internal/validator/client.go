package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/examalpha/examshell/internal/log"
)

// StatusError reports a non-2xx answer from a validation server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("validator answered %d", e.StatusCode)
}

// ClientError reports whether the server blamed the request (4xx).
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client queries validation servers.
type Client struct {
	http *http.Client
	port int
}

// NewClient creates a client. Every request is bounded by timeout; port is
// used when a submitted address does not carry one.
func NewClient(port int, timeout time.Duration, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	copied := *hc
	copied.Timeout = timeout
	return &Client{http: &copied, port: port}
}

// Endpoint builds the URL for path on the server at base. A missing scheme
// defaults to http and a missing port to the client's validator port.
func (c *Client) Endpoint(base, path string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("server address is empty")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server address: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("server address %q has no host", base)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(c.port))
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Validate calls GET /validate on the server at base.
func (c *Client) Validate(ctx context.Context, base string) (ValidateResponse, error) {
	var resp ValidateResponse
	err := c.get(ctx, base, PathValidate, &resp)
	return resp, err
}

// Password fetches the current exit password from the server at base.
func (c *Client) Password(ctx context.Context, base string) (string, error) {
	var resp PasswordResponse
	if err := c.get(ctx, base, PathPassword, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) get(ctx context.Context, base, path string, out any) error {
	endpoint, err := c.Endpoint(base, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn(log.CatValidator, "Validator unreachable", "endpoint", endpoint, "error", err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug(log.CatValidator, "Validator answered", "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
