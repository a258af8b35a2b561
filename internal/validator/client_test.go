package validator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(n int) string { return strconv.Itoa(n) }

func TestClient_Endpoint(t *testing.T) {
	c := NewClient(8080, time.Second, nil)

	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "https://exam.example", want: "https://exam.example:8080/validate"},
		{base: "exam.example", want: "http://exam.example:8080/validate"},
		{base: "http://10.0.0.1:9000/", want: "http://10.0.0.1:9000/validate"},
		{base: " http://10.0.0.1 ", want: "http://10.0.0.1:8080/validate"},
		{base: "http://[::1]", want: "http://[::1]:8080/validate"},
		{base: "", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := c.Endpoint(tt.base, PathValidate)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Validate(t *testing.T) {
	srv := httptest.NewServer(NewHandler(HandlerConfig{RedirectURL: "https://exam.example", Password: "pw"}).Routes())
	defer srv.Close()

	c := NewClient(1, time.Second, srv.Client())
	resp, err := c.Validate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.Status)
	assert.Equal(t, "https://exam.example", resp.IPAddr)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status      int
		clientError bool
	}{
		{status: http.StatusBadRequest, clientError: true},
		{status: http.StatusNotFound, clientError: true},
		{status: http.StatusInternalServerError, clientError: false},
		{status: http.StatusMovedPermanently, clientError: false},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			hc := srv.Client()
			hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
			c := NewClient(1, time.Second, hc)

			_, err := c.Validate(context.Background(), srv.URL)
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.clientError, statusErr.ClientError())
		})
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewClient(1, time.Second, srv.Client()).Password(context.Background(), srv.URL)
	require.ErrorContains(t, err, "failed to parse JSON")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(1, 50*time.Millisecond, srv.Client()).Validate(context.Background(), srv.URL)
	require.Error(t, err)
	var statusErr *StatusError
	require.False(t, errors.As(err, &statusErr))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(1, time.Second, nil).Validate(context.Background(), addr)
	require.Error(t, err)
}
