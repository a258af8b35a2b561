package host

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/examalpha/examshell/internal/log"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the supervisor's HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on. Port 0 picks a free port.
	Addr    string
	Handler HandlerConfig
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
}

// NewServer binds cfg.Addr. There is no write timeout because /events is
// long-lived.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	srv := &http.Server{
		Handler:           NewHandler(cfg.Handler).Routes(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Handler.Hub != nil {
		// Ends open event streams so Shutdown does not wait on them.
		srv.RegisterOnShutdown(cfg.Handler.Hub.Close)
	}

	return &Server{
		listener: listener,
		port:     port,
		server:   srv,
	}, nil
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	log.Info(log.CatHost, "Starting supervisor API", "addr", s.listener.Addr().String(), "port", s.port)
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatHost, "Stopping supervisor API")
	return s.server.Shutdown(ctx)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}
