// Package validator implements the stub validation server an exam
// supervisor contacts when a server address is submitted, and the client
// the supervisor uses to reach it.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
)

// Paths served by a validation server.
const (
	PathValidate = "/validate"
	PathPassword = "/password"
)

// ValidateResponse is the body of GET /validate.
type ValidateResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	IPAddr  string `json:"ip_addr"`
	Port    uint16 `json:"port"`
}

// PasswordResponse is the body of GET /password. Message carries the exit
// password.
type PasswordResponse struct {
	Message string `json:"message"`
	IPAddr  string `json:"ip_addr"`
}

// HandlerConfig configures the stub.
type HandlerConfig struct {
	RedirectURL string
	Password    string
	// AdvertisedAddr is reported as ip_addr by /password.
	AdvertisedAddr string
}

// Handler serves the validation endpoints.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a validation handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.AdvertisedAddr == "" {
		cfg.AdvertisedAddr = "127.0.0.1"
	}
	return &Handler{cfg: cfg}
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathValidate, h.Validate)
	mux.HandleFunc("GET "+PathPassword, h.Password)
	return mux
}

// Validate confirms the server and names the page to redirect to.
// GET /validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	log.Info(log.CatValidator, "Validating server information", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, ValidateResponse{
		Status:  true,
		Message: "User fetched successfully",
		IPAddr:  h.cfg.RedirectURL,
		Port:    443,
	})
}

// Password hands out the current exit password.
// GET /password
func (h *Handler) Password(w http.ResponseWriter, r *http.Request) {
	log.Info(log.CatValidator, "Received a request for password", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, PasswordResponse{
		Message: h.cfg.Password,
		IPAddr:  h.cfg.AdvertisedAddr,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatValidator, "Failed to encode JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the validation server.
type ServerConfig struct {
	Addr    string
	Handler HandlerConfig
}

// NewServer binds Addr. Port 0 picks a free port; read it back with Port.
func NewServer(cfg ServerConfig) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	mux := NewHandler(cfg.Handler).Routes()
	return &Server{
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is served")
					return
				}
				mux.ServeHTTP(w, r)
			}),
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}, nil
}

// Start serves until Stop. Returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	log.Info(log.CatValidator, "Starting validation server", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatValidator, "Stopping validation server")
	return s.server.Shutdown(ctx)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}
