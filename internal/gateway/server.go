package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/grant"
	"github.com/lendkey/accessbot/internal/version"
)

// PendingLister exposes the pending grant requests.
type PendingLister interface {
	ListPending() []grant.Request
}

// PendingItem is the wire form of one pending request.
type PendingItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Account   string    `json:"account"`
	Requester string    `json:"requester"`
	Reason    string    `json:"reason,omitempty"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// PendingResponse is the body of GET /pending.
type PendingResponse struct {
	Count     int           `json:"count"`
	Pending   []PendingItem `json:"pending"`
	RequestID string        `json:"request_id"`
}

type Server struct {
	cfg        config.GatewayConfig
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, pending PendingLister, gatherer prometheus.Gatherer) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18791
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:     cfg,
		handler: NewHandler(cfg.Token, pending, gatherer),
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func NewHandler(token string, pending PendingLister, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDHeader)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, getRequestID(r), http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, getRequestID(r), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": getRequestID(r),
		})
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"commit":     version.Commit,
			"request_id": getRequestID(r),
		})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/pending", func(w http.ResponseWriter, r *http.Request) {
			requestID := getRequestID(r)
			if pending == nil {
				writeError(w, requestID, http.StatusInternalServerError, "internal_error", "engine is not configured")
				return
			}
			reqs := pending.ListPending()
			items := make([]PendingItem, 0, len(reqs))
			for _, req := range reqs {
				items = append(items, pendingItem(req))
			}
			writeJSON(w, http.StatusOK, PendingResponse{
				Count:     len(items),
				Pending:   items,
				RequestID: requestID,
			})
		})
	})
	return r
}

func pendingItem(req grant.Request) PendingItem {
	return PendingItem{
		ID:        req.ID,
		Kind:      string(req.Kind),
		Target:    req.Target.Name,
		Account:   req.Account.Email,
		Requester: req.RequesterHandle,
		Reason:    req.Reason(),
		Channel:   req.Origin.Channel,
		CreatedAt: req.CreatedAt,
		Deadline:  req.Deadline,
	}
}

// requestIDHeader makes sure every request and response carries an
// X-Request-ID.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := getRequestID(r)
		r.Header.Set("X-Request-ID", rid)
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(token) != "" && !isAuthorized(r, token) {
				writeError(w, getRequestID(r), http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
