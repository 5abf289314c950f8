// Package http serves the history service's JSON API. The basket
// talks to it through the remote client; the sync worker feeds it
// through the same storage layer.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cestinha/internal/cache"
	"cestinha/internal/core"
	"cestinha/internal/log"
	"cestinha/internal/remote"
)

// PurchaseStore is the slice of the storage layer the API needs.
type PurchaseStore interface {
	InsertPurchase(ctx context.Context, p core.Purchase) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]core.Purchase, error)
	UpdatePurchaseField(ctx context.Context, id int64, field string, value any) error
}

type Server struct {
	http.Server

	store        PurchaseStore
	defaultLimit int
	maxLimit     int

	limiter      *requestLimiter
	historyCache *cache.TTLCache[[]remote.PurchaseRecord]
	shutdownOnce sync.Once
}

// NewServer wires routes, middleware and the history page cache.
// defaultLimit caps GET /history when the caller passes no limit.
func NewServer(addr string, store PurchaseStore, defaultLimit int, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     200,
		limiter:      newRequestLimiter(60),
		historyCache: cache.New[[]remote.PurchaseRecord](16, 30*time.Second),
	}
	s.historyCache.StartSweep(5 * time.Minute)

	mux.HandleFunc("/history", s.guard(s.handleHistory))
	mux.HandleFunc("/purchase", s.guard(s.handleInsertPurchase))
	mux.HandleFunc("/purchase/field-update", s.guard(s.handleFieldUpdate))
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	handler := http.Handler(mux)
	if logger != nil {
		handler = log.Middleware(logger.WithComponent(log.ComponentHTTP))(handler)
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Shutdown stops the background goroutines before draining the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.historyCache.Stop()
		s.limiter.stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// guard applies security headers, per-client rate limiting on writes,
// and request logging around a handler.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := newRequestID()

		logger := log.FromContext(r.Context()).With(
			log.FieldRequestID, requestID,
			log.FieldClientIP, clientIP,
		)
		r = r.WithContext(log.IntoContext(r.Context(), logger))

		logger.InfoContext(r.Context(), "Request started",
			"method", r.Method, "url", r.URL.Path)

		if r.Method == http.MethodPost && !s.limiter.allow(clientIP) {
			logger.WarnContext(r.Context(), "Rate limit exceeded",
				"method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(rw, r)

		logger.InfoContext(r.Context(), "Request completed",
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
