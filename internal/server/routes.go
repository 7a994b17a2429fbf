package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jackzampolin/tome/internal/ratelimit"
	"github.com/jackzampolin/tome/internal/svcctx"
)

// withRequestID assigns a request id when the client did not send one and
// echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		ctx := r.Context()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until Start has built the service graph.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := s.services != nil
		s.mu.RUnlock()
		if !ready {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"data":null,"metadata":{},"error":{"code":"INTERNAL_ERROR","message":"server not fully initialized"}}`))
			return
		}
		next(w, r)
	}
}

// rateLimit applies the per-client limiter to endpoints that opt in. The
// limiter is swapped in during Start; before that, and when limiting is
// disabled, requests pass through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		l := s.limiter
		s.mu.RUnlock()
		if l == nil {
			next.ServeHTTP(w, r)
			return
		}
		ratelimit.Middleware(l)(next).ServeHTTP(w, r)
	})
}
