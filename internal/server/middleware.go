package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/pagerag/internal/metrics"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/hyperjump/pagerag/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ctxKey int

const userKey ctxKey = iota

func userFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// scopeOf returns the index scope of the request: the caller's user id when
// authentication is on, the configured default scope otherwise.
func (s *Server) scopeOf(r *http.Request) string {
	if u := userFrom(r.Context()); u != nil {
		return u.ID
	}
	return s.cfg.Server.DefaultScope
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// metricsMiddleware records every request under its chi route pattern.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", webhookSecretHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}

// apiKey extracts the key from X-API-Key or an Authorization bearer token.
func apiKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if !s.cfg.Server.AuthEnabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" {
			s.respondError(w, r, ragerr.New(ragerr.CodeServerAuthUnauthorized, "missing API key"))
			return
		}
		user, err := s.storage.GetUserByAPIKeyHash(r.Context(), utils.HashToken(key))
		if err != nil {
			if ragerr.IsNotFound(err) {
				err = ragerr.New(ragerr.CodeServerAuthUnauthorized, "invalid API key")
			}
			s.respondError(w, r, err)
			return
		}
		if !user.Active {
			s.respondError(w, r, ragerr.New(ragerr.CodeServerAuthUnauthorized, "user is inactive"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// requireAdmin limits a route to admin users. Without authentication every
// caller is the local operator.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if !s.cfg.Server.AuthEnabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := userFrom(r.Context()); u == nil || !u.IsAdmin {
			s.respondError(w, r, ragerr.New(ragerr.CodeServerAuthForbidden, "admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps one token bucket per caller: the user id when
// authenticated, the client address otherwise.
type rateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorTTL = 10 * time.Minute

func newRateLimiter(perMinute, burst int, done <-chan struct{}) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &rateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
	if perMinute > 0 {
		go rl.sweep(done)
	}
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (rl *rateLimiter) sweep(done <-chan struct{}) {
	ticker := time.NewTicker(visitorTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > visitorTTL {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		case <-done:
			return
		}
	}
}

func callerKeyOf(r *http.Request) string {
	if u := userFrom(r.Context()); u != nil {
		return "user:" + u.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKeyOf(r)
		if !rl.allow(key) {
			w.Header().Set("Retry-After", "60")
			writeError(w, ragerr.New(ragerr.CodeServerRateExceeded, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
