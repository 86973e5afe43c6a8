package api

import (
	"log/slog"
	"math"
	"mime"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"secret.vault/internal/metrics"
)

// maxBodySize caps request bodies; a 4096-character secret is at most 16KiB
// of UTF-8 before JSON escaping.
const maxBodySize = 64 * 1024

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	}).Handler
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Logger logs one structured line per request. Query strings and bodies are
// not logged.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(log, next)
	}
}

// JSONOnly rejects request bodies that are not declared as JSON. Bodyless
// requests pass through.
func JSONOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength != 0 {
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "application/json" {
					writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{Detail: "content type must be application/json"})
					return
				}
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// Metrics records request counts and latency by chi route pattern, so ids in
// the path never become label values.
func Metrics(m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}

type limiterClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket keyed by remote IP.
type RateLimiter struct {
	name    string
	limit   rate.Limit
	burst   int
	window  time.Duration
	metrics *metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*limiterClient
	lastSweep time.Time
}

// NewRateLimiter allows n requests per window per client, refilling evenly.
func NewRateLimiter(name string, n int, window time.Duration, m *metrics.Collector) *RateLimiter {
	return &RateLimiter{
		name:    name,
		limit:   rate.Limit(float64(n) / window.Seconds()),
		burst:   n,
		window:  window,
		metrics: m,
		now:     time.Now,
		clients: make(map[string]*limiterClient),
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.window {
		// A client idle for a full window has a full bucket again, so
		// forgetting it changes nothing.
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.window {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &limiterClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimited(rl.name)
			}
			retry := math.Ceil(rl.window.Seconds() / float64(rl.burst))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Detail: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
