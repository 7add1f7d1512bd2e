package frontend

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// withRequestID echoes the caller-provided request id or assigns a fresh
// one. The header is set before the handler runs so error responses carry
// it too.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

// tokenAuth guards every route except the exempt operational endpoints with
// a constant-time bearer token comparison.
func tokenAuth(realm, token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.Split(r.Header.Get("Authorization"), " ")
			if len(authHeader) < 2 {
				tokenAuthFailed(w, realm)
				return
			}

			bearer := authHeader[1]
			if bearer == "" {
				tokenAuthFailed(w, realm)
				return
			}

			if subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
				tokenAuthFailed(w, realm)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenAuthFailed(w http.ResponseWriter, realm string) {
	w.Header().Add("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s"`, realm))
	w.WriteHeader(http.StatusUnauthorized)
}

// isExemptPath reports whether the path is an operational endpoint that
// bypasses auth and rate limiting: liveness probes and metrics scrapes.
func isExemptPath(p string) bool {
	return p == "/metrics" || strings.HasSuffix(p, "/health")
}

// withBodyLimit rejects oversized request bodies with 413. Declared sizes
// fail fast on Content-Length; chunked uploads are cut off by MaxBytesReader
// and surface through the JSON decoder.
func withBodyLimit(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "payload too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter keeps one token bucket per client address and bucket class.
// Process-local, like the rest of the runtime.
type clientLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	globalCap int
	chatCap   int
}

func newClientLimiter(globalPerMin int) *clientLimiter {
	return &clientLimiter{
		buckets:   make(map[string]*rate.Limiter),
		globalCap: globalPerMin,
		chatCap:   globalPerMin,
	}
}

// SetChatLimit tightens the budget applied to agent chat turns.
func (l *clientLimiter) SetChatLimit(perMin int) {
	l.mu.Lock()
	l.chatCap = perMin
	l.mu.Unlock()
}

func (l *clientLimiter) allow(addr, class string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := l.globalCap
	if class == "chat" {
		capacity = l.chatCap
	}
	if capacity <= 0 {
		return true
	}

	key := addr + "|" + class
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(capacity)/60.0), capacity)
		l.buckets[key] = lim
	}
	return lim.Allow()
}

// withRateLimit applies a per-client token bucket, with a separate tighter
// bucket for agent chat. Operational endpoints bypass the limiter so probes
// and scrapes never starve.
func withRateLimit(limiter *clientLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			class := "global"
			if strings.HasSuffix(r.URL.Path, "/agent/chat") {
				class = "chat"
			}
			if !limiter.allow(clientAddr(r), class) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr extracts the client host. RealIP runs earlier in the chain, so
// RemoteAddr already reflects X-Forwarded-For when present.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
