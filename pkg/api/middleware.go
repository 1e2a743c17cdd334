package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/models"
	"github.com/agentos-labs/agentos/pkg/trace"
)

const csrfCookieName = "csrf_token"
const csrfHeaderName = "X-CSRF-Token"

// traceMiddleware adopts or mints the request trace id, attaches it to the
// request context and echoes it on the response.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := trace.FromID(c.GetHeader(trace.HeaderName))
		ctx, done := trace.WithContext(c.Request.Context(), tc)
		defer done()

		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, tc.TraceID)
		c.Next()
	}
}

// requestLogMiddleware logs one line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", trace.ID(c.Request.Context()))
	}
}

// authMiddleware verifies the bearer token and attaches the Principal.
// Websocket upgrades may carry the token as a query parameter since
// browser clients cannot set headers there.
func authMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// rateLimiter holds one token bucket per caller address.
type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*callerBucket
	rps      rate.Limit
	burst    int
	lastSwep time.Time
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:  make(map[string]*callerBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastSwep: time.Now(),
	}
}

func (rl *rateLimiter) allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	// Drop buckets idle for over an hour.
	if now.Sub(rl.lastSwep) > time.Hour {
		for key, b := range rl.buckets {
			if now.Sub(b.lastSeen) > time.Hour {
				delete(rl.buckets, key)
			}
		}
		rl.lastSwep = now
	}

	b, ok := rl.buckets[addr]
	if !ok {
		b = &callerBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[addr] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// rateLimitMiddleware applies a per-caller-address token bucket.
func rateLimitMiddleware(rl *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.MCPResponse{
				Status:  "error",
				Error:   "rate limit exceeded",
				TraceID: trace.ID(c.Request.Context()),
			})
			return
		}
		c.Next()
	}
}

// csrfMiddleware implements double-submit cookie protection: non-mutating
// requests receive the cookie, mutating ones must echo it in the header.
func csrfMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		cookie, err := c.Cookie(csrfCookieName)
		if err != nil || cookie == "" {
			cookie = newCSRFToken()
			c.SetCookie(csrfCookieName, cookie, 3600, "/", "", false, false)
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		header := c.GetHeader(csrfHeaderName)
		if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, models.MCPResponse{
				Status:  "error",
				Error:   "missing or invalid CSRF token",
				TraceID: trace.ID(c.Request.Context()),
			})
			return
		}
		c.Next()
	}
}

func newCSRFToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// abortWithError renders an error through the shared taxonomy mapping.
func abortWithError(c *gin.Context, err error) {
	status, message, details := mapError(err)
	c.AbortWithStatusJSON(status, models.MCPResponse{
		Status:       "error",
		Error:        message,
		ErrorDetails: details,
		TraceID:      trace.ID(c.Request.Context()),
	})
}
