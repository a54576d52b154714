package api

import (
	"crypto/subtle"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RequestLoggingMiddleware logs one line per request. Requests on a task
// route also carry the task id so they can be matched with worker logs.
func RequestLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		attrs := append(requestAttrs(c),
			"status_code", status,
			"latency_ms", float64(time.Since(start))/float64(time.Millisecond),
		)
		logger.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

// requestAttrs identifies the caller and the scan route of a request.
func requestAttrs(c *gin.Context) []any {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	attrs := []any{"client_ip", c.ClientIP(), "method", c.Request.Method, "route", route}
	if id := c.Param("id"); id != "" {
		attrs = append(attrs, "task_id", id)
	}
	return attrs
}

// AuthMiddleware requires "Authorization: Bearer <key>" on the scan routes.
func AuthMiddleware(expectedKey string, logger *slog.Logger) gin.HandlerFunc {
	expected := []byte(expectedKey)
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			rejectUnauthorized(c, logger, "missing bearer token")
			return
		}

		// Constant time so the key length is the only thing a caller can learn.
		provided := []byte(strings.TrimSpace(token))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			rejectUnauthorized(c, logger, "invalid api key")
			return
		}
		c.Next()
	}
}

func rejectUnauthorized(c *gin.Context, logger *slog.Logger, reason string) {
	logger.Warn("scan request rejected", append(requestAttrs(c), "reason", reason)...)
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
}

// ScanQuotaMiddleware limits how many sweeps one client IP may submit per
// window. Every sweep can open up to 65535 connections, so only scan creation
// is metered; polling and cancel stay free.
//
// The counter is a fixed window in Redis. Responses carry X-RateLimit-Limit
// and X-RateLimit-Remaining, and a 429 adds Retry-After in seconds.
func ScanQuotaMiddleware(client *redis.Client, limit int64, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := "ratelimit:scans:" + c.ClientIP()

		pipe := client.TxPipeline()
		counter := pipe.Incr(ctx, key)
		ttl := pipe.TTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Error("scan quota redis error", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}

		// First request of a window (or a key that lost its expiry) opens the window.
		reset := ttl.Val()
		if reset < 0 {
			if err := client.Expire(ctx, key, window).Err(); err != nil {
				logger.Warn("scan quota expiry not set", "key", key, "error", err)
			}
			reset = window
		}

		count := counter.Val()
		headers := c.Writer.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(max(limit-count, 0), 10))

		if count > limit {
			headers.Set("Retry-After", strconv.Itoa(int(math.Ceil(reset.Seconds()))))
			logger.Warn("scan quota exceeded", append(requestAttrs(c), "count", count, "limit", limit)...)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "scan quota exceeded"})
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds browser hardening headers. Task snapshots
// change while a sweep runs, so API responses are never cached.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		headers := c.Writer.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		// Swagger UI needs inline scripts and styles.
		headers.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			headers.Set("Cache-Control", "no-store")
		}
		c.Next()
	}
}
