package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/handler"
	"github.com/Gopher0727/TimeChat/middleware/jwt"
	logger "github.com/Gopher0727/TimeChat/middleware/log"
	"github.com/Gopher0727/TimeChat/utils/ratelimit"
)

type MiddlewareManager struct {
	tokenManager *jwt.TokenManager
	rateLimiter  ratelimit.Limiter
	logger       *logger.Logger
	rateLimitCfg *config.RateLimitConfig
}

func NewMiddlewareManager(
	tokenManager *jwt.TokenManager,
	rateLimiter ratelimit.Limiter,
	log *logger.Logger,
	rateLimitCfg *config.RateLimitConfig,
) *MiddlewareManager {
	return &MiddlewareManager{
		tokenManager: tokenManager,
		rateLimiter:  rateLimiter,
		logger:       log,
		rateLimitCfg: rateLimitCfg,
	}
}

// TraceID reuses the caller's request id or mints one, echoes it in the
// response and stores it on the request context.
func (m *MiddlewareManager) TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(logger.TraceIDHeader)
		if traceID == "" {
			traceID = logger.NewTraceID()
		}
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Header(logger.TraceIDHeader, traceID)
		c.Next()
	}
}

func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization header required",
				"code":  "unauthorized",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
				"code":  "unauthorized",
			})
			return
		}

		claims, err := m.tokenManager.ParseToken(parts[1])
		if err != nil {
			m.logger.WarnContext(c.Request.Context(), "token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)

			message := "invalid token"
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				message = "token has expired"
			case errors.Is(err, jwt.ErrTokenNotYetValid):
				message = "token not yet valid"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": message,
				"code":  "unauthorized",
			})
			return
		}

		c.Set(handler.ContextUserID, claims.UserID)
		c.Set(handler.ContextUserName, claims.Name)

		c.Next()
	}
}

// RateLimit applies the configured per-minute budget of endpoint, keyed by
// user when authenticated and by client ip otherwise.
func (m *MiddlewareManager) RateLimit(endpoint string) gin.HandlerFunc {
	rule := ratelimit.RuleFor(endpoint, m.rateLimitCfg)

	return func(c *gin.Context) {
		if m.rateLimiter == nil {
			c.Next()
			return
		}

		var key string
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		allowed, err := m.rateLimiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			m.logger.ErrorContext(c.Request.Context(), "rate limit check failed",
				zap.Error(err),
				zap.String("key", key),
				zap.String("endpoint", endpoint),
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limit check failed",
				"code":  "upstream_failure",
			})
			return
		}

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(rule.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": int(rule.Window.Seconds()),
			})
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if userID := c.GetString(handler.ContextUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			m.logger.ErrorContext(ctx, "server error", fields...)
		case statusCode >= 400:
			m.logger.WarnContext(ctx, "client error", fields...)
		default:
			m.logger.InfoContext(ctx, "request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	headers := []string{
		"Origin", "Content-Type", "Content-Length", "Accept", "Accept-Encoding",
		"Authorization", "Cache-Control", "X-Requested-With", logger.TraceIDHeader,
	}
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    headers,
		ExposeHeaders:   []string{logger.TraceIDHeader, "Content-Disposition"},
		MaxAge:          12 * time.Hour,
	})
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
					"code":  "internal_error",
				})
			}
		}()

		c.Next()
	}
}
