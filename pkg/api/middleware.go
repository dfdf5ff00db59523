package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/third-eye/thirdeye/pkg/auth"
	"github.com/third-eye/thirdeye/pkg/models"
)

// HeaderTraceID propagates the request trace across the bridge boundary.
const HeaderTraceID = "X-Trace-Id"

// Cookie carrying the admin login session token.
const cookieAdminSession = "third-eye-admin"

// Context keys set by the middleware chain.
const (
	ctxKeyAPIKey    = "api_key"
	ctxKeyTraceID   = "trace_id"
	ctxKeyCode      = "outcome_code"
	ctxKeySessionID = "session_id"
)

// traceID adopts the caller's X-Trace-Id or mints one, and echoes it on
// the response.
func traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderTraceID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxKeyTraceID, id)
		c.Header(HeaderTraceID, id)
		c.Next()
	}
}

// securityHeaders sets the standard hardening response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requireAPIKey authenticates X-API-Key and stashes the resolved key on
// the request context.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			abort(c, models.CodeAuthRequired, "### Authentication Unavailable\nNo key store is configured.", nil)
			return
		}
		key, err := s.verifier.Verify(c.Request.Context(), c.GetHeader(auth.HeaderAPIKey))
		if err != nil {
			abort(c, models.CodeAuthRequired, "### Authentication Required\nProvide a valid X-API-Key header.", map[string]any{
				"hint": err.Error(),
			})
			return
		}
		c.Set(ctxKeyAPIKey, key)
		c.Next()
	}
}

// requireAdmin allows only admin-role keys with a live admin login
// session past this point.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFrom(c)
		if key.Role != models.RoleAdmin {
			abort(c, models.CodeAuthRequired, "### Admin Access Required\nThis endpoint needs an admin-role API key.", nil)
			return
		}

		token, err := c.Cookie(cookieAdminSession)
		if err == nil {
			_, err = s.admins.Validate(token)
		}
		if err != nil {
			abort(c, models.CodeSessionExpired, "### Session Expired\nLog in again via /admin/auth/login.", nil)
			return
		}
		c.Next()
	}
}

// requireCSRF enforces the double-submit contract on state-changing admin
// requests: cookie and header must match byte for byte and the token's
// HMAC and timestamp must verify.
func (s *Server) requireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(auth.HeaderCSRFToken)
		cookie, err := c.Cookie(auth.CookieCSRF)
		if err != nil || header == "" || header != cookie || !s.csrf.Validate(header) {
			abort(c, models.CodeCSRFFailed, "### CSRF Check Failed\nResend with a fresh X-CSRF-Token matching the cookie.", nil)
			return
		}
		c.Next()
	}
}

// quotaGuard admits the request against the tenant's sliding window first,
// then against the key's own per-minute limit.
func (s *Server) quotaGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apiKeyFrom(c)
		retryAfter := int(s.quota.RetryAfter().Seconds())

		if key.TenantID != "" {
			if admitted, used := s.quota.CheckAndIncrement(key.TenantID); !admitted {
				s.rejectQuota(c, key.TenantID, used, retryAfter)
				return
			}
		}
		if key.Limits.PerMinute > 0 {
			bucket := "key:" + key.ID
			s.quota.SetLimit(bucket, key.Limits.PerMinute)
			if admitted, used := s.quota.CheckAndIncrement(bucket); !admitted {
				s.rejectQuota(c, key.TenantID, used, retryAfter)
				return
			}
		}
		c.Next()
	}
}

func (s *Server) rejectQuota(c *gin.Context, tenantID string, used, retryAfter int) {
	if s.metrics != nil {
		s.metrics.QuotaRejections.WithLabelValues(tenantID).Inc()
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	abort(c, models.CodeQuotaExceeded,
		fmt.Sprintf("### Quota Exceeded\nWait %d seconds and retry.", retryAfter),
		map[string]any{
			"hint":        fmt.Sprintf("wait %d seconds", retryAfter),
			"usage":       used,
			"retry_after": retryAfter,
		})
}

// audited records one audit row per request after the handler ran,
// including rejections produced by earlier middleware.
func (s *Server) audited() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.store == nil {
			return
		}

		key := apiKeyFrom(c)
		event := models.AuditEvent{
			TS:       time.Now(),
			TraceID:  c.GetString(ctxKeyTraceID),
			KeyID:    key.ID,
			TenantID: key.TenantID,
			Route:    c.FullPath(),
			Code:     c.GetString(ctxKeyCode),
			Status:   c.Writer.Status(),
		}
		if sid, ok := c.Get(ctxKeySessionID); ok {
			event.SessionID, _ = sid.(string)
		}
		if err := s.store.RecordAudit(c.Request.Context(), event); err != nil {
			s.logger().Warn("audit record failed", "error", err, "route", event.Route)
		}

		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(
				c.Request.Method, c.FullPath(), event.Code).Inc()
		}
	}
}

func apiKeyFrom(c *gin.Context) models.APIKey {
	if v, ok := c.Get(ctxKeyAPIKey); ok {
		if key, ok := v.(models.APIKey); ok {
			return key
		}
	}
	return models.APIKey{}
}
