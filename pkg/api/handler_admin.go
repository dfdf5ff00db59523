package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/third-eye/thirdeye/pkg/auth"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/store"
)

// handleAdminLogin verifies control-plane credentials, mints a short-lived
// admin API key, and arms the CSRF double-submit cookie.
func (s *Server) handleAdminLogin(c *gin.Context) {
	if s.admins == nil {
		fail(c, models.CodeInternal, "### Login Unavailable\nNo account store is configured.", nil)
		return
	}

	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nBody must be {\"email\", \"password\"}.", map[string]any{
			"hint": err.Error(),
		})
		return
	}

	token, expiresAt, err := s.admins.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		fail(c, models.CodeAuthRequired, "### Login Failed\nEmail or password is incorrect.", nil)
		return
	}

	rawKey := auth.GenerateAPIKey()
	expiry := expiresAt
	key := models.APIKey{
		ID:           "adm-" + uuid.New().String(),
		HashedSecret: auth.HashAPIKey(rawKey),
		Role:         models.RoleAdmin,
		DisplayName:  body.Email,
		CreatedAt:    time.Now(),
		ExpiresAt:    &expiry,
	}
	if err := s.store.UpsertKey(c.Request.Context(), key); err != nil {
		fail(c, models.CodeInternal, "### Login Failed\nCould not persist the admin key.", nil)
		return
	}

	csrfToken := s.csrf.Generate()
	s.setCookie(c, auth.CookieCSRF, csrfToken, int(auth.CSRFTokenTTL.Seconds()))
	s.setCookie(c, cookieAdminSession, token, int(auth.AdminSessionTTL.Seconds()))

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"api_key":    rawKey,
		"key_id":     key.ID,
		"csrf_token": csrfToken,
		"expires_at": expiresAt,
	})
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleAdminLogout(c *gin.Context) {
	if token, err := c.Cookie(cookieAdminSession); err == nil {
		s.admins.Logout(token)
	}
	s.setCookie(c, cookieAdminSession, "", -1)
	s.setCookie(c, auth.CookieCSRF, "", -1)

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListKeys(c *gin.Context) {
	keys, err := s.store.ListKeys(c.Request.Context())
	if err != nil {
		fail(c, models.CodeInternal, "### Lookup Failed\nCould not list API keys.", nil)
		return
	}
	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true, "keys": keys})
}

// handleCreateKey mints a consumer or admin key. The raw secret appears in
// this response only; after that, the store knows just the hash.
func (s *Server) handleCreateKey(c *gin.Context) {
	var body createKeyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nMalformed key request.", map[string]any{
			"hint": err.Error(),
		})
		return
	}
	role := body.Role
	if role == "" {
		role = models.RoleConsumer
	}
	if role != models.RoleAdmin && role != models.RoleConsumer {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nRole must be admin or consumer.", map[string]any{
			"field": "role",
		})
		return
	}

	rawKey := auth.GenerateAPIKey()
	key := models.APIKey{
		ID:           "key-" + uuid.New().String(),
		HashedSecret: auth.HashAPIKey(rawKey),
		Role:         role,
		TenantID:     body.TenantID,
		DisplayName:  body.DisplayName,
		CreatedAt:    time.Now(),
		Limits:       body.Limits,
	}
	if body.TTLSeconds > 0 {
		expiry := time.Now().Add(time.Duration(body.TTLSeconds) * time.Second)
		key.ExpiresAt = &expiry
	}

	if err := s.store.UpsertKey(c.Request.Context(), key); err != nil {
		fail(c, models.CodeInternal, "### Key Creation Failed\nCould not persist the key.", nil)
		return
	}

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusCreated, gin.H{"ok": true, "key": key, "api_key": rawKey})
}

func (s *Server) handleRevokeKey(c *gin.Context) {
	err := s.store.RevokeKey(c.Request.Context(), c.Param("id"), time.Now())
	if errors.Is(err, store.ErrNotFound) {
		fail(c, models.CodeBadPayloadSchema, "### Unknown Key\nNo key with that id.", map[string]any{
			"field": "id",
		})
		return
	}
	if err != nil {
		fail(c, models.CodeInternal, "### Revocation Failed\nCould not revoke the key.", nil)
		return
	}
	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListTenants(c *gin.Context) {
	tenants, err := s.store.ListTenants(c.Request.Context())
	if err != nil {
		fail(c, models.CodeInternal, "### Lookup Failed\nCould not list tenants.", nil)
		return
	}
	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true, "tenants": tenants})
}

// handleUpsertTenant creates or updates a tenant and arms its quota.
func (s *Server) handleUpsertTenant(c *gin.Context) {
	var body tenantBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nTenant id is required.", map[string]any{
			"field": "id",
		})
		return
	}

	tenant := models.Tenant{
		ID:         body.ID,
		Name:       body.Name,
		QuotaLimit: body.QuotaLimit,
		CreatedAt:  time.Now(),
	}
	if err := s.store.UpsertTenant(c.Request.Context(), tenant); err != nil {
		fail(c, models.CodeInternal, "### Tenant Upsert Failed\nCould not persist the tenant.", nil)
		return
	}
	s.quota.SetLimit(body.ID, body.QuotaLimit)

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true, "tenant": tenant})
}

func (s *Server) handleSetTenantQuota(c *gin.Context) {
	tenantID := c.Param("id")
	var body quotaBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nBody must be {\"limit\": <n>}.", map[string]any{
			"hint": err.Error(),
		})
		return
	}

	tenant, err := s.store.FetchTenant(c.Request.Context(), tenantID)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, models.CodeBadPayloadSchema, "### Unknown Tenant\nCreate the tenant before setting its quota.", map[string]any{
			"field": "id",
		})
		return
	}
	if err != nil {
		fail(c, models.CodeInternal, "### Lookup Failed\nCould not load the tenant.", nil)
		return
	}

	tenant.QuotaLimit = body.Limit
	if err := s.store.UpsertTenant(c.Request.Context(), tenant); err != nil {
		fail(c, models.CodeInternal, "### Quota Update Failed\nCould not persist the new limit.", nil)
		return
	}
	s.quota.SetLimit(tenantID, body.Limit)

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true, "tenant": tenant})
}

func (s *Server) handleListAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events, err := s.store.ListAuditEvents(c.Request.Context(), limit)
	if err != nil {
		fail(c, models.CodeInternal, "### Lookup Failed\nCould not read the audit log.", nil)
		return
	}
	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": events})
}
