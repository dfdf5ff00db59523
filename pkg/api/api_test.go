package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/third-eye/thirdeye/pkg/auth"
	"github.com/third-eye/thirdeye/pkg/bus"
	"github.com/third-eye/thirdeye/pkg/config"
	"github.com/third-eye/thirdeye/pkg/eyes"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/overseer"
	"github.com/third-eye/thirdeye/pkg/provider"
	"github.com/third-eye/thirdeye/pkg/quota"
	"github.com/third-eye/thirdeye/pkg/session"
	"github.com/third-eye/thirdeye/pkg/store"
)

// fakeStore is an in-memory Persistence for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	keys     map[string]models.APIKey // by hashed secret
	tenants  map[string]models.Tenant
	accounts map[string]models.AdminAccount
	audits   []models.AuditEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:     make(map[string]models.APIKey),
		tenants:  make(map[string]models.Tenant),
		accounts: make(map[string]models.AdminAccount),
	}
}

func (f *fakeStore) FetchKeyByHash(_ context.Context, hashed string) (models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[hashed]
	if !ok {
		return models.APIKey{}, store.ErrNotFound
	}
	return key, nil
}

func (f *fakeStore) TouchKey(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) FetchAdminAccount(_ context.Context, email string) (models.AdminAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[email]
	if !ok {
		return models.AdminAccount{}, store.ErrNotFound
	}
	return account, nil
}

func (f *fakeStore) UpsertKey(_ context.Context, key models.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key.HashedSecret] = key
	return nil
}

func (f *fakeStore) RevokeKey(_ context.Context, keyID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, key := range f.keys {
		if key.ID == keyID {
			key.RevokedAt = &at
			f.keys[hash] = key
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) ListKeys(context.Context) ([]models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.APIKey, 0, len(f.keys))
	for _, key := range f.keys {
		out = append(out, key)
	}
	return out, nil
}

func (f *fakeStore) UpsertTenant(_ context.Context, tenant models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[tenant.ID] = tenant
	return nil
}

func (f *fakeStore) FetchTenant(_ context.Context, tenantID string) (models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return models.Tenant{}, store.ErrNotFound
	}
	return tenant, nil
}

func (f *fakeStore) ListTenants(context.Context) ([]models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Tenant, 0, len(f.tenants))
	for _, tenant := range f.tenants {
		out = append(out, tenant)
	}
	return out, nil
}

func (f *fakeStore) SaveSession(context.Context, models.Session) error { return nil }

func (f *fakeStore) DeleteSession(context.Context, string) error { return nil }

func (f *fakeStore) RecordAudit(_ context.Context, event models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeStore) ListAuditEvents(_ context.Context, limit int) ([]models.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.audits) {
		limit = len(f.audits)
	}
	return f.audits[:limit], nil
}

func (f *fakeStore) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audits)
}

// passingEye always approves.
type passingEye struct{ name string }

func (p passingEye) Describe() eyes.Description { return eyes.Description{Name: p.name} }

func (p passingEye) Health(context.Context) error { return nil }

func (p passingEye) Invoke(context.Context, models.Envelope) (models.EyeResult, error) {
	return models.EyeResult{OK: models.BoolPtr(true), Code: models.CodeOKEye, MD: "### ok", Confidence: 0.9}, nil
}

type plannedChat struct{ content string }

func (p plannedChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: p.content}},
		},
	}, nil
}

func (p plannedChat) ListModels(context.Context) (openai.ModelsList, error) {
	return openai.ModelsList{}, nil
}

type testHarness struct {
	server   *Server
	router   http.Handler
	store    *fakeStore
	sessions *session.Store
	events   *bus.Bus
	quota    *quota.Manager
	rawKey   string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	registry := eyes.NewRegistry()
	registry.Register(passingEye{name: "alpha"})

	router := provider.NewWithChat(plannedChat{content: `{"eyes_needed":["alpha"],"reasoning":"plan"}`}, config.ProviderConfig{
		Model:          "test-model",
		RequestTimeout: config.Duration(time.Second),
		HealthTimeout:  config.Duration(time.Second),
	})

	st := newFakeStore()
	sessions := session.NewStore()
	events := bus.New()
	q := quota.NewManager()

	ov := overseer.New(registry, router, events, sessions)

	srv := NewServer(Deps{
		Config:   config.ServerConfig{},
		Registry: registry,
		Overseer: ov,
		Events:   events,
		Sessions: sessions,
		Quota:    q,
		Store:    st,
	})

	rawKey := auth.GenerateAPIKey()
	require.NoError(t, st.UpsertKey(context.Background(), models.APIKey{
		ID:           "key-test",
		HashedSecret: auth.HashAPIKey(rawKey),
		Role:         models.RoleConsumer,
		TenantID:     "acme",
		CreatedAt:    time.Now(),
	}))

	return &testHarness{
		server:   srv,
		router:   srv.Handler(),
		store:    st,
		sessions: sessions,
		events:   events,
		quota:    q,
		rawKey:   rawKey,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, h.rawKey)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validBody() map[string]any {
	return map[string]any{
		"payload": map[string]any{
			"intent":       "Review my login endpoint",
			"work":         map[string]string{"code": "def login(): pass"},
			"context_info": map[string]any{"lang": "python"},
		},
		"reasoning_md": "the login flow changed and needs review",
		"strict_mode":  true,
	}
}

func TestOrchestrateEndpoint(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/validate", validBody(), func(r *http.Request) {
			r.Header.Del(auth.HeaderAPIKey)
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, models.CodeAuthRequired, decode(t, rec)["code"])
	})

	t.Run("strict reject names the failing field", func(t *testing.T) {
		h := newHarness(t)
		body := validBody()
		body["reasoning_md"] = "short"

		rec := h.do(t, http.MethodPost, "/validate", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		out := decode(t, rec)
		assert.Equal(t, models.CodeBadPayloadSchema, out["code"])
		data := out["data"].(map[string]any)
		assert.Equal(t, "reasoning_md", data["field"])
	})

	t.Run("valid envelope passes the pipeline", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/validate", validBody())
		assert.Equal(t, http.StatusOK, rec.Code)

		out := decode(t, rec)
		assert.Equal(t, true, out["ok"])
		assert.Equal(t, models.CodeOKAll, out["code"])
	})

	t.Run("both orchestrate routes serve the same handler", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/eyes/overseer/orchestrate", validBody())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bridge wrapper is unwrapped", func(t *testing.T) {
		h := newHarness(t)
		wrapped := map[string]any{
			"arguments": map[string]any{
				"payload":     map[string]any{"intent": "test"},
				"strict_mode": false,
			},
			"signal":        map[string]any{"aborted": false},
			"_meta":         map[string]any{"trace": "x"},
			"requestId":     "42",
			"progressToken": "tok",
		}
		rec := h.do(t, http.MethodPost, "/validate", wrapped)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.CodeOKAll, decode(t, rec)["code"])
	})

	t.Run("missing context binds a session to the key", func(t *testing.T) {
		h := newHarness(t)
		require.Equal(t, 0, h.sessions.Count())

		h.do(t, http.MethodPost, "/validate", validBody())
		assert.Equal(t, 1, h.sessions.Count())

		// Same key, same session.
		h.do(t, http.MethodPost, "/validate", validBody())
		assert.Equal(t, 1, h.sessions.Count())
	})
}

func TestDirectEyeInvocation(t *testing.T) {
	t.Run("known eye", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/eyes/alpha/run", validBody())
		assert.Equal(t, http.StatusOK, rec.Code)

		out := decode(t, rec)
		assert.Equal(t, true, out["ok"])
		assert.Equal(t, models.CodeOKEye, out["code"])
	})

	t.Run("unknown eye", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodPost, "/eyes/ghost/run", validBody())
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, "eye", data["field"])
	})

	t.Run("capability listing carries the guide", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodGet, "/eyes", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		out := decode(t, rec)
		assert.Equal(t, models.CodeOKOverseerGuide, out["code"])
		assert.NotEmpty(t, out["eyes"])
	})
}

func TestQuotaRejection(t *testing.T) {
	h := newHarness(t)
	h.quota.SetLimit("acme", 2)

	var ok, rejected int
	for i := 0; i < 4; i++ {
		rec := h.do(t, http.MethodPost, "/validate", validBody())
		switch rec.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			rejected++
			out := decode(t, rec)
			assert.Equal(t, models.CodeQuotaExceeded, out["code"])
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, rejected)

	used, limit := h.quota.Usage("acme")
	assert.Equal(t, 2, used)
	assert.Equal(t, 2, limit)

	// Rejections are audited too.
	assert.Equal(t, 4, h.store.auditCount())

	// So are authentication failures.
	rec := h.do(t, http.MethodPost, "/validate", validBody(), func(r *http.Request) {
		r.Header.Del(auth.HeaderAPIKey)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 5, h.store.auditCount())

	h.store.mu.Lock()
	last := h.store.audits[len(h.store.audits)-1]
	h.store.mu.Unlock()
	assert.Equal(t, models.CodeAuthRequired, last.Code)
	assert.Equal(t, http.StatusUnauthorized, last.Status)
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("unknown session reads as expired", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodGet, "/session/sess-missing", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, models.CodeSessionExpired, decode(t, rec)["code"])
	})

	t.Run("live session metadata", func(t *testing.T) {
		h := newHarness(t)
		sess := h.sessions.GetOrCreate("conn-1")

		rec := h.do(t, http.MethodGet, "/session/"+sess.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		out := decode(t, rec)
		meta := out["session"].(map[string]any)
		assert.Equal(t, sess.ID, meta["session_id"])
	})

	t.Run("clarifications without pending orchestration", func(t *testing.T) {
		h := newHarness(t)
		sess := h.sessions.GetOrCreate("conn-1")

		rec := h.do(t, http.MethodPost, "/session/"+sess.ID+"/clarifications", map[string]any{
			"answers": []map[string]string{{"question": "q", "answer": "a"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("close tears down the session", func(t *testing.T) {
		h := newHarness(t)
		sess := h.sessions.GetOrCreate("conn-1")

		rec := h.do(t, http.MethodDelete, "/session/"+sess.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		_, err := h.sessions.GetByID(sess.ID)
		assert.Error(t, err)
	})
}

func TestAdminFlow(t *testing.T) {
	h := newHarness(t)

	// Seed the control-plane account.
	hash, err := auth.HashPassword("hunter2!")
	require.NoError(t, err)
	h.store.accounts["root@example.com"] = models.AdminAccount{
		Email:        "root@example.com",
		PasswordHash: hash,
	}

	t.Run("bad credentials", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/auth/login", loginBody{Email: "root@example.com", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	// Successful login arms cookies and returns a fresh admin key.
	rec := h.do(t, http.MethodPost, "/admin/auth/login", loginBody{Email: "root@example.com", Password: "hunter2!"})
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	adminKey, _ := out["api_key"].(string)
	csrfToken, _ := out["csrf_token"].(string)
	require.NotEmpty(t, adminKey)
	require.NotEmpty(t, csrfToken)

	cookies := rec.Result().Cookies()
	var csrfCookie, sessionCookie *http.Cookie
	for _, ck := range cookies {
		switch ck.Name {
		case auth.CookieCSRF:
			csrfCookie = ck
		case cookieAdminSession:
			sessionCookie = ck
		}
	}
	require.NotNil(t, csrfCookie)
	require.NotNil(t, sessionCookie)
	assert.True(t, csrfCookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, csrfCookie.SameSite)

	asAdmin := func(r *http.Request) {
		r.Header.Set(auth.HeaderAPIKey, adminKey)
		r.AddCookie(sessionCookie)
	}
	withCSRF := func(r *http.Request) {
		r.Header.Set(auth.HeaderCSRFToken, csrfToken)
		r.AddCookie(csrfCookie)
	}

	t.Run("mutator without csrf is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/tenants", tenantBody{ID: "acme"}, asAdmin)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, models.CodeCSRFFailed, decode(t, rec)["code"])
	})

	t.Run("header cookie mismatch is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/tenants", tenantBody{ID: "acme"}, asAdmin, func(r *http.Request) {
			r.Header.Set(auth.HeaderCSRFToken, csrfToken+"x")
			r.AddCookie(csrfCookie)
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tenant upsert with csrf", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/tenants", tenantBody{ID: "acme", Name: "Acme", QuotaLimit: 10}, asAdmin, withCSRF)
		assert.Equal(t, http.StatusOK, rec.Code)

		_, limit := h.quota.Usage("acme")
		assert.Equal(t, 10, limit)
	})

	t.Run("quota update requires an existing tenant", func(t *testing.T) {
		rec := h.do(t, http.MethodPut, "/admin/tenants/ghost/quota", quotaBody{Limit: 5}, asAdmin, withCSRF)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = h.do(t, http.MethodPut, "/admin/tenants/acme/quota", quotaBody{Limit: 25}, asAdmin, withCSRF)
		assert.Equal(t, http.StatusOK, rec.Code)
		_, limit := h.quota.Usage("acme")
		assert.Equal(t, 25, limit)
	})

	t.Run("key lifecycle", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/keys", createKeyBody{TenantID: "acme", DisplayName: "ci"}, asAdmin, withCSRF)
		require.Equal(t, http.StatusCreated, rec.Code)

		created := decode(t, rec)
		minted, _ := created["api_key"].(string)
		require.NotEmpty(t, minted)
		keyMeta := created["key"].(map[string]any)
		keyID := keyMeta["id"].(string)

		// The minted key authenticates.
		probe := h.do(t, http.MethodPost, "/validate", validBody(), func(r *http.Request) {
			r.Header.Set(auth.HeaderAPIKey, minted)
		})
		assert.Equal(t, http.StatusOK, probe.Code)

		// Revoked keys stop authenticating.
		rec = h.do(t, http.MethodDelete, "/admin/keys/"+keyID, nil, asAdmin, withCSRF)
		require.Equal(t, http.StatusOK, rec.Code)

		probe = h.do(t, http.MethodPost, "/validate", validBody(), func(r *http.Request) {
			r.Header.Set(auth.HeaderAPIKey, minted)
		})
		assert.Equal(t, http.StatusUnauthorized, probe.Code)
	})

	t.Run("consumer key cannot reach the control plane", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/admin/keys", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("audit log is readable", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/admin/audit?limit=5", nil, asAdmin)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("logout invalidates the admin session", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/admin/auth/logout", nil, asAdmin, withCSRF)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = h.do(t, http.MethodGet, "/admin/keys", nil, asAdmin)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, models.CodeSessionExpired, decode(t, rec)["code"])
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness without database", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode(t, rec)["status"])
	})

	t.Run("readiness reports provider outage", func(t *testing.T) {
		h := newHarness(t) // no provider wired
		rec := h.do(t, http.MethodGet, "/health/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		out := decode(t, rec)
		checks := out["checks"].(map[string]any)
		assert.Equal(t, false, checks["llm"])
	})
}

func TestNormalizeEnvelope(t *testing.T) {
	t.Run("direct body", func(t *testing.T) {
		env, err := normalizeEnvelope([]byte(`{"payload":{"intent":"hi"},"strict_mode":false}`))
		require.NoError(t, err)
		assert.Equal(t, "hi", env.Payload.Intent)
		assert.False(t, env.StrictMode)
	})

	t.Run("strict mode defaults on", func(t *testing.T) {
		env, err := normalizeEnvelope([]byte(`{"payload":{"intent":"hi"}}`))
		require.NoError(t, err)
		assert.True(t, env.StrictMode)
	})

	t.Run("missing payload becomes empty", func(t *testing.T) {
		env, err := normalizeEnvelope([]byte(`{"strict_mode":false}`))
		require.NoError(t, err)
		assert.Empty(t, env.Payload.Intent)
		assert.Nil(t, env.Payload.Work)
	})

	t.Run("wrapper keys are stripped", func(t *testing.T) {
		raw := []byte(`{"arguments":{"payload":{"intent":"wrapped"},"reasoning_md":"why"},"signal":{},"_meta":{},"requestId":7,"progressToken":"p"}`)
		env, err := normalizeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, "wrapped", env.Payload.Intent)
		assert.Equal(t, "why", env.ReasoningMD)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := normalizeEnvelope([]byte(`{nope`))
		assert.Error(t, err)
	})
}
