package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/third-eye/thirdeye/pkg/eyes"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/provider"
)

// handleOrchestrate accepts both the direct HTTP body and the
// bridge-wrapped form, normalizes it, and runs the pipeline. The response
// status follows the taxonomy: schema failures 400, routing outages 503,
// everything the pipeline itself decided travels with 200.
func (s *Server) handleOrchestrate(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nRequest body could not be read.", map[string]any{
			"hint": err.Error(),
		})
		return
	}

	env, err := normalizeEnvelope(raw)
	if err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nRequest body is not valid JSON.", map[string]any{
			"hint": err.Error(),
		})
		return
	}
	s.bindSession(c, &env)

	resp := s.overseer.Orchestrate(c.Request.Context(), env)
	c.Set(ctxKeyCode, resp.Code)
	c.JSON(statusForCode(resp.Code), resp)
}

// bindSession reconstructs a missing session context from the caller's
// connection binding. For plain HTTP the API key is the connection: every
// key gets a stable session across requests.
func (s *Server) bindSession(c *gin.Context, env *models.Envelope) {
	key := apiKeyFrom(c)

	if env.Context == nil || env.Context.SessionID == "" {
		sess := s.sessions.GetOrCreate("key:" + key.ID)
		if s.store != nil {
			if err := s.store.SaveSession(c.Request.Context(), sess); err != nil {
				s.logger().Warn("session snapshot write failed", "session_id", sess.ID, "error", err)
			}
		}
		ctx := models.RequestContext{
			SessionID:    sess.ID,
			TenantID:     key.TenantID,
			UserID:       key.DisplayName,
			Lang:         sess.Lang,
			BudgetTokens: sess.BudgetTokens,
		}
		if env.Context != nil {
			if env.Context.Lang != "" {
				ctx.Lang = env.Context.Lang
			}
			if env.Context.BudgetTokens > 0 {
				ctx.BudgetTokens = env.Context.BudgetTokens
			}
		}
		env.Context = &ctx
	}
	if env.Context.TenantID == "" {
		env.Context.TenantID = key.TenantID
	}
	c.Set(ctxKeySessionID, env.Context.SessionID)
}

// handleListEyes exposes the registry's capability records together with
// a short usage guide for hosts that drive the eyes directly.
func (s *Server) handleListEyes(c *gin.Context) {
	c.Set(ctxKeyCode, models.CodeOKOverseerGuide)
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"code": models.CodeOKOverseerGuide,
		"md":   overseerGuideMD,
		"eyes": s.registry.Describe(),
	})
}

const overseerGuideMD = "### Third Eye Usage\n" +
	"Submit work to POST /validate for routed validation, or run a single " +
	"validator via POST /eyes/{eye}/run. Start with sharingan when unsure: " +
	"it detects ambiguity and asks clarifying questions before anything " +
	"else burns tokens."

// handleRunEye invokes one eye directly, bypassing routing. This is the
// documented fallback while the routing model is unavailable.
func (s *Server) handleRunEye(c *gin.Context) {
	name := c.Param("eye")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nRequest body could not be read.", map[string]any{
			"hint": err.Error(),
		})
		return
	}
	env, err := normalizeEnvelope(raw)
	if err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nRequest body is not valid JSON.", map[string]any{
			"hint": err.Error(),
		})
		return
	}
	s.bindSession(c, &env)

	result, err := s.registry.Invoke(c.Request.Context(), name, env)
	if errors.Is(err, eyes.ErrUnknownEye) {
		fail(c, models.CodeBadPayloadSchema, fmt.Sprintf("### Unknown Eye\nNo validator named %q; see GET /eyes.", name), map[string]any{
			"field": "eye",
		})
		return
	}
	if err != nil {
		fail(c, models.CodeLLMError, fmt.Sprintf("### Eye Unavailable\n%s could not complete.", name), map[string]any{
			"eye":        name,
			"error_kind": string(provider.KindOf(err)),
		})
		return
	}

	s.events.Publish(env.Context.SessionID, models.PipelineEvent{
		Type: models.EventTypeEyeUpdate,
		Eye:  result.Eye,
		OK:   result.OK,
		Code: result.Code,
		MD:   result.MD,
		Data: result.Data,
	})
	s.sessions.Touch(env.Context.SessionID)

	c.Set(ctxKeyCode, result.Code)
	c.JSON(http.StatusOK, models.OverseerResponse{
		OK:   result.Passed(),
		Code: result.Code,
		MD:   result.MD,
		Data: map[string]any{"result": result},
	})
}
