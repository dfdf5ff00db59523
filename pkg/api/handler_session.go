package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/overseer"
	"github.com/third-eye/thirdeye/pkg/session"
)

// handleGetSession returns session metadata. A session the store no
// longer knows reads as expired: the caller must start over either way.
func (s *Server) handleGetSession(c *gin.Context) {
	sid := c.Param("id")
	sess, err := s.sessions.GetByID(sid)
	if errors.Is(err, session.ErrNotFound) {
		fail(c, models.CodeSessionExpired, "### Session Unknown\nThe session was reclaimed or never existed.", map[string]any{
			"session_id": sid,
		})
		return
	}

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.Set(ctxKeySessionID, sid)
	c.JSON(http.StatusOK, gin.H{
		"ok":                    true,
		"session":               sess,
		"pending_clarification": s.overseer.HasPending(sid),
		"observers":             s.events.SubscriberCount(sid),
	})
}

// handleClarifications feeds clarification answers back into the parked
// orchestration and streams the re-run's verdict.
func (s *Server) handleClarifications(c *gin.Context) {
	sid := c.Param("id")
	c.Set(ctxKeySessionID, sid)

	var body clarificationsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nBody must be {\"answers\": [{\"question\", \"answer\"}, ...]}.", map[string]any{
			"hint": err.Error(),
		})
		return
	}
	if len(body.Answers) == 0 {
		fail(c, models.CodeBadPayloadSchema, "### Invalid Submission\nAt least one answer is required.", map[string]any{
			"field": "answers",
		})
		return
	}

	resp, err := s.overseer.Resume(c.Request.Context(), sid, body.Answers)
	if errors.Is(err, overseer.ErrNoPendingClarification) {
		fail(c, models.CodeBadPayloadSchema, "### Nothing To Clarify\nThis session has no orchestration waiting on answers.", map[string]any{
			"session_id": sid,
		})
		return
	}

	s.sessions.Touch(sid)
	c.Set(ctxKeyCode, resp.Code)
	c.JSON(statusForCode(resp.Code), resp)
}

// handleCloseSession tears the session down: store row, event stream,
// and persisted snapshot.
func (s *Server) handleCloseSession(c *gin.Context) {
	sid := c.Param("id")
	c.Set(ctxKeySessionID, sid)

	s.sessions.Close(sid)
	s.events.Close(sid)
	if s.store != nil {
		if err := s.store.DeleteSession(c.Request.Context(), sid); err != nil {
			s.logger().Warn("session snapshot delete failed", "session_id", sid, "error", err)
		}
	}

	c.Set(ctxKeyCode, models.CodeOKEye)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
