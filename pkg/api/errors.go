package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/third-eye/thirdeye/pkg/models"
)

// statusForCode maps the shared error taxonomy to HTTP statuses. Codes
// produced mid-pipeline (orchestration failure, clarification, revision,
// partial fail) travel with 200 and ok=false.
func statusForCode(code string) int {
	switch code {
	case models.CodeBadPayloadSchema:
		return http.StatusBadRequest
	case models.CodeAuthRequired, models.CodeSessionExpired:
		return http.StatusUnauthorized
	case models.CodeCSRFFailed:
		return http.StatusForbidden
	case models.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case models.CodeLLMError:
		return http.StatusServiceUnavailable
	case models.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// fail writes a taxonomy error response and records the code for the
// audit trail.
func fail(c *gin.Context, code, md string, data map[string]any) {
	c.Set(ctxKeyCode, code)
	c.JSON(statusForCode(code), models.OverseerResponse{
		OK:         false,
		Code:       code,
		MD:         md,
		Data:       data,
		NextAction: nextActionFor(code),
	})
}

// abort is fail plus short-circuiting the middleware chain.
func abort(c *gin.Context, code, md string, data map[string]any) {
	fail(c, code, md, data)
	c.Abort()
}

func nextActionFor(code string) string {
	switch code {
	case models.CodeBadPayloadSchema:
		return models.NextActionFixValidationErrors
	case models.CodeLLMError:
		return models.NextActionInvokeEyesDirectly
	default:
		return ""
	}
}
