package models

// Status codes shared across eyes and the overseer. The E_* codes map to
// HTTP statuses at the API layer; the OK_* codes always travel with 200.
const (
	CodeOKAll           = "OK_ALL"
	CodeOKOverseerGuide = "OK_OVERSEER_GUIDE"
	CodeOKEye           = "OK_EYE"

	CodeBadPayloadSchema    = "E_BAD_PAYLOAD_SCHEMA"
	CodeAuthRequired        = "E_AUTH_REQUIRED"
	CodeCSRFFailed          = "E_CSRF_FAILED"
	CodeQuotaExceeded       = "E_QUOTA_EXCEEDED"
	CodeSessionExpired      = "E_SESSION_EXPIRED"
	CodeLLMError            = "E_LLM_ERROR"
	CodeOrchestrationFailed = "E_ORCHESTRATION_FAILED"
	CodeNeedsClarification  = "E_NEEDS_CLARIFICATION"
	CodeNeedsRevision       = "E_NEEDS_REVISION"
	CodePartialFail         = "E_PARTIAL_FAIL"
	CodeInternal            = "E_INTERNAL"
)

// Next-action hints returned to the host agent.
const (
	NextActionProceed              = "proceed"
	NextActionSubmitClarifications = "submit_clarifications"
	NextActionReviseAndResubmit    = "revise_and_resubmit"
	NextActionFixValidationErrors  = "fix_validation_errors"
	NextActionInvokeEyesDirectly   = "invoke_eyes_directly"
)

// Clarification is a single question an eye needs answered before the
// pipeline can continue.
type Clarification struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// EyeResult is a validator's immutable output. OK is nil while the eye is
// still in flight (as published on the bus), and set on completion.
type EyeResult struct {
	Eye        string         `json:"eye"`
	Version    string         `json:"tool_version,omitempty"`
	OK         *bool          `json:"ok"`
	Code       string         `json:"code"`
	MD         string         `json:"md,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Passed reports whether the eye completed with ok=true.
func (r EyeResult) Passed() bool {
	return r.OK != nil && *r.OK
}

// Clarifications extracts the clarification questions from the result data,
// if any were attached.
func (r EyeResult) Clarifications() []Clarification {
	raw, ok := r.Data["clarifications"]
	if !ok {
		return nil
	}
	if qs, ok := raw.([]Clarification); ok {
		return qs
	}
	// Data that round-tripped through JSON arrives as []any of maps.
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Clarification, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Clarification{}
		if q, ok := m["question"].(string); ok {
			c.Question = q
		}
		if cx, ok := m["context"].(string); ok {
			c.Context = cx
		}
		if c.Question != "" {
			out = append(out, c)
		}
	}
	return out
}

// OverseerResponse is the consolidated verdict returned by the overseer.
type OverseerResponse struct {
	OK         bool           `json:"ok"`
	Code       string         `json:"code"`
	MD         string         `json:"md"`
	Data       map[string]any `json:"data,omitempty"`
	NextAction string         `json:"next_action"`
}

// BoolPtr returns a pointer to b. Used for EyeResult.OK literals.
func BoolPtr(b bool) *bool { return &b }
