package models

// RequestContext is the session context attached to every eye invocation.
// The front-end reconstructs it from the connection binding when the caller
// omits it.
type RequestContext struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	Lang         Lang   `json:"lang"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Well-known work artifact kinds. The set is open: unknown kinds pass
// through to the eyes untouched.
const (
	WorkKindCode         = "code"
	WorkKindPlan         = "plan"
	WorkKindDraft        = "draft"
	WorkKindRequirements = "requirements"
	WorkKindTests        = "tests"
	WorkKindDocs         = "docs"
)

// WorkPayload is the artifact bundle submitted for validation.
type WorkPayload struct {
	Intent      string            `json:"intent"`
	Work        map[string]string `json:"work,omitempty"`
	ContextInfo map[string]any    `json:"context_info,omitempty"`
}

// Envelope is the full work package submitted to the overseer.
type Envelope struct {
	Context     *RequestContext `json:"context,omitempty"`
	Payload     WorkPayload     `json:"payload"`
	ReasoningMD string          `json:"reasoning_md,omitempty"`
	StrictMode  bool            `json:"strict_mode"`
}

// ClarificationAnswer pairs a clarification question with the host's answer.
type ClarificationAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
