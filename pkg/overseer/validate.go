package overseer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/third-eye/thirdeye/pkg/models"
)

// Strict-mode field thresholds.
const (
	strictMinIntentLen    = 5
	strictMinReasoningLen = 10
)

// ValidationError names the envelope field that failed schema validation
// and carries a recovery hint for the caller.
type ValidationError struct {
	Field string
	Hint  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Hint)
}

// validateEnvelope enforces the payload contract. Strict mode requires a
// meaningful intent, at least one work artifact, project context, and a
// justification; relaxed mode only requires a non-empty intent.
func validateEnvelope(env models.Envelope) *ValidationError {
	intent := strings.TrimSpace(env.Payload.Intent)

	if !env.StrictMode {
		if intent == "" {
			return &ValidationError{Field: "intent", Hint: "intent must not be empty"}
		}
		return nil
	}

	if utf8.RuneCountInString(intent) < strictMinIntentLen {
		return &ValidationError{
			Field: "intent",
			Hint:  fmt.Sprintf("intent must be at least %d characters in strict mode", strictMinIntentLen),
		}
	}
	if len(env.Payload.Work) == 0 {
		return &ValidationError{
			Field: "work",
			Hint:  "strict mode requires at least one work artifact (code, plan, draft, ...)",
		}
	}
	if len(env.Payload.ContextInfo) == 0 {
		return &ValidationError{
			Field: "context_info",
			Hint:  "strict mode requires at least one context_info entry",
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(env.ReasoningMD)) < strictMinReasoningLen {
		return &ValidationError{
			Field: "reasoning_md",
			Hint:  fmt.Sprintf("reasoning_md must be at least %d characters in strict mode", strictMinReasoningLen),
		}
	}
	return nil
}
