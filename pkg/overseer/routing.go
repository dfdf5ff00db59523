package overseer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/third-eye/thirdeye/pkg/models"
)

// DefaultRoutingTimeout bounds the LLM routing decision. It is deliberately
// tighter than the per-eye timeout: a stuck router should fail fast into
// the direct-invocation fallback.
const DefaultRoutingTimeout = 5 * time.Second

// routingDecision is the contract the routing model must honor.
type routingDecision struct {
	EyesNeeded []string `json:"eyes_needed"`
	Reasoning  string   `json:"reasoning"`
}

const routingSystemPrompt = `You are the dispatcher of a validation pipeline. Given a work submission,
choose which validators to run and in what order. Available validators:

%s

Always start with sharingan when the intent might be ambiguous. Run prompt_helper
before any reviewer so later validators see the refined prompt. Use rinnegan and
mangekyo for plans and code, tenseigan and byakugan for prose drafts.

Respond with a single JSON object: {"eyes_needed": ["<name>", ...], "reasoning": "<one sentence>"}.
Only use validator names from the list above.`

// route asks the routing model for an ordered validator list. The decision
// is never cached: it depends on the payload. Unknown names are dropped
// with a log line; duplicates keep their first position; an empty plan
// falls back to the ambiguity detector alone.
func (o *Overseer) route(ctx context.Context, env models.Envelope) ([]string, string, error) {
	if o.router == nil {
		return nil, "", fmt.Errorf("no routing provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.routingTimeout)
	defer cancel()

	var decision routingDecision
	if _, err := o.router.CompleteJSON(ctx, o.routingPrompt(), routingUserPrompt(env), &decision); err != nil {
		return nil, "", err
	}

	plan := make([]string, 0, len(decision.EyesNeeded))
	seen := make(map[string]bool, len(decision.EyesNeeded))
	for _, name := range decision.EyesNeeded {
		name = strings.TrimSpace(strings.ToLower(name))
		if seen[name] {
			continue
		}
		if !o.registry.Has(name) {
			slog.Warn("routing decision named an unregistered eye, dropping",
				"eye", name,
				"session_id", sessionID(env))
			continue
		}
		seen[name] = true
		plan = append(plan, name)
	}

	if len(plan) == 0 {
		plan = []string{o.defaultEye}
	}
	return plan, decision.Reasoning, nil
}

func (o *Overseer) routingPrompt() string {
	var lines []string
	for _, desc := range o.registry.Describe() {
		lines = append(lines, fmt.Sprintf("- %s: %s", desc.Name, desc.Summary))
	}
	return fmt.Sprintf(routingSystemPrompt, strings.Join(lines, "\n"))
}

func routingUserPrompt(env models.Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", env.Payload.Intent)

	if len(env.Payload.Work) > 0 {
		kinds := make([]string, 0, len(env.Payload.Work))
		for kind := range env.Payload.Work {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, "Submitted artifacts: %s\n", strings.Join(kinds, ", "))
	}

	if len(env.Payload.ContextInfo) > 0 {
		keys := make([]string, 0, len(env.Payload.ContextInfo))
		for k := range env.Payload.ContextInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "Context keys: %s\n", strings.Join(keys, ", "))
	}

	if env.ReasoningMD != "" {
		fmt.Fprintf(&b, "Justification: %s\n", env.ReasoningMD)
	}
	return b.String()
}
