package eyes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/provider"
)

// verdict is the JSON contract every persona-backed eye must return.
type verdict struct {
	OK         bool     `json:"ok"`
	MD         string   `json:"md"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
	PromptMD   string   `json:"prompt_md,omitempty"`
}

const verdictContract = `Respond with a single JSON object:
{"ok": <boolean verdict>, "md": "<markdown summary starting with a ### heading>", "confidence": <0.0-1.0>, "issues": ["<finding>", ...]}`

// llmEye is a validator whose judgment comes from a persona-prompted
// provider completion.
type llmEye struct {
	desc     Description
	persona  string
	failCode string
	chat     *provider.Client
}

func (e *llmEye) Describe() Description { return e.desc }

func (e *llmEye) Health(ctx context.Context) error {
	return e.chat.Healthy(ctx)
}

func (e *llmEye) Invoke(ctx context.Context, env models.Envelope) (models.EyeResult, error) {
	var v verdict
	if _, err := e.chat.CompleteJSON(ctx, e.persona, renderEnvelope(env, e.desc.Accepts), &v); err != nil {
		return models.EyeResult{}, err
	}

	code := models.CodeOKEye
	if !v.OK {
		code = e.failCode
	}
	data := map[string]any{}
	if len(v.Issues) > 0 {
		data["issues"] = v.Issues
	}
	if v.PromptMD != "" {
		data["prompt_md"] = v.PromptMD
	}
	return models.EyeResult{
		Version:    e.desc.Version,
		OK:         models.BoolPtr(v.OK),
		Code:       code,
		MD:         v.MD,
		Data:       data,
		Confidence: clamp01(v.Confidence),
	}, nil
}

// renderEnvelope flattens the envelope into the user prompt, exposing
// only the work kinds the eye accepts (all kinds when none declared).
func renderEnvelope(env models.Envelope, accepts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", env.Payload.Intent)

	kinds := accepts
	if len(kinds) == 0 {
		kinds = make([]string, 0, len(env.Payload.Work))
		for kind := range env.Payload.Work {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
	}
	for _, kind := range kinds {
		if content, ok := env.Payload.Work[kind]; ok && content != "" {
			fmt.Fprintf(&b, "\n## %s\n%s\n", kind, content)
		}
	}

	if len(env.Payload.ContextInfo) > 0 {
		b.WriteString("\n## context\n")
		keys := make([]string, 0, len(env.Payload.ContextInfo))
		for k := range env.Payload.ContextInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, env.Payload.ContextInfo[k])
		}
	}

	if env.ReasoningMD != "" {
		fmt.Fprintf(&b, "\n## justification\n%s\n", env.ReasoningMD)
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NewPromptHelper builds the prompt-refinement eye. It never rejects;
// its value is the optimized prompt it attaches.
func NewPromptHelper(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NamePromptHelper,
			Version: "2.0",
			Summary: "Rewrites the intent into a precise, structured prompt",
		},
		persona: "You are Prompt Helper, the prompt engineer of a validation pipeline. " +
			"You never author final work products. Rewrite the submitted intent into a precise prompt " +
			"with ROLE:, TASK:, CONTEXT:, REQUIREMENTS:, and OUTPUT: sections, folding in any clarification " +
			"answers from the context. Put the rewritten prompt in the prompt_md field and always set ok to true. " +
			verdictContract + `, "prompt_md": "<the rewritten prompt>"`,
		failCode: models.CodeOKEye,
		chat:     chat,
	}
}

// NewJogan builds the intent-alignment eye.
func NewJogan(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NameJogan,
			Version: "2.0",
			Summary: "Confirms the submission matches the stated intent",
		},
		persona: "You are Jogan, the intent guardian of a validation pipeline. " +
			"Judge whether the submitted work actually serves the stated intent and whether the prompt is ready " +
			"to act on. Set ok to false when intent and work diverge, and name each divergence in issues. " +
			verdictContract,
		failCode: models.CodeNeedsRevision,
		chat:     chat,
	}
}

// NewRinnegan builds the plan reviewer.
func NewRinnegan(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NameRinnegan,
			Version: "2.0",
			Summary: "Reviews plans for completeness, ordering, and risk",
			Accepts: []string{models.WorkKindPlan, models.WorkKindRequirements},
		},
		persona: "You are Rinnegan, the plan reviewer of a validation pipeline. " +
			"Review the submitted plan for completeness, step ordering, missing rollback paths, and unstated " +
			"assumptions. Set ok to false when the plan needs revision and list the required changes in issues. " +
			verdictContract,
		failCode: models.CodeNeedsRevision,
		chat:     chat,
	}
}

// NewMangekyo builds the code reviewer.
func NewMangekyo(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NameMangekyo,
			Version: "2.0",
			Summary: "Reviews code changes for correctness, tests, and style",
			Accepts: []string{models.WorkKindCode, models.WorkKindTests},
		},
		persona: "You are Mangekyo, the code reviewer of a validation pipeline. " +
			"Review the submitted code for correctness, error handling, test coverage, and style. " +
			"Set ok to false when the change needs another pass and give concrete, file-level findings in issues. " +
			verdictContract,
		failCode: models.CodeNeedsRevision,
		chat:     chat,
	}
}

// NewTenseigan builds the claim validator.
func NewTenseigan(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NameTenseigan,
			Version: "2.0",
			Summary: "Checks factual claims in drafts for evidence",
			Accepts: []string{models.WorkKindDraft, models.WorkKindDocs},
		},
		persona: "You are Tenseigan, the evidence checker of a validation pipeline. " +
			"Extract the factual claims from the submitted draft and judge whether each is supported by the " +
			"provided context. Set ok to false when unsupported claims remain and list them in issues. " +
			verdictContract,
		failCode: models.CodeNeedsRevision,
		chat:     chat,
	}
}

// NewByakugan builds the consistency checker.
func NewByakugan(chat *provider.Client) Eye {
	return &llmEye{
		desc: Description{
			Name:    NameByakugan,
			Version: "2.0",
			Summary: "Checks the draft for internal contradictions",
			Accepts: []string{models.WorkKindDraft, models.WorkKindDocs},
		},
		persona: "You are Byakugan, the consistency checker of a validation pipeline. " +
			"Compare every statement in the submitted draft against the others and against the stated context. " +
			"Set ok to false on contradiction and name the conflicting statements in issues. " +
			verdictContract,
		failCode: models.CodeNeedsRevision,
		chat:     chat,
	}
}

// RegisterAll registers the full eye set against one provider client.
func RegisterAll(registry *Registry, chat *provider.Client) {
	registry.Register(NewSharingan())
	registry.Register(NewPromptHelper(chat))
	registry.Register(NewJogan(chat))
	registry.Register(NewRinnegan(chat))
	registry.Register(NewMangekyo(chat))
	registry.Register(NewTenseigan(chat))
	registry.Register(NewByakugan(chat))
}
