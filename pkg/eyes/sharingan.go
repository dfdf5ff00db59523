package eyes

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/third-eye/thirdeye/pkg/models"
)

// Ambiguity scoring tunables. The threshold can be overridden per session
// via context_info["ambiguity_threshold"].
const (
	ambiguityScoreThreshold  = 0.35
	ambiguityLengthThreshold = 40
	clarificationMultiplier  = 5
	clarificationMinCount    = 2
	clarificationMaxCount    = 6
)

var (
	ambiguityVagueWords       = map[string]bool{"some": true, "stuff": true, "thing": true, "things": true, "various": true}
	ambiguityUnspecifiedWords = map[string]bool{"asap": true, "urgent": true, "improve": true, "better": true, "nice": true, "quickly": true}

	gerundPattern = regexp.MustCompile(`^[a-zA-Z]+ing$`)

	imperativeHints = map[string]bool{
		"write": true, "summarize": true, "explain": true, "create": true,
		"draft": true, "analyze": true, "plan": true, "design": true,
		"fix": true, "build": true, "generate": true, "compare": true,
		"investigate": true, "update": true, "improve": true,
	}

	codeToolingKeywords  = []string{"git", "docker", "kubernetes", "terraform", "npm", "pip", "cargo", "maven", "gradle", "makefile", "ci", "pipeline"}
	codeArtifactKeywords = []string{"function", "class", "module", "endpoint", "api", "schema", "migration", "test", "tests", "refactor", "bug", "repo", "repository", "library", "package", "script"}
	codeTechKeywords     = []string{"python", "go", "golang", "rust", "java", "javascript", "typescript", "react", "django", "fastapi", "postgres", "redis", "sql", "http", "grpc", "json", "yaml"}
	codeExtensions       = []string{".py", ".go", ".rs", ".java", ".js", ".ts", ".tsx", ".sql", ".sh", ".yaml", ".yml", ".json", ".md"}
	codeActionKeywords   = []string{"implement", "debug", "refactor", "deploy", "compile", "test", "optimize", "fix", "build", "review"}
	strongCodeActions    = map[string]bool{"implement": true, "debug": true, "refactor": true, "deploy": true, "compile": true}

	clarifyingQuestionBank = []string{
		"What outcome should the host deliver?",
		"Who is the target audience and their expertise level?",
		"What constraints (tone, tools, scope) must be honored?",
		"Are there mandatory sources or datasets to consult?",
		"What does success look like for the requester?",
		"Are there sections or deliverables that must be avoided?",
	}

	tokenPattern = regexp.MustCompile(`[a-z0-9_./+-]+`)
)

// Sharingan is the ambiguity radar and code/text classifier. It is fully
// heuristic: the first pipeline stage must not burn provider tokens on
// prompts that get bounced back for clarification anyway.
type Sharingan struct {
	threshold float64
}

// NewSharingan creates the detector with the default threshold.
func NewSharingan() *Sharingan {
	return &Sharingan{threshold: ambiguityScoreThreshold}
}

func (s *Sharingan) Describe() Description {
	return Description{
		Name:      NameSharingan,
		Version:   "2.0",
		Summary:   "Ambiguity radar and code/text classifier",
		Accepts:   []string{models.WorkKindCode, models.WorkKindPlan, models.WorkKindDraft},
		Clarifies: true,
	}
}

// Health never fails: the detector has no external dependencies.
func (s *Sharingan) Health(context.Context) error { return nil }

func (s *Sharingan) Invoke(_ context.Context, env models.Envelope) (models.EyeResult, error) {
	prompt := env.Payload.Intent
	threshold := s.resolveThreshold(env)

	score, ambiguous, questionCount := ambiguityScore(prompt, threshold)
	isCode, features := detectCodeFeatures(prompt)

	data := map[string]any{
		"score":           score,
		"ambiguous":       ambiguous,
		"is_code_related": isCode,
		"features":        features,
	}

	if ambiguous {
		questions := clarifyingQuestions(questionCount)
		data["clarifications"] = questions
		return models.EyeResult{
			OK:         models.BoolPtr(false),
			Code:       models.CodeNeedsClarification,
			MD:         ambiguityMD(score, threshold, questions),
			Data:       data,
			Confidence: 1 - score,
		}, nil
	}

	return models.EyeResult{
		OK:         models.BoolPtr(true),
		Code:       models.CodeOKEye,
		MD:         classificationMD(isCode, features),
		Data:       data,
		Confidence: 1 - score,
	}, nil
}

func (s *Sharingan) resolveThreshold(env models.Envelope) float64 {
	raw, ok := env.Payload.ContextInfo["ambiguity_threshold"]
	if !ok {
		return s.threshold
	}
	value, ok := raw.(float64)
	if !ok {
		return s.threshold
	}
	return math.Max(0, math.Min(1, value))
}

// ambiguityScore rates how underspecified a prompt is and derives how
// many clarifying questions to ask.
func ambiguityScore(prompt string, threshold float64) (score float64, ambiguous bool, questions int) {
	stripped := strings.TrimSpace(prompt)
	var tokens []string
	for _, raw := range strings.Fields(stripped) {
		if tok := strings.Trim(raw, ".,:;?!"); tok != "" {
			tokens = append(tokens, tok)
		}
	}

	base := 0.0
	switch {
	case len(tokens) < 8:
		base += 0.4
	case len(tokens) < 15:
		base += 0.25
	case len(tokens) < ambiguityLengthThreshold:
		base += 0.1
	}

	switch strings.Count(stripped, "?") {
	case 0:
		base += 0.05
	case 1:
		base += 0.02
	}

	verbs := 0
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if ambiguityVagueWords[lower] {
			base += 0.12
		}
		if ambiguityUnspecifiedWords[lower] {
			base += 0.1
		}
		if gerundPattern.MatchString(tok) || imperativeHints[lower] {
			verbs++
		}
	}
	if verbs == 0 {
		base += 0.1
	}

	score = math.Round(math.Max(0, math.Min(1, base))*100) / 100
	ambiguous = score >= math.Max(0, math.Min(1, threshold))

	target := int(math.Ceil(score * clarificationMultiplier))
	questions = max(clarificationMinCount, min(clarificationMaxCount, target))
	return score, ambiguous, questions
}

// detectCodeFeatures classifies the prompt as code-related and reports
// the concrete indicators found.
func detectCodeFeatures(prompt string) (bool, []string) {
	lower := strings.ToLower(prompt)
	tokens := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		tokens[tok] = true
	}

	var features []string
	match := func(keywords []string, label string) {
		for _, kw := range keywords {
			needle := strings.ToLower(kw)
			if strings.ContainsAny(needle, " .") {
				if strings.Contains(lower, needle) {
					features = append(features, fmt.Sprintf("%s '%s'", label, kw))
				}
			} else if tokens[needle] {
				features = append(features, fmt.Sprintf("%s '%s'", label, kw))
			}
		}
	}

	match(codeToolingKeywords, "Tooling reference")
	match(codeArtifactKeywords, "Implementation artifact")
	match(codeTechKeywords, "Tech keyword")
	for _, ext := range codeExtensions {
		if strings.Contains(lower, ext) {
			features = append(features, fmt.Sprintf("File extension '%s'", ext))
		}
	}
	if strings.Contains(prompt, "```") {
		features = append(features, "Code fence detected")
	}

	// Weak action verbs only count alongside another indicator.
	var strong, weak []string
	for _, kw := range codeActionKeywords {
		if !tokens[kw] {
			continue
		}
		if strongCodeActions[kw] {
			strong = append(strong, kw)
		} else {
			weak = append(weak, kw)
		}
	}
	for _, kw := range strong {
		features = append(features, fmt.Sprintf("Action keyword '%s'", kw))
	}
	if len(features) > 0 || tokens["code"] || tokens["codes"] || tokens["coding"] {
		for _, kw := range weak {
			features = append(features, fmt.Sprintf("Action keyword '%s'", kw))
		}
	}

	features = dedupe(features)
	return len(features) > 0, features
}

func clarifyingQuestions(n int) []models.Clarification {
	questions := make([]models.Clarification, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, models.Clarification{
			Question: clarifyingQuestionBank[i%len(clarifyingQuestionBank)],
		})
	}
	return questions
}

func ambiguityMD(score, threshold float64, questions []models.Clarification) string {
	var b strings.Builder
	b.WriteString("### Ambiguity Detected\n")
	fmt.Fprintf(&b, "Ambiguity score %.2f (threshold %.2f). Gather the following clarifications before drafting.\n\n", score, threshold)
	b.WriteString("### Clarifying Questions\n")
	for _, q := range questions {
		fmt.Fprintf(&b, "- %s\n", q.Question)
	}
	return strings.TrimRight(b.String(), "\n")
}

func classificationMD(isCode bool, features []string) string {
	var b strings.Builder
	b.WriteString("### Classification\n")
	if isCode {
		b.WriteString("Code-related task detected.\n\n### Reasoning\n")
		for _, f := range features {
			fmt.Fprintf(&b, "- Detected %s.\n", f)
		}
	} else {
		b.WriteString("Non-code request detected.\n\n### Reasoning\n- No explicit code indicators detected; treating as text/analysis request.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
