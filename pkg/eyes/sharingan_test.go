package eyes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/third-eye/thirdeye/pkg/models"
)

func envelopeWithIntent(intent string) models.Envelope {
	return models.Envelope{Payload: models.WorkPayload{Intent: intent}}
}

func TestSharingan_VaguePromptNeedsClarification(t *testing.T) {
	s := NewSharingan()

	result, err := s.Invoke(context.Background(), envelopeWithIntent("make it better"))
	require.NoError(t, err)

	require.NotNil(t, result.OK)
	assert.False(t, *result.OK)
	assert.Equal(t, models.CodeNeedsClarification, result.Code)

	questions := result.Clarifications()
	require.NotEmpty(t, questions)
	assert.GreaterOrEqual(t, len(questions), clarificationMinCount)
	assert.LessOrEqual(t, len(questions), clarificationMaxCount)
	for _, q := range questions {
		assert.NotEmpty(t, q.Question)
	}

	assert.InDelta(t, 0.65, result.Data["score"], 0.001)
	assert.Contains(t, result.MD, "Clarifying Questions")
}

func TestSharingan_SpecificCodePromptPasses(t *testing.T) {
	s := NewSharingan()

	intent := "Refactor the payment service Go package to remove the deprecated billing endpoint and update the integration tests accordingly"
	result, err := s.Invoke(context.Background(), envelopeWithIntent(intent))
	require.NoError(t, err)

	require.NotNil(t, result.OK)
	assert.True(t, *result.OK)
	assert.Equal(t, models.CodeOKEye, result.Code)
	assert.Equal(t, true, result.Data["is_code_related"])
	assert.NotEmpty(t, result.Data["features"])
	assert.Contains(t, result.MD, "Code-related task detected")
}

func TestSharingan_NonCodePromptClassifiedAsText(t *testing.T) {
	s := NewSharingan()

	intent := "Write a three paragraph summary of the quarterly sales figures for the executive leadership meeting next Tuesday"
	result, err := s.Invoke(context.Background(), envelopeWithIntent(intent))
	require.NoError(t, err)

	require.NotNil(t, result.OK)
	assert.True(t, *result.OK)
	assert.Equal(t, false, result.Data["is_code_related"])
	assert.Contains(t, result.MD, "Non-code request")
}

func TestSharingan_ThresholdOverride(t *testing.T) {
	s := NewSharingan()

	env := envelopeWithIntent("make it better")
	env.Payload.ContextInfo = map[string]any{"ambiguity_threshold": 0.9}

	result, err := s.Invoke(context.Background(), env)
	require.NoError(t, err)

	require.NotNil(t, result.OK)
	assert.True(t, *result.OK, "raised threshold should let the vague prompt through")

	t.Run("non-numeric override is ignored", func(t *testing.T) {
		env.Payload.ContextInfo = map[string]any{"ambiguity_threshold": "loose"}
		result, err := s.Invoke(context.Background(), env)
		require.NoError(t, err)
		assert.False(t, *result.OK)
	})
}

func TestAmbiguityScore(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		wantScore float64
		ambiguous bool
	}{
		{"empty", "", 0.55, true},
		{"short and vague", "fix stuff asap", 0.67, true},
		{"short but directed", "summarize chapter four of the onboarding guide", 0.45, true},
		{"detailed", "Design a migration plan that moves the invoicing tables from the legacy MySQL cluster to Postgres without downtime, including a rollback procedure and a verification checklist", 0.15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ambiguous, questions := ambiguityScore(tt.prompt, ambiguityScoreThreshold)
			assert.InDelta(t, tt.wantScore, score, 0.001)
			assert.Equal(t, tt.ambiguous, ambiguous)
			assert.GreaterOrEqual(t, questions, clarificationMinCount)
			assert.LessOrEqual(t, questions, clarificationMaxCount)
		})
	}
}

func TestDetectCodeFeatures(t *testing.T) {
	t.Run("weak action alone is not code", func(t *testing.T) {
		isCode, features := detectCodeFeatures("optimize the onboarding flow for the support team")
		assert.False(t, isCode)
		assert.Empty(t, features)
	})

	t.Run("weak action with code mention counts", func(t *testing.T) {
		isCode, features := detectCodeFeatures("optimize the code before the release")
		assert.True(t, isCode)
		assert.Contains(t, features, "Action keyword 'optimize'")
	})

	t.Run("code fence", func(t *testing.T) {
		isCode, features := detectCodeFeatures("what does this do?\n```\nselect 1\n```")
		assert.True(t, isCode)
		assert.Contains(t, features, "Code fence detected")
	})

	t.Run("features are deduplicated", func(t *testing.T) {
		_, features := detectCodeFeatures("git git git docker")
		seen := map[string]int{}
		for _, f := range features {
			seen[f]++
		}
		for f, n := range seen {
			assert.Equal(t, 1, n, "feature %q repeated", f)
		}
	})
}
