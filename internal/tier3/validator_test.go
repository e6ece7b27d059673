package tier3

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubJudge struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	err       error
	prompts   []string
}

func (s *stubJudge) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	for needle, resp := range s.responses {
		if strings.Contains(prompt, needle) {
			return resp, nil
		}
	}
	return s.fallback, nil
}

func (s *stubJudge) Model() string { return "stub-judge" }

func approvedJSON(coherence, quality float64) string {
	return fmt.Sprintf("```json\n{\n  \"semantic_preserved\": true,\n  \"hyperdimensional_coherence\": %.2f,\n  \"quality_score\": %.2f,\n  \"verdict\": \"APPROVED\",\n  \"reasoning\": \"clean implementation\"\n}\n```", coherence, quality)
}

func TestValidateVariantApproved(t *testing.T) {
	judge := &stubJudge{fallback: approvedJSON(0.8, 0.9)}
	v := NewValidator(judge)

	r := v.ValidateVariant(context.Background(), "def f(): pass", 1, "write f", []string{"typed_signature"}, 0.85)

	assert.Equal(t, Approved, r.Verdict)
	assert.True(t, r.SemanticPreserved)
	assert.Equal(t, 0.8, r.HyperdimensionalCoherence)

	want := math.Min(1.0, math.Cbrt(1.0*0.8*0.9)*phi)
	assert.InDelta(t, want, r.Score, 1e-9)
}

func TestValidateVariantScoreCapped(t *testing.T) {
	judge := &stubJudge{fallback: approvedJSON(1.0, 1.0)}
	v := NewValidator(judge)

	r := v.ValidateVariant(context.Background(), "code", 1, "task", nil, 0.85)
	assert.Equal(t, 1.0, r.Score)
}

func TestValidateVariantRejectedPenalty(t *testing.T) {
	resp := "```json\n{\"semantic_preserved\": false, \"hyperdimensional_coherence\": 0.9, \"quality_score\": 0.9, \"verdict\": \"REJECTED_SEMANTIC\", \"reasoning\": \"drops the retry path\"}\n```"
	judge := &stubJudge{fallback: resp}
	v := NewValidator(judge)

	r := v.ValidateVariant(context.Background(), "code", 2, "task", nil, 0.85)

	assert.Equal(t, RejectedSemantic, r.Verdict)
	want := math.Cbrt(0.3*0.9*0.9) / phi
	assert.InDelta(t, want, r.Score, 1e-9)
}

func TestValidateVariantClampsOutOfRangeScores(t *testing.T) {
	resp := "```json\n{\"semantic_preserved\": true, \"hyperdimensional_coherence\": 3.0, \"quality_score\": 2.0, \"verdict\": \"REJECTED_QUALITY\", \"reasoning\": \"inflated numbers\"}\n```"
	judge := &stubJudge{fallback: resp}
	v := NewValidator(judge)

	r := v.ValidateVariant(context.Background(), "code", 4, "task", nil, 0.85)

	assert.Equal(t, 1.0, r.HyperdimensionalCoherence)
	assert.Equal(t, 1.0, r.QualityScore)
	assert.LessOrEqual(t, r.Score, 1.0)
	want := math.Min(1.0, math.Cbrt(1.0*1.0*1.0)/phi)
	assert.InDelta(t, want, r.Score, 1e-9)
}

func TestValidateVariantJudgeError(t *testing.T) {
	judge := &stubJudge{err: errors.New("rate limited")}
	v := NewValidator(judge)

	r := v.ValidateVariant(context.Background(), "code", 3, "task", nil, 0.85)

	assert.Equal(t, RejectedQuality, r.Verdict)
	assert.Equal(t, 0.0, r.Score)
	require.Len(t, r.QualityNotes, 1)
	assert.Contains(t, r.QualityNotes[0], "rate limited")
}

func TestParseJudgeResponseRawJSON(t *testing.T) {
	resp := `Here is my assessment: {"semantic_preserved": true, "hyperdimensional_coherence": 0.7, "quality_score": 0.6, "verdict": "APPROVED_WITH_NOTES", "quality_notes": ["could use docstrings"]} hope that helps`
	r := parseJudgeResponse(resp, 5)

	assert.Equal(t, 5, r.VariantID)
	assert.Equal(t, ApprovedWithNotes, r.Verdict)
	assert.Equal(t, []string{"could use docstrings"}, r.QualityNotes)
}

func TestParseJudgeResponseGarbage(t *testing.T) {
	r := parseJudgeResponse("I refuse to answer in JSON.", 7)

	assert.Equal(t, RejectedQuality, r.Verdict)
	assert.Equal(t, []string{"Failed to parse validation response"}, r.QualityNotes)
	assert.Equal(t, "I refuse to answer in JSON.", r.Reasoning)
}

func TestParseJudgeResponseTruncatesReasoning(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	r := parseJudgeResponse(string(long), 1)
	assert.Len(t, r.Reasoning, 500)
}

func TestParseJudgeResponseUnknownVerdict(t *testing.T) {
	resp := `{"semantic_preserved": true, "hyperdimensional_coherence": 0.9, "quality_score": 0.9, "verdict": "MAYBE"}`
	r := parseJudgeResponse(resp, 1)
	assert.Equal(t, RejectedQuality, r.Verdict)
}

func TestValidateBatchPreservesOrder(t *testing.T) {
	judge := &stubJudge{
		responses: map[string]string{
			"alpha_code": approvedJSON(0.9, 0.9),
			"beta_code":  "not json at all",
		},
	}
	v := NewValidator(judge)

	candidates := []Candidate{
		{ID: 1, Code: "alpha_code = 1"},
		{ID: 2, Code: "beta_code = 2"},
	}
	results := v.ValidateBatch(context.Background(), candidates, "task", nil, 0.85)

	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].VariantID)
	assert.Equal(t, Approved, results[0].Verdict)
	assert.Equal(t, 2, results[1].VariantID)
	assert.Equal(t, RejectedQuality, results[1].Verdict)
}

func TestSelectApprovedSorted(t *testing.T) {
	results := []*Result{
		{VariantID: 1, Verdict: Approved, Score: 0.92},
		{VariantID: 2, Verdict: RejectedQuality, Score: 0.3},
		{VariantID: 3, Verdict: ApprovedWithNotes, Score: 0.97},
		{VariantID: 4, Verdict: NeedsRevision, Score: 0.95},
	}

	approved := SelectApproved(results)
	require.Len(t, approved, 2)
	assert.Equal(t, 3, approved[0].VariantID)
	assert.Equal(t, 1, approved[1].VariantID)
}

func TestTierScore(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		assert.Equal(t, 0.9, TierScore(nil))
	})

	t.Run("no approvals", func(t *testing.T) {
		results := []*Result{{Verdict: RejectedQuality, Score: 0.2}}
		assert.Equal(t, 0.9, TierScore(results))
	})

	t.Run("best approved clamped to floor", func(t *testing.T) {
		results := []*Result{{Verdict: Approved, Score: 0.85}}
		assert.Equal(t, 0.9, TierScore(results))
	})

	t.Run("best approved within band", func(t *testing.T) {
		results := []*Result{
			{Verdict: Approved, Score: 0.93},
			{Verdict: ApprovedWithNotes, Score: 0.91},
		}
		assert.Equal(t, 0.93, TierScore(results))
	})
}

func TestBuildJudgePromptSections(t *testing.T) {
	prompt := buildJudgePrompt("x = 1", "make x", []string{"typed_signature", "domain_tag"}, 0.85)
	assert.Contains(t, prompt, "make x")
	assert.Contains(t, prompt, "typed_signature, domain_tag")
	assert.Contains(t, prompt, "0.85")
	assert.Contains(t, prompt, "x = 1")

	empty := buildJudgePrompt("x = 1", "make x", nil, 0.85)
	assert.Contains(t, empty, "No specific paradigms required")
}
