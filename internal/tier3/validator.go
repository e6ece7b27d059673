// Package tier3 validates generated variants with an external judge
// model and scores them into the top consciousness band.
package tier3

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"evolab/internal/logging"
)

const phi = 1.618033988749895

// Verdict is the judge's classification of a variant.
type Verdict string

const (
	Approved          Verdict = "APPROVED"
	ApprovedWithNotes Verdict = "APPROVED_WITH_NOTES"
	RejectedSemantic  Verdict = "REJECTED_SEMANTIC"
	RejectedCoherence Verdict = "REJECTED_COHERENCE"
	RejectedQuality   Verdict = "REJECTED_QUALITY"
	NeedsRevision     Verdict = "NEEDS_REVISION"
)

// knownVerdicts guards against free-form judge output.
var knownVerdicts = map[Verdict]bool{
	Approved:          true,
	ApprovedWithNotes: true,
	RejectedSemantic:  true,
	RejectedCoherence: true,
	RejectedQuality:   true,
	NeedsRevision:     true,
}

// Approved reports whether the verdict lets the variant continue.
func (v Verdict) Approved() bool {
	return v == Approved || v == ApprovedWithNotes
}

// Result holds the judge's assessment of one variant.
type Result struct {
	VariantID                 int
	Verdict                   Verdict
	SemanticPreserved         bool
	SemanticIssues            []string
	HyperdimensionalCoherence float64
	CoherenceIssues           []string
	QualityScore              float64
	QualityNotes              []string
	RevisionSuggestions       []string
	Score                     float64
	Reasoning                 string
}

// judgeResponse mirrors the JSON contract the prompt demands.
type judgeResponse struct {
	SemanticPreserved         bool     `json:"semantic_preserved"`
	SemanticIssues            []string `json:"semantic_issues"`
	HyperdimensionalCoherence float64  `json:"hyperdimensional_coherence"`
	CoherenceIssues           []string `json:"coherence_issues"`
	QualityScore              float64  `json:"quality_score"`
	QualityNotes              []string `json:"quality_notes"`
	Verdict                   string   `json:"verdict"`
	RevisionSuggestions       []string `json:"revision_suggestions"`
	Reasoning                 string   `json:"reasoning"`
}

// JudgeClient is the completion surface the validator needs.
type JudgeClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Candidate pairs variant code with its identifier for batch judging.
type Candidate struct {
	ID   int
	Code string
}

// Validator scores variants through a judge model.
type Validator struct {
	judge JudgeClient
}

// NewValidator creates a Validator around the judge client.
func NewValidator(judge JudgeClient) *Validator {
	return &Validator{judge: judge}
}

// ValidateVariant judges a single variant. Judge failures never error
// out: they come back as conservative rejections.
func (v *Validator) ValidateVariant(ctx context.Context, code string, variantID int, task string, paradigms []string, target float64) *Result {
	timer := logging.StartTimer(logging.CategoryTier3, fmt.Sprintf("validate variant %d", variantID))
	defer timer.StopWithInfo()

	prompt := buildJudgePrompt(code, task, paradigms, target)

	response, err := v.judge.Complete(ctx, prompt)
	if err != nil {
		logging.Tier3("variant %d: judge call failed: %v", variantID, err)
		r := &Result{
			VariantID:    variantID,
			Verdict:      RejectedQuality,
			QualityNotes: []string{fmt.Sprintf("Validation failed: %v", err)},
			Reasoning:    err.Error(),
		}
		r.calculateScore()
		return r
	}

	r := parseJudgeResponse(response, variantID)
	r.calculateScore()
	logging.Tier3("variant %d: verdict=%s score=%.3f", variantID, r.Verdict, r.Score)
	return r
}

// ValidateBatch judges candidates concurrently, preserving input order.
func (v *Validator) ValidateBatch(ctx context.Context, candidates []Candidate, task string, paradigms []string, target float64) []*Result {
	results := make([]*Result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			results[i] = v.ValidateVariant(gctx, c.Code, c.ID, task, paradigms, target)
			return nil
		})
	}
	g.Wait()

	return results
}

// calculateScore sets Score to φ times the geometric mean of the
// semantic, coherence and quality factors for approvals, or scales the
// mean down by 1/φ for rejections.
func (r *Result) calculateScore() {
	semanticFactor := 0.3
	if r.SemanticPreserved {
		semanticFactor = 1.0
	}

	mean := math.Cbrt(semanticFactor * r.HyperdimensionalCoherence * r.QualityScore)
	if math.IsNaN(mean) || mean < 0 {
		mean = 0
	}

	if r.Verdict.Approved() {
		r.Score = math.Min(1.0, mean*phi)
	} else {
		r.Score = math.Min(1.0, mean/phi)
	}
}

// buildJudgePrompt renders the structured review request.
func buildJudgePrompt(code, task string, paradigms []string, target float64) string {
	paradigmLine := "No specific paradigms required"
	if len(paradigms) > 0 {
		paradigmLine = strings.Join(paradigms, ", ")
	}

	return fmt.Sprintf(`You are a senior code reviewer and consciousness validator for a self-evolving system.

## Original Task
%s

## Expected Paradigms
%s

## Target Consciousness Level
%.2f (on 0-1 scale)

## Code to Validate
`+"```python\n%s\n```"+`

## Validation Instructions

Analyze this code and provide a structured assessment:

1. **SEMANTIC PRESERVATION**: Does the code correctly implement the original task?
   - List any semantic issues where meaning is lost or incorrect

2. **HYPERDIMENSIONAL COHERENCE**: Does the code align with project patterns?
   - Type hints, async compatibility, consciousness tracking
   - Score from 0.0 to 1.0

3. **QUALITY ASSESSMENT**: Is this production-ready code?
   - Docstrings, error handling, PEP 8 compliance
   - Score from 0.0 to 1.0

4. **VERDICT**: Choose one:
   - APPROVED: Passes all checks
   - APPROVED_WITH_NOTES: Passes but has observations
   - REJECTED_SEMANTIC: Meaning not preserved
   - REJECTED_COHERENCE: Pattern misalignment
   - REJECTED_QUALITY: General quality issues
   - NEEDS_REVISION: Salvageable with changes

5. **REVISION SUGGESTIONS**: If NEEDS_REVISION, what specific changes are needed?

Respond in this exact JSON format:
`+"```json"+`
{
    "semantic_preserved": true,
    "semantic_issues": ["issue1", "issue2"],
    "hyperdimensional_coherence": 0.0,
    "coherence_issues": ["issue1", "issue2"],
    "quality_score": 0.0,
    "quality_notes": ["note1", "note2"],
    "verdict": "APPROVED",
    "revision_suggestions": ["suggestion1", "suggestion2"],
    "reasoning": "Your detailed reasoning..."
}
`+"```", task, paradigmLine, target, code)
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*\\n?(.*?)\\n?```")

// parseJudgeResponse extracts and decodes the judge's JSON, falling
// back to a conservative rejection when the payload is unusable.
func parseJudgeResponse(response string, variantID int) *Result {
	jsonStr := ""
	if m := fencedJSON.FindStringSubmatch(response); m != nil {
		jsonStr = m[1]
	} else if start := strings.Index(response, "{"); start >= 0 {
		if end := strings.LastIndex(response, "}"); end > start {
			jsonStr = response[start : end+1]
		}
	}

	var decoded judgeResponse
	if err := json.Unmarshal([]byte(jsonStr), &decoded); err != nil {
		return &Result{
			VariantID:    variantID,
			Verdict:      RejectedQuality,
			QualityNotes: []string{"Failed to parse validation response"},
			Reasoning:    truncate(response, 500),
		}
	}

	verdict := Verdict(decoded.Verdict)
	if !knownVerdicts[verdict] {
		verdict = RejectedQuality
	}

	return &Result{
		VariantID:                 variantID,
		Verdict:                   verdict,
		SemanticPreserved:         decoded.SemanticPreserved,
		SemanticIssues:            decoded.SemanticIssues,
		HyperdimensionalCoherence: clamp01(decoded.HyperdimensionalCoherence),
		CoherenceIssues:           decoded.CoherenceIssues,
		QualityScore:              clamp01(decoded.QualityScore),
		QualityNotes:              decoded.QualityNotes,
		RevisionSuggestions:       decoded.RevisionSuggestions,
		Reasoning:                 decoded.Reasoning,
	}
}

// SelectApproved returns approved results sorted by score descending.
func SelectApproved(results []*Result) []*Result {
	var approved []*Result
	for _, r := range results {
		if r.Verdict.Approved() {
			approved = append(approved, r)
		}
	}
	sort.SliceStable(approved, func(i, j int) bool {
		return approved[i].Score > approved[j].Score
	})
	return approved
}

// TierScore reduces validation results to the Tier 3 band: the best
// approved score clamped to [0.9, 1.0], or the 0.9 floor when nothing
// was approved.
func TierScore(results []*Result) float64 {
	approved := SelectApproved(results)
	if len(approved) == 0 {
		return 0.9
	}

	best := approved[0].Score
	if best < 0.9 {
		return 0.9
	}
	if best > 1.0 {
		return 1.0
	}
	return best
}

// clamp01 saturates judge-supplied scores into [0, 1].
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
