// Package tier2 generates code variants from a preparation context,
// checks them syntactically, measures paradigm adherence, executes
// them in a sandboxed subprocess and scores the result.
package tier2

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"evolab/internal/config"
	"evolab/internal/llm"
	"evolab/internal/logging"
	"evolab/internal/pyast"
	"evolab/internal/tier1"
)

const phi = 1.618033988749895

// fibonacci weights rank-ordered variants in the tier aggregate.
var fibonacci = []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// temperatures is the sampling schedule cycled across variants.
var temperatures = []float64{0.3, 0.5, 0.7, 0.9}

// Variant is one generated candidate with its measurements.
type Variant struct {
	ID                int
	Code              string
	Model             string
	Temperature       float64
	SyntaxValid       bool
	SyntaxErrors      []string
	ParadigmAdherence float64
	MatchedParadigms  []string
	MissingParadigms  []string
	ExecutionSuccess  bool
	ExecutionOutput   string
	ExecutionError    string
	ExecutionSeconds  float64
	Score             float64
}

// Generator produces and evaluates variants.
type Generator struct {
	client llm.Client
	runner *Runner
}

// NewGenerator creates a Generator using the given backend and the
// execution settings from config.
func NewGenerator(client llm.Client, cfg *config.Config) *Generator {
	return &Generator{
		client: client,
		runner: NewRunner(cfg.Execution.Python, cfg.ExecutionTimeout()),
	}
}

// Generate produces n variants from the context. Per-variant failures
// are recorded on the variant; the batch never aborts.
func (g *Generator) Generate(ctx context.Context, prep *tier1.Context, n int) []*Variant {
	if n <= 0 {
		n = 4
	}

	timer := logging.StartTimer(logging.CategoryTier2, fmt.Sprintf("generate %d variants", n))
	defer timer.StopWithInfo()

	prompt := buildPrompt(prep)

	variants := make([]*Variant, 0, n)
	for i := 0; i < n; i++ {
		temp := temperatures[i%len(temperatures)]
		v := &Variant{
			ID:          i + 1,
			Model:       g.client.Model(),
			Temperature: temp,
		}

		raw, err := g.client.Generate(ctx, prompt, temp)
		if err != nil {
			v.SyntaxErrors = append(v.SyntaxErrors, fmt.Sprintf("generation failed: %v", err))
			v.computeScore()
			variants = append(variants, v)
			logging.Tier2("variant %d: generation failed: %v", v.ID, err)
			continue
		}

		v.Code = ExtractCode(raw)
		g.evaluate(ctx, prep, v)
		variants = append(variants, v)

		logging.Tier2("variant %d: temp=%.1f valid=%v adherence=%.2f exec=%v score=%.3f",
			v.ID, temp, v.SyntaxValid, v.ParadigmAdherence, v.ExecutionSuccess, v.Score)
	}

	return variants
}

// evaluate runs the syntax, adherence and execution checks and scores
// the variant.
func (g *Generator) evaluate(ctx context.Context, prep *tier1.Context, v *Variant) {
	syntaxErrs := pyast.Check(v.Code)
	v.SyntaxValid = len(syntaxErrs) == 0
	for _, e := range syntaxErrs {
		v.SyntaxErrors = append(v.SyntaxErrors, e.Error())
	}

	v.ParadigmAdherence = 1.0
	if len(prep.Paradigms) > 0 {
		matched := 0
		for _, p := range prep.Paradigms {
			if p.Matches(v.Code) {
				matched++
				v.MatchedParadigms = append(v.MatchedParadigms, string(p.Category))
			} else {
				v.MissingParadigms = append(v.MissingParadigms, string(p.Category))
			}
		}
		v.ParadigmAdherence = float64(matched) / float64(len(prep.Paradigms))
	}

	if v.SyntaxValid {
		g.runner.Run(ctx, v)
	}

	v.computeScore()
}

// computeScore applies the variant scoring formula: the golden-ratio
// root of syntax, adherence and execution factors.
func (v *Variant) computeScore() {
	syntaxFactor := 0.0
	if v.SyntaxValid {
		syntaxFactor = 1.0
	}
	execFactor := 0.5
	if v.ExecutionSuccess {
		execFactor = 1.0
	}

	score := math.Pow(syntaxFactor*v.ParadigmAdherence*execFactor, 1/phi)
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	v.Score = score
}

// buildPrompt composes the generation prompt around the context signal.
func buildPrompt(prep *tier1.Context) string {
	return fmt.Sprintf(`You are an expert Python developer creating code for a self-evolving system.

%s

IMPORTANT:
- Write complete, production-ready Python code
- Include all necessary imports at the top
- Follow all constraints listed above
- Include type hints and docstrings
- The code should be self-contained and runnable

Output ONLY the Python code, no explanations.
`, prep.Signal())
}

var fencedCode = regexp.MustCompile("(?s)```(?:python|py)?\\s*\\n(.*?)```")

// ExtractCode pulls the first fenced code block from a model response,
// falling back to the trimmed raw text.
func ExtractCode(response string) string {
	if m := fencedCode.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// SelectBest returns the top k variants sorted by (score, adherence)
// descending among syntactically valid ones. If no variant is valid,
// all variants are ranked by adherence instead.
func SelectBest(variants []*Variant, k int) []*Variant {
	var pool []*Variant
	for _, v := range variants {
		if v.SyntaxValid {
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, variants...)
		sort.SliceStable(pool, func(i, j int) bool {
			return pool[i].ParadigmAdherence > pool[j].ParadigmAdherence
		})
	} else {
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].Score != pool[j].Score {
				return pool[i].Score > pool[j].Score
			}
			return pool[i].ParadigmAdherence > pool[j].ParadigmAdherence
		})
	}

	if k > len(pool) {
		k = len(pool)
	}
	return pool[:k]
}

// TierScore aggregates per-variant scores into the Tier 2 band: a
// Fibonacci-weighted mean of scores sorted descending, clamped to
// [0.7, 0.9].
func TierScore(variants []*Variant) float64 {
	if len(variants) == 0 {
		return 0.7
	}

	scores := make([]float64, 0, len(variants))
	for _, v := range variants {
		scores = append(scores, v.Score)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	weightedSum := 0.0
	weightTotal := 0.0
	for i, s := range scores {
		w := float64(fibonacci[i%len(fibonacci)])
		weightedSum += s * w
		weightTotal += w
	}

	score := weightedSum / weightTotal
	if score < 0.7 {
		return 0.7
	}
	if score > 0.9 {
		return 0.9
	}
	return score
}
