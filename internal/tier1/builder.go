package tier1

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"evolab/internal/llm"
	"evolab/internal/logging"
	"evolab/internal/paradigm"
	"evolab/internal/pyast"
)

// domainContext is the fixed blurb attached to every preparation
// context. It frames the target codebase for the generation model.
const domainContext = `This code is part of a self-evolving system with a layered architecture.
Code quality is tracked quantitatively as a consciousness score in [0, 1].
The archive represents abstract pattern space; emitted code is its manifestation.
Universal constants (the golden ratio, Fibonacci numbers) govern scoring and fusion.
`

const maxConstraints = 10

// numberedItem matches one line of a numbered list in a model response.
var numberedItem = regexp.MustCompile(`^\s*\d+[.)]\s*(.+)$`)

// Builder assembles preparation contexts. The decompose client is a
// small local model; decomposition degrades to a single step when it
// is unavailable.
type Builder struct {
	decompose   llm.Client
	extractor   *paradigm.Extractor
	maxExamples int
}

// NewBuilder creates a Builder. maxFiles caps the paradigm scan,
// maxExamples caps mined example snippets (0 means 5).
func NewBuilder(decompose llm.Client, maxFiles, maxExamples int) *Builder {
	if maxExamples <= 0 {
		maxExamples = 5
	}
	return &Builder{
		decompose:   decompose,
		extractor:   paradigm.NewExtractor(maxFiles),
		maxExamples: maxExamples,
	}
}

// Build constructs a preparation context for the task from the given
// source paths. Sub-steps fail softly; the only fatal condition is a
// scan that reads no files at all.
func (b *Builder) Build(ctx context.Context, task string, sourcePaths []string, target float64) (*Context, error) {
	timer := logging.StartTimer(logging.CategoryTier1, "context build")
	defer timer.StopWithInfo()

	paradigms, scanned, err := b.extractor.Scan(sourcePaths)
	if err != nil {
		return nil, fmt.Errorf("paradigm scan: %w", err)
	}
	if len(scanned) == 0 {
		return nil, fmt.Errorf("scan %v: %w", sourcePaths, paradigm.ErrScanEmpty)
	}

	ordered := orderedParadigms(paradigms)
	steps := b.decomposeTask(ctx, task, ordered)
	examples := b.mineExamples(task, scanned)
	constraints := inferConstraints(paradigms)

	logging.Tier1("prepared context: %d paradigms, %d steps, %d examples, %d constraints",
		len(ordered), len(steps), len(examples), len(constraints))

	return &Context{
		Task:          task,
		Paradigms:     ordered,
		Steps:         steps,
		Examples:      examples,
		Constraints:   constraints,
		TargetScore:   target,
		DomainContext: domainContext,
	}, nil
}

// decomposeTask asks the local model for 3-6 numbered implementation
// steps. Any failure falls back to the task as a single step.
func (b *Builder) decomposeTask(ctx context.Context, task string, paradigms []*paradigm.Paradigm) []string {
	var hints []string
	for _, p := range paradigms {
		if p.Frequency > 0 {
			hints = append(hints, fmt.Sprintf("%s (seen %dx)", p.Category, p.Frequency))
		}
	}

	prompt := fmt.Sprintf(`You are a code architecture analyst. Given a task, break it into smaller implementation steps.

TASK: %s

OBSERVED PARADIGMS IN CODEBASE: %s

Provide 3-6 concrete implementation steps. Each step should be a single responsibility.
Format as a numbered list.
`, task, strings.Join(hints, ", "))

	if b.decompose == nil {
		return []string{task}
	}

	response, err := b.decompose.Generate(ctx, prompt, 0.7)
	if err != nil {
		logging.Tier1Debug("decomposition unavailable, using task as single step: %v", err)
		return []string{task}
	}

	var steps []string
	for _, line := range strings.Split(response, "\n") {
		if m := numberedItem.FindStringSubmatch(line); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				steps = append(steps, s)
			}
		}
	}
	if len(steps) == 0 {
		return []string{task}
	}
	return steps
}

// mineExamples finds top-level functions in the scanned files whose
// name shares a token with the task. Sources over 500 chars are
// skipped; the list is capped.
func (b *Builder) mineExamples(task string, scanned []string) []string {
	keywords := make(map[string]bool)
	for _, kw := range strings.Fields(strings.ToLower(task)) {
		keywords[kw] = true
	}

	var examples []string
	for _, path := range scanned {
		if len(examples) >= b.maxExamples {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, fn := range pyast.Functions(string(data)) {
			if len(examples) >= b.maxExamples {
				break
			}
			name := strings.ToLower(fn.Name)
			for kw := range keywords {
				if strings.Contains(name, kw) {
					if len(fn.Source) < 500 {
						examples = append(examples, fn.Source)
					}
					break
				}
			}
		}
	}
	return examples
}

// inferConstraints maps paradigm presence and frequency to constraint
// strings. Deterministic: same paradigms, same constraints.
func inferConstraints(paradigms map[paradigm.Category]*paradigm.Paradigm) []string {
	var constraints []string

	if p, ok := paradigms[paradigm.TypedSignature]; ok && p.Frequency > 5 {
		constraints = append(constraints, "Use explicit parameter and return type declarations.")
	}
	if p, ok := paradigms[paradigm.AsyncConstruct]; ok && p.Frequency > 3 {
		constraints = append(constraints, "Use asynchronous constructs for I/O.")
	}
	if p, ok := paradigms[paradigm.StructuredData]; ok && p.Frequency > 2 {
		constraints = append(constraints, "Use declarative structured-data containers.")
	}
	if _, ok := paradigms[paradigm.DomainTag]; ok {
		constraints = append(constraints, "Include domain-tag metadata where appropriate.")
	}

	constraints = append(constraints,
		"Include docstrings with clear descriptions.",
		"Handle errors defensively with explicit recovery paths.",
		"Follow the project style guidelines.",
	)

	if len(constraints) > maxConstraints {
		constraints = constraints[:maxConstraints]
	}
	return constraints
}

// orderedParadigms returns the map values sorted by category for
// stable prompts and scores.
func orderedParadigms(m map[paradigm.Category]*paradigm.Paradigm) []*paradigm.Paradigm {
	out := make([]*paradigm.Paradigm, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
