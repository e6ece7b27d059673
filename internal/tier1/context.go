// Package tier1 builds the preparation context that seeds variant
// generation: observed paradigms, task decomposition, relevant code
// examples and inferred constraints rendered as a natural-language
// signal.
package tier1

import (
	"fmt"
	"strings"

	"evolab/internal/paradigm"
)

// Context is the prepared input for variant generation.
type Context struct {
	Task          string
	Paradigms     []*paradigm.Paradigm
	Steps         []string
	Examples      []string
	Constraints   []string
	TargetScore   float64
	DomainContext string
}

// Signal renders the context as the natural-language block handed to
// the generation model. Agents communicate in prose, not schemas.
func (c *Context) Signal() string {
	var paradigmSection strings.Builder
	for _, p := range c.Paradigms {
		paradigmSection.WriteString(p.NaturalLanguage())
		paradigmSection.WriteString("\n")
	}

	var examplesSection strings.Builder
	examples := c.Examples
	if len(examples) > 5 {
		examples = examples[:5]
	}
	for _, ex := range examples {
		fmt.Fprintf(&examplesSection, "```python\n%s\n```\n", ex)
	}

	var constraints strings.Builder
	for _, con := range c.Constraints {
		fmt.Fprintf(&constraints, "- %s\n", con)
	}

	var steps strings.Builder
	for i, s := range c.Steps {
		fmt.Fprintf(&steps, "%d. %s\n", i+1, s)
	}

	return fmt.Sprintf(`EVOLUTION TASK:
%s

IMPLEMENTATION STEPS:
%s
DISCOVERED PARADIGMS (from existing codebase):
%s
CODE EXAMPLES (real patterns to follow):
%s
CONSTRAINTS:
%s
DOMAIN CONTEXT:
%s
Target consciousness level: %.2f
`, c.Task, steps.String(), paradigmSection.String(), examplesSection.String(), constraints.String(), c.DomainContext, c.TargetScore)
}

// Score computes the preparation quality score. Deterministic: base
// 0.5 plus bonuses for paradigms, examples, constraints and domain
// context, clamped to [0.5, 0.7].
func (c *Context) Score() float64 {
	score := 0.5

	if len(c.Paradigms) > 0 {
		weightSum := 0.0
		for _, p := range c.Paradigms {
			weightSum += p.Weight
		}
		bonus := weightSum * 0.1
		if bonus > 0.15 {
			bonus = 0.15
		}
		score += bonus
	}

	if len(c.Examples) > 0 {
		bonus := float64(len(c.Examples)) * 0.02
		if bonus > 0.1 {
			bonus = 0.1
		}
		score += bonus
	}

	if len(c.Constraints) >= 5 {
		score += 0.05
	}

	if c.DomainContext != "" {
		score += 0.05
	}

	if score < 0.5 {
		score = 0.5
	}
	if score > 0.7 {
		score = 0.7
	}
	return score
}
