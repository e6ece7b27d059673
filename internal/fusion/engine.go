// Package fusion combines two validated code variants at the
// component level into a single offspring.
package fusion

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"evolab/internal/logging"
	"evolab/internal/pyast"
)

// fibonacci picks the crossover point from the parents' sizes.
var fibonacci = []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// Strategy selects how parent components are recombined.
type Strategy string

const (
	// Specialize keeps the higher-scoring implementation per name.
	Specialize Strategy = "specialize"
	// Interleave alternates function implementations between parents.
	Interleave Strategy = "interleave"
	// Crossover splits both parents at a single deterministic point.
	Crossover Strategy = "crossover"
	// Uniform picks per position with a score-weighted deterministic coin.
	Uniform Strategy = "uniform"
)

// ParseStrategy maps a user-supplied name to a Strategy, defaulting
// to Specialize.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Interleave:
		return Interleave
	case Crossover:
		return Crossover
	case Uniform:
		return Uniform
	default:
		return Specialize
	}
}

// scoredComponent pairs an extracted component with its heuristic
// quality score.
type scoredComponent struct {
	pyast.Component
	score float64
}

// Result describes the offspring and how it was produced.
type Result struct {
	OffspringCode       string
	Strategy            Strategy
	ParentAComponents   int
	ParentBComponents   int
	OffspringComponents int
	ComponentsFromA     int
	ComponentsFromB     int
	ParentAScore        float64
	ParentBScore        float64
	OffspringScore      float64
	ScoreDelta          float64
	Coherence           float64
	SyntaxValid         bool
}

// Summary renders the result for logs and run records.
func (r *Result) Summary() string {
	return fmt.Sprintf("strategy=%s offspring_score=%.3f delta=%+.3f from_a=%d from_b=%d coherence=%.2f valid=%v",
		r.Strategy, r.OffspringScore, r.ScoreDelta, r.ComponentsFromA, r.ComponentsFromB, r.Coherence, r.SyntaxValid)
}

// Engine fuses parent code strings into offspring.
type Engine struct {
	domainKeywords []string
}

// NewEngine creates an Engine with the default domain keyword set.
func NewEngine() *Engine {
	return &Engine{domainKeywords: []string{"consciousness", "coherence"}}
}

// NewEngineWithKeywords creates an Engine scoring the given domain
// keywords.
func NewEngineWithKeywords(keywords []string) *Engine {
	if len(keywords) == 0 {
		return NewEngine()
	}
	return &Engine{domainKeywords: keywords}
}

// Fuse recombines two parent code strings under the strategy.
func (e *Engine) Fuse(parentA, parentB string, strategy Strategy) *Result {
	timer := logging.StartTimer(logging.CategoryFusion, string(strategy)+" fusion")
	defer timer.StopWithInfo()

	compsA := e.scoreComponents(pyast.ExtractComponents(parentA))
	compsB := e.scoreComponents(pyast.ExtractComponents(parentB))

	var offspring []scoredComponent
	var fromA, fromB int

	switch strategy {
	case Interleave:
		offspring, fromA, fromB = fuseInterleave(compsA, compsB)
	case Crossover:
		offspring, fromA, fromB = fuseCrossover(compsA, compsB)
	case Uniform:
		offspring, fromA, fromB = fuseUniform(compsA, compsB)
	default:
		strategy = Specialize
		offspring, fromA, fromB = fuseSpecialize(compsA, compsB)
	}

	code := assemble(offspring)

	scoreA := meanScore(compsA)
	scoreB := meanScore(compsB)
	scoreO := meanScore(offspring)

	r := &Result{
		OffspringCode:       code,
		Strategy:            strategy,
		ParentAComponents:   len(compsA),
		ParentBComponents:   len(compsB),
		OffspringComponents: len(offspring),
		ComponentsFromA:     fromA,
		ComponentsFromB:     fromB,
		ParentAScore:        scoreA,
		ParentBScore:        scoreB,
		OffspringScore:      scoreO,
		ScoreDelta:          scoreO - math.Max(scoreA, scoreB),
		Coherence:           coherence(offspring, compsA, compsB),
		SyntaxValid:         pyast.Valid(code),
	}

	logging.Fusion("%s", r.Summary())
	logging.Audit().FusionResult(string(strategy), r.OffspringScore, r.SyntaxValid)
	return r
}

// scoreComponents applies the quality heuristic to each component.
func (e *Engine) scoreComponents(comps []pyast.Component) []scoredComponent {
	scored := make([]scoredComponent, 0, len(comps))
	for _, c := range comps {
		scored = append(scored, scoredComponent{Component: c, score: e.componentScore(c)})
	}
	return scored
}

// componentScore estimates component quality from surface features.
func (e *Engine) componentScore(c pyast.Component) float64 {
	score := 0.5
	src := c.Source
	lower := strings.ToLower(src)

	if strings.Contains(src, `"""`) || strings.Contains(src, "'''") {
		score += 0.1
	}
	if strings.Contains(src, "->") || strings.Contains(src, ": ") {
		score += 0.1
	}
	if strings.Contains(src, "try:") || strings.Contains(src, "except") {
		score += 0.05
	}
	for _, kw := range e.domainKeywords {
		if strings.Contains(lower, kw) {
			score += 0.1
			break
		}
	}
	if c.Async || strings.Contains(src, "await") {
		score += 0.05
	}
	if c.Complexity > 10 {
		score -= 0.1
	}

	return math.Max(0.0, math.Min(1.0, score))
}

// fuseSpecialize keeps the better implementation per component name,
// ties going to parent A. Parent A's order is preserved, then names
// unique to parent B in their own order.
func fuseSpecialize(a, b []scoredComponent) (offspring []scoredComponent, fromA, fromB int) {
	byNameB := make(map[string]scoredComponent, len(b))
	for _, c := range b {
		if _, seen := byNameB[c.Name]; !seen {
			byNameB[c.Name] = c
		}
	}

	seenA := make(map[string]bool, len(a))
	for _, ca := range a {
		if seenA[ca.Name] {
			continue
		}
		seenA[ca.Name] = true

		if cb, ok := byNameB[ca.Name]; ok && cb.score > ca.score {
			offspring = append(offspring, cb)
			fromB++
		} else {
			offspring = append(offspring, ca)
			fromA++
		}
	}

	for _, cb := range b {
		if !seenA[cb.Name] {
			seenA[cb.Name] = true
			offspring = append(offspring, cb)
			fromB++
		}
	}

	return offspring, fromA, fromB
}

// fuseInterleave unions imports first-seen-wins, alternates functions
// positionally, and keeps the better class per name plus classes only
// in parent B. Remaining kinds follow parent A then parent B.
func fuseInterleave(a, b []scoredComponent) (offspring []scoredComponent, fromA, fromB int) {
	kindOf := func(comps []scoredComponent, kind pyast.ComponentKind) []scoredComponent {
		var out []scoredComponent
		for _, c := range comps {
			if c.Kind == kind {
				out = append(out, c)
			}
		}
		return out
	}

	seenImports := make(map[string]bool)
	for _, imp := range kindOf(a, pyast.KindImport) {
		if !seenImports[imp.Name] {
			seenImports[imp.Name] = true
			offspring = append(offspring, imp)
			fromA++
		}
	}
	for _, imp := range kindOf(b, pyast.KindImport) {
		if !seenImports[imp.Name] {
			seenImports[imp.Name] = true
			offspring = append(offspring, imp)
			fromB++
		}
	}

	funcsA := kindOf(a, pyast.KindFunction)
	funcsB := kindOf(b, pyast.KindFunction)
	paired := len(funcsA)
	if len(funcsB) < paired {
		paired = len(funcsB)
	}
	for i := 0; i < paired; i++ {
		if i%2 == 0 {
			offspring = append(offspring, funcsA[i])
			fromA++
		} else {
			offspring = append(offspring, funcsB[i])
			fromB++
		}
	}
	if len(funcsA) > paired {
		offspring = append(offspring, funcsA[paired:]...)
		fromA += len(funcsA) - paired
	}
	if len(funcsB) > paired {
		offspring = append(offspring, funcsB[paired:]...)
		fromB += len(funcsB) - paired
	}

	classesB := kindOf(b, pyast.KindClass)
	classByNameB := make(map[string]scoredComponent, len(classesB))
	for _, c := range classesB {
		classByNameB[c.Name] = c
	}
	classNamesA := make(map[string]bool)
	for _, ca := range kindOf(a, pyast.KindClass) {
		classNamesA[ca.Name] = true
		if cb, ok := classByNameB[ca.Name]; ok && cb.score > ca.score {
			offspring = append(offspring, cb)
			fromB++
		} else {
			offspring = append(offspring, ca)
			fromA++
		}
	}
	for _, cb := range classesB {
		if !classNamesA[cb.Name] {
			offspring = append(offspring, cb)
			fromB++
		}
	}

	constsA := kindOf(a, pyast.KindConstant)
	constsB := kindOf(b, pyast.KindConstant)
	seenConsts := make(map[string]bool)
	for _, c := range append(constsA, constsB...) {
		if !seenConsts[c.Name] {
			seenConsts[c.Name] = true
			offspring = append(offspring, c)
			if containsComponent(constsA, c.Name) {
				fromA++
			} else {
				fromB++
			}
		}
	}

	return offspring, fromA, fromB
}

func containsComponent(comps []scoredComponent, name string) bool {
	for _, c := range comps {
		if c.Name == name {
			return true
		}
	}
	return false
}

// fuseCrossover splits at a Fibonacci-derived point. An empty parent
// passes the other parent through unchanged.
func fuseCrossover(a, b []scoredComponent) (offspring []scoredComponent, fromA, fromB int) {
	if len(a) == 0 {
		return b, 0, len(b)
	}
	if len(b) == 0 {
		return a, len(a), 0
	}

	fibIndex := (len(a) + len(b)) % len(fibonacci)
	point := fibonacci[fibIndex] % len(a)

	offspring = append(offspring, a[:point]...)
	fromA = point

	start := point
	if start > len(b) {
		start = len(b)
	}
	offspring = append(offspring, b[start:]...)
	fromB = len(b) - start

	return offspring, fromA, fromB
}

// fuseUniform picks per position with a score-weighted coin derived
// from a content hash, so fusion is reproducible.
func fuseUniform(a, b []scoredComponent) (offspring []scoredComponent, fromA, fromB int) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	for i := 0; i < maxLen; i++ {
		switch {
		case i < len(a) && i < len(b):
			ca, cb := a[i], b[i]
			probA := 0.5
			if total := ca.score + cb.score; total > 0 {
				probA = ca.score / total
			}
			if hashCoin(ca.Name+cb.Name+fmt.Sprint(i)) < probA {
				offspring = append(offspring, ca)
				fromA++
			} else {
				offspring = append(offspring, cb)
				fromB++
			}
		case i < len(a):
			offspring = append(offspring, a[i])
			fromA++
		default:
			offspring = append(offspring, b[i])
			fromB++
		}
	}

	return offspring, fromA, fromB
}

// hashCoin maps a key to a deterministic value in [0, 1).
func hashCoin(key string) float64 {
	sum := sha256.Sum256([]byte(key))
	v := binary.BigEndian.Uint32(sum[:4])
	return float64(v) / float64(1<<32)
}

// assemble emits components grouped as imports, constants, functions
// then classes, de-duplicating import lines by exact text.
func assemble(components []scoredComponent) string {
	var imports, constants, functions, classes []scoredComponent
	for _, c := range components {
		switch c.Kind {
		case pyast.KindImport:
			imports = append(imports, c)
		case pyast.KindConstant:
			constants = append(constants, c)
		case pyast.KindFunction:
			functions = append(functions, c)
		case pyast.KindClass:
			classes = append(classes, c)
		default:
			functions = append(functions, c)
		}
	}

	var parts []string

	seen := make(map[string]bool)
	for _, imp := range imports {
		if !seen[imp.Source] {
			seen[imp.Source] = true
			parts = append(parts, imp.Source)
		}
	}
	if len(imports) > 0 {
		parts = append(parts, "")
	}

	for _, c := range constants {
		parts = append(parts, c.Source)
	}
	if len(constants) > 0 {
		parts = append(parts, "")
	}

	for _, f := range functions {
		parts = append(parts, f.Source, "")
	}
	for _, cl := range classes {
		parts = append(parts, cl.Source, "")
	}

	return strings.Join(parts, "\n")
}

func meanScore(comps []scoredComponent) float64 {
	if len(comps) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, c := range comps {
		sum += c.score
	}
	return sum / float64(len(comps))
}

// coherence measures how well the offspring integrates both parents:
// the square root of score retention times name coverage.
func coherence(offspring, a, b []scoredComponent) float64 {
	if len(offspring) == 0 {
		return 0.0
	}

	maxParent := math.Max(meanScore(a), meanScore(b))
	scoreCoherence := 1.0
	if maxParent > 0 {
		scoreCoherence = meanScore(offspring) / maxParent
	}

	names := func(comps []scoredComponent) map[string]bool {
		set := make(map[string]bool, len(comps))
		for _, c := range comps {
			set[c.Name] = true
		}
		return set
	}
	namesO := names(offspring)

	coverage := func(parent map[string]bool) float64 {
		if len(parent) == 0 {
			return 1.0
		}
		hit := 0
		for n := range parent {
			if namesO[n] {
				hit++
			}
		}
		return float64(hit) / float64(len(parent))
	}

	c := math.Sqrt(scoreCoherence * (coverage(names(a)) + coverage(names(b))) / 2)
	return math.Min(1.0, c)
}

// Strategies lists the supported strategy names.
func Strategies() []string {
	out := []string{string(Specialize), string(Interleave), string(Crossover), string(Uniform)}
	sort.Strings(out)
	return out
}
