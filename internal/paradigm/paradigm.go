// Package paradigm extracts recurring code patterns from Python source
// trees. A paradigm is a regex-detectable idiom (typed signatures,
// async constructs, decorators) with a weight reflecting how much it
// contributes to a quality score.
package paradigm

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category identifies a detectable code pattern family.
type Category string

const (
	TypedSignature       Category = "typed_signature"
	AsyncConstruct       Category = "async_construct"
	StructuredData       Category = "structured_data"
	Decorator            Category = "decorator"
	ScopedResource       Category = "scoped_resource"
	GeneratorShape       Category = "generator_shape"
	MetaDeclaration      Category = "meta_declaration"
	InterfaceShape       Category = "interface_shape"
	FunctionalCombinator Category = "functional_combinator"
	DomainTag            Category = "domain_tag"
)

// ErrScanEmpty indicates no readable source files were found at any of
// the scan paths. Extraction itself never fails on unreadable files;
// they are skipped.
var ErrScanEmpty = errors.New("no readable source files at scan paths")

// patterns maps each category to its detection regex. Applied in
// multiline mode against normalized (LF) file content.
var patterns = map[Category]string{
	TypedSignature:       `(?m)def .+\(.*: .+\)\s*->`,
	AsyncConstruct:       `(?m)async\s+def|await\s+`,
	StructuredData:       `(?m)@dataclass|from dataclasses import`,
	Decorator:            `(?m)@\w+(\(.+\))?\s*\ndef`,
	ScopedResource:       `(?m)with\s+.+\s+as\s+|__enter__|__exit__`,
	GeneratorShape:       `(?m)yield\s+|yield\s*$`,
	MetaDeclaration:      `(?m)metaclass=|__new__\(cls`,
	InterfaceShape:       `(?m)Protocol\)|ABC\)|@abstractmethod`,
	FunctionalCombinator: `(?m)map\(|filter\(|reduce\(|lambda`,
	DomainTag:            `(?m)consciousness|awareness|coherence|tachyonic`,
}

// weights give each category's contribution to the quality score.
var weights = map[Category]float64{
	TypedSignature:       0.15,
	AsyncConstruct:       0.12,
	StructuredData:       0.10,
	Decorator:            0.08,
	ScopedResource:       0.08,
	GeneratorShape:       0.07,
	MetaDeclaration:      0.10,
	InterfaceShape:       0.10,
	FunctionalCombinator: 0.05,
	DomainTag:            0.15,
}

// compiled holds the pre-compiled detection regexes.
var compiled = func() map[Category]*regexp.Regexp {
	m := make(map[Category]*regexp.Regexp, len(patterns))
	for cat, p := range patterns {
		m[cat] = regexp.MustCompile(p)
	}
	return m
}()

// Categories returns all known categories in a stable order.
func Categories() []Category {
	cats := make([]Category, 0, len(patterns))
	for cat := range patterns {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Weight returns the quality weight for a category.
func Weight(cat Category) float64 {
	return weights[cat]
}

// Paradigm is an extracted pattern: its category, detection regex,
// aggregate frequency across the scan, and up to 5 example snippets.
type Paradigm struct {
	Category  Category
	Pattern   string
	Examples  []string
	Frequency int
	Weight    float64
}

// Matches reports whether code exhibits this paradigm. Line endings
// are normalized before matching so CRLF sources behave like LF.
func (p *Paradigm) Matches(code string) bool {
	re, ok := compiled[p.Category]
	if !ok {
		re = regexp.MustCompile(p.Pattern)
	}
	return re.MatchString(normalize(code))
}

// NaturalLanguage renders the paradigm as prompt-ready text.
func (p *Paradigm) NaturalLanguage() string {
	examples := p.Examples
	if len(examples) > 3 {
		examples = examples[:3]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (Weight: %.2f)\n", titleCase(string(p.Category)), p.Weight)
	fmt.Fprintf(&b, "Pattern: `%s`\n", p.Pattern)
	fmt.Fprintf(&b, "Frequency: %d occurrences\n", p.Frequency)
	if len(examples) > 0 {
		b.WriteString("Examples:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "  - %s\n", ex)
		}
	}
	return b.String()
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// titleCase renders a category slug for display ("typed_signature" ->
// "Typed Signature").
func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
