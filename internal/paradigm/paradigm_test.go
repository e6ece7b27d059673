package paradigm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const typedSource = `from dataclasses import dataclass

@dataclass
class Config:
    name: str

def process(items: list, depth: int) -> dict:
    return {i: depth for i in items}

async def gather(url: str) -> str:
    return await fetch(url)
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestScanDetectsCategories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mod.py", typedSource)

	extractor := NewExtractor(10)
	paradigms, scanned, err := extractor.Scan([]string{dir})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(scanned) != 1 {
		t.Fatalf("expected 1 scanned file, got %d", len(scanned))
	}

	for _, want := range []Category{TypedSignature, AsyncConstruct, StructuredData} {
		p, ok := paradigms[want]
		if !ok {
			t.Errorf("missing category %s", want)
			continue
		}
		if p.Frequency == 0 {
			t.Errorf("category %s has zero frequency", want)
		}
		if p.Weight != Weight(want) {
			t.Errorf("category %s weight = %v, want %v", want, p.Weight, Weight(want))
		}
	}

	if _, ok := paradigms[MetaDeclaration]; ok {
		t.Error("meta_declaration should not match this source")
	}
}

func TestScanAccumulatesFrequency(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def f(x: int) -> int:\n    return x\n")
	writeFile(t, dir, "b.py", "def g(y: str) -> str:\n    return y\n")

	extractor := NewExtractor(10)
	paradigms, scanned, _ := extractor.Scan([]string{dir})

	if len(scanned) != 2 {
		t.Fatalf("expected 2 scanned files, got %d", len(scanned))
	}
	p := paradigms[TypedSignature]
	if p == nil || p.Frequency != 2 {
		t.Errorf("expected frequency 2 across files, got %+v", p)
	}
}

func TestScanRespectsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "d.py"} {
		writeFile(t, dir, name, "x = lambda v: v\n")
	}

	extractor := NewExtractor(2)
	_, scanned, _ := extractor.Scan([]string{dir})
	if len(scanned) != 2 {
		t.Errorf("expected scan capped at 2 files, got %d", len(scanned))
	}
}

func TestScanSkipsPycache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.py", "y = map(str, [])\n")
	writeFile(t, dir, filepath.Join("__pycache__", "skip.py"), "z = filter(None, [])\n")
	writeFile(t, dir, filepath.Join("build", "lib", "skip.py"), "z = filter(None, [])\n")
	writeFile(t, dir, filepath.Join("dist", "skip.py"), "z = filter(None, [])\n")

	extractor := NewExtractor(10)
	_, scanned, _ := extractor.Scan([]string{dir})
	if len(scanned) != 1 {
		t.Errorf("expected generated dirs to be skipped, scanned %v", scanned)
	}
}

func TestScanEmptyPaths(t *testing.T) {
	extractor := NewExtractor(10)
	paradigms, scanned, err := extractor.Scan([]string{filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("Scan should not fail on missing paths: %v", err)
	}
	if len(scanned) != 0 {
		t.Errorf("expected no scanned files, got %v", scanned)
	}
	if len(paradigms) != 0 {
		t.Errorf("expected no paradigms, got %d", len(paradigms))
	}
}

func TestScanIgnoresNonPython(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "def f(x: int) -> int: pass")
	writeFile(t, dir, "code.py", "def f(x: int) -> int:\n    pass\n")

	extractor := NewExtractor(10)
	_, scanned, _ := extractor.Scan([]string{dir})
	if len(scanned) != 1 {
		t.Errorf("expected only .py files scanned, got %v", scanned)
	}
}

func TestExamplesCapped(t *testing.T) {
	dir := t.TempDir()
	content := ""
	for i := 0; i < 10; i++ {
		content += "def fn" + string(rune('a'+i)) + "(x: int) -> int:\n    return x\n"
	}
	writeFile(t, dir, "many.py", content)

	extractor := NewExtractor(10)
	paradigms, _, _ := extractor.Scan([]string{dir})
	p := paradigms[TypedSignature]
	if p == nil {
		t.Fatal("expected typed_signature paradigm")
	}
	if len(p.Examples) > 5 {
		t.Errorf("examples should be capped at 5, got %d", len(p.Examples))
	}
	if p.Frequency != 10 {
		t.Errorf("frequency = %d, want 10", p.Frequency)
	}
}

func TestMatchesNormalizesCRLF(t *testing.T) {
	p := &Paradigm{Category: Decorator, Pattern: patterns[Decorator], Weight: Weight(Decorator)}

	crlf := "@property\r\ndef value(self):\r\n    return 1\r\n"
	if !p.Matches(crlf) {
		t.Error("decorator paradigm should match CRLF source after normalization")
	}
}

func TestNaturalLanguage(t *testing.T) {
	p := &Paradigm{
		Category:  TypedSignature,
		Pattern:   patterns[TypedSignature],
		Weight:    0.15,
		Frequency: 3,
		Examples:  []string{"def f(x: int) -> int", "def g(y: str) -> str", "def h() -> None", "def extra() -> int"},
	}

	text := p.NaturalLanguage()
	for _, want := range []string{"Typed Signature", "0.15", "3 occurrences", "def f(x: int) -> int"} {
		if !strings.Contains(text, want) {
			t.Errorf("NaturalLanguage missing %q in:\n%s", want, text)
		}
	}
	// Only first 3 examples rendered
	if strings.Contains(text, "def extra() -> int") {
		t.Error("NaturalLanguage should cap examples at 3")
	}
}

func TestCategoriesStableOrder(t *testing.T) {
	a := Categories()
	b := Categories()
	if len(a) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("Categories order is not stable")
		}
	}
}
