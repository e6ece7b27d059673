package tier1

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evolab/internal/paradigm"
)

// fakeClient scripts a decomposition response.
type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClient) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeClient) Model() string { return "fake" }

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

const typedHeavy = `def compute_score(a: int) -> int:
    return a

def compute_total(b: int) -> int:
    return b

def compute_mean(c: float) -> float:
    return c

def compute_max(d: int) -> int:
    return d

def compute_min(e: int) -> int:
    return e

def compute_sum(f: int) -> int:
    return f
`

func TestBuildScanEmpty(t *testing.T) {
	builder := NewBuilder(&fakeClient{}, 10, 5)
	_, err := builder.Build(context.Background(), "task", []string{filepath.Join(t.TempDir(), "void")}, 0.85)
	if !errors.Is(err, paradigm.ErrScanEmpty) {
		t.Fatalf("expected ErrScanEmpty, got %v", err)
	}
}

func TestBuildAssemblesContext(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "scores.py", typedHeavy)

	client := &fakeClient{response: "1. parse input\n2. compute result\n3. return output"}
	builder := NewBuilder(client, 10, 5)

	prep, err := builder.Build(context.Background(), "compute aggregate score", []string{dir}, 0.85)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if prep.Task != "compute aggregate score" {
		t.Errorf("task = %q", prep.Task)
	}
	if len(prep.Steps) != 3 {
		t.Errorf("steps = %v, want 3 parsed items", prep.Steps)
	}
	if prep.Steps[0] != "parse input" {
		t.Errorf("first step = %q", prep.Steps[0])
	}
	if len(prep.Paradigms) == 0 {
		t.Error("expected observed paradigms")
	}
	if prep.TargetScore != 0.85 {
		t.Errorf("target = %v", prep.TargetScore)
	}
	if prep.DomainContext == "" {
		t.Error("domain context should be set")
	}

	// typed_signature freq 6 > 5 triggers the typing constraint
	joined := strings.Join(prep.Constraints, "\n")
	if !strings.Contains(joined, "explicit parameter and return type") {
		t.Errorf("missing typing constraint in %v", prep.Constraints)
	}
	for _, universal := range []string{"docstrings", "defensively", "style"} {
		if !strings.Contains(joined, universal) {
			t.Errorf("missing universal constraint %q in %v", universal, prep.Constraints)
		}
	}

	// Example mining: "compute" token matches compute_* functions
	if len(prep.Examples) == 0 {
		t.Error("expected mined examples for matching function names")
	}
	if len(prep.Examples) > 5 {
		t.Errorf("examples capped at 5, got %d", len(prep.Examples))
	}
}

func TestBuildDecomposeFallback(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "mod.py", "x = 1\n")

	client := &fakeClient{err: errors.New("daemon down")}
	builder := NewBuilder(client, 10, 5)

	prep, err := builder.Build(context.Background(), "do the thing", []string{dir}, 0.85)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(prep.Steps) != 1 || prep.Steps[0] != "do the thing" {
		t.Errorf("expected single-step fallback, got %v", prep.Steps)
	}
}

func TestBuildUnparseableStepsFallback(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "mod.py", "x = 1\n")

	client := &fakeClient{response: "I cannot break this down into steps."}
	builder := NewBuilder(client, 10, 5)

	prep, err := builder.Build(context.Background(), "refactor parser", []string{dir}, 0.85)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(prep.Steps) != 1 || prep.Steps[0] != "refactor parser" {
		t.Errorf("expected fallback step, got %v", prep.Steps)
	}
}

func TestScoreBounds(t *testing.T) {
	empty := &Context{}
	if got := empty.Score(); got != 0.5 {
		t.Errorf("empty context score = %v, want 0.5", got)
	}

	rich := &Context{
		Paradigms: []*paradigm.Paradigm{
			{Category: paradigm.TypedSignature, Weight: 0.15},
			{Category: paradigm.AsyncConstruct, Weight: 0.12},
			{Category: paradigm.DomainTag, Weight: 0.15},
		},
		Examples:      []string{"a", "b", "c", "d", "e"},
		Constraints:   []string{"1", "2", "3", "4", "5"},
		DomainContext: "ctx",
	}
	got := rich.Score()
	if got < 0.5 || got > 0.7 {
		t.Errorf("score %v outside [0.5, 0.7]", got)
	}
	if got <= empty.Score() {
		t.Error("rich context should outscore empty context")
	}
}

func TestScoreClampUpper(t *testing.T) {
	// Max out every bonus: 0.5 + 0.15 + 0.1 + 0.05 + 0.05 = 0.85 -> clamps to 0.7
	paradigms := make([]*paradigm.Paradigm, 0)
	for _, cat := range paradigm.Categories() {
		paradigms = append(paradigms, &paradigm.Paradigm{Category: cat, Weight: paradigm.Weight(cat)})
	}
	c := &Context{
		Paradigms:     paradigms,
		Examples:      []string{"1", "2", "3", "4", "5"},
		Constraints:   []string{"1", "2", "3", "4", "5", "6"},
		DomainContext: "ctx",
	}
	if got := c.Score(); got != 0.7 {
		t.Errorf("score = %v, want clamp at 0.7", got)
	}
}

func TestSignalContainsSections(t *testing.T) {
	c := &Context{
		Task: "build a cache",
		Paradigms: []*paradigm.Paradigm{
			{Category: paradigm.TypedSignature, Pattern: "p", Weight: 0.15, Frequency: 2},
		},
		Steps:         []string{"design API", "implement eviction"},
		Examples:      []string{"def cached(x):\n    return x"},
		Constraints:   []string{"Include docstrings with clear descriptions."},
		TargetScore:   0.85,
		DomainContext: "domain blurb",
	}

	signal := c.Signal()
	for _, want := range []string{
		"EVOLUTION TASK:",
		"build a cache",
		"1. design API",
		"2. implement eviction",
		"Typed Signature",
		"```python",
		"def cached(x):",
		"Include docstrings",
		"domain blurb",
		"Target consciousness level: 0.85",
	} {
		if !strings.Contains(signal, want) {
			t.Errorf("signal missing %q", want)
		}
	}
}
