package pyast

import (
	"strings"
	"testing"
)

const sampleModule = `import os
import json, sys
from collections import OrderedDict

PHI = 1.618
MAX_DEPTH, MIN_DEPTH = 10, 1

def helper(x: int) -> int:
    """Doubles x."""
    if x > 0:
        return x * 2
    return 0

@staticmethod
def decorated():
    pass

async def fetch(url: str) -> str:
    return await do_fetch(url)

class Engine:
    """Engine with one method."""

    def run(self):
        for i in range(3):
            try:
                self.step(i)
            except ValueError:
                pass
`

func TestCheckValid(t *testing.T) {
	if errs := Check(sampleModule); len(errs) != 0 {
		t.Fatalf("expected no syntax errors, got %v", errs)
	}
	if !Valid(sampleModule) {
		t.Error("expected Valid to be true")
	}
}

func TestCheckInvalid(t *testing.T) {
	bad := "def broken(:\n    pass\n"
	errs := Check(bad)
	if len(errs) == 0 {
		t.Fatal("expected syntax errors")
	}
	if errs[0].Line < 1 {
		t.Errorf("expected 1-based line, got %d", errs[0].Line)
	}
	if Valid(bad) {
		t.Error("expected Valid to be false")
	}
}

func TestCheckEmpty(t *testing.T) {
	if errs := Check(""); len(errs) != 0 {
		t.Errorf("empty source should be valid, got %v", errs)
	}
}

func TestExtractComponents(t *testing.T) {
	components := ExtractComponents(sampleModule)

	byName := make(map[string]Component)
	for _, c := range components {
		byName[c.Name] = c
	}

	tests := []struct {
		name string
		kind ComponentKind
	}{
		{"os", KindImport},
		{"json, sys", KindImport},
		{"from collections", KindImport},
		{"PHI", KindConstant},
		{"MAX_DEPTH, MIN_DEPTH", KindConstant},
		{"helper", KindFunction},
		{"decorated", KindFunction},
		{"fetch", KindFunction},
		{"Engine", KindClass},
	}

	for _, tt := range tests {
		c, ok := byName[tt.name]
		if !ok {
			t.Errorf("missing component %q (got %v)", tt.name, names(components))
			continue
		}
		if c.Kind != tt.kind {
			t.Errorf("component %q: kind = %s, want %s", tt.name, c.Kind, tt.kind)
		}
	}

	if c := byName["fetch"]; !c.Async {
		t.Error("fetch should be marked async")
	}
	if c := byName["helper"]; c.Async {
		t.Error("helper should not be marked async")
	}

	// Decorated function source must include the decorator
	if c := byName["decorated"]; !strings.Contains(c.Source, "@staticmethod") {
		t.Errorf("decorated source missing decorator: %q", c.Source)
	}

	// Methods inside classes are not top-level components
	if _, ok := byName["run"]; ok {
		t.Error("class method should not surface as a top-level component")
	}
}

func TestExtractComponentsLineNumbers(t *testing.T) {
	components := ExtractComponents(sampleModule)

	for _, c := range components {
		if c.Name == "os" {
			if c.StartLine != 1 || c.EndLine != 1 {
				t.Errorf("os import lines = %d-%d, want 1-1", c.StartLine, c.EndLine)
			}
		}
		if c.Name == "helper" {
			if c.StartLine != 8 {
				t.Errorf("helper start line = %d, want 8", c.StartLine)
			}
		}
	}
}

func TestExtractComponentsComplexity(t *testing.T) {
	components := ExtractComponents(sampleModule)
	for _, c := range components {
		switch c.Name {
		case "helper":
			if c.Complexity != 1 {
				t.Errorf("helper complexity = %d, want 1 (one if)", c.Complexity)
			}
		case "Engine":
			// one for plus one try
			if c.Complexity != 2 {
				t.Errorf("Engine complexity = %d, want 2", c.Complexity)
			}
		}
	}
}

func TestExtractComponentsUnparseable(t *testing.T) {
	bad := "def broken(:\n    pass\n"
	components := ExtractComponents(bad)
	if len(components) != 1 {
		t.Fatalf("expected single raw component, got %d", len(components))
	}
	if components[0].Kind != KindRaw {
		t.Errorf("kind = %s, want raw", components[0].Kind)
	}
	if components[0].Source != bad {
		t.Error("raw component must carry the full source")
	}
}

func TestFunctions(t *testing.T) {
	funcs := Functions(sampleModule)
	if len(funcs) != 3 {
		t.Fatalf("expected 3 functions, got %d: %v", len(funcs), names(funcs))
	}
	for _, f := range funcs {
		if f.Kind != KindFunction {
			t.Errorf("unexpected kind %s for %s", f.Kind, f.Name)
		}
	}
}

func names(components []Component) []string {
	var out []string
	for _, c := range components {
		out = append(out, c.Name)
	}
	return out
}
