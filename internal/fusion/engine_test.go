package fusion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolab/internal/pyast"
)

const parentA = `import os
import json

PHI = 1.618033988749895

def compute(x: int) -> int:
    """Double the input."""
    return x * 2

def helper(y):
    return y + 1

class Engine:
    """Coherence engine."""

    def run(self) -> int:
        return 1
`

const parentB = `import os
import sys

LIMIT = 10

def compute(x):
    return x * 2

def extra(z: int) -> int:
    """Domain coherence helper."""
    return z - 1

class Engine:
    def run(self):
        return 2
`

func TestFuseSpecializePrefersHigherScore(t *testing.T) {
	e := NewEngine()
	r := e.Fuse(parentA, parentB, Specialize)

	assert.Equal(t, Specialize, r.Strategy)
	assert.True(t, r.SyntaxValid)

	// A's compute has a docstring and annotations, so it wins over B's bare version.
	assert.Contains(t, r.OffspringCode, `"""Double the input."""`)
	// extra only exists in B.
	assert.Contains(t, r.OffspringCode, "def extra")
	// helper only exists in A.
	assert.Contains(t, r.OffspringCode, "def helper")
	// A's documented Engine class beats B's.
	assert.Contains(t, r.OffspringCode, `"""Coherence engine."""`)

	assert.Equal(t, r.ComponentsFromA+r.ComponentsFromB, r.OffspringComponents)
}

func TestFuseSpecializeTieGoesToParentA(t *testing.T) {
	a := "def f():\n    return 1\n"
	b := "def f():\n    return 2\n"

	r := NewEngine().Fuse(a, b, Specialize)
	assert.Contains(t, r.OffspringCode, "return 1")
	assert.NotContains(t, r.OffspringCode, "return 2")
	assert.Equal(t, 1, r.ComponentsFromA)
	assert.Equal(t, 0, r.ComponentsFromB)
}

func TestFuseInterleaveAlternatesFunctions(t *testing.T) {
	a := "def first():\n    return 'a1'\n\ndef second():\n    return 'a2'\n"
	b := "def first():\n    return 'b1'\n\ndef second():\n    return 'b2'\n"

	r := NewEngine().Fuse(a, b, Interleave)

	assert.Contains(t, r.OffspringCode, "'a1'")
	assert.Contains(t, r.OffspringCode, "'b2'")
	assert.NotContains(t, r.OffspringCode, "'b1'")
	assert.NotContains(t, r.OffspringCode, "'a2'")
}

func TestFuseInterleaveUnionsImports(t *testing.T) {
	r := NewEngine().Fuse(parentA, parentB, Interleave)

	assert.Equal(t, 1, strings.Count(r.OffspringCode, "import os\n"))
	assert.Contains(t, r.OffspringCode, "import json")
	assert.Contains(t, r.OffspringCode, "import sys")
	assert.True(t, r.SyntaxValid)
}

func TestFuseCrossoverDeterministic(t *testing.T) {
	e := NewEngine()
	r1 := e.Fuse(parentA, parentB, Crossover)
	r2 := e.Fuse(parentA, parentB, Crossover)

	assert.Equal(t, r1.OffspringCode, r2.OffspringCode)
	assert.Equal(t, r1.ComponentsFromA, r2.ComponentsFromA)
	assert.Equal(t, r1.ComponentsFromB, r2.ComponentsFromB)
}

func TestFuseCrossoverEmptyParentPassesThrough(t *testing.T) {
	e := NewEngine()

	r := e.Fuse("", parentB, Crossover)
	assert.Equal(t, 0, r.ComponentsFromA)
	assert.Equal(t, r.ParentBComponents, r.ComponentsFromB)
	assert.Contains(t, r.OffspringCode, "def extra")

	r = e.Fuse(parentA, "", Crossover)
	assert.Equal(t, r.ParentAComponents, r.ComponentsFromA)
	assert.Equal(t, 0, r.ComponentsFromB)
	assert.Contains(t, r.OffspringCode, "def helper")
}

func TestFuseUniformDeterministic(t *testing.T) {
	e := NewEngine()
	r1 := e.Fuse(parentA, parentB, Uniform)
	r2 := e.Fuse(parentA, parentB, Uniform)

	assert.Equal(t, r1.OffspringCode, r2.OffspringCode)
}

func TestFuseUniformUnevenParents(t *testing.T) {
	a := "def only_a():\n    return 1\n"
	b := "def one():\n    return 1\n\ndef two():\n    return 2\n\ndef three():\n    return 3\n"

	r := NewEngine().Fuse(a, b, Uniform)
	assert.Equal(t, 3, r.OffspringComponents)
	assert.Contains(t, r.OffspringCode, "def two")
	assert.Contains(t, r.OffspringCode, "def three")
}

func TestFuseUnparseableParentDegenerates(t *testing.T) {
	r := NewEngine().Fuse("def broken(:", parentB, Specialize)

	// The raw component survives alongside B's components.
	assert.Equal(t, 1, r.ParentAComponents)
	assert.Contains(t, r.OffspringCode, "def extra")
}

func TestAssembleOrdering(t *testing.T) {
	r := NewEngine().Fuse(parentA, parentB, Specialize)

	importPos := strings.Index(r.OffspringCode, "import os")
	constPos := strings.Index(r.OffspringCode, "PHI")
	funcPos := strings.Index(r.OffspringCode, "def compute")
	classPos := strings.Index(r.OffspringCode, "class Engine")

	require.True(t, importPos >= 0 && constPos >= 0 && funcPos >= 0 && classPos >= 0)
	assert.Less(t, importPos, constPos)
	assert.Less(t, constPos, funcPos)
	assert.Less(t, funcPos, classPos)
}

func TestComponentScore(t *testing.T) {
	e := NewEngine()

	cases := []struct {
		name string
		comp pyast.Component
		want float64
	}{
		{
			"bare function",
			pyast.Component{Kind: pyast.KindFunction, Source: "def f():\n    return 1"},
			0.5,
		},
		{
			"documented and typed",
			pyast.Component{Kind: pyast.KindFunction, Source: "def f(x: int) -> int:\n    \"\"\"doc\"\"\"\n    return x"},
			0.7,
		},
		{
			"domain keyword",
			pyast.Component{Kind: pyast.KindFunction, Source: "def f():\n    return coherence()"},
			0.6,
		},
		{
			"async with error handling",
			pyast.Component{Kind: pyast.KindFunction, Source: "async def f():\n    try:\n        pass\n    except ValueError:\n        pass", Async: true},
			0.6,
		},
		{
			"complexity penalty",
			pyast.Component{Kind: pyast.KindFunction, Source: "def f():\n    return 1", Complexity: 11},
			0.4,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, e.componentScore(tc.comp), 1e-9)
		})
	}
}

func TestCoherenceRange(t *testing.T) {
	r := NewEngine().Fuse(parentA, parentB, Specialize)
	assert.GreaterOrEqual(t, r.Coherence, 0.0)
	assert.LessOrEqual(t, r.Coherence, 1.0)
	// Specialize keeps every name from both parents, so coverage is full.
	assert.Greater(t, r.Coherence, 0.9)
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, Crossover, ParseStrategy("crossover"))
	assert.Equal(t, Uniform, ParseStrategy(" UNIFORM "))
	assert.Equal(t, Interleave, ParseStrategy("interleave"))
	assert.Equal(t, Specialize, ParseStrategy("anything else"))
	assert.Equal(t, Specialize, ParseStrategy(""))
}
