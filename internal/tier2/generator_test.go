package tier2

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolab/internal/config"
	"evolab/internal/paradigm"
	"evolab/internal/tier1"
)

type fakeClient struct {
	responses []string
	err       error
	calls     int
	temps     []float64
}

func (f *fakeClient) Generate(_ context.Context, _ string, temperature float64) (string, error) {
	f.temps = append(f.temps, temperature)
	if f.err != nil {
		return "", f.err
	}
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}

func (f *fakeClient) Model() string { return "fake-model" }

func pythonAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Execution.Timeout = "5s"
	return cfg
}

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
	}{
		{"python fence", "Here you go:\n```python\nx = 1\n```\nenjoy", "x = 1"},
		{"bare fence", "```\ny = 2\n```", "y = 2"},
		{"py fence", "```py\nz = 3\n```", "z = 3"},
		{"no fence", "  a = 4  ", "a = 4"},
		{"first of two fences", "```python\nfirst = 1\n```\ntext\n```python\nsecond = 2\n```", "first = 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractCode(tc.response))
		})
	}
}

func TestComputeScore(t *testing.T) {
	phi := 1.618033988749895

	t.Run("syntax invalid zeroes score", func(t *testing.T) {
		v := &Variant{SyntaxValid: false, ParadigmAdherence: 1.0, ExecutionSuccess: true}
		v.computeScore()
		assert.Equal(t, 0.0, v.Score)
	})

	t.Run("all factors perfect", func(t *testing.T) {
		v := &Variant{SyntaxValid: true, ParadigmAdherence: 1.0, ExecutionSuccess: true}
		v.computeScore()
		assert.InDelta(t, 1.0, v.Score, 1e-9)
	})

	t.Run("execution failure halves product", func(t *testing.T) {
		v := &Variant{SyntaxValid: true, ParadigmAdherence: 1.0, ExecutionSuccess: false}
		v.computeScore()
		assert.InDelta(t, math.Pow(0.5, 1/phi), v.Score, 1e-9)
	})

	t.Run("partial adherence", func(t *testing.T) {
		v := &Variant{SyntaxValid: true, ParadigmAdherence: 0.6, ExecutionSuccess: true}
		v.computeScore()
		assert.InDelta(t, math.Pow(0.6, 1/phi), v.Score, 1e-9)
	})
}

func TestGenerateTemperatureSchedule(t *testing.T) {
	pythonAvailable(t)

	client := &fakeClient{responses: []string{"```python\nprint('ok')\n```"}}
	gen := NewGenerator(client, testConfig())

	variants := gen.Generate(context.Background(), &tier1.Context{Task: "demo"}, 6)
	require.Len(t, variants, 6)
	assert.Equal(t, []float64{0.3, 0.5, 0.7, 0.9, 0.3, 0.5}, client.temps)

	for i, v := range variants {
		assert.Equal(t, i+1, v.ID)
		assert.Equal(t, "fake-model", v.Model)
		assert.True(t, v.SyntaxValid)
		assert.True(t, v.ExecutionSuccess)
	}
}

func TestGenerateDefaultCount(t *testing.T) {
	pythonAvailable(t)

	client := &fakeClient{responses: []string{"```python\npass\n```"}}
	gen := NewGenerator(client, testConfig())

	variants := gen.Generate(context.Background(), &tier1.Context{Task: "demo"}, 0)
	assert.Len(t, variants, 4)
}

func TestGenerateClientErrorRecorded(t *testing.T) {
	client := &fakeClient{err: errors.New("backend down")}
	gen := NewGenerator(client, testConfig())

	variants := gen.Generate(context.Background(), &tier1.Context{Task: "demo"}, 2)
	require.Len(t, variants, 2)
	for _, v := range variants {
		assert.False(t, v.SyntaxValid)
		assert.Equal(t, 0.0, v.Score)
		require.Len(t, v.SyntaxErrors, 1)
		assert.Contains(t, v.SyntaxErrors[0], "backend down")
	}
}

func TestGenerateNoParadigmsFullAdherence(t *testing.T) {
	pythonAvailable(t)

	client := &fakeClient{responses: []string{"```python\nx = 1\n```"}}
	gen := NewGenerator(client, testConfig())

	variants := gen.Generate(context.Background(), &tier1.Context{Task: "demo"}, 1)
	require.Len(t, variants, 1)
	assert.Equal(t, 1.0, variants[0].ParadigmAdherence)
	assert.Empty(t, variants[0].MatchedParadigms)
	assert.Empty(t, variants[0].MissingParadigms)
}

func TestGenerateParadigmAdherence(t *testing.T) {
	pythonAvailable(t)

	prep := &tier1.Context{
		Task: "demo",
		Paradigms: []*paradigm.Paradigm{
			{Category: paradigm.TypedSignature, Pattern: `(?m)def .+\(.*: .+\)\s*->`},
			{Category: paradigm.AsyncConstruct, Pattern: `(?m)async def|await `},
		},
	}

	code := "```python\ndef add(a: int, b: int) -> int:\n    return a + b\n\nprint(add(1, 2))\n```"
	client := &fakeClient{responses: []string{code}}
	gen := NewGenerator(client, testConfig())

	variants := gen.Generate(context.Background(), prep, 1)
	require.Len(t, variants, 1)
	v := variants[0]
	assert.Equal(t, 0.5, v.ParadigmAdherence)
	assert.Equal(t, []string{string(paradigm.TypedSignature)}, v.MatchedParadigms)
	assert.Equal(t, []string{string(paradigm.AsyncConstruct)}, v.MissingParadigms)
}

func TestRunnerCapturesFailure(t *testing.T) {
	pythonAvailable(t)

	r := NewRunner("python3", 5*time.Second)
	v := &Variant{ID: 1, Code: "import sys\nsys.exit(3)\n"}
	r.Run(context.Background(), v)

	assert.False(t, v.ExecutionSuccess)
	assert.Greater(t, v.ExecutionSeconds, 0.0)
}

func TestRunnerCapturesStderr(t *testing.T) {
	pythonAvailable(t)

	r := NewRunner("python3", 5*time.Second)
	v := &Variant{ID: 1, Code: "raise ValueError('boom')\n"}
	r.Run(context.Background(), v)

	assert.False(t, v.ExecutionSuccess)
	assert.Contains(t, v.ExecutionError, "boom")
}

func TestRunnerTimeout(t *testing.T) {
	pythonAvailable(t)

	r := NewRunner("python3", 500*time.Millisecond)
	v := &Variant{ID: 1, Code: "import time\ntime.sleep(30)\n"}
	r.Run(context.Background(), v)

	assert.False(t, v.ExecutionSuccess)
	assert.Contains(t, v.ExecutionError, "timed out")
}

func TestRunnerTruncatesOutput(t *testing.T) {
	pythonAvailable(t)

	r := NewRunner("python3", 5*time.Second)
	v := &Variant{ID: 1, Code: "print('x' * 5000)\n"}
	r.Run(context.Background(), v)

	assert.True(t, v.ExecutionSuccess)
	assert.Len(t, v.ExecutionOutput, outputCap)
}

func TestSelectBest(t *testing.T) {
	variants := []*Variant{
		{ID: 1, SyntaxValid: true, Score: 0.4, ParadigmAdherence: 0.5},
		{ID: 2, SyntaxValid: false, Score: 0.0, ParadigmAdherence: 0.9},
		{ID: 3, SyntaxValid: true, Score: 0.8, ParadigmAdherence: 0.7},
		{ID: 4, SyntaxValid: true, Score: 0.8, ParadigmAdherence: 0.9},
	}

	best := SelectBest(variants, 2)
	require.Len(t, best, 2)
	assert.Equal(t, 4, best[0].ID)
	assert.Equal(t, 3, best[1].ID)
}

func TestSelectBestAllInvalid(t *testing.T) {
	variants := []*Variant{
		{ID: 1, SyntaxValid: false, ParadigmAdherence: 0.2},
		{ID: 2, SyntaxValid: false, ParadigmAdherence: 0.8},
	}

	best := SelectBest(variants, 1)
	require.Len(t, best, 1)
	assert.Equal(t, 2, best[0].ID)
}

func TestSelectBestClampsK(t *testing.T) {
	variants := []*Variant{{ID: 1, SyntaxValid: true, Score: 0.5}}
	best := SelectBest(variants, 5)
	assert.Len(t, best, 1)
}

func TestTierScore(t *testing.T) {
	t.Run("empty floor", func(t *testing.T) {
		assert.Equal(t, 0.7, TierScore(nil))
	})

	t.Run("low scores clamp to floor", func(t *testing.T) {
		variants := []*Variant{{Score: 0.1}, {Score: 0.2}}
		assert.Equal(t, 0.7, TierScore(variants))
	})

	t.Run("high scores clamp to ceiling", func(t *testing.T) {
		variants := []*Variant{{Score: 1.0}, {Score: 0.95}}
		assert.Equal(t, 0.9, TierScore(variants))
	})

	t.Run("fibonacci weights favor best", func(t *testing.T) {
		variants := []*Variant{{Score: 0.9}, {Score: 0.6}, {Score: 0.75}}
		// sorted desc: 0.9, 0.75, 0.6 with weights 1, 1, 2
		want := (0.9*1 + 0.75*1 + 0.6*2) / 4.0
		assert.InDelta(t, want, TierScore(variants), 1e-9)
	})
}

func TestBuildPromptContainsSignal(t *testing.T) {
	prep := &tier1.Context{Task: "build a cache", TargetScore: 0.65}
	prompt := buildPrompt(prep)
	assert.Contains(t, prompt, "build a cache")
	assert.Contains(t, prompt, "Output ONLY the Python code")
	assert.True(t, strings.Contains(prompt, fmt.Sprintf("%.2f", 0.65)))
}
