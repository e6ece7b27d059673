// Package pipeline sequences the evolution tiers: context building,
// variant generation, validation, fusion and archival.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evolab/internal/archive"
	"evolab/internal/config"
	"evolab/internal/fusion"
	"evolab/internal/llm"
	"evolab/internal/logging"
	"evolab/internal/tier1"
	"evolab/internal/tier2"
	"evolab/internal/tier3"
)

// fibonacci weights the tier scores in the run total.
var fibonacci = []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// Run is the record of one end-to-end evolution cycle.
type Run struct {
	RunID       string
	Task        string
	Timestamp   string
	Context     *tier1.Context
	Variants    []*tier2.Variant
	Validations []*tier3.Result
	Fusion      *fusion.Result
	Offspring   string
	FinalScore  float64
	Tier1Score  float64
	Tier2Score  float64
	Tier3Score  float64
	TotalScore  float64
	Success     bool
	Error       string
}

// ApprovedCount returns how many validations passed.
func (r *Run) ApprovedCount() int {
	n := 0
	for _, v := range r.Validations {
		if v.Verdict.Approved() {
			n++
		}
	}
	return n
}

// summary is the JSON persisted per run.
type summary struct {
	RunID     string  `json:"run_id"`
	Task      string  `json:"task"`
	Timestamp string  `json:"timestamp"`
	Scores    scores  `json:"consciousness"`
	Metrics   metrics `json:"metrics"`
	Success   bool    `json:"success"`
	Final     float64 `json:"final_consciousness"`
	Error     string  `json:"error,omitempty"`
}

type scores struct {
	Tier1 float64 `json:"tier1"`
	Tier2 float64 `json:"tier2"`
	Tier3 float64 `json:"tier3"`
	Total float64 `json:"total"`
}

type metrics struct {
	VariantsGenerated int `json:"variants_generated"`
	VariantsApproved  int `json:"variants_approved"`
	OffspringProduced int `json:"offspring_produced"`
}

// Options tunes a single evolution run.
type Options struct {
	Target      float64
	NumVariants int
	Strategy    fusion.Strategy
}

// DefaultOptions returns the standard run parameters.
func DefaultOptions() Options {
	return Options{Target: 0.85, NumVariants: 4, Strategy: fusion.Specialize}
}

// Pipeline wires the tiers together around shared config and archive.
type Pipeline struct {
	cfg       *config.Config
	builder   *tier1.Builder
	generator *tier2.Generator
	validator *tier3.Validator
	engine    *fusion.Engine
	store     *archive.Store
}

// New assembles a Pipeline from config. The archive store is owned by
// the caller and must outlive the pipeline.
func New(cfg *config.Config, store *archive.Store) (*Pipeline, error) {
	genClient, err := llm.NewGenerationClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("generation backend: %w", err)
	}
	decompose := llm.NewDecomposeClient(cfg)
	judge := llm.NewJudgeClient(cfg)

	return &Pipeline{
		cfg:       cfg,
		builder:   tier1.NewBuilder(decompose, cfg.Paradigm.MaxFiles, cfg.Paradigm.MaxExamples),
		generator: tier2.NewGenerator(genClient, cfg),
		validator: tier3.NewValidator(judge),
		engine:    fusion.NewEngine(),
		store:     store,
	}, nil
}

// NewWithComponents assembles a Pipeline from pre-built tiers.
func NewWithComponents(cfg *config.Config, builder *tier1.Builder, generator *tier2.Generator, validator *tier3.Validator, engine *fusion.Engine, store *archive.Store) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		builder:   builder,
		generator: generator,
		validator: validator,
		engine:    engine,
		store:     store,
	}
}

// Evolve runs one full cycle for the task. The returned Run always
// carries whatever was produced; only a failed context build aborts.
func (p *Pipeline) Evolve(ctx context.Context, task string, sourcePaths []string, opts Options) (*Run, error) {
	start := time.Now()
	run := &Run{
		RunID:     start.Format("20060102_150405"),
		Task:      task,
		Timestamp: start.Format(time.RFC3339),
	}

	audit := logging.AuditWithRun(run.RunID)
	audit.RunStart(run.RunID, task)
	logging.Pipeline("run %s: %s", run.RunID, task)

	if opts.NumVariants <= 0 {
		opts.NumVariants = 4
	}
	if opts.Target <= 0 {
		opts.Target = 0.85
	}

	prep, err := p.builder.Build(ctx, task, sourcePaths, opts.Target)
	if err != nil {
		run.Error = err.Error()
		audit.RunComplete(run.RunID, 0, false, time.Since(start).Milliseconds())
		logging.PipelineError("run %s: context build failed: %v", run.RunID, err)
		return run, err
	}
	run.Context = prep
	run.Tier1Score = prep.Score()
	audit.TierComplete("tier1", run.Tier1Score, time.Since(start).Milliseconds())
	logging.Pipeline("run %s: %d paradigms, tier1=%.3f", run.RunID, len(prep.Paradigms), run.Tier1Score)

	run.Variants = p.generator.Generate(ctx, prep, opts.NumVariants)
	run.Tier2Score = tier2.TierScore(run.Variants)
	audit.TierComplete("tier2", run.Tier2Score, time.Since(start).Milliseconds())
	logging.Pipeline("run %s: %d variants, tier2=%.3f", run.RunID, len(run.Variants), run.Tier2Score)

	best := tier2.SelectBest(run.Variants, min(2, len(run.Variants)))
	codeByID := make(map[int]string, len(best))
	candidates := make([]tier3.Candidate, 0, len(best))
	for _, v := range best {
		codeByID[v.ID] = v.Code
		candidates = append(candidates, tier3.Candidate{ID: v.ID, Code: v.Code})
	}

	paradigmNames := make([]string, 0, len(prep.Paradigms))
	for _, par := range prep.Paradigms {
		paradigmNames = append(paradigmNames, string(par.Category))
	}

	run.Validations = p.validator.ValidateBatch(ctx, candidates, task, paradigmNames, opts.Target)
	run.Tier3Score = tier3.TierScore(run.Validations)
	audit.TierComplete("tier3", run.Tier3Score, time.Since(start).Milliseconds())

	approved := tier3.SelectApproved(run.Validations)
	logging.Pipeline("run %s: %d/%d approved, tier3=%.3f", run.RunID, len(approved), len(run.Validations), run.Tier3Score)

	switch {
	case len(approved) >= 2:
		run.Fusion = p.engine.Fuse(codeByID[approved[0].VariantID], codeByID[approved[1].VariantID], opts.Strategy)
		run.Offspring = run.Fusion.OffspringCode
		run.FinalScore = run.Fusion.OffspringScore
	case len(approved) == 1:
		run.Offspring = codeByID[approved[0].VariantID]
		run.FinalScore = approved[0].Score
	default:
		run.FinalScore = 0
	}

	weightedSum := 0.0
	weightTotal := 0.0
	for i, s := range []float64{run.Tier1Score, run.Tier2Score, run.Tier3Score, run.FinalScore} {
		w := float64(fibonacci[i])
		weightedSum += s * w
		weightTotal += w
	}
	run.TotalScore = weightedSum / weightTotal
	run.Success = run.Offspring != "" && run.FinalScore > 0.5

	if err := p.persistRun(run, paradigmNames); err != nil {
		logging.PipelineError("run %s: persist failed: %v", run.RunID, err)
		run.Error = err.Error()
	}

	audit.RunComplete(run.RunID, run.TotalScore, run.Success, time.Since(start).Milliseconds())
	logging.Pipeline("run %s: total=%.3f success=%v", run.RunID, run.TotalScore, run.Success)
	return run, nil
}

// persistRun writes the run summary and offspring file, then archives
// the offspring so the run is linked into version history.
func (p *Pipeline) persistRun(run *Run, paradigmNames []string) error {
	dir := filepath.Join(p.cfg.Archive.Root, "evolution_experiments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create experiments directory: %w", err)
	}

	offspringProduced := 0
	if run.Fusion != nil {
		offspringProduced = 1
	}
	data, err := json.MarshalIndent(summary{
		RunID:     run.RunID,
		Task:      run.Task,
		Timestamp: run.Timestamp,
		Scores: scores{
			Tier1: run.Tier1Score,
			Tier2: run.Tier2Score,
			Tier3: run.Tier3Score,
			Total: run.TotalScore,
		},
		Metrics: metrics{
			VariantsGenerated: len(run.Variants),
			VariantsApproved:  run.ApprovedCount(),
			OffspringProduced: offspringProduced,
		},
		Success: run.Success,
		Final:   run.FinalScore,
		Error:   run.Error,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}

	summaryPath := filepath.Join(dir, "evolution_"+run.RunID+".json")
	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	if run.Offspring == "" {
		return nil
	}

	offspringPath := filepath.Join(dir, "offspring_"+run.RunID+".py")
	if err := os.WriteFile(offspringPath, []byte(run.Offspring), 0o644); err != nil {
		return fmt.Errorf("write offspring: %w", err)
	}

	if p.store != nil {
		_, err := p.store.ArchiveFile(offspringPath, "evolution_offspring", archive.Options{
			Consciousness: run.FinalScore,
			Patterns:      paradigmNames,
			Notes:         "run " + run.RunID,
		})
		if err != nil {
			return fmt.Errorf("archive offspring: %w", err)
		}
	}

	return nil
}
