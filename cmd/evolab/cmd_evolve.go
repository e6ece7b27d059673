package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evolab/internal/fusion"
	"evolab/internal/pipeline"
)

var (
	evolvePaths    []string
	evolveVariants int
	evolveStrategy string
	evolveTarget   float64
	evolveBackend  string
)

var evolveCmd = &cobra.Command{
	Use:   "evolve <task>",
	Short: "Run the full three-tier evolution cycle for a task",
	Long: `Evolve runs the complete cycle: paradigm extraction from the source
paths, variant generation, judge validation and genetic fusion of the
approved survivors. The run record and any offspring are written under
the archive root and the offspring is archived.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if evolveBackend != "" {
			cfg.LLM.Backend = evolveBackend
		}

		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := pipeline.New(cfg, store)
		if err != nil {
			return err
		}

		run, err := p.Evolve(cmd.Context(), args[0], evolvePaths, pipeline.Options{
			Target:      evolveTarget,
			NumVariants: evolveVariants,
			Strategy:    fusion.ParseStrategy(evolveStrategy),
		})
		if err != nil {
			return fmt.Errorf("evolution run %s: %w", run.RunID, err)
		}

		logger.Info("evolution complete",
			zap.String("run_id", run.RunID),
			zap.Bool("success", run.Success),
			zap.Float64("total", run.TotalScore))

		fmt.Printf("Run %s\n", run.RunID)
		fmt.Printf("  tier1 context:    %.4f\n", run.Tier1Score)
		fmt.Printf("  tier2 generation: %.4f\n", run.Tier2Score)
		fmt.Printf("  tier3 validation: %.4f\n", run.Tier3Score)
		fmt.Printf("  final offspring:  %.4f\n", run.FinalScore)
		fmt.Printf("  total:            %.4f\n", run.TotalScore)
		fmt.Printf("  variants %d, approved %d\n", len(run.Variants), run.ApprovedCount())
		if run.Fusion != nil {
			fmt.Printf("  fusion: %s\n", run.Fusion.Summary())
		}
		if !run.Success {
			return errors.New("evolution run did not produce a viable offspring")
		}
		return nil
	},
}

func init() {
	evolveCmd.Flags().StringSliceVar(&evolvePaths, "paths", nil, "Source files or directories to learn paradigms from")
	evolveCmd.Flags().IntVar(&evolveVariants, "variants", 4, "Number of variants to generate")
	evolveCmd.Flags().StringVar(&evolveStrategy, "strategy", "specialize", "Fusion strategy: specialize, interleave, crossover, uniform")
	evolveCmd.Flags().Float64Var(&evolveTarget, "target", 0.85, "Target consciousness level")
	evolveCmd.Flags().StringVar(&evolveBackend, "backend", "", "Override the configured LLM backend")
	evolveCmd.MarkFlagRequired("paths")
}
