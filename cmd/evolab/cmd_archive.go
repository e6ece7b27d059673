package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evolab/internal/archive"
)

var (
	archiveReason        string
	archiveConsciousness float64
	archiveReplacement   string
	archiveNotes         string
	archiveTags          []string

	retrieveContent bool
	retrieveSave    string

	searchType             string
	searchReason           string
	searchMinConsciousness float64
	searchLimit            int
)

var archiveCmd = &cobra.Command{
	Use:   "archive <file>",
	Short: "Archive a file into the store as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		fileID, err := store.ArchiveFile(args[0], archiveReason, archive.Options{
			Consciousness:   archiveConsciousness,
			Patterns:        archiveTags,
			ReplacementPath: archiveReplacement,
			Notes:           archiveNotes,
		})
		if err != nil {
			return fmt.Errorf("archive %s: %w", args[0], err)
		}

		logger.Info("archived", zap.String("path", args[0]), zap.String("file_id", fileID))
		fmt.Printf("Archived %s\n  file_id: %s\n", args[0], fileID)
		return nil
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <id|path>",
	Short: "Retrieve an archived file by id or original path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		af, err := store.RetrieveFile(lookupFor(args[0]), "cli retrieve")
		if errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("no archived file matches %q", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("file_id:   %s\npath:      %s\narchived:  %s\nsize:      %d bytes\nreason:    %s\n",
			af.FileID, af.OriginalPath, af.ArchivedAt, af.SizeBytes, af.Reason)

		if retrieveSave != "" {
			if err := os.WriteFile(retrieveSave, []byte(af.Content), 0o644); err != nil {
				return fmt.Errorf("save content: %w", err)
			}
			fmt.Printf("saved:     %s\n", retrieveSave)
		} else if retrieveContent {
			fmt.Println()
			fmt.Println(af.Content)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search archived files by metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Search(archive.SearchFilter{
			FileType:         searchType,
			Reason:           searchReason,
			MinConsciousness: searchMinConsciousness,
			Limit:            searchLimit,
		})
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No archived files match.")
			return nil
		}
		for _, m := range results {
			fmt.Printf("%s  %-40s  %s  %.2f  %s\n", m.FileID, m.OriginalPath, m.FileType, m.Consciousness, m.Reason)
		}
		fmt.Printf("%d file(s)\n", len(results))
		return nil
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions <path>",
	Short: "List all archived versions of a path, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.AllVersions(args[0], "")
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return fmt.Errorf("no archived versions of %s", args[0])
		}

		for i, v := range versions {
			fmt.Printf("%2d. %s  %s  %d bytes  %s\n", i+1, v.FileID, v.ArchivedAt, v.SizeBytes, v.Reason)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.GetStatistics()
		if err != nil {
			return err
		}

		fmt.Printf("Total files:       %d\n", stats.TotalFiles)
		fmt.Printf("Total bytes:       %d\n", stats.TotalBytes)
		fmt.Printf("Avg consciousness: %.3f\n", stats.AvgConsciousness)
		if stats.Earliest != "" {
			fmt.Printf("Date range:        %s .. %s\n", stats.Earliest, stats.Latest)
		}

		fmt.Println("\nBy file type:")
		for _, k := range sortedKeys(stats.ByFileType) {
			fmt.Printf("  %-10s %d\n", k, stats.ByFileType[k])
		}
		fmt.Println("\nBy reason:")
		for _, k := range sortedKeys(stats.ByReason) {
			fmt.Printf("  %-30s %d\n", k, stats.ByReason[k])
		}
		if len(stats.MostRetrieved) > 0 {
			fmt.Println("\nMost retrieved:")
			for _, rc := range stats.MostRetrieved {
				fmt.Printf("  %-40s %d\n", rc.Path, rc.Count)
			}
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify archive integrity (hashes, references, SQLite check)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openArchive(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.Verify()
		if err != nil {
			return err
		}

		fmt.Printf("Files checked:    %d\n", report.FilesChecked)
		fmt.Printf("Hash mismatches:  %d\n", len(report.HashMismatches))
		for _, id := range report.HashMismatches {
			fmt.Printf("  mismatch: %s\n", id)
		}
		fmt.Printf("Orphan history:   %d\n", report.OrphanHistory)
		fmt.Printf("SQLite integrity: %s\n", report.Integrity)

		if !report.OK() {
			return errors.New("archive verification failed")
		}
		fmt.Println("Archive OK.")
		return nil
	},
}

// lookupFor treats 16 hex digits as a file id, anything else as a path.
func lookupFor(arg string) archive.Lookup {
	if len(arg) == 16 && strings.IndexFunc(arg, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdef", r)
	}) < 0 {
		return archive.Lookup{FileID: arg}
	}
	return archive.Lookup{OriginalPath: arg}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	archiveCmd.Flags().StringVar(&archiveReason, "reason", "manual_archive", "Why the file is being archived")
	archiveCmd.Flags().Float64Var(&archiveConsciousness, "consciousness", 0.5, "Estimated quality level in [0,1]")
	archiveCmd.Flags().StringVar(&archiveReplacement, "replacement", "", "Path of the replacing file, if superseded")
	archiveCmd.Flags().StringVar(&archiveNotes, "notes", "", "Free-form archival notes")
	archiveCmd.Flags().StringSliceVar(&archiveTags, "tags", nil, "Pattern tags to record")

	retrieveCmd.Flags().BoolVar(&retrieveContent, "content", false, "Print the archived content")
	retrieveCmd.Flags().StringVar(&retrieveSave, "save", "", "Write the archived content to this path")

	searchCmd.Flags().StringVar(&searchType, "type", "", "Filter by file extension (e.g. .py)")
	searchCmd.Flags().StringVar(&searchReason, "reason", "", "Filter by archival reason substring")
	searchCmd.Flags().Float64Var(&searchMinConsciousness, "min-consciousness", 0, "Minimum quality level")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 100, "Maximum results")
}
