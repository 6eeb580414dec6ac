package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/extract"
	"github.com/spigell/resume-matcher/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import [directory]",
	Short: "Import resumes from a directory and remove records of deleted files",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImport(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().IntP("workers", "w", 0, "parallel workers (default is import.workers)")
	importCmd.Flags().BoolP("force", "f", false, "reprocess files even when their content did not change")
	importCmd.Flags().Bool("dry-run", false, "report what would be imported and deleted without changing anything")
	importCmd.Flags().Int("limit", 0, "import only the first N files")
	importCmd.Flags().Bool("only-sync", false, "skip the import and only delete records of missing files")
	importCmd.Flags().Bool("no-profile", false, "do not extract structured profiles with the AI judge")
	addOutputFlag(importCmd)
}

func runImport(cmd *cobra.Command, args []string) {
	d := newDeps()
	defer d.Close()

	cfg := d.config.Import
	dir := cfg.Directory
	if len(args) == 1 {
		dir = args[0]
	}

	opts := ingest.Options{
		Workers:         cfg.Workers,
		ErrorSamples:    cfg.ErrorSamples,
		DocumentTimeout: cfg.DocumentTimeout,
	}
	if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
		opts.Workers = w
	}
	opts.ForceUpdate, _ = cmd.Flags().GetBool("force")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.OnlySync, _ = cmd.Flags().GetBool("only-sync")

	store, err := d.Store()
	if err != nil {
		d.fatal("opening the store", err)
	}

	noProfile, _ := cmd.Flags().GetBool("no-profile")
	embedder, profiles := importModels(d, opts, noProfile)

	orchestrator, err := ingest.NewOrchestrator(ingest.Deps{
		Store:     store,
		Extractor: extract.Default(extract.ExecRunner()),
		Embedder:  embedder,
		Profiles:  profiles,
		Clean:     extract.Clean,
	}, d.logger)
	if err != nil {
		d.fatal("creating the importer", err)
	}

	d.logger.Info("starting the import", zap.String("version", version), zap.String("directory", dir))

	summary, err := orchestrator.Import(d.ctx, dir, opts)
	if summary != nil {
		if rerr := render(cmd, summary, func(w io.Writer) error { return printSummary(w, summary) }); rerr != nil {
			d.logger.Error("rendering the summary", zap.Error(rerr))
		}
	}
	if err != nil {
		d.fatal("import failed", err)
	}
}

// importModels builds the embedder and the profile extractor only for runs that
// store documents.
func importModels(d *deps, opts ingest.Options, noProfile bool) (ingest.Embedder, ai.ProfileExtractor) {
	if !opts.NeedsModels() {
		return nil, nil
	}

	embedder, err := d.Embedder()
	if err != nil {
		d.fatal("creating the embedder", err)
	}

	if noProfile {
		return embedder, nil
	}
	profiles, err := d.Profiles()
	if err != nil {
		d.logger.Warn("skipping structured profile extraction", zap.Error(err))
		return embedder, nil
	}
	return embedder, profiles
}

func printSummary(w io.Writer, s *ingest.Summary) error {
	fmt.Fprintf(w, "run\t%s\n", s.RunID)
	fmt.Fprintf(w, "directory\t%s\n", s.Directory)
	fmt.Fprintf(w, "discovered\t%d\n", s.Discovered)
	if s.DryRun {
		fmt.Fprintf(w, "dry run\tyes\n")
	}

	states := make([]string, 0, len(s.Counts))
	for state := range s.Counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(w, "%s\t%d\n", state, s.Counts[ingest.State(state)])
	}
	fmt.Fprintf(w, "succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(w, "failed\t%d\n", s.Failed)

	for _, sample := range s.ErrorSamples {
		fmt.Fprintf(w, "error\t%s\n", sample)
	}

	if s.Sync != nil {
		fmt.Fprintf(w, "on disk / stored\t%d / %d\n", s.Sync.OnDisk, s.Sync.Stored)
		for _, location := range s.Sync.Stale {
			fmt.Fprintf(w, "stale\t%s\n", location)
		}
		fmt.Fprintf(w, "deleted\t%d\n", s.Sync.Deleted)
	}

	_, err := fmt.Fprintf(w, "took\t%s\n", s.Took.Round(1e6))
	return err
}
