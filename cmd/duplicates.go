package cmd

import (
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/corpus"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Inspect and clean resumes stored with identical content",
}

var duplicatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups of resumes sharing the same content",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		d := newDeps()
		defer d.Close()

		admin := newAdmin(d)
		report, err := admin.ListDuplicates(d.ctx)
		if err != nil {
			d.fatal("listing duplicates", err)
		}

		if err := render(cmd, report, func(w io.Writer) error { return printDuplicates(w, report) }); err != nil {
			d.logger.Error("rendering the report", zap.Error(err))
		}
	},
}

var duplicatesCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all but the most recently updated resume of every duplicate group",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		runClean(cmd)
	},
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)
	duplicatesCmd.AddCommand(duplicatesListCmd, duplicatesCleanCmd)

	duplicatesCleanCmd.Flags().Bool("dry-run", true, "only report what would be deleted")
	duplicatesCleanCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	addOutputFlag(duplicatesListCmd)
	addOutputFlag(duplicatesCleanCmd)
}

func runClean(cmd *cobra.Command) {
	d := newDeps()
	defer d.Close()

	admin := newAdmin(d)
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	yes, _ := cmd.Flags().GetBool("yes")

	plan, err := admin.CleanDuplicates(d.ctx, true)
	if err != nil {
		d.fatal("planning the clean up", err)
	}

	if dryRun || len(plan.Removed) == 0 {
		if err := render(cmd, plan, func(w io.Writer) error { return printClean(w, plan) }); err != nil {
			d.logger.Error("rendering the report", zap.Error(err))
		}
		return
	}

	if !yes {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Delete %d duplicate resumes?", len(plan.Removed)),
			Items: []string{PromptNo, PromptYes},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			d.fatal("exiting", err)
		}
		if answer != PromptYes {
			d.logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	report, err := admin.CleanDuplicates(d.ctx, false)
	if err != nil {
		d.fatal("cleaning duplicates", err)
	}

	if err := render(cmd, report, func(w io.Writer) error { return printClean(w, report) }); err != nil {
		d.logger.Error("rendering the report", zap.Error(err))
	}
}

func newAdmin(d *deps) *corpus.Admin {
	store, err := d.Store()
	if err != nil {
		d.fatal("opening the store", err)
	}
	return corpus.NewAdmin(store, d.logger)
}

func printDuplicates(w io.Writer, r *corpus.DuplicateReport) error {
	if r.TotalGroups == 0 {
		_, err := fmt.Fprintln(w, "no duplicates found")
		return err
	}

	for _, g := range r.Groups {
		fmt.Fprintf(w, "%s\t%d copies\n", g.HashPrefix, g.Count)
		for i, m := range g.Members {
			mark := " "
			if i == 0 {
				mark = "*"
			}
			fmt.Fprintf(w, "  %s %d\t%s\t%s\n", mark, m.ID, m.Location, m.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}
	_, err := fmt.Fprintf(w, "groups\t%d\nduplicates\t%d\n", r.TotalGroups, r.TotalDuplicates)
	return err
}

func printClean(w io.Writer, r *corpus.CleanReport) error {
	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	for _, m := range r.Removed {
		fmt.Fprintf(w, "%s\t%d\t%s\n", verb, m.ID, m.Location)
	}
	_, err := fmt.Fprintf(w, "kept\t%d\n%s\t%d\n", len(r.Kept), verb, len(r.Removed))
	return err
}
