package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/domain"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		d := newDeps()
		defer d.Close()

		stats, err := newAdmin(d).Stats(d.ctx)
		if err != nil {
			d.fatal("collecting stats", err)
		}

		if err := render(cmd, stats, func(w io.Writer) error { return printStats(w, stats) }); err != nil {
			d.logger.Error("rendering stats", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addOutputFlag(statsCmd)
}

func printStats(w io.Writer, s *domain.Stats) error {
	_, err := fmt.Fprintf(w, "resumes\t%d\nwith embedding\t%d\nwith parsed data\t%d\n", s.Total, s.WithEmbedding, s.WithFields)
	return err
}
