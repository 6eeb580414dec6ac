package cmd

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/domain"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Inspect or delete a stored resume",
}

var resumeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a stored resume",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		d := newDeps()
		defer d.Close()

		id := parseID(d, args[0])
		doc, err := newAdmin(d).Get(d.ctx, id)
		if err != nil {
			d.fatal("getting the resume", err)
		}

		if err := render(cmd, doc, func(w io.Writer) error { return printDocument(w, doc) }); err != nil {
			d.logger.Error("rendering the resume", zap.Error(err))
		}
	},
}

var resumeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored resume",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		d := newDeps()
		defer d.Close()

		id := parseID(d, args[0])
		err := newAdmin(d).Delete(d.ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			d.logger.Warn("resume not found", zap.Int64("document_id", id))
		case err != nil:
			d.fatal("deleting the resume", err)
		default:
			d.logger.Info("resume deleted", zap.Int64("document_id", id))
		}
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.AddCommand(resumeGetCmd, resumeDeleteCmd)
	addOutputFlag(resumeGetCmd)
}

func parseID(d *deps, raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		d.fatal("parsing the resume id", fmt.Errorf("%q is not a valid id: %w", raw, domain.ErrInvalidInput))
	}
	return id
}

func printDocument(w io.Writer, doc *domain.Document) error {
	fmt.Fprintf(w, "id\t%d\n", doc.ID)
	fmt.Fprintf(w, "location\t%s\n", doc.Location)
	fmt.Fprintf(w, "content hash\t%s\n", doc.ContentHash)
	fmt.Fprintf(w, "embedding\t%t\n", doc.HasEmbedding())
	fmt.Fprintf(w, "updated\t%s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))

	keys := make([]string, 0, len(doc.Fields))
	for k := range doc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, doc.Fields[k])
	}
	_, err := fmt.Fprintf(w, "text\t%d characters\n", len([]rune(doc.NormalizedText)))
	return err
}
