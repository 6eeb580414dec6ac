package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
}

// render writes v in the format chosen by the --output flag. text renders the
// human readable form.
func render(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	format, _ := cmd.Flags().GetString("output")
	return renderTo(cmd.OutOrStdout(), format, v, text)
}

func renderTo(w io.Writer, format string, v any, text func(w io.Writer) error) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", outputText:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if err := text(tw); err != nil {
			return err
		}
		return tw.Flush()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
