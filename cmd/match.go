package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/extract"
	"github.com/spigell/resume-matcher/internal/matcher"
	"github.com/spigell/resume-matcher/internal/ranking"
	"github.com/spigell/resume-matcher/internal/retrieval"
)

var matchCmd = &cobra.Command{
	Use:   "match [vacancy text]",
	Short: "Find the resumes that best match a vacancy",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runMatch(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("file", "", "read the vacancy from a .txt, .md, .docx or .pdf file")
	matchCmd.Flags().IntP("top-n", "n", 0, "number of results (default is match.top-n)")
	matchCmd.Flags().Float64("min-similarity", -1, "minimum cosine similarity (default is match.min-similarity)")
	matchCmd.Flags().Bool("judge", false, "re-rank the candidates with the AI judge")
	matchCmd.Flags().Int("candidates", 0, "candidates judged before truncating (default is match.candidates)")
	matchCmd.Flags().String("score-range", "", "keep only final scores in MIN-MAX, e.g. 70-100")
	addOutputFlag(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) {
	d := newDeps()
	defer d.Close()

	request, err := matchRequest(cmd, args, d.config.Match)
	if err != nil {
		d.fatal("preparing the match request", err)
	}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		text, err := extract.Default(extract.ExecRunner()).Extract(d.ctx, file)
		if err != nil {
			d.fatal("reading the vacancy", err)
		}
		request.Text = extract.Clean(text)
	}
	if strings.TrimSpace(request.Text) == "" {
		d.fatal("vacancy text is required", errors.New("pass it as an argument or with --file"))
	}

	store, err := d.Store()
	if err != nil {
		d.fatal("opening the store", err)
	}

	embedder, err := d.Embedder()
	if err != nil {
		d.fatal("creating the embedder", err)
	}

	var judge ai.Judge
	if request.UseJudge {
		judge, err = d.Judge()
		if err != nil {
			d.fatal("creating the judge", err)
		}
	}

	service := matcher.NewService(embedder, retrieval.NewEngine(store, d.logger), judge, matcher.Options{
		Concurrency:       d.config.AI.Concurrency,
		RequestsPerSecond: d.config.AI.RequestsPerSecond,
		Timeout:           d.config.AI.Timeout,
	}, d.logger)

	result, err := service.Match(d.ctx, request)
	if err != nil {
		d.fatal("matching failed", err)
	}

	if err := render(cmd, result, func(w io.Writer) error { return printMatches(w, result) }); err != nil {
		d.logger.Error("rendering the result", zap.Error(err))
	}
}

func matchRequest(cmd *cobra.Command, args []string, cfg *MatchConfig) (matcher.Request, error) {
	request := matcher.Request{
		TopN:          cfg.TopN,
		MinSimilarity: cfg.MinSimilarity,
		Candidates:    cfg.Candidates,
	}
	if len(args) == 1 {
		request.Text = extract.Clean(args[0])
	}

	if n, _ := cmd.Flags().GetInt("top-n"); n > 0 {
		request.TopN = n
	}
	if request.TopN <= 0 {
		request.TopN = matcher.DefaultTopN
	}
	if s, _ := cmd.Flags().GetFloat64("min-similarity"); s >= 0 {
		request.MinSimilarity = s
	}
	if c, _ := cmd.Flags().GetInt("candidates"); c > 0 {
		request.Candidates = c
	}
	if request.Candidates <= 0 {
		request.Candidates = matcher.DefaultCandidates
	}
	request.UseJudge, _ = cmd.Flags().GetBool("judge")

	raw, _ := cmd.Flags().GetString("score-range")
	scoreRange, err := ranking.ParseRange(raw)
	if err != nil {
		return request, err
	}
	request.ScoreRange = scoreRange

	return request, nil
}

func printMatches(w io.Writer, r *matcher.Result) error {
	if r.Requirements != nil {
		fmt.Fprintf(w, "vacancy\t%s\n", r.Requirements.JobTitle)
		if len(r.Requirements.MustHaveSkills) > 0 {
			fmt.Fprintf(w, "must have\t%s\n", strings.Join(r.Requirements.MustHaveSkills, ", "))
		}
	}
	if len(r.Matches) == 0 {
		_, err := fmt.Fprintln(w, "no matching resumes")
		return err
	}

	fmt.Fprintln(w, "#\tSCORE\tSIMILARITY\tLEVEL\tNAME\tLOCATION")
	for i, m := range r.Matches {
		level := "-"
		if m.Verdict != nil {
			level = string(m.Verdict.Level)
		}
		fmt.Fprintf(w, "%d\t%.2f\t%.3f\t%s\t%s\t%s\n", i+1, m.Score, m.Similarity, level, m.Name, m.Location)
	}

	if r.Degraded > 0 {
		fmt.Fprintf(w, "\n%d of %d verdicts fell back after judge failures\n", r.Degraded, r.Judged)
	}
	if r.Filter.Dropped > 0 {
		fmt.Fprintf(w, "%d results outside the score range were dropped\n", r.Filter.Dropped)
	}
	return nil
}
