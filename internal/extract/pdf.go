package extract

import (
	"context"
	"fmt"
	"os/exec"
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecRunner runs commands on the host.
func ExecRunner() CommandRunner {
	return execRunner{}
}

// PDF extracts text with poppler's pdftotext.
type PDF struct {
	runner CommandRunner
}

func NewPDF(runner CommandRunner) *PDF {
	if runner == nil {
		runner = ExecRunner()
	}
	return &PDF{runner: runner}
}

func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	out, err := p.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext (install poppler-utils): %w", err)
	}
	return string(out), nil
}
