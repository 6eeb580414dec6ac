package corpus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/domain"
)

const hashPrefixLength = 16

// Admin exposes the administrative operations over a corpus store.
type Admin struct {
	store  Store
	logger *zap.Logger
}

// DuplicateSummary describes a single duplicate group for operators.
type DuplicateSummary struct {
	HashPrefix  string               `json:"hash_prefix" yaml:"hash_prefix"`
	ContentHash string               `json:"content_hash" yaml:"content_hash"`
	Count       int                  `json:"count" yaml:"count"`
	Members     []domain.DocumentRef `json:"members" yaml:"members"`
}

// DuplicateReport lists every duplicate group in the corpus.
type DuplicateReport struct {
	Groups          []DuplicateSummary `json:"groups" yaml:"groups"`
	TotalGroups     int                `json:"total_groups" yaml:"total_groups"`
	TotalDuplicates int                `json:"total_duplicates" yaml:"total_duplicates"`
}

// CleanReport describes what a duplicate clean-up deleted, or would delete in dry run.
type CleanReport struct {
	DryRun  bool                 `json:"dry_run" yaml:"dry_run"`
	Kept    []domain.DocumentRef `json:"kept" yaml:"kept"`
	Removed []domain.DocumentRef `json:"removed" yaml:"removed"`
	Deleted int                  `json:"deleted" yaml:"deleted"`
}

func NewAdmin(store Store, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{store: store, logger: logger}
}

// ListDuplicates returns duplicate groups with the most recent member first.
func (a *Admin) ListDuplicates(ctx context.Context) (*DuplicateReport, error) {
	groups, err := a.store.ListDuplicateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list duplicate groups: %w", err)
	}

	report := &DuplicateReport{Groups: make([]DuplicateSummary, 0, len(groups))}
	for _, g := range groups {
		prefix := g.ContentHash
		if len(prefix) > hashPrefixLength {
			prefix = prefix[:hashPrefixLength]
		}
		report.Groups = append(report.Groups, DuplicateSummary{
			HashPrefix:  prefix,
			ContentHash: g.ContentHash,
			Count:       len(g.Members),
			Members:     g.Members,
		})
		report.TotalDuplicates += len(g.Members) - 1
	}
	report.TotalGroups = len(report.Groups)

	return report, nil
}

// CleanDuplicates deletes every member of each duplicate group except the most
// recently updated one. In dry run nothing is deleted.
func (a *Admin) CleanDuplicates(ctx context.Context, dryRun bool) (*CleanReport, error) {
	groups, err := a.store.ListDuplicateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list duplicate groups: %w", err)
	}

	report := &CleanReport{
		DryRun:  dryRun,
		Kept:    make([]domain.DocumentRef, 0, len(groups)),
		Removed: make([]domain.DocumentRef, 0),
	}

	ids := make([]int64, 0)
	for _, g := range groups {
		report.Kept = append(report.Kept, g.Members[0])
		for _, member := range g.Members[1:] {
			report.Removed = append(report.Removed, member)
			ids = append(ids, member.ID)
		}
	}

	if dryRun || len(ids) == 0 {
		a.logger.Info("duplicate clean-up planned",
			zap.Bool("dry_run", dryRun),
			zap.Int("groups", len(groups)),
			zap.Int("to_delete", len(ids)),
		)
		return report, nil
	}

	deleted, err := a.store.Delete(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("delete duplicates: %w", err)
	}
	report.Deleted = deleted

	a.logger.Info("duplicates deleted",
		zap.Int("groups", len(groups)),
		zap.Int("deleted", deleted),
	)

	return report, nil
}

// Stats counts the corpus.
func (a *Admin) Stats(ctx context.Context) (*domain.Stats, error) {
	total, err := a.store.Count(ctx, domain.CountAll)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	withEmbedding, err := a.store.Count(ctx, domain.CountWithEmbedding)
	if err != nil {
		return nil, fmt.Errorf("count embedded documents: %w", err)
	}
	withFields, err := a.store.Count(ctx, domain.CountWithFields)
	if err != nil {
		return nil, fmt.Errorf("count parsed documents: %w", err)
	}

	return &domain.Stats{
		Total:         total,
		WithEmbedding: withEmbedding,
		WithFields:    withFields,
	}, nil
}

// Get returns a single document by id.
func (a *Admin) Get(ctx context.Context, id int64) (*domain.Document, error) {
	return a.store.Get(ctx, id)
}

// Delete removes a single document, reporting domain.ErrNotFound when nothing was removed.
func (a *Admin) Delete(ctx context.Context, id int64) error {
	n, err := a.store.Delete(ctx, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
