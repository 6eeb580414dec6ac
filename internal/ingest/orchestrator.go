// Package ingest imports a directory of resumes into the corpus and keeps the
// corpus in step with the files on disk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/domain"
	"github.com/spigell/resume-matcher/internal/embedding"
	"github.com/spigell/resume-matcher/internal/hasher"
	"github.com/spigell/resume-matcher/internal/logger"
)

const DefaultErrorSamples = 5

type Extractor interface {
	Supports(path string) bool
	Extract(ctx context.Context, path string) (string, error)
}

type Embedder interface {
	GetOrCompute(ctx context.Context, text string, key embedding.Key, force bool) ([]float32, bool, error)
}

// Deps are the collaborators of an import run. Embedder is only needed by runs
// that store documents. Profiles is optional; without it documents are stored
// with empty structured fields.
type Deps struct {
	Store     corpus.Store
	Extractor Extractor
	Embedder  Embedder
	Profiles  ai.ProfileExtractor
	// Clean normalizes extracted text. Defaults to the identity.
	Clean func(string) string
}

type Options struct {
	Workers     int
	ForceUpdate bool
	DryRun      bool
	// Limit imports only the first Limit files in path order. Zero means all.
	Limit int
	// OnlySync skips the import and runs the deletion sync alone.
	OnlySync     bool
	ErrorSamples int
	// DocumentTimeout bounds the processing of a single file.
	DocumentTimeout time.Duration
}

// NeedsModels reports whether the run embeds and stores documents. Dry runs and
// sync-only runs never call a model.
func (o Options) NeedsModels() bool {
	return !o.DryRun && !o.OnlySync
}

type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

func NewOrchestrator(deps Deps, log *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("ingest requires a store and an extractor: %w", domain.ErrInvalidInput)
	}
	if deps.Clean == nil {
		deps.Clean = func(s string) string { return s }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: log.With(zap.String("component", "ingest"))}, nil
}

// Import processes every supported file under dir, then runs the deletion sync
// once all documents are done. Document failures are reported in the summary;
// only an unreachable store or a cancelled ctx fail the call. A cancelled run
// still returns the partial summary.
func (o *Orchestrator) Import(ctx context.Context, dir string, opts Options) (*Summary, error) {
	start := time.Now()
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ErrorSamples <= 0 {
		opts.ErrorSamples = DefaultErrorSamples
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	if opts.NeedsModels() && o.deps.Embedder == nil {
		return nil, fmt.Errorf("import without an embedder is limited to dry runs and sync: %w", domain.ErrInvalidInput)
	}

	summary := &Summary{RunID: uuid.NewString(), Directory: root, DryRun: opts.DryRun}
	log := logger.WithRun(o.logger, summary.RunID)

	if err := o.deps.Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("import aborted: %w", err)
	}

	files, err := Discover(root, o.deps.Extractor.Supports)
	if err != nil {
		return nil, err
	}
	summary.Discovered = len(files)

	if !opts.OnlySync {
		if opts.Limit > 0 && len(files) > opts.Limit {
			files = files[:opts.Limit]
		}

		log.Info("import started",
			zap.String("directory", root),
			zap.Int("files", len(files)),
			zap.Int("workers", opts.Workers),
			zap.Bool("force_update", opts.ForceUpdate),
			zap.Bool("dry_run", opts.DryRun),
		)

		summary.collect(o.run(ctx, log, files, opts), opts.ErrorSamples)
	} else {
		summary.collect(nil, opts.ErrorSamples)
	}

	if err := ctx.Err(); err != nil {
		summary.Took = time.Since(start)
		log.Warn("import cancelled, deletion sync skipped", zap.Int("succeeded", summary.Succeeded))
		return summary, err
	}

	report, err := o.sync(ctx, log, root, opts.DryRun)
	summary.Sync = report
	summary.Took = time.Since(start)
	if err != nil {
		return summary, err
	}

	log.Info("import finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("stale_deleted", report.Deleted),
		zap.Duration("took", summary.Took),
	)
	return summary, nil
}

// Sync deletes every stored document whose location is no longer a supported
// file under dir. In dry run the stale locations are only reported.
func (o *Orchestrator) Sync(ctx context.Context, dir string, dryRun bool) (*SyncReport, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	return o.sync(ctx, o.logger, root, dryRun)
}

func (o *Orchestrator) sync(ctx context.Context, log *zap.Logger, root string, dryRun bool) (*SyncReport, error) {
	files, err := Discover(root, o.deps.Extractor.Supports)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f] = struct{}{}
	}

	stored, err := o.deps.Store.AllLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("deletion sync: %w", err)
	}

	report := &SyncReport{DryRun: dryRun, OnDisk: len(onDisk), Stored: len(stored), Stale: []string{}}
	var ids []int64
	for location, id := range stored {
		if _, ok := onDisk[location]; ok {
			continue
		}
		report.Stale = append(report.Stale, location)
		ids = append(ids, id)
	}
	sort.Strings(report.Stale)

	if len(ids) == 0 {
		log.Debug("deletion sync found nothing stale")
		return report, nil
	}
	if dryRun {
		log.Info("deletion sync would delete stale documents", zap.Strings("locations", report.Stale))
		return report, nil
	}

	deleted, err := o.deps.Store.Delete(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("deletion sync: %w", err)
	}
	report.Deleted = deleted
	log.Info("stale documents deleted", zap.Int("deleted", deleted), zap.Strings("locations", report.Stale))
	return report, nil
}

type result struct {
	index int
	Outcome
}

// run feeds files to a fixed pool of workers and collects one outcome per file
// in input order. Files never picked up before ctx was cancelled are reported
// as cancelled.
func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, files []string, opts Options) []Outcome {
	tasks := make(chan int)
	results := make(chan result)

	var wg sync.WaitGroup
	for w := 0; w < min(opts.Workers, max(len(files), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				results <- result{index: i, Outcome: o.safeProcess(ctx, log, files[i], opts)}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i := range files {
			select {
			case tasks <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, len(files))
	done := make([]bool, len(files))
	for r := range results {
		outcomes[r.index] = r.Outcome
		done[r.index] = true
	}

	for i, ok := range done {
		if !ok {
			outcomes[i] = Outcome{Location: files[i], State: StateCancelled}
		}
	}
	return outcomes
}

// safeProcess keeps a panicking document from taking the pool down with it.
func (o *Orchestrator) safeProcess(ctx context.Context, log *zap.Logger, path string, opts Options) (out Outcome) {
	out = Outcome{Location: path, State: StateExtractionFailed}
	if ctx.Err() != nil {
		out.State = StateCancelled
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.fail(out.State, fmt.Errorf("panic: %v", r))
			log.Error("document processing panicked", zap.String("location", path), zap.Any("panic", r))
		}
	}()

	docCtx := ctx
	if opts.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, opts.DocumentTimeout)
		defer cancel()
	}

	o.process(docCtx, log, &out, opts)

	if out.err != nil && !out.State.Stored() && ctx.Err() != nil {
		out.State = StateCancelled
	}

	log = log.With(logger.DocumentFields(path, out.ContentHash)...)
	switch {
	case out.State.Failed():
		log.Warn("document failed", zap.String("state", string(out.State)), zap.Error(out.err))
	case out.Degraded:
		log.Warn("document stored degraded", zap.String("state", string(out.State)), zap.Error(out.err))
	default:
		log.Debug("document processed", zap.String("state", string(out.State)), zap.Int64("document_id", out.DocumentID))
	}
	return out
}

// process runs the per-document pipeline. out.State always holds the state the
// document ends in if the current step fails.
func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, out *Outcome, opts Options) {
	path := out.Location

	hash, err := hasher.HashFile(path)
	if err != nil {
		out.fail(StateExtractionFailed, fmt.Errorf("%w: %w", domain.ErrExtraction, err))
		return
	}
	out.ContentHash = hash

	out.State = StateStoreFailed
	existing, err := o.deps.Store.GetByLocation(ctx, path)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		out.fail(StateStoreFailed, err)
		return
	}

	out.Action = ActionCreate
	if existing != nil {
		out.Action = ActionUpdate
		out.DocumentID = existing.ID
		if !opts.ForceUpdate && existing.ContentHash == hash && existing.HasEmbedding() {
			out.State = StateUnchanged
			out.Action = ""
			return
		}
	}

	if opts.DryRun {
		out.State = StateWouldStore
		return
	}

	out.State = StateExtractionFailed
	raw, err := o.deps.Extractor.Extract(ctx, path)
	if err != nil {
		out.fail(StateExtractionFailed, err)
		return
	}
	normalized := o.deps.Clean(raw)
	if strings.TrimSpace(normalized) == "" {
		out.fail(StateExtractionFailed, fmt.Errorf("no text left after cleaning: %w", domain.ErrExtraction))
		return
	}

	out.State = StateStoreFailed
	if dup, err := o.deps.Store.FindByContentHash(ctx, hash); err == nil && dup.Location != path {
		out.DuplicateOf = dup.Location
		log.Warn("identical content already stored at another location",
			zap.String("location", path),
			zap.String("duplicate_of", dup.Location),
		)
	}

	state := StateStored
	vector, hit, err := o.deps.Embedder.GetOrCompute(ctx, normalized, embedding.Key{ID: path, Fingerprint: hash}, opts.ForceUpdate)
	if err != nil || corpus.IsZero(vector) {
		if err == nil {
			err = fmt.Errorf("zero embedding: %w", domain.ErrEmbedding)
		}
		vector = nil
		state = StateEmbeddingFailed
		out.Degraded = true
		out.err = err
		out.Error = err.Error()
	}
	out.CacheHit = hit

	fields := map[string]any{}
	if o.deps.Profiles != nil {
		extracted, err := o.deps.Profiles.ExtractProfile(ctx, normalized)
		switch {
		case err != nil:
			if state == StateStored {
				state = StateJudgeUnavailable
			}
			out.Degraded = true
			out.err = errors.Join(out.err, err)
			out.Error = out.err.Error()
		case extracted != nil:
			fields = extracted
		}
	}

	id, err := o.deps.Store.Upsert(ctx, &domain.Document{
		Location:       path,
		ContentHash:    hash,
		RawText:        raw,
		NormalizedText: normalized,
		Fields:         fields,
		Embedding:      vector,
	})
	if err != nil {
		out.fail(StateStoreFailed, err)
		return
	}

	out.DocumentID = id
	out.State = state
}
