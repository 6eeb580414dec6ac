package ingest

import (
	"time"
)

// State is the terminal state of one document in an import run.
type State string

const (
	StateStored           State = "stored"
	StateUnchanged        State = "unchanged_skip"
	StateExtractionFailed State = "extraction_failed"
	// StateJudgeUnavailable means the document was stored with empty structured fields.
	StateJudgeUnavailable State = "judge_unavailable_partial"
	// StateEmbeddingFailed means the document was stored without an embedding.
	StateEmbeddingFailed State = "embedding_failed_partial"
	StateStoreFailed     State = "store_failed"
	// StateWouldStore is the dry-run plan for a new or changed document.
	StateWouldStore State = "would_store"
	StateCancelled  State = "cancelled"
)

// Stored reports whether the document is in the corpus after the run.
func (s State) Stored() bool {
	switch s {
	case StateStored, StateUnchanged, StateJudgeUnavailable, StateEmbeddingFailed:
		return true
	}
	return false
}

func (s State) Failed() bool {
	return s == StateExtractionFailed || s == StateStoreFailed
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// Outcome is the per-file result of an import run.
type Outcome struct {
	Location    string `json:"location" yaml:"location"`
	State       State  `json:"state" yaml:"state"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
	DocumentID  int64  `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	ContentHash string `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Degraded    bool   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	DuplicateOf string `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
	CacheHit    bool   `json:"cache_hit,omitempty" yaml:"cache_hit,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`

	err error
}

// Err returns the error that ended or degraded the document, if any.
func (o Outcome) Err() error {
	return o.err
}

func (o *Outcome) fail(state State, err error) {
	o.State = state
	o.err = err
	if err != nil {
		o.Error = err.Error()
	}
}

// SyncReport describes a deletion sync pass.
type SyncReport struct {
	DryRun  bool     `json:"dry_run" yaml:"dry_run"`
	OnDisk  int      `json:"on_disk" yaml:"on_disk"`
	Stored  int      `json:"stored" yaml:"stored"`
	Stale   []string `json:"stale" yaml:"stale"`
	Deleted int      `json:"deleted" yaml:"deleted"`
}

// Summary aggregates an import run.
type Summary struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	Directory    string        `json:"directory" yaml:"directory"`
	DryRun       bool          `json:"dry_run" yaml:"dry_run"`
	Discovered   int           `json:"discovered" yaml:"discovered"`
	Counts       map[State]int `json:"counts" yaml:"counts"`
	Succeeded    int           `json:"succeeded" yaml:"succeeded"`
	Failed       int           `json:"failed" yaml:"failed"`
	ErrorSamples []string      `json:"error_samples,omitempty" yaml:"error_samples,omitempty"`
	Outcomes     []Outcome     `json:"outcomes" yaml:"outcomes"`
	Sync         *SyncReport   `json:"sync,omitempty" yaml:"sync,omitempty"`
	Took         time.Duration `json:"took" yaml:"took"`
}

func (s *Summary) collect(outcomes []Outcome, samples int) {
	s.Outcomes = outcomes
	s.Counts = make(map[State]int)
	for _, o := range outcomes {
		s.Counts[o.State]++
		switch {
		case o.State.Failed():
			s.Failed++
		case o.State.Stored(), o.State == StateWouldStore:
			s.Succeeded++
		}
		if o.Error != "" && o.State != StateCancelled && len(s.ErrorSamples) < samples {
			s.ErrorSamples = append(s.ErrorSamples, o.Location+": "+o.Error)
		}
	}
}
