package models

import "time"

// Stage names the pipeline step a record failed in.
type Stage string

const (
	StageRender  Stage = "render"
	StageConvert Stage = "convert"
)

// Outcome summarizes how a batch finished.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeFatal    Outcome = "fatal"
)

// Artifact is one final-format document produced for a record.
type Artifact struct {
	Position int    `json:"position" msgpack:"position"`
	Key      string `json:"key" msgpack:"key"`
	Name     string `json:"name" msgpack:"name"`
	Path     string `json:"path" msgpack:"path"`
}

// RecordFailure records why a single record produced no artifact.
type RecordFailure struct {
	Position int    `json:"position" msgpack:"position"`
	Key      string `json:"key" msgpack:"key"`
	Stage    Stage  `json:"stage" msgpack:"stage"`
	Attempts int    `json:"attempts" msgpack:"attempts"`
	Reason   string `json:"reason" msgpack:"reason"`
}

// BatchResult is the value returned by a batch run and held by its caller.
type BatchResult struct {
	Label       string          `json:"label" msgpack:"label"`
	OutputDir   string          `json:"outputDir" msgpack:"outputDir"`
	Ext         string          `json:"ext" msgpack:"ext"` // final artifact extension
	SourceName  string          `json:"sourceName,omitempty" msgpack:"sourceName,omitempty"`
	ArchivePath string          `json:"archivePath,omitempty" msgpack:"archivePath,omitempty"`
	Total       int             `json:"total" msgpack:"total"`
	Artifacts   []Artifact      `json:"artifacts" msgpack:"artifacts"`
	Failures    []RecordFailure `json:"failures" msgpack:"failures"`
	// Preview is the artifact of the first record; nil means no artifact.
	Preview    *Artifact `json:"preview,omitempty" msgpack:"preview,omitempty"`
	StartedAt  time.Time `json:"startedAt" msgpack:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" msgpack:"finishedAt"`
}

// NewBatchResult creates an empty result for a batch of total records.
func NewBatchResult(label, outputDir string, total int) *BatchResult {
	return &BatchResult{
		Label:     label,
		OutputDir: outputDir,
		Total:     total,
		Artifacts: make([]Artifact, 0, total),
		Failures:  make([]RecordFailure, 0),
		StartedAt: time.Now(),
	}
}

// Outcome reports complete when every record produced an artifact.
func (r *BatchResult) Outcome() Outcome {
	if len(r.Failures) == 0 {
		return OutcomeComplete
	}
	return OutcomePartial
}

// Succeeded returns the number of artifacts produced.
func (r *BatchResult) Succeeded() int {
	return len(r.Artifacts)
}

// Failed returns the number of records that produced no artifact.
func (r *BatchResult) Failed() int {
	return len(r.Failures)
}
