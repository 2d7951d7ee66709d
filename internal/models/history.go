package models

import "time"

// HistoryEntry is one row of the batch ledger.
type HistoryEntry struct {
	Label       string          `json:"label"`
	SourceName  string          `json:"sourceName"`
	ArchivePath string          `json:"archivePath,omitempty"`
	OutputDir   string          `json:"outputDir"`
	Outcome     Outcome         `json:"outcome"`
	Total       int             `json:"total"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Failures    []RecordFailure `json:"failures,omitempty"`
}
