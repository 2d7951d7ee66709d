package models

import "time"

// JobStatus represents the state of an asynchronous batch job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusArchiving  JobStatus = "archiving"
	JobStatusComplete   JobStatus = "complete"
	JobStatusPartial    JobStatus = "partial"
	JobStatusError      JobStatus = "error"
)

// Done reports whether the status is terminal.
func (s JobStatus) Done() bool {
	return s == JobStatusComplete || s == JobStatusPartial || s == JobStatusError
}

// BatchJob is a snapshot of one uploaded file moving through the pipeline.
type BatchJob struct {
	ID          string       `json:"id" msgpack:"id"`
	FileID      string       `json:"fileId" msgpack:"fileId"`
	FileName    string       `json:"fileName" msgpack:"fileName"`
	Status      JobStatus    `json:"status" msgpack:"status"`
	Completed   int          `json:"completed" msgpack:"completed"`
	Total       int          `json:"total" msgpack:"total"`
	Progress    float64      `json:"progress" msgpack:"progress"` // 0-100
	Result      *BatchResult `json:"result,omitempty" msgpack:"result,omitempty"`
	Error       string       `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty" msgpack:"errorCode,omitempty"`
	Missing     []string     `json:"missing,omitempty" msgpack:"missing,omitempty"`
	Warning     string       `json:"warning,omitempty" msgpack:"warning,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" msgpack:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// NewBatchJob creates a queued job for a staged file.
func NewBatchJob(id, fileID, fileName string) *BatchJob {
	return &BatchJob{
		ID:        id,
		FileID:    fileID,
		FileName:  fileName,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
}
