// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/mailmerge/backend/internal/models"
)

// BatchHandler handles batch submission, status and downloads
type BatchHandler interface {
	HandleSubmitBatch(c echo.Context) error
	HandleBatchStatus(c echo.Context) error
	HandleBatchStatusMsgpack(c echo.Context) error
	HandleBatchProgressStream(c echo.Context) error
	HandleBatchBundle(c echo.Context) error
	HandleBatchPreview(c echo.Context) error
}

// HistoryHandler lists finished batches
type HistoryHandler interface {
	HandleBatchHistory(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ProgressSocketHandler streams job progress over WebSocket
type ProgressSocketHandler interface {
	HandleBatchSocket(c echo.Context) error
}

// JobManager defines what handlers need from the job manager.
// This allows mocking in tests
type JobManager interface {
	StartJob(fileID, fileName string) *models.BatchJob
	GetJob(id string) (*models.BatchJob, bool)
}

// InputPolicy decides which uploaded files can start a batch
type InputPolicy interface {
	Accepts(name string) bool
	Extensions() []string
}

// HistoryStore reads the batch ledger
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
}
