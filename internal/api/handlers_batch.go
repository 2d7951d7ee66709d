// handlers_batch.go - Batch submission, status and download handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/microcosm-cc/bluemonday"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mailmerge/backend/internal/bundle"
	"github.com/mailmerge/backend/internal/models"
	"github.com/mailmerge/backend/internal/storage"
)

// progressStreamTimeout bounds a single SSE connection.
const progressStreamTimeout = 30 * time.Minute

// previewPolicy cleans unconverted HTML letters before they are shown inline.
var previewPolicy = bluemonday.UGCPolicy()

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	store        storage.Store
	jobs         JobManager
	inputs       InputPolicy
	bundlePrefix string
	pollInterval time.Duration
}

// NewBatchHandler creates a new batch handler instance
func NewBatchHandler(store storage.Store, jobMgr JobManager, inputs InputPolicy, bundlePrefix string) BatchHandler {
	return &BatchHandlerImpl{
		store:        store,
		jobs:         jobMgr,
		inputs:       inputs,
		bundlePrefix: bundlePrefix,
		pollInterval: 100 * time.Millisecond,
	}
}

// HandleSubmitBatch stages a multipart "file" and queues a batch for it
func (h *BatchHandlerImpl) HandleSubmitBatch(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	name := filepath.Base(file.Filename)
	if !h.inputs.Accepts(name) {
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "UNSUPPORTED_FILE_TYPE",
			Message: fmt.Sprintf("unsupported input file: %s", name),
			Details: "accepted extensions: " + strings.Join(h.inputs.Extensions(), ", "),
		}
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(name, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	job := h.jobs.StartJob(info.ID, info.Name)
	fmt.Printf("[API] Batch job %s queued for %s\n", shortID(job.ID), info.Name)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"fileId": info.ID,
		"status": job.Status,
	})
}

// HandleBatchStatus returns the job snapshot as JSON
func (h *BatchHandlerImpl) HandleBatchStatus(c echo.Context) error {
	job, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// HandleBatchStatusMsgpack returns the job snapshot in MessagePack format
func (h *BatchHandlerImpl) HandleBatchStatusMsgpack(c echo.Context) error {
	job, err := h.lookup(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(job)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleBatchProgressStream streams job snapshots via Server-Sent Events
func (h *BatchHandlerImpl) HandleBatchProgressStream(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	// Send initial status
	h.sendSSEData(c, job)
	if job.Status.Done() {
		return nil
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(progressStreamTimeout)
	defer timeout.Stop()

	lastCompleted, lastStatus := job.Completed, job.Status
	for {
		select {
		case <-ticker.C:
			job, ok := h.jobs.GetJob(id)
			if !ok {
				h.sendSSEError(c, "job not found")
				return nil
			}

			if job.Completed != lastCompleted || job.Status != lastStatus {
				h.sendSSEData(c, job)
				lastCompleted, lastStatus = job.Completed, job.Status
			}

			// Stop streaming once the job is finished
			if job.Status.Done() {
				return nil
			}

		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// HandleBatchBundle downloads every artifact of a finished batch as one zip
func (h *BatchHandlerImpl) HandleBatchBundle(c echo.Context) error {
	result, err := h.finishedResult(c)
	if err != nil {
		return err
	}

	data, err := bundle.Pack(result.OutputDir, result.Ext)
	if err != nil {
		return NewInternalError("failed to build bundle", err)
	}

	name := h.bundlePrefix + result.Label + ".zip"
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "application/zip", data)
}

// HandleBatchPreview serves the artifact of the batch's first record
func (h *BatchHandlerImpl) HandleBatchPreview(c echo.Context) error {
	result, err := h.finishedResult(c)
	if err != nil {
		return err
	}
	if result.Preview == nil {
		return NewNotFoundError("preview", result.Label)
	}

	path := result.Preview.Path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return NewInternalError("failed to read preview", err)
		}
		return c.HTMLBlob(http.StatusOK, previewPolicy.SanitizeBytes(data))
	}
	return c.Inline(path, filepath.Base(path))
}

func (h *BatchHandlerImpl) lookup(c echo.Context) (*models.BatchJob, error) {
	id := c.Param("jobId")
	if id == "" {
		return nil, NewValidationError("jobId")
	}
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return nil, NewNotFoundError("job", id)
	}
	return job, nil
}

// finishedResult returns the batch result of a finished job, or the error
// describing why there is none.
func (h *BatchHandlerImpl) finishedResult(c echo.Context) (*models.BatchResult, error) {
	job, err := h.lookup(c)
	if err != nil {
		return nil, err
	}
	if !job.Status.Done() {
		return nil, NewConflictError(fmt.Sprintf("batch is still %s", job.Status))
	}
	if job.Result == nil {
		return nil, NewJobError(job.ErrorCode, job.Error, job.Missing)
	}
	return job.Result, nil
}

func (h *BatchHandlerImpl) sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *BatchHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}
