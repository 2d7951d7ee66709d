// handlers_history.go - Batch ledger handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const maxHistoryLimit = 500

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history HistoryStore
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history HistoryStore) HistoryHandler {
	return &HistoryHandlerImpl{history: history}
}

// HandleBatchHistory returns finished batches, most recent first
func (h *HistoryHandlerImpl) HandleBatchHistory(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("batch history is disabled")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read batch history", err)
	}
	return c.JSON(http.StatusOK, entries)
}
