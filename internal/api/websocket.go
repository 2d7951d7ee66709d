package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mailmerge/backend/internal/models"
)

// WebSocket message types for the progress feed
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket progress payload
type WSProgressPayload struct {
	Status    models.JobStatus `json:"status"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Progress  float64          `json:"progress"`
}

// WebSocket error payload
type WSErrorPayload struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// WebSocketHandler pushes job progress to WebSocket clients
type WebSocketHandler struct {
	jobs         JobManager
	upgrader     websocket.Upgrader
	pollInterval time.Duration
}

// NewWebSocketHandler creates a new WebSocket progress handler
func NewWebSocketHandler(jobMgr JobManager) *WebSocketHandler {
	return &WebSocketHandler{
		jobs: jobMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  64 * 1024, // 64KB read buffer
			WriteBufferSize: 64 * 1024, // 64KB write buffer
		},
		pollInterval: 100 * time.Millisecond,
	}
}

// HandleBatchSocket upgrades the connection and sends one progress message per
// record until the job finishes with a complete or error message.
func (wsh *WebSocketHandler) HandleBatchSocket(c echo.Context) error {
	id := c.Param("jobId")
	if _, ok := wsh.jobs.GetJob(id); !ok {
		return NewNotFoundError("job", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("[WebSocket] Client connected for job %s\n", shortID(id))

	outbound := make(chan WSMessage, 8)
	closed := make(chan struct{})

	// Reader: answers pings and notices disconnects
	go func() {
		defer close(closed)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("[WebSocket] Connection error: %v\n", err)
				}
				return
			}
			if msg.Type == MsgTypePing {
				select {
				case outbound <- WSMessage{Type: MsgTypePong, ID: id, Timestamp: time.Now().UnixMilli()}:
				default:
				}
			}
		}
	}()

	wsh.sendMessage(ws, WSMessage{Type: MsgTypeConnected, ID: id, Timestamp: time.Now().UnixMilli()})

	ticker := time.NewTicker(wsh.pollInterval)
	defer ticker.Stop()

	lastCompleted, lastStatus := -1, models.JobStatus("")
	for {
		job, ok := wsh.jobs.GetJob(id)
		if !ok {
			wsh.sendError(ws, id, WSErrorPayload{Message: "job not found", Code: "NOT_FOUND"})
			return nil
		}

		if job.Completed != lastCompleted || job.Status != lastStatus {
			lastCompleted, lastStatus = job.Completed, job.Status
			wsh.sendMessage(ws, WSMessage{
				Type: MsgTypeProgress,
				ID:   id,
				Payload: mustJSON(WSProgressPayload{
					Status:    job.Status,
					Completed: job.Completed,
					Total:     job.Total,
					Progress:  job.Progress,
				}),
				Timestamp: time.Now().UnixMilli(),
			})
		}

		if job.Status.Done() {
			if job.Status == models.JobStatusError {
				wsh.sendError(ws, id, WSErrorPayload{Message: job.Error, Code: job.ErrorCode, Missing: job.Missing})
			} else {
				wsh.sendMessage(ws, WSMessage{
					Type:      MsgTypeComplete,
					ID:        id,
					Payload:   mustJSON(job.Result),
					Timestamp: time.Now().UnixMilli(),
				})
			}
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			fmt.Printf("[WebSocket] Job %s finished, closing\n", shortID(id))
			return nil
		}

		select {
		case <-ticker.C:
		case msg := <-outbound:
			wsh.sendMessage(ws, msg)
		case <-closed:
			fmt.Println("[WebSocket] Client disconnected")
			return nil
		}
	}
}

func (wsh *WebSocketHandler) sendMessage(ws *websocket.Conn, msg WSMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, id string, payload WSErrorPayload) {
	wsh.sendMessage(ws, WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Payload:   mustJSON(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
