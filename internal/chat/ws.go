package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/identity"
	"github.com/google/uuid"
)

// planReadTimeout bounds how long a client may take to send its plan
// after the upgrade.
const planReadTimeout = 30 * time.Second

// WebSocketHandler streams conversation events over a WebSocket as an
// alternative to the SSE endpoint. The client sends one JSON plan message
// after connecting and receives the run's events as JSON text messages.
type WebSocketHandler struct {
	scheduler *Scheduler
	isDev     bool
}

// NewWebSocketHandler creates a WebSocket conversation handler.
func NewWebSocketHandler(scheduler *Scheduler, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{scheduler: scheduler, isDev: isDev}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("conversation websocket request", "user_id", userID, "ip", r.RemoteAddr)

	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.OriginPatterns = []string{"*"}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	readCtx, cancel := context.WithTimeout(r.Context(), planReadTimeout)
	defer cancel()

	_, data, err := ws.Read(readCtx)
	if err != nil {
		slog.Warn("failed to read conversation plan", "error", err, "user_id", userID)
		return
	}

	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		h.writeEvent(r.Context(), ws, Event{Type: EventError, Content: "invalid conversation plan"})
		return
	}
	if plan.ThreadID == "" {
		plan.ThreadID = uuid.NewString()
	}

	// CloseRead cancels the returned context when the client goes away,
	// which the scheduler observes at the next turn boundary.
	ctx := ws.CloseRead(r.Context())

	events, err := h.scheduler.Run(ctx, plan)
	if err != nil {
		h.writeEvent(ctx, ws, Event{Type: EventError, Content: err.Error()})
		return
	}

	for event := range events {
		if !h.writeEvent(ctx, ws, event) {
			return
		}
	}
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal conversation event", "error", err)
		return false
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
