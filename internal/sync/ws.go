package sync

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/syncrun"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

const (
	progressPollInterval = 2 * time.Second
	wsWriteWait          = 10 * time.Second
	wsPingInterval       = 30 * time.Second
)

// ProgressEvent is one progress update pushed over the WebSocket.
type ProgressEvent struct {
	Event string          `json:"event"` // progress | done
	Run   *models.SyncRun `json:"run"`
}

// ServeProgressWS handles GET /sync-runs/:id/ws. It upgrades the connection
// and pushes the run's progress until the run reaches a terminal status or
// the client disconnects. Auth comes from a token query parameter because
// browsers cannot set headers on WebSocket dials.
func ServeProgressWS(runs *syncrun.Repository, validate func(token string) error, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		if err := validate(c.Query("token")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		run, err := runs.GetByID(c.Request.Context(), runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		// Drain client frames so pong handling and close detection work.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()
		pinger := time.NewTicker(wsPingInterval)
		defer pinger.Stop()

		send := func(event string, run *models.SyncRun) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ProgressEvent{Event: event, Run: run}); err != nil {
				logger.Debug("progress push failed", zap.String("run_id", runID.String()), zap.Error(err))
				return false
			}
			return true
		}

		if !send("progress", run) {
			return
		}
		if run.SyncStatus.Terminal() {
			return
		}

		for {
			select {
			case <-done:
				return
			case <-c.Request.Context().Done():
				return
			case <-pinger.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ticker.C:
				run, err := runs.GetByID(c.Request.Context(), runID)
				if err != nil || run == nil {
					return
				}
				if run.SyncStatus.Terminal() {
					send("done", run)
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if !send("progress", run) {
					return
				}
			}
		}
	}
}
