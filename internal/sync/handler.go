package sync

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/connections"
	"github.com/aura-webinar/sync-engine/internal/models"
	"github.com/aura-webinar/sync-engine/internal/reconciler"
	"github.com/aura-webinar/sync-engine/internal/syncrun"
	"github.com/aura-webinar/sync-engine/pkg/response"
)

// StartRequest is the body for POST /connections/:id/sync.
type StartRequest struct {
	SyncType  string `json:"sync_type" binding:"required"`
	WebinarID string `json:"webinar_id"`
}

// CreateConnectionRequest is the body for POST /connections.
type CreateConnectionRequest struct {
	AccountID     string `json:"account_id" binding:"required"`
	CredentialRef string `json:"credential_ref" binding:"required"`
}

// Handler handles sync HTTP endpoints.
type Handler struct {
	svc    *Service
	conns  *connections.Repository
	runs   *syncrun.Repository
	rec    *reconciler.Reconciler
	logger *zap.Logger
}

// NewHandler creates a sync handler.
func NewHandler(svc *Service, conns *connections.Repository, runs *syncrun.Repository, rec *reconciler.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, conns: conns, runs: runs, rec: rec, logger: logger}
}

// CreateConnection handles POST /connections.
func (h *Handler) CreateConnection(c *gin.Context) {
	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	conn := &models.Connection{AccountID: req.AccountID, CredentialRef: req.CredentialRef}
	if err := h.conns.Create(c.Request.Context(), conn); err != nil {
		h.logger.Error("create connection", zap.Error(err))
		response.Internal(c, "failed to create connection")
		return
	}
	response.Created(c, conn)
}

// ListConnections handles GET /connections.
func (h *Handler) ListConnections(c *gin.Context) {
	conns, err := h.conns.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list connections", zap.Error(err))
		response.Internal(c, "failed to list connections")
		return
	}
	response.OK(c, conns)
}

// StartSync handles POST /connections/:id/sync.
func (h *Handler) StartSync(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	run, err := h.svc.Start(c.Request.Context(), connectionID, models.SyncType(req.SyncType), req.WebinarID)
	switch {
	case errors.Is(err, ErrUnknownSyncType), errors.Is(err, ErrWebinarIDRequired):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, ErrConnectionNotFound):
		response.NotFound(c, "connection not found")
		return
	case errors.Is(err, ErrRunInProgress):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		h.logger.Error("start sync", zap.String("connection_id", connectionID.String()), zap.Error(err))
		response.Internal(c, "failed to start sync")
		return
	}
	response.Accepted(c, run)
}

// GetRun handles GET /sync-runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error("get run", zap.String("run_id", runID.String()), zap.Error(err))
		response.Internal(c, "failed to load run")
		return
	}
	if run == nil {
		response.NotFound(c, "run not found")
		return
	}
	response.OK(c, run)
}

// ListRuns handles GET /connections/:id/sync-runs.
func (h *Handler) ListRuns(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}
	limit := queryInt(c, "limit", 20)
	runs, err := h.runs.ListByConnection(c.Request.Context(), connectionID, limit)
	if err != nil {
		h.logger.Error("list runs", zap.String("connection_id", connectionID.String()), zap.Error(err))
		response.Internal(c, "failed to list runs")
		return
	}
	response.OK(c, runs)
}

// ListWebinars handles GET /connections/:id/webinars.
func (h *Handler) ListWebinars(c *gin.Context) {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid connection id")
		return
	}
	limit := queryInt(c, "limit", 100)
	webinars, err := h.rec.ListWebinarsByConnection(c.Request.Context(), connectionID, limit)
	if err != nil {
		h.logger.Error("list webinars", zap.String("connection_id", connectionID.String()), zap.Error(err))
		response.Internal(c, "failed to list webinars")
		return
	}
	response.OK(c, webinars)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
