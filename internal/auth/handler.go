package auth

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/pkg/response"
)

// TokenRequest is the body for POST /auth/token.
type TokenRequest struct {
	ClientName string `json:"client_name" binding:"required"`
	ServiceKey string `json:"service_key" binding:"required"`
}

// Handler exchanges the shared service key for a short-lived JWT.
type Handler struct {
	jwt        *JWTService
	serviceKey string
	logger     *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(jwt *JWTService, serviceKey string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jwt: jwt, serviceKey: serviceKey, logger: logger}
}

// Token handles POST /auth/token.
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if h.serviceKey == "" {
		response.ServiceUnavailable(c, "service key auth not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.ServiceKey), []byte(h.serviceKey)) != 1 {
		h.logger.Warn("token exchange with bad service key", zap.String("client", req.ClientName))
		response.Unauthorized(c, "invalid service key")
		return
	}
	token, err := h.jwt.Generate(req.ClientName)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{"token": token})
}
