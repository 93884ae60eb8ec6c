package http

import (
	"net/http"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/pkg/errors"
	"voicemesh/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the relay's read-only room inspection API.
type RoomHandler struct {
	roster        ports.RosterRepository
	auth          *services.AuthService
	healthChecker *monitoring.HealthChecker
	log           *logger.ContextLogger
}

func NewRoomHandler(
	roster ports.RosterRepository,
	auth *services.AuthService,
	healthChecker *monitoring.HealthChecker,
	log *logger.ContextLogger,
) *RoomHandler {
	return &RoomHandler{
		roster:        roster,
		auth:          auth,
		healthChecker: healthChecker,
		log:           log,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	if h.auth != nil {
		// Token minting stays open so clients can bootstrap.
		api.POST("/auth/token", h.IssueToken)
		api.Use(middleware.AuthMiddleware(h.auth))
	}
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id/participants", h.ListParticipants)
	}
}

func (h *RoomHandler) Health(c *gin.Context) {
	status := h.healthChecker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roster.Rooms(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Warn("failed to list rooms")
		c.Error(errors.NewInternalError("failed to list rooms"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "count": len(rooms)})
}

func (h *RoomHandler) ListParticipants(c *gin.Context) {
	roomID := c.Param("id")
	participants, err := h.roster.List(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.Error(errors.NewNotFoundError("room"))
			return
		}
		h.log.WithError(err).Warn("failed to list participants")
		c.Error(errors.NewInternalError("failed to list participants"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":      roomID,
		"participants": participants,
		"count":        len(participants),
	})
}

type tokenRequest struct {
	UserID   string `json:"user_id" binding:"required,max=100"`
	Username string `json:"username" binding:"required,min=1,max=50"`
}

// IssueToken mints a relay access token. Intended for development setups;
// production deployments front this with their own identity provider.
func (h *RoomHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	token, err := h.auth.GenerateToken(req.UserID, req.Username)
	if err != nil {
		h.log.WithError(err).Error("failed to generate token")
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"issued_at":  time.Now().Unix(),
		"token_type": "Bearer",
	})
}
