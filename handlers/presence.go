package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chorus/presence-engine/models"
	"chorus/presence-engine/services"
	"chorus/presence-engine/utils"
)

// PresenceHandler is the synchronous HTTP surface. It routes through the
// same service and broadcast tail as the socket path, so HTTP-issued status
// changes are indistinguishable to socket observers.
type PresenceHandler struct {
	presence    *services.PresenceService
	broadcaster services.Broadcaster
	logger      *utils.Logger
}

func NewPresenceHandler(presence *services.PresenceService, broadcaster services.Broadcaster, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence:    presence,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// GetMyPresence handles GET /presence/me
func (h *PresenceHandler) GetMyPresence(c *gin.Context) {
	h.getPresence(c, c.GetString("userID"))
}

// GetUserPresence handles GET /presence/user/:id
func (h *PresenceHandler) GetUserPresence(c *gin.Context) {
	h.getPresence(c, c.Param("id"))
}

func (h *PresenceHandler) getPresence(c *gin.Context, userID string) {
	snapshot, err := h.presence.GetPresence(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}
		h.logger.Error("Failed to get presence", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get presence",
		})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetTeamPresence handles GET /presence/team
func (h *PresenceHandler) GetTeamPresence(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	presences, err := h.presence.TenantPresence(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to get tenant presence", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get team presence",
		})
		return
	}

	c.JSON(http.StatusOK, models.BulkPresenceResponse{Presences: presences})
}

// UpdateStatus handles PATCH /presence/status
func (h *PresenceHandler) UpdateStatus(c *gin.Context) {
	userID := c.GetString("userID")
	tenantID := c.GetString("tenantID")

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid presence status",
		})
		return
	}

	if req.CustomStatus != nil && len(*req.CustomStatus) > models.MaxCustomStatusLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Custom status too long",
		})
		return
	}

	snapshot, err := h.presence.UpdateStatus(c.Request.Context(), userID, req.Status, req.CustomStatus)
	if err != nil {
		// The caller authenticated as this user, so a failure here is a data
		// fault, not client input
		h.logger.Error("Failed to update status", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update status",
		})
		return
	}

	h.broadcaster.BroadcastChange(c.Request.Context(), userID, tenantID)

	c.JSON(http.StatusOK, snapshot)
}
