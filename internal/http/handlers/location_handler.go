// README: Driver presence handlers feeding the candidate source.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/modules/location"
	"ridematch/internal/types"
)

type PresenceService interface {
	UpdatePresence(ctx context.Context, u location.PresenceUpdate) error
	GoOffline(ctx context.Context, id types.ID) error
}

type LocationHandler struct {
	presence PresenceService
}

func NewLocationHandler(svc PresenceService) *LocationHandler {
	return &LocationHandler{presence: svc}
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := driverPath(c)
	if !ok {
		return
	}
	var u location.PresenceUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u.DriverID = id
	if err := h.presence.UpdatePresence(c.Request.Context(), u); err != nil {
		writePresenceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driverId": id, "active": u.Active})
}

func (h *LocationHandler) Offline(c *gin.Context) {
	id, ok := driverPath(c)
	if !ok {
		return
	}
	if err := h.presence.GoOffline(c.Request.Context(), id); err != nil {
		writePresenceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writePresenceError(c *gin.Context, err error) {
	if errors.Is(err, location.ErrBadRequest) {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	writeError(c, http.StatusInternalServerError, "internal error")
}
