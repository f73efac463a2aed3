// README: Matching handlers: find-driver, confirm, status, cancel and outcome history.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/history"
	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

type MatchingService interface {
	Start(ctx context.Context, req matching.Request) (matching.StartedResponse, error)
	Confirm(ctx context.Context, cmd matching.ConfirmCommand) error
	Status(rideID types.ID) (matching.StatusView, error)
	Cancel(ctx context.Context, rideID types.ID) error
}

type HistoryLister interface {
	ListByRide(ctx context.Context, rideID types.ID) ([]history.Entry, error)
}

type MatchingHandler struct {
	matching MatchingService
	history  HistoryLister
}

func NewMatchingHandler(svc MatchingService, hist HistoryLister) *MatchingHandler {
	if hist == nil {
		hist = history.NopRecorder{}
	}
	return &MatchingHandler{matching: svc, history: hist}
}

// FindDriver starts matching and answers 202 before any driver is contacted.
func (h *MatchingHandler) FindDriver(c *gin.Context) {
	var req matching.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RideID != "" && !isValidID(string(req.RideID)) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	if req.PassengerID == "" {
		req.PassengerID = types.ID(middleware.CallerUID(c))
	}
	resp, err := h.matching.Start(c.Request.Context(), req)
	if err != nil {
		writeMatchingError(c, req.RideID, err)
		return
	}
	writeJSON(c, http.StatusAccepted, resp)
}

type confirmReq struct {
	RideID   types.ID `json:"rideId"`
	Accepted *bool    `json:"accepted"`
}

// Confirm records the calling driver's answer to its outstanding offer.
func (h *MatchingHandler) Confirm(c *gin.Context) {
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RideID == "" || req.Accepted == nil {
		writeError(c, http.StatusBadRequest, "rideId and accepted are required")
		return
	}
	driverID := types.ID(middleware.CallerUID(c))
	err := h.matching.Confirm(c.Request.Context(), matching.ConfirmCommand{
		RideID:   req.RideID,
		DriverID: driverID,
		Accepted: *req.Accepted,
	})
	if err != nil {
		writeMatchingError(c, req.RideID, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "message": "Confirmation processed"})
}

func (h *MatchingHandler) Status(c *gin.Context) {
	id := types.ID(c.Param("rideId"))
	view, err := h.matching.Status(id)
	if err != nil {
		writeMatchingError(c, id, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (h *MatchingHandler) Cancel(c *gin.Context) {
	id := types.ID(c.Param("rideId"))
	if err := h.matching.Cancel(c.Request.Context(), id); err != nil {
		writeMatchingError(c, id, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "message": "Matching cancelled"})
}

func (h *MatchingHandler) History(c *gin.Context) {
	id := types.ID(c.Param("rideId"))
	entries, err := h.history.ListByRide(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rideId": id, "entries": entries})
}
