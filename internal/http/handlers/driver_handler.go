// README: Driver connection handlers: websocket endpoint and gateway/device handle registration.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridematch/internal/types"
)

type WebsocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, driverID types.ID) error
}

type ConnectionRegistry interface {
	Register(ctx context.Context, driverID types.ID, handle string) error
	Unregister(ctx context.Context, driverID types.ID) error
}

// DriverHandler exposes whichever connectivity backend is configured; the
// other one is nil and its routes answer 404.
type DriverHandler struct {
	ws    WebsocketServer
	conns ConnectionRegistry
	log   *zap.SugaredLogger
}

func NewDriverHandler(ws WebsocketServer, conns ConnectionRegistry, log *zap.SugaredLogger) *DriverHandler {
	return &DriverHandler{ws: ws, conns: conns, log: log}
}

func (h *DriverHandler) Connect(c *gin.Context) {
	if h.ws == nil {
		writeError(c, http.StatusNotFound, "websocket channel disabled")
		return
	}
	id, ok := driverPath(c)
	if !ok {
		return
	}
	if err := h.ws.Serve(c.Writer, c.Request, id); err != nil {
		h.log.Warnw("websocket session failed", "driver_id", id, "err", err)
	}
}

type connectionReq struct {
	Handle string `json:"handle"`
}

func (h *DriverHandler) RegisterConnection(c *gin.Context) {
	if h.conns == nil {
		writeError(c, http.StatusNotFound, "connection registry disabled")
		return
	}
	id, ok := driverPath(c)
	if !ok {
		return
	}
	var req connectionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" {
		writeError(c, http.StatusBadRequest, "handle is required")
		return
	}
	if err := h.conns.Register(c.Request.Context(), id, req.Handle); err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DriverHandler) UnregisterConnection(c *gin.Context) {
	if h.conns == nil {
		writeError(c, http.StatusNotFound, "connection registry disabled")
		return
	}
	id, ok := driverPath(c)
	if !ok {
		return
	}
	if err := h.conns.Unregister(c.Request.Context(), id); err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}
