// README: In-process websocket hub: driver connection registry, offer delivery and inbound ride responses.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var ErrNotConnected = errors.New("notify: driver not connected")

// Confirmer receives ride responses read from driver sockets.
type Confirmer interface {
	Confirm(ctx context.Context, cmd matching.ConfirmCommand) error
}

type driverConn struct {
	handle   string
	driverID types.ID
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

func (c *driverConn) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *driverConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Hub tracks one live socket per driver. The handle of a connection is a
// random id, so a reconnect invalidates handles issued for the old socket.
type Hub struct {
	mu        sync.RWMutex
	byHandle  map[string]*driverConn
	byDriver  map[types.ID]*driverConn
	confirmer Confirmer
	upgrader  websocket.Upgrader
	log       *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		byHandle: make(map[string]*driverConn),
		byDriver: make(map[types.ID]*driverConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.Named("hub"),
	}
}

// SetConfirmer wires the matching service after both are constructed.
func (h *Hub) SetConfirmer(c Confirmer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmer = c
}

func (h *Hub) Handle(_ context.Context, driverID types.ID) (string, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byDriver[driverID]
	if !ok {
		return "", false, nil
	}
	return c.handle, true, nil
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byDriver)
}

func (h *Hub) SendOffer(_ context.Context, handle string, o matching.Offer) error {
	payload, err := offerPayload(o)
	if err != nil {
		return err
	}
	return h.send(handle, payload)
}

func (h *Hub) SendCancellation(_ context.Context, handle string, c matching.Cancellation) error {
	payload, err := cancellationPayload(c)
	if err != nil {
		return err
	}
	return h.send(handle, payload)
}

func (h *Hub) send(handle string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.byHandle[handle]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	if err := c.write(payload); err != nil {
		return fmt.Errorf("notify.Hub write to %s: %w", c.driverID, err)
	}
	return nil
}

// Serve upgrades the request and runs the driver's socket until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, driverID types.ID) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("notify.Hub upgrade: %w", err)
	}
	c := &driverConn{handle: uuid.NewString(), driverID: driverID, ws: ws}
	h.register(c)
	h.log.Infow("driver connected", "driver_id", driverID, "handle", c.handle)

	done := make(chan struct{})
	defer func() {
		close(done)
		h.unregister(c)
		_ = ws.Close()
		h.log.Infow("driver disconnected", "driver_id", driverID, "handle", c.handle)
	}()
	go h.pinger(c, done)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame RideResponse
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warnw("driver socket read failed", "driver_id", driverID, "err", err)
			}
			return nil
		}
		if frame.Type != FrameRideResponse {
			h.log.Debugw("ignoring driver frame", "driver_id", driverID, "type", frame.Type)
			continue
		}
		h.handleResponse(r.Context(), c, frame)
	}
}

func (h *Hub) handleResponse(ctx context.Context, c *driverConn, f RideResponse) {
	h.mu.RLock()
	confirmer := h.confirmer
	h.mu.RUnlock()

	ack := ResponseAck{Type: FrameResponseAck, RideID: f.RideID, Success: true}
	if confirmer == nil {
		ack.Success, ack.Error = false, "matching unavailable"
	} else if err := confirmer.Confirm(ctx, matching.ConfirmCommand{RideID: f.RideID, DriverID: c.driverID, Accepted: f.Accepted}); err != nil {
		ack.Success, ack.Error = false, err.Error()
	}
	if err := c.writeJSON(ack); err != nil {
		h.log.Warnw("ack write failed", "driver_id", c.driverID, "err", err)
	}
}

func (h *Hub) pinger(c *driverConn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// register replaces any older socket for the same driver.
func (h *Hub) register(c *driverConn) {
	h.mu.Lock()
	old := h.byDriver[c.driverID]
	if old != nil {
		delete(h.byHandle, old.handle)
	}
	h.byDriver[c.driverID] = c
	h.byHandle[c.handle] = c
	h.mu.Unlock()
	if old != nil {
		_ = old.ws.Close()
	}
}

func (h *Hub) unregister(c *driverConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byHandle, c.handle)
	if h.byDriver[c.driverID] == c {
		delete(h.byDriver, c.driverID)
	}
}

// Close drops every socket, used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*driverConn, 0, len(h.byHandle))
	for _, c := range h.byHandle {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}
