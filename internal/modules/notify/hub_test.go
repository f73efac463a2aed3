// README: Websocket hub tests against a real httptest server and gorilla client.
package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

type recordingConfirmer struct {
	mu   sync.Mutex
	cmds []matching.ConfirmCommand
	err  error
}

func (r *recordingConfirmer) Confirm(_ context.Context, cmd matching.ConfirmCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recordingConfirmer) received() []matching.ConfirmCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]matching.ConfirmCommand(nil), r.cmds...)
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, types.ID(r.URL.Query().Get("driver")))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, driver string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?driver=" + driver
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func waitHandle(t *testing.T, hub *Hub, driver types.ID, online bool) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h, ok, err := hub.Handle(context.Background(), driver)
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ok == online {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("driver %s online=%v never observed", driver, online)
	return ""
}

func TestHub_OfferDelivered(t *testing.T) {
	hub, srv := newHubServer(t)
	ws := dial(t, srv, "d1")
	handle := waitHandle(t, hub, "d1", true)

	offer := matching.Offer{
		OfferID:        "o1",
		DriverID:       "d1",
		RideID:         "r1",
		Pickup:         matching.Location{Address: "A", Lat: 1, Lng: 2},
		EstimatedPrice: decimal.NewFromInt(12),
		DistanceKm:     1.5,
	}
	if err := hub.SendOffer(context.Background(), handle, offer); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	var got RideOffer
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.EventType != EventRideOffer || got.RideID != "r1" || got.OfferID != "o1" {
		t.Fatalf("unexpected offer frame: %+v", got)
	}
	if !got.EstimatedPrice.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("price = %s", got.EstimatedPrice)
	}
}

func TestHub_ResponseRoutedToConfirmer(t *testing.T) {
	hub, srv := newHubServer(t)
	conf := &recordingConfirmer{}
	hub.SetConfirmer(conf)
	ws := dial(t, srv, "d1")
	waitHandle(t, hub, "d1", true)

	if err := ws.WriteJSON(RideResponse{Type: FrameRideResponse, RideID: "r1", Accepted: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack ResponseAck
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !ack.Success || ack.RideID != "r1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	cmds := conf.received()
	if len(cmds) != 1 {
		t.Fatalf("confirmations = %d, want 1", len(cmds))
	}
	if cmds[0].DriverID != "d1" || cmds[0].RideID != "r1" || !cmds[0].Accepted {
		t.Fatalf("unexpected command: %+v", cmds[0])
	}
}

func TestHub_RejectedConfirmationAcked(t *testing.T) {
	hub, srv := newHubServer(t)
	hub.SetConfirmer(&recordingConfirmer{err: matching.ErrInvalidConfirmation})
	ws := dial(t, srv, "d1")
	waitHandle(t, hub, "d1", true)

	if err := ws.WriteJSON(RideResponse{Type: FrameRideResponse, RideID: "r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack ResponseAck
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Success || ack.Error == "" {
		t.Fatalf("expected failed ack, got %+v", ack)
	}
}

func TestHub_DisconnectGoesOffline(t *testing.T) {
	hub, srv := newHubServer(t)
	ws := dial(t, srv, "d1")
	handle := waitHandle(t, hub, "d1", true)

	_ = ws.Close()
	waitHandle(t, hub, "d1", false)

	err := hub.SendOffer(context.Background(), handle, matching.Offer{RideID: "r1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if hub.Connected() != 0 {
		t.Fatalf("connected = %d", hub.Connected())
	}
}

func TestHub_ReconnectInvalidatesOldHandle(t *testing.T) {
	hub, srv := newHubServer(t)
	dial(t, srv, "d1")
	first := waitHandle(t, hub, "d1", true)

	dial(t, srv, "d1")
	var second string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		second = waitHandle(t, hub, "d1", true)
		if second != first {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if second == first {
		t.Fatal("reconnect kept the old handle")
	}
	if err := hub.SendCancellation(context.Background(), first, matching.Cancellation{RideID: "r1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("old handle err = %v, want ErrNotConnected", err)
	}
}
