package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/httputil"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/node"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Diagnostics endpoint; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventHub fans node events out to websocket subscribers. Slow subscribers
// lose events instead of blocking the node's publisher.
type eventHub struct {
	mu   sync.RWMutex
	subs map[string]chan node.Event
	stop chan struct{}
	once sync.Once
}

func newEventHub() *eventHub {
	return &eventHub{
		subs: make(map[string]chan node.Event),
		stop: make(chan struct{}),
	}
}

func (h *eventHub) subscribe() (string, chan node.Event) {
	id := uuid.NewString()
	ch := make(chan node.Event, 64)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *eventHub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *eventHub) broadcast(ev node.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// close releases every subscriber; streams end on their next select.
func (h *eventHub) close() {
	h.once.Do(func() { close(h.stop) })
}

// eventsHandler handles GET /v1/events. It upgrades to a websocket and
// streams node events as JSON objects, one per message. ?kind= narrows the
// stream to a single event kind.
func (g *Gateway) eventsHandler(w http.ResponseWriter, r *http.Request) {
	kind := httputil.QueryParam(r, "kind", "")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "events ws: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, events := g.hub.subscribe()
	defer g.hub.unsubscribe(id)

	g.logger.ComponentDebug(logging.ComponentGateway, "events ws: subscriber attached",
		zap.String("subscriber", id),
		zap.String("kind", kind))

	// Reader loop drains client frames so close handshakes and pongs are
	// processed; the first read error ends the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			if kind != "" && string(ev.Kind) != kind {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		case <-done:
			return
		case <-g.hub.stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down"),
				time.Now().Add(5*time.Second))
			return
		case <-r.Context().Done():
			return
		}
	}
}
