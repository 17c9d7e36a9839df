// Package eventstream implements the optional local WebSocket feed of
// CheckpointEvents, the same non-blocking broadcast-channel-plus-client-set
// pattern RepoSession uses to fan UpdateMessages out to browser clients,
// repurposed to push one CheckpointEvent per committed checkpoint to any
// number of local WebSocket clients.
package eventstream

import (
	"compress/flate"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

const (
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = 54 * time.Second
	broadcastChannelSize = 64
)

// CheckpointEvent is the payload sent to every subscribed client whenever
// the daemon commits a new checkpoint.
type CheckpointEvent struct {
	Checkpoint checkpoint.Checkpoint `json:"checkpoint"`
}

// Hub fans out CheckpointEvents to a set of WebSocket clients. It must be
// created with NewHub and torn down with Close.
type Hub struct {
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	broadcast chan CheckpointEvent

	doneCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewHub constructs a Hub and starts its internal fan-out goroutine.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:    logger,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		broadcast: make(chan CheckpointEvent, broadcastChannelSize),
		doneCh:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.doneCh:
			return
		case ev := <-h.broadcast:
			h.sendToAll(ev)
		}
	}
}

// Publish queues ev for broadcast to every connected client. Non-blocking:
// a full channel drops the event rather than stalling the daemon's
// reconcile loop, mirroring RepoSession.broadcastUpdate.
func (h *Hub) Publish(ev CheckpointEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("eventstream channel full, dropping checkpoint event", "id", ev.Checkpoint.ID.String())
	}
}

func (h *Hub) sendToAll(ev CheckpointEvent) {
	h.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, mu := range h.clients {
		snapshot[conn] = mu
	}
	h.clientsMu.RUnlock()

	var failed []*websocket.Conn
	for conn, mu := range snapshot {
		mu.Lock()
		err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err2 error
		if err1 == nil {
			err2 = conn.WriteJSON(ev)
		}
		mu.Unlock()
		if err1 != nil || err2 != nil {
			failed = append(failed, conn)
		}
	}

	if len(failed) > 0 {
		h.clientsMu.Lock()
		for _, conn := range failed {
			delete(h.clients, conn)
			conn.Close() //nolint:errcheck
		}
		h.clientsMu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	// A local event-feed client connects to a Unix-domain-socket-
	// adjacent TCP port reachable only from localhost; there is no
	// cross-site WebSocket hijacking surface to defend against here, unlike
	// the teacher's SaaS-mode upgrader.
	CheckOrigin:       func(_ *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeHTTP upgrades the connection and registers it for broadcast, the same
// upgrade-then-pump sequence as handleWebSocket/clientReadPump/clientWritePump.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("eventstream: upgrade failed", "err", err)
		return
	}
	conn.EnableWriteCompression(true)
	if err := conn.SetCompressionLevel(flate.BestSpeed); err != nil {
		h.logger.Error("eventstream: set compression level failed", "err", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("eventstream: set read deadline failed", "err", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	mu := &sync.Mutex{}
	h.clientsMu.Lock()
	h.clients[conn] = mu
	h.clientsMu.Unlock()

	done := make(chan struct{})
	h.wg.Add(2)
	go h.readPump(conn, done)
	go h.writePump(conn, done, mu)
}

func (h *Hub) readPump(conn *websocket.Conn, done chan struct{}) {
	defer h.wg.Done()
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, done chan struct{}, mu *sync.Mutex) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		conn.Close() //nolint:errcheck
	}()

	for {
		select {
		case <-done:
			return
		case <-h.doneCh:
			return
		case <-ticker.C:
			mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close stops the fan-out goroutine, force-closes every client connection,
// and waits for all pumps to exit.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.doneCh)
	})
	h.clientsMu.Lock()
	for conn, mu := range h.clients {
		deadline := time.Now().Add(time.Second)
		mu.Lock()
		conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"), deadline)
		conn.Close() //nolint:errcheck
		mu.Unlock()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.clientsMu.Unlock()
	h.wg.Wait()
}
