// Package lifecycle broadcasts develop-engine state transitions to external
// listeners over SSE and WebSocket (§4.11), so a GUI or a second process
// watching the same image can react to a history change or a finished
// render without polling the store.
//
// Grounded on the teacher's internal/web.WebServer / WebSocketHub (the
// register/unregister/broadcast channel trio and its run loop) for the
// WebSocket side, and internal/server's handleJobStream for the SSE side —
// both adapted from a dashboard's periodic-metrics-snapshot push to an
// event-driven push of one Signal per state transition.
package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Kind names the develop-engine event a Signal reports.
type Kind string

const (
	KindHistoryChange  Kind = "history_change"
	KindPipeFinished   Kind = "pipe_finished"
	KindAutosaveSlow   Kind = "autosave_slow"
	KindImageLoaded    Kind = "image_loaded"
	KindImageUnloaded  Kind = "image_unloaded"
	KindSourceReloaded Kind = "source_reloaded"
)

// Signal is one broadcast event (§4.11).
type Signal struct {
	Kind        Kind      `json:"kind"`
	ImageID     string    `json:"image_id"`
	Pipeline    string    `json:"pipeline,omitempty"`
	Fingerprint uint64    `json:"fingerprint,omitempty"`
	At          time.Time `json:"at"`
}

// Hub fans Signals out to SSE subscribers and WebSocket clients alike. A
// slow or absent subscriber never blocks a publisher: SSE subscriber
// channels are dropped-into with a non-blocking send, matching the render
// scheduler's own saturation-drop discipline (§4.5), and a WebSocket client
// that fails a write is disconnected rather than retried.
type Hub struct {
	log *slog.Logger

	mu        sync.Mutex
	subs      map[int]chan Signal
	nextSubID int

	upgrader    websocket.Upgrader
	wsClients   map[*websocket.Conn]bool
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	wsBroadcast chan Signal
}

// New returns a Hub with no clients yet. Run must be started in a goroutine
// before any WebSocket client can connect.
func New(log *slog.Logger) *Hub {
	return &Hub{
		log:         log,
		subs:        make(map[int]chan Signal),
		wsClients:   make(map[*websocket.Conn]bool),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		wsBroadcast: make(chan Signal, 64),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the WebSocket client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range h.wsClients {
				conn.Close()
			}
			return
		case conn := <-h.register:
			h.wsClients[conn] = true
		case conn := <-h.unregister:
			if _, ok := h.wsClients[conn]; ok {
				delete(h.wsClients, conn)
				conn.Close()
			}
		case sig := <-h.wsBroadcast:
			payload, err := json.Marshal(sig)
			if err != nil {
				continue
			}
			for conn := range h.wsClients {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					delete(h.wsClients, conn)
					conn.Close()
				}
			}
		}
	}
}

// Publish fans sig out to every current SSE subscriber and the WebSocket
// broadcast loop. Safe to call from any goroutine, including a pipeline
// worker mid-render.
func (h *Hub) Publish(sig Signal) {
	h.mu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- sig:
		default:
			if h.log != nil {
				h.log.Warn("lifecycle: subscriber channel full, dropping signal", "subscriber", id, "kind", sig.Kind)
			}
		}
	}
	h.mu.Unlock()

	select {
	case h.wsBroadcast <- sig:
	default:
		if h.log != nil {
			h.log.Warn("lifecycle: websocket broadcast channel full, dropping signal", "kind", sig.Kind)
		}
	}
}

// Subscribe returns a channel of every Signal published from this point on,
// and an unsubscribe function.
func (h *Hub) Subscribe() (<-chan Signal, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Signal, 16)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			close(c)
			delete(h.subs, id)
		}
	}
}

// Routes returns the HTTP surface this hub owns directly: health, SSE, and
// WebSocket. A caller composing a larger mux (e.g. to add a history
// endpoint backed by the develop controller) mounts this sub-router
// alongside its own.
func (h *Hub) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods("GET")
	r.HandleFunc("/images/{id}/stream", h.handleStream).Methods("GET")
	r.HandleFunc("/ws", h.handleWebSocket).Methods("GET")
	return r
}

func (h *Hub) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	imgID := mux.Vars(r)["id"]
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsub := h.Subscribe()
	defer unsub()
	for {
		select {
		case <-r.Context().Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if sig.ImageID != "" && sig.ImageID != imgID {
				continue
			}
			payload, err := json.Marshal(sig)
			if err != nil {
				continue
			}
			w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("lifecycle: websocket upgrade failed", "error", err)
		}
		return
	}
	h.register <- conn
	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
