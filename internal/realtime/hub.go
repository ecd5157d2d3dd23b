package realtime

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub tracks websocket subscribers grouped into per-session rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*websocket.Conn
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*websocket.Conn)}
}

// Join registers a connection in a session room and returns its
// socket id.
func (h *Hub) Join(sessionID string, conn *websocket.Conn) string {
	socketID := uuid.NewString()
	h.mu.Lock()
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]*websocket.Conn)
		h.rooms[sessionID] = room
	}
	room[socketID] = conn
	h.mu.Unlock()
	log.Printf("[realtime] socket joined session=%s socket=%s", sessionID, socketID)
	return socketID
}

// Leave removes a connection; empty rooms are dropped.
func (h *Hub) Leave(sessionID, socketID string) {
	h.mu.Lock()
	if room := h.rooms[sessionID]; room != nil {
		delete(room, socketID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()
	log.Printf("[realtime] socket left session=%s socket=%s", sessionID, socketID)
}

// RoomSize returns the subscriber count for a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Event is the wire shape pushed to subscribers.
type Event struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// DispatchResult reports a fan-out outcome. Dispatch never fails:
// an empty room is a skip, and broken sockets are dropped from the
// room instead of surfacing an error.
type DispatchResult struct {
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Delivered int    `json:"delivered,omitempty"`
}

// DispatchEvent pushes an event to every subscriber of a session
// room.
func (h *Hub) DispatchEvent(ctx context.Context, sessionID, event string, payload interface{}) DispatchResult {
	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.rooms[sessionID]))
	for id, conn := range h.rooms[sessionID] {
		conns[id] = conn
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return DispatchResult{OK: true, Skipped: true, Reason: "no_room_subscribers"}
	}

	msg := Event{
		Event:     event,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}

	delivered := 0
	for socketID, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, conn, msg)
		cancel()
		if err != nil {
			log.Printf("[realtime] write failed session=%s socket=%s err=%v", sessionID, socketID, err)
			h.Leave(sessionID, socketID)
			conn.Close(websocket.StatusInternalError, "write failed")
			continue
		}
		delivered++
	}
	return DispatchResult{OK: true, Delivered: delivered}
}

// HandleSocket upgrades an HTTP request, parks the connection in the
// session room and blocks until the peer goes away. Inbound frames
// are drained and ignored; the socket is push-only.
func (h *Hub) HandleSocket(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	socketID := h.Join(sessionID, conn)
	defer h.Leave(sessionID, socketID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return nil
		}
	}
}
