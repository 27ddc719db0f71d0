package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"cropdoc-backend/internal/middleware"
	"cropdoc-backend/internal/models"
	"cropdoc-backend/internal/services"
	"cropdoc-backend/internal/sessions"
)

const writeWait = 10 * time.Second

var errNoClients = errors.New("no websocket client attached to session")

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans session updates out to the browser tabs of that session and doubles as
// their audio output.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*client
	cancelFuncs map[uuid.UUID]context.CancelFunc
	redisClient *redis.Client
	auth        *middleware.SessionAuth
	store       *sessions.Store
	upgrader    websocket.Upgrader
}

// NewHub wires the hub. A nil redisClient disables the pub/sub relay.
func NewHub(redisClient *redis.Client, auth *middleware.SessionAuth, store *sessions.Store, allowedOrigin string) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*client),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		redisClient: redisClient,
		auth:        auth,
		store:       store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := h.store.Get(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	sess.Touch()
	if first := h.registerConnection(sessionID, c); first {
		sess.InitAudio(&sink{hub: h, sessionID: sessionID})
	}

	// Keep connection alive and handle disconnect
	go func() {
		defer func() {
			sess.Touch()
			if last := h.unregisterConnection(sessionID, c); last {
				sess.DetachAudio()
				// a tab may have reconnected in between
				if h.Connections(sessionID) > 0 {
					sess.InitAudio(&sink{hub: h, sessionID: sessionID})
				}
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			sess.Touch()
		}
	}()
}

func (h *Hub) registerConnection(sessionID uuid.UUID, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)
	first := len(h.connections[sessionID]) == 1

	// Start pub/sub subscription if this is the first connection for this session
	if first && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.subscribeToPubSub(ctx, sessionID)
	}

	log.Printf("WebSocket connected: session %s (total: %d)", sessionID, len(h.connections[sessionID]))
	return first
}

func (h *Hub) unregisterConnection(sessionID uuid.UUID, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[sessionID]
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	last := len(h.connections[sessionID]) == 0
	if last {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	log.Printf("WebSocket disconnected: session %s", sessionID)
	return last
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, services.SessionChannel(sessionID.String()))
	defer pubsub.Close()

	h.relay(ctx, sessionID, pubsub.Channel())
}

// relay forwards pub/sub payloads to the session's tabs until ctx ends or ch closes.
func (h *Hub) relay(ctx context.Context, sessionID uuid.UUID, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, websocket.TextMessage, []byte(msg.Payload))
		}
	}
}

// broadcast writes to every tab of the session and reports how many received it.
func (h *Hub) broadcast(sessionID uuid.UUID, messageType int, data []byte) int {
	h.mu.RLock()
	conns := append([]*client(nil), h.connections[sessionID]...)
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.write(messageType, data); err != nil {
			log.Printf("WebSocket write failed for session %s: %v", sessionID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendToSession sends a message directly to a session (for use outside pub/sub)
func (h *Hub) SendToSession(sessionID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast(sessionID, websocket.TextMessage, data)
}

// Connections returns the number of open tabs for a session.
func (h *Hub) Connections(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}
