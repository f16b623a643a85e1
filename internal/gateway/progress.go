package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/pria-cloud/app-composer/internal/models"
)

var progressTracer = otel.Tracer("progress-channel")

// pushTimeout bounds one progress delivery attempt. Progress is fire and
// forget: a slow or failing listener never slows a build.
const pushTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// Pusher posts progress events to an external HTTP listener
type Pusher struct {
	callbackURL string
	httpClient  *http.Client
}

// NewPusher creates a progress pusher from the environment. With no callback
// URL configured the pusher is inert.
func NewPusher() *Pusher {
	return &Pusher{
		callbackURL: os.Getenv("PROGRESS_CALLBACK_URL"),
		httpClient:  &http.Client{Timeout: pushTimeout},
	}
}

// Notify posts the event to the callback URL in the background. Failures are
// logged and dropped.
func (p *Pusher) Notify(event models.ProgressEvent) {
	if p.callbackURL == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		_, span := progressTracer.Start(ctx, "progress.push")
		defer span.End()

		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf(`{"level":"warn","message":"Failed to marshal progress event","conversation_id":"%s","error":"%v"}`, event.ConversationID, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", p.callbackURL, bytes.NewBuffer(payload))
		if err != nil {
			span.RecordError(err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			span.RecordError(err)
			log.Printf(`{"level":"warn","message":"Progress push failed","conversation_id":"%s","error":"%v"}`, event.ConversationID, err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Printf(`{"level":"warn","message":"Progress listener rejected event","conversation_id":"%s","status":%d}`, event.ConversationID, resp.StatusCode)
		}
	}()
}

// Hub fans progress events out to websocket subscribers keyed by
// conversation id.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty websocket hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[*websocket.Conn]bool)}
}

// Subscribe handles GET /api/ws/builds/:conversation_id
// @Summary Stream build progress
// @Description WebSocket endpoint streaming progress events for a conversation
// @Tags intents
// @Param conversation_id path string true "Conversation ID"
// @Success 101 "Switching Protocols"
// @Security BearerAuth
// @Router /ws/builds/{conversation_id} [get]
func (h *Hub) Subscribe(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf(`{"level":"warn","message":"WebSocket upgrade failed","conversation_id":"%s","error":"%v"}`, conversationID, err)
		return
	}

	h.mu.Lock()
	if h.subscribers[conversationID] == nil {
		h.subscribers[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[conversationID][conn] = true
	h.mu.Unlock()

	log.Printf(`{"level":"info","message":"Progress subscriber connected","conversation_id":"%s"}`, conversationID)

	// Reads only detect disconnection; subscribers never send.
	go func() {
		defer h.drop(conversationID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Notify delivers the event to every subscriber of its conversation
func (h *Hub) Notify(event models.ProgressEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subscribers[event.ConversationID]))
	for conn := range h.subscribers[event.ConversationID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(pushTimeout))
		if err := conn.WriteJSON(event); err != nil {
			log.Printf(`{"level":"warn","message":"Progress write failed, dropping subscriber","conversation_id":"%s","error":"%v"}`, event.ConversationID, err)
			h.drop(event.ConversationID, conn)
		}
	}
}

func (h *Hub) drop(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	if subs := h.subscribers[conversationID]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subscribers, conversationID)
		}
	}
	h.mu.Unlock()
	conn.Close()
}

// Notifier fans one progress event out to every configured channel
type Notifier struct {
	channels []interface{ Notify(models.ProgressEvent) }
}

// NewNotifier combines progress channels into one composer-facing notifier
func NewNotifier(channels ...interface{ Notify(models.ProgressEvent) }) *Notifier {
	return &Notifier{channels: channels}
}

// Notify implements composer.Notifier
func (n *Notifier) Notify(event models.ProgressEvent) {
	for _, channel := range n.channels {
		channel.Notify(event)
	}
}
