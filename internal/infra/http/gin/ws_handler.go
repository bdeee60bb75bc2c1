package ginserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ncpwheels/internal/app/dto"
	chatapp "ncpwheels/internal/app/handlers/chat"
	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/queries"
	domainchat "ncpwheels/internal/domain/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// LiveSubscriber is the subscription side of live.Hub.
type LiveSubscriber interface {
	SubscribeToMessages(id domainchat.ConversationID, onUpdate func([]domainchat.Message)) live.Unsubscribe
	SubscribeToConversations(userID string, onUpdate func([]*domainchat.Conversation)) live.Unsubscribe
}

// LiveHandler streams hub snapshots over WebSocket. Each frame is a full snapshot; a
// slow client skips to the newest one.
type LiveHandler struct {
	Hub         LiveSubscriber
	Queries     queries.Bus
	Logger      *slog.Logger
	CheckOrigin func(r *http.Request) bool
}

type liveFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Items          any    `json:"items"`
}

func (h LiveHandler) Conversations(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	userID := targetUser(c, actor.UserID, actor.HasRole("admin"))
	h.upgrade(c, func(push func(liveFrame)) live.Unsubscribe {
		return h.Hub.SubscribeToConversations(userID, func(items []*domainchat.Conversation) {
			push(liveFrame{Type: "conversations", Items: dto.MapConversations(items).Items})
		})
	})
}

func (h LiveHandler) Messages(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	conv, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries,
		chatapp.GetConversationQuery{ConversationID: id, ViewerID: viewer(actor.UserID, actor.HasRole("admin"))})
	if err != nil {
		status, message := classify(err)
		c.JSON(status, gin.H{"error": message})
		return
	}
	h.upgrade(c, func(push func(liveFrame)) live.Unsubscribe {
		return h.Hub.SubscribeToMessages(domainchat.ConversationID(conv.ID), func(items []domainchat.Message) {
			push(liveFrame{Type: "messages", ConversationID: conv.ID, Items: dto.MapMessages(items)})
		})
	})
}

func (h LiveHandler) upgrade(c *gin.Context, subscribe func(push func(liveFrame)) live.Unsubscribe) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	box := newMailbox()
	stop := subscribe(box.put)
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, box, done)
	stop()
	conn.Close()
}

// readPump only watches for the client going away; clients send nothing.
func (h LiveHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && h.Logger != nil {
				h.Logger.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}

func (h LiveHandler) writePump(conn *websocket.Conn, box *mailbox, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-box.ready:
			frame, ok := box.take()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// mailbox holds only the newest frame.
type mailbox struct {
	mu    sync.Mutex
	frame *liveFrame
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(f liveFrame) {
	m.mu.Lock()
	m.frame = &f
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (liveFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return liveFrame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}

var _ LiveHTTP = LiveHandler{}
