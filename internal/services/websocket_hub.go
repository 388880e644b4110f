package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message is the envelope every websocket frame carries.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// delivery addresses a frame to every connection (userID 0) or to the
// connections of one user.
type delivery struct {
	userID int64
	frame  []byte
}

// WebSocketHub streams quote ticks to every viewer and order events only to
// the connections of the user who owns the order.
type WebSocketHub struct {
	viewers map[*WebSocketClient]struct{}
	byUser  map[int64]map[*WebSocketClient]struct{}

	outbox chan delivery
	join   chan *WebSocketClient
	leave  chan *WebSocketClient
	done   chan struct{}
	log    logrus.FieldLogger
}

// WebSocketClient is one connection. userID is zero for anonymous viewers,
// who receive quotes only.
type WebSocketClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

func NewWebSocketHub(log logrus.FieldLogger) *WebSocketHub {
	return &WebSocketHub{
		viewers: make(map[*WebSocketClient]struct{}),
		byUser:  make(map[int64]map[*WebSocketClient]struct{}),
		outbox:  make(chan delivery, 64),
		join:    make(chan *WebSocketClient),
		leave:   make(chan *WebSocketClient),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Run owns the connection sets until ctx is done, then closes every
// connection's queue so its writer says goodbye.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.viewers {
				h.drop(c)
			}
			return
		case c := <-h.join:
			h.viewers[c] = struct{}{}
			if c.userID != 0 {
				if h.byUser[c.userID] == nil {
					h.byUser[c.userID] = make(map[*WebSocketClient]struct{})
				}
				h.byUser[c.userID][c] = struct{}{}
			}
			h.log.WithField("user", c.userID).Debugf("websocket joined, %d open", len(h.viewers))
		case c := <-h.leave:
			if _, ok := h.viewers[c]; ok {
				h.drop(c)
				h.log.WithField("user", c.userID).Debugf("websocket left, %d open", len(h.viewers))
			}
		case d := <-h.outbox:
			targets := h.viewers
			if d.userID != 0 {
				targets = h.byUser[d.userID]
			}
			for c := range targets {
				select {
				case c.send <- d.frame:
				default:
					// Slow reader; cut it loose rather than stall everyone.
					h.drop(c)
				}
			}
		}
	}
}

func (h *WebSocketHub) drop(c *WebSocketClient) {
	delete(h.viewers, c)
	if set := h.byUser[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	close(c.send)
}

func (h *WebSocketHub) deliver(userID int64, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("type", msg.Type).Error("encode websocket frame")
		return
	}
	select {
	case h.outbox <- delivery{userID: userID, frame: frame}:
	case <-h.done:
	default:
		h.log.WithField("type", msg.Type).Warn("websocket outbox full, dropping frame")
	}
}

// BroadcastStock sends a quote tick to every connection.
func (h *WebSocketHub) BroadcastStock(stock models.Stock) {
	h.deliver(0, Message{Type: "quote", Data: stock})
}

// Publish sends an order event to its owner's connections.
func (h *WebSocketHub) Publish(evt OrderEvent) {
	if evt.UserID == 0 {
		return
	}
	h.deliver(evt.UserID, Message{Type: string(evt.Type), Data: evt})
}

// RegisterClient attaches conn to the hub. Call Serve on the result.
func (h *WebSocketHub) RegisterClient(conn *websocket.Conn, userID int64) *WebSocketClient {
	c := &WebSocketClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
	select {
	case h.join <- c:
	case <-h.done:
		close(c.send)
	}
	return c
}

// Serve pumps frames to the peer in the background and reads (and discards)
// from it until the connection ends.
func (c *WebSocketClient) Serve() {
	go c.writeLoop()
	c.readLoop()
}

func (c *WebSocketClient) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read")
			}
			return
		}
	}
}

func (c *WebSocketClient) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
