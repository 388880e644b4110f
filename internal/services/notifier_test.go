package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-simulator/internal/logger"
	"stock-simulator/internal/models"
)

func TestMultiNotifierFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	MultiNotifier{a, NopNotifier{}, b}.Publish(OrderEvent{Type: EventOrderFailed})
	assert.Equal(t, []EventType{EventOrderFailed}, a.types())
	assert.Equal(t, []EventType{EventOrderFailed}, b.types())
}

func TestNATSNotifierPublishes(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	n, err := NewNATSNotifier(url, "test.brokerage.", logger.Discard())
	if err != nil {
		t.Skipf("nats not available at %s: %v", url, err)
	}
	defer n.Close()
	assert.Equal(t, "test.brokerage.order.executed", n.Subject(EventOrderExecuted))

	sub, err := n.conn.SubscribeSync("test.brokerage.>")
	require.NoError(t, err)
	require.NoError(t, n.conn.Flush())

	n.Publish(OrderEvent{Type: EventOrderCanceled, UserID: 7, Order: &models.Order{ID: 9}})
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test.brokerage.order.canceled", msg.Subject)

	var evt OrderEvent
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, int64(7), evt.UserID)
	assert.Equal(t, int64(9), evt.Order.ID)
}

func dialHub(t *testing.T, hub *WebSocketHub, userID int64) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.RegisterClient(conn, userID).Serve()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames forwards every frame the peer receives until the connection
// closes.
func readFrames(conn *websocket.Conn) <-chan Message {
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			out <- msg
		}
	}()
	return out
}

func TestWebSocketHubRoutesOrderEventsToOwner(t *testing.T) {
	hub := NewWebSocketHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	owner := readFrames(dialHub(t, hub, 1))
	other := readFrames(dialHub(t, hub, 2))
	viewer := readFrames(dialHub(t, hub, 0))

	// Registration is asynchronous; keep publishing until the owner sees one.
	deadline := time.After(2 * time.Second)
	for received := false; !received; {
		hub.Publish(OrderEvent{Type: EventOrderExecuted, UserID: 1})
		select {
		case msg := <-owner:
			assert.Equal(t, string(EventOrderExecuted), msg.Type)
			received = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("owner received no order event")
		}
	}

	// Quotes reach every connection. Order events for user 1 never do, so
	// the first frame the others see is a quote.
	pending := map[string]<-chan Message{"other user": other, "viewer": viewer}
	deadline = time.After(2 * time.Second)
	for len(pending) > 0 {
		hub.BroadcastStock(models.Stock{Symbol: "AAPL"})
		select {
		case <-deadline:
			t.Fatalf("no quote for %d connections", len(pending))
		case <-time.After(20 * time.Millisecond):
		}
		for name, ch := range pending {
			select {
			case msg := <-ch:
				assert.Equal(t, "quote", msg.Type, name)
				delete(pending, name)
			default:
			}
		}
	}
}
