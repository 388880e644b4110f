package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/models"
)

type EventType string

const (
	EventOrderExecuted EventType = "order.executed"
	EventOrderFailed   EventType = "order.failed"
	EventOrderCanceled EventType = "order.canceled"
	EventTradeExecuted EventType = "trade.executed"
)

type OrderEvent struct {
	Type   EventType     `json:"type"`
	UserID int64         `json:"userId,string"`
	Order  *models.Order `json:"order,omitempty"`
	Trade  *models.Trade `json:"trade,omitempty"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// Notifier delivers order lifecycle events. Publishing is best effort and
// never affects the state change that produced the event.
type Notifier interface {
	Publish(evt OrderEvent)
}

type NopNotifier struct{}

func (NopNotifier) Publish(OrderEvent) {}

type MultiNotifier []Notifier

func (m MultiNotifier) Publish(evt OrderEvent) {
	for _, n := range m {
		n.Publish(evt)
	}
}

// NATSNotifier publishes events as JSON on "<prefix>.<type>", for example
// "brokerage.order.executed".
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	log    logrus.FieldLogger
}

func NewNATSNotifier(url, prefix string, log logrus.FieldLogger) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, nats.Name("stock-simulator"))
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{conn: conn, prefix: prefix, log: log}, nil
}

func (n *NATSNotifier) Subject(t EventType) string {
	return strings.TrimSuffix(n.prefix, ".") + "." + string(t)
}

func (n *NATSNotifier) Publish(evt OrderEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		n.log.WithError(err).Error("marshal order event")
		return
	}
	if err := n.conn.Publish(n.Subject(evt.Type), data); err != nil {
		n.log.WithError(err).WithField("event", evt.Type).Warn("publish order event")
	}
}

func (n *NATSNotifier) Close() {
	n.conn.Close()
}
