package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stock-simulator/internal/logger"
	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
	"stock-simulator/internal/store/sqlstore"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := sqlstore.Open("sqlite", fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st store.Store, id int64, cash string) {
	t.Helper()
	require.NoError(t, st.CreateUser(context.Background(), &models.User{
		ID:          id,
		Username:    fmt.Sprintf("trader%d", id),
		Email:       fmt.Sprintf("trader%d@example.com", id),
		Password:    "x",
		CashBalance: dec(cash),
		CreatedAt:   time.Now().UTC(),
	}))
}

func seedPosition(t *testing.T, st store.Store, userID int64, ticker string, qty int64, avg string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.SavePosition(ctx, &models.Position{
			UserID: userID, Ticker: ticker, Quantity: qty, AvgPrice: dec(avg), UpdatedAt: time.Now().UTC(),
		})
	}))
}

var orderSeq int64

func seedOrder(t *testing.T, st store.Store, userID int64, kind models.OrderKind, ticker string, qty int64, trigger string) *models.Order {
	t.Helper()
	orderSeq++
	o := &models.Order{
		ID:        orderSeq,
		UserID:    userID,
		Ticker:    ticker,
		Kind:      kind,
		Quantity:  qty,
		Status:    models.OrderOpen,
		CreatedAt: time.Now().UTC().Add(time.Duration(orderSeq) * time.Millisecond),
	}
	if kind == models.StopLossSell {
		o.StopPrice = decimal.NewNullDecimal(dec(trigger))
	} else {
		o.LimitPrice = decimal.NewNullDecimal(dec(trigger))
	}
	require.NoError(t, o.Validate())
	require.NoError(t, st.CreateOrder(context.Background(), o))
	return o
}

func balance(t *testing.T, st store.Store, userID int64) decimal.Decimal {
	t.Helper()
	u, err := st.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.CashBalance
}

func position(t *testing.T, st store.Store, userID int64, ticker string) (models.Position, bool) {
	t.Helper()
	positions, err := st.ListPositions(context.Background(), userID)
	require.NoError(t, err)
	for _, p := range positions {
		if p.Ticker == ticker {
			return p, true
		}
	}
	return models.Position{}, false
}

func orderStatus(t *testing.T, st store.Store, orderID int64) *models.Order {
	t.Helper()
	o, err := st.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

// fixedQuotes returns the configured prices; symbols not in the map are
// absent from the result.
type fixedQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
	hook   func()
}

func newFixedQuotes(kv ...string) *fixedQuotes {
	q := &fixedQuotes{prices: map[string]decimal.Decimal{}}
	for i := 0; i+1 < len(kv); i += 2 {
		q.prices[kv[i]] = dec(kv[i+1])
	}
	return q
}

func (q *fixedQuotes) set(ticker, price string) {
	q.mu.Lock()
	q.prices[ticker] = dec(price)
	q.mu.Unlock()
}

func (q *fixedQuotes) LastPrices(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	q.mu.Lock()
	q.calls++
	hook, err := q.hook, q.err
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		if p, ok := q.prices[t]; ok {
			out[t] = p
		}
	}
	q.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (r *recordingNotifier) Publish(evt OrderEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestProcessor(st store.Store, quotes QuoteSource, n Notifier) *OrderProcessor {
	p := NewOrderProcessor(st, quotes, n, logger.Discard())
	fixed := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	return p
}
