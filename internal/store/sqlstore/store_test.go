package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedUser(t *testing.T, s *SQLStore, id int64, cash string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &models.User{
		ID:          id,
		Username:    fmt.Sprintf("user%d", id),
		Email:       fmt.Sprintf("user%d@example.com", id),
		Password:    "hash",
		CashBalance: dec(cash),
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedOrder(t *testing.T, s *SQLStore, o models.Order) *models.Order {
	t.Helper()
	if o.Status == "" {
		o.Status = models.OrderOpen
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, s.CreateOrder(context.Background(), &o))
	return &o
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "50000.00")

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "user1", u.Username)
	assert.True(t, u.CashBalance.Equal(dec("50000")))

	byEmail, err := s.FindUserByLogin(ctx, "USER1@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byEmail.ID)

	byName, err := s.FindUserByLogin(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byName.ID)

	exists, err := s.UserExists(ctx, "nobody", "user1@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.GetUser(ctx, 99)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = s.CreateUser(ctx, &models.User{ID: 2, Username: "user1", Email: "other@example.com", CreatedAt: time.Now()})
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)
}

func TestAddBalanceNeverGoesNegative(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "100.00")

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.AddBalance(ctx, 1, dec("-100.01"))
	})
	assert.True(t, errors.Is(err, models.ErrInsufficientFunds))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.AddBalance(ctx, 1, dec("-100.00"))
	}))
	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.CashBalance.IsZero())

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.AddBalance(ctx, 1, dec("12.34"))
	}))
	u, err = s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.CashBalance.Equal(dec("12.34")))
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "100.00")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.AddBalance(ctx, 1, dec("-40")))
		pos := &models.Position{UserID: 1, Ticker: "AAPL", Quantity: 2, AvgPrice: dec("20"), UpdatedAt: time.Now()}
		require.NoError(t, tx.SavePosition(ctx, pos))
		return boom
	})
	assert.Equal(t, boom, err)

	u, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.CashBalance.Equal(dec("100")))
	positions, err := s.ListPositions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPositionsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "0")

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		pos, err := tx.Position(ctx, 1, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(0), pos.Quantity)

		pos.Buy(3, dec("10"), time.Now())
		require.NoError(t, tx.SavePosition(ctx, pos))
		pos.Buy(1, dec("14"), time.Now())
		return tx.SavePosition(ctx, pos)
	}))

	positions, err := s.ListPositions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(4), positions[0].Quantity)
	assert.True(t, positions[0].AvgPrice.Equal(dec("11")), "avg %s", positions[0].AvgPrice)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.DeletePosition(ctx, 1, "AAPL")
	}))
	positions, err = s.ListPositions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOrderStatusTransitionsAreConditional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "1000")

	o := seedOrder(t, s, models.Order{ID: 10, UserID: 1, Ticker: "AAPL", Kind: models.LimitBuy, Quantity: 1, LimitPrice: decimal.NewNullDecimal(dec("10"))})

	err := s.CancelOrder(ctx, o.ID, 2)
	assert.True(t, errors.Is(err, store.ErrNotFound), "foreign order: %v", err)

	require.NoError(t, s.CancelOrder(ctx, o.ID, 1))
	err = s.CancelOrder(ctx, o.ID, 1)
	assert.True(t, errors.Is(err, store.ErrOrderNotOpen))

	err = s.MarkFailed(ctx, o.ID, "too late")
	assert.True(t, errors.Is(err, store.ErrOrderNotOpen))

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkExecuted(ctx, o.ID, dec("10"), time.Now())
	})
	assert.True(t, errors.Is(err, store.ErrOrderNotOpen))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, got.Status)
}

func TestMarkExecutedAndFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "1000")
	a := seedOrder(t, s, models.Order{ID: 1, UserID: 1, Ticker: "AAPL", Kind: models.LimitBuy, Quantity: 1, LimitPrice: decimal.NewNullDecimal(dec("10"))})
	b := seedOrder(t, s, models.Order{ID: 2, UserID: 1, Ticker: "AAPL", Kind: models.StopLossSell, Quantity: 1, StopPrice: decimal.NewNullDecimal(dec("8"))})

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.MarkExecuted(ctx, a.ID, dec("10.00"), at)
	}))
	require.NoError(t, s.MarkFailed(ctx, b.ID, "insufficient shares"))

	got, err := s.GetOrder(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExecuted, got.Status)
	require.True(t, got.ExecutedPrice.Valid)
	assert.True(t, got.ExecutedPrice.Decimal.Equal(dec("10")))
	require.NotNil(t, got.ExecutedAt)

	got, err = s.GetOrder(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, got.Status)
	assert.Equal(t, "insufficient shares", got.FailReason)

	open, err := s.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMarkFailedClipsLongReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, 1, "1000")
	o := seedOrder(t, s, models.Order{ID: 1, UserID: 1, Ticker: "AAPL", Kind: models.LimitBuy, Quantity: 1, LimitPrice: decimal.NewNullDecimal(dec("10"))})

	reason := "storage error: " + strings.Repeat("é", 200)
	require.NoError(t, s.MarkFailed(ctx, o.ID, reason))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ClipFailReason(reason), got.FailReason)
	assert.True(t, utf8.ValidString(got.FailReason))
	assert.LessOrEqual(t, len(got.FailReason), store.MaxFailReasonBytes)
}

func TestListOpenOrdersInCreationOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	lp := decimal.NewNullDecimal(dec("10"))

	seedOrder(t, s, models.Order{ID: 3, UserID: 1, Ticker: "A", Kind: models.LimitBuy, Quantity: 1, LimitPrice: lp, CreatedAt: base.Add(2 * time.Minute)})
	seedOrder(t, s, models.Order{ID: 2, UserID: 1, Ticker: "A", Kind: models.LimitBuy, Quantity: 1, LimitPrice: lp, CreatedAt: base})
	seedOrder(t, s, models.Order{ID: 1, UserID: 1, Ticker: "A", Kind: models.LimitBuy, Quantity: 1, LimitPrice: lp, CreatedAt: base})
	seedOrder(t, s, models.Order{ID: 4, UserID: 1, Ticker: "A", Kind: models.LimitBuy, Quantity: 1, LimitPrice: lp, CreatedAt: base, Status: models.OrderCanceled})

	open, err := s.ListOpenOrders(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestLockedCash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedOrder(t, s, models.Order{ID: 1, UserID: 1, Ticker: "A", Kind: models.LimitBuy, Quantity: 10, LimitPrice: decimal.NewNullDecimal(dec("12.50"))})
	seedOrder(t, s, models.Order{ID: 2, UserID: 1, Ticker: "B", Kind: models.LimitBuy, Quantity: 2, LimitPrice: decimal.NewNullDecimal(dec("100"))})
	seedOrder(t, s, models.Order{ID: 3, UserID: 1, Ticker: "B", Kind: models.LimitSell, Quantity: 2, LimitPrice: decimal.NewNullDecimal(dec("500"))})
	seedOrder(t, s, models.Order{ID: 4, UserID: 1, Ticker: "C", Kind: models.LimitBuy, Quantity: 1, LimitPrice: decimal.NewNullDecimal(dec("999")), Status: models.OrderExecuted})
	seedOrder(t, s, models.Order{ID: 5, UserID: 2, Ticker: "C", Kind: models.LimitBuy, Quantity: 1, LimitPrice: decimal.NewNullDecimal(dec("999"))})

	locked, err := s.LockedCash(ctx, 1)
	require.NoError(t, err)
	assert.True(t, locked.Equal(dec("325")), "locked %s", locked)
}

func TestTradesNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for i := int64(1); i <= 3; i++ {
			err := tx.InsertTrade(ctx, &models.Trade{
				ID: i, UserID: 1, Ticker: "AAPL", Side: models.Buy, Quantity: i,
				Price: dec("10"), ExecutedAt: base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	trades, err := s.ListTrades(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(3), trades[0].ID)
	assert.Equal(t, int64(2), trades[1].ID)
	assert.True(t, trades[0].Price.Equal(dec("10")))
}
