package models

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestOrderValidate(t *testing.T) {
	cases := []struct {
		name  string
		order Order
		ok    bool
	}{
		{"limit buy", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 10, LimitPrice: price("150.00")}, true},
		{"limit sell", Order{Ticker: "AAPL", Kind: LimitSell, Quantity: 1, LimitPrice: price("0.01")}, true},
		{"stop loss", Order{Ticker: "AAPL", Kind: StopLossSell, Quantity: 5, StopPrice: price("20")}, true},
		{"zero quantity", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 0, LimitPrice: price("10")}, false},
		{"negative quantity", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: -3, LimitPrice: price("10")}, false},
		{"missing ticker", Order{Kind: LimitBuy, Quantity: 1, LimitPrice: price("10")}, false},
		{"limit without price", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 1}, false},
		{"limit with stop price", Order{Ticker: "AAPL", Kind: LimitSell, Quantity: 1, LimitPrice: price("10"), StopPrice: price("9")}, false},
		{"stop without price", Order{Ticker: "AAPL", Kind: StopLossSell, Quantity: 1}, false},
		{"stop with limit price", Order{Ticker: "AAPL", Kind: StopLossSell, Quantity: 1, StopPrice: price("9"), LimitPrice: price("10")}, false},
		{"zero price", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 1, LimitPrice: price("0")}, false},
		{"negative price", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 1, LimitPrice: price("-5")}, false},
		{"sub-cent price", Order{Ticker: "AAPL", Kind: LimitBuy, Quantity: 1, LimitPrice: price("10.005")}, false},
		{"unknown kind", Order{Ticker: "AAPL", Kind: "market", Quantity: 1, LimitPrice: price("10")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.order.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidOrder), "got %v", err)
		})
	}
}

func TestOrderTriggered(t *testing.T) {
	buy := Order{Kind: LimitBuy, LimitPrice: price("50.00")}
	assert.True(t, buy.Triggered(decimal.RequireFromString("49.00")))
	assert.True(t, buy.Triggered(decimal.RequireFromString("50.00")))
	assert.False(t, buy.Triggered(decimal.RequireFromString("50.01")))

	sell := Order{Kind: LimitSell, LimitPrice: price("60.00")}
	assert.True(t, sell.Triggered(decimal.RequireFromString("60.00")))
	assert.True(t, sell.Triggered(decimal.RequireFromString("75")))
	assert.False(t, sell.Triggered(decimal.RequireFromString("59.99")))

	stop := Order{Kind: StopLossSell, StopPrice: price("20.00")}
	assert.True(t, stop.Triggered(decimal.RequireFromString("19.50")))
	assert.True(t, stop.Triggered(decimal.RequireFromString("20")))
	assert.False(t, stop.Triggered(decimal.RequireFromString("20.01")))
}

func TestOrderSideAndTriggerPrice(t *testing.T) {
	o := Order{Kind: StopLossSell, StopPrice: price("20.00")}
	assert.Equal(t, Sell, o.Side())
	assert.False(t, o.IsBuy())
	assert.True(t, o.TriggerPrice().Equal(decimal.RequireFromString("20")))

	o = Order{Kind: LimitBuy, LimitPrice: price("12.34")}
	assert.Equal(t, Buy, o.Side())
	assert.True(t, o.IsBuy())
	assert.True(t, o.TriggerPrice().Equal(decimal.RequireFromString("12.34")))
}

func TestPositionBuyAveragesPrice(t *testing.T) {
	now := time.Now()
	p := &Position{Ticker: "AAPL", AvgPrice: decimal.Zero}

	p.Buy(10, decimal.RequireFromString("100"), now)
	assert.Equal(t, int64(10), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(decimal.RequireFromString("100")))

	p.Buy(10, decimal.RequireFromString("110"), now)
	assert.Equal(t, int64(20), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(decimal.RequireFromString("105")), "avg %s", p.AvgPrice)
}

func TestPositionSell(t *testing.T) {
	p := &Position{Ticker: "AAPL", Quantity: 5, AvgPrice: decimal.RequireFromString("20")}

	require.NoError(t, p.Sell(3, time.Now()))
	assert.Equal(t, int64(2), p.Quantity)
	assert.True(t, p.AvgPrice.Equal(decimal.RequireFromString("20")))

	err := p.Sell(3, time.Now())
	assert.True(t, errors.Is(err, ErrInsufficientShares))
	assert.Equal(t, int64(2), p.Quantity)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(5000000), ToCents(decimal.RequireFromString("50000.00")))
	assert.True(t, FromCents(4900).Equal(decimal.RequireFromString("49")))
	assert.True(t, IsWholeCents(decimal.RequireFromString("1.23")))
	assert.False(t, IsWholeCents(decimal.RequireFromString("1.234")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeTicker("  aapl "))
	assert.Equal(t, "bob@example.com", NormalizeEmail(" Bob@Example.COM"))
	assert.True(t, LooksLikeEmail("bob@example.com"))
	assert.False(t, LooksLikeEmail("bob"))
}

func TestPasswordHash(t *testing.T) {
	u := &User{Password: "secret123"}
	require.NoError(t, u.HashPassword())
	assert.NotEqual(t, "secret123", u.Password)
	assert.True(t, u.CheckPassword("secret123"))
	assert.False(t, u.CheckPassword("wrong"))
}
