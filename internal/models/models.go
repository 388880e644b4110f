package models

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Stock struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
}

type OrderKind string

const (
	LimitBuy     OrderKind = "limit_buy"
	LimitSell    OrderKind = "limit_sell"
	StopLossSell OrderKind = "stop_loss_sell"
)

type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderExecuted OrderStatus = "executed"
	OrderCanceled OrderStatus = "canceled"
	OrderFailed   OrderStatus = "failed"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInvalidTrade       = errors.New("invalid trade")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Order is a conditional instruction to trade Quantity shares of Ticker once
// the last price crosses the order's trigger price.
type Order struct {
	ID            int64               `json:"id,string"`
	UserID        int64               `json:"userId,string"`
	Ticker        string              `json:"ticker"`
	Kind          OrderKind           `json:"kind"`
	Quantity      int64               `json:"quantity"`
	LimitPrice    decimal.NullDecimal `json:"limitPrice"`
	StopPrice     decimal.NullDecimal `json:"stopPrice"`
	Status        OrderStatus         `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
	ExecutedAt    *time.Time          `json:"executedAt,omitempty"`
	ExecutedPrice decimal.NullDecimal `json:"executedPrice"`
	FailReason    string              `json:"failReason,omitempty"`
}

// Validate checks an order before it is stored. The quantity must be
// positive and the order must carry exactly the price its kind uses (limit
// price for limit orders, stop price for stop-loss). That price must be
// positive with at most two decimal places: 150.25 is accepted, 150.255 is
// rejected with ErrInvalidOrder because balances are kept in whole cents.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.Ticker) == "" {
		return errors.Wrap(ErrInvalidOrder, "ticker is required")
	}
	if o.Quantity <= 0 {
		return errors.Wrapf(ErrInvalidOrder, "quantity must be positive, got %d", o.Quantity)
	}
	switch o.Kind {
	case LimitBuy, LimitSell:
		if o.StopPrice.Valid {
			return errors.Wrapf(ErrInvalidOrder, "%s takes a limit price, not a stop price", o.Kind)
		}
		return validatePrice("limit price", o.LimitPrice)
	case StopLossSell:
		if o.LimitPrice.Valid {
			return errors.Wrapf(ErrInvalidOrder, "%s takes a stop price, not a limit price", o.Kind)
		}
		return validatePrice("stop price", o.StopPrice)
	default:
		return errors.Wrapf(ErrInvalidOrder, "unknown order kind %q", o.Kind)
	}
}

func validatePrice(name string, p decimal.NullDecimal) error {
	if !p.Valid {
		return errors.Wrapf(ErrInvalidOrder, "%s is required", name)
	}
	if !p.Decimal.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "%s must be positive", name)
	}
	if !IsWholeCents(p.Decimal) {
		return errors.Wrapf(ErrInvalidOrder, "%s %s has more than two decimal places", name, p.Decimal)
	}
	return nil
}

// TriggerPrice returns the limit price for limit kinds and the stop price for
// stop-loss orders.
func (o *Order) TriggerPrice() decimal.Decimal {
	if o.Kind == StopLossSell {
		return o.StopPrice.Decimal
	}
	return o.LimitPrice.Decimal
}

func (o *Order) IsBuy() bool { return o.Kind == LimitBuy }

func (o *Order) Side() Side {
	if o.IsBuy() {
		return Buy
	}
	return Sell
}

// Triggered reports whether the order fires at the given last price. The fill
// always happens at the trigger price, never at the market price.
func (o *Order) Triggered(last decimal.Decimal) bool {
	trigger := o.TriggerPrice()
	switch o.Kind {
	case LimitBuy, StopLossSell:
		return last.LessThanOrEqual(trigger)
	case LimitSell:
		return last.GreaterThanOrEqual(trigger)
	}
	return false
}

type Position struct {
	UserID    int64           `json:"userId,string"`
	Ticker    string          `json:"ticker"`
	Quantity  int64           `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Buy adds qty shares bought at price and recomputes the volume-weighted
// average purchase price.
func (p *Position) Buy(qty int64, price decimal.Decimal, at time.Time) {
	newQty := p.Quantity + qty
	cost := p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)).Add(price.Mul(decimal.NewFromInt(qty)))
	p.AvgPrice = cost.Div(decimal.NewFromInt(newQty))
	p.Quantity = newQty
	p.UpdatedAt = at
}

// Sell removes qty shares. The average price is left untouched.
func (p *Position) Sell(qty int64, at time.Time) error {
	if qty > p.Quantity {
		return errors.Wrapf(ErrInsufficientShares, "have %d %s, want to sell %d", p.Quantity, p.Ticker, qty)
	}
	p.Quantity -= qty
	p.UpdatedAt = at
	return nil
}

// Trade is the immutable record of one applied fill. OrderID is zero for
// market trades.
type Trade struct {
	ID         int64           `json:"id,string"`
	OrderID    int64           `json:"orderId,string"`
	UserID     int64           `json:"userId,string"`
	Ticker     string          `json:"ticker"`
	Side       Side            `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Total is Quantity x Price.
func (t *Trade) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

func (t *Trade) Validate() error {
	if t.Quantity <= 0 {
		return errors.Wrapf(ErrInvalidTrade, "quantity must be positive, got %d", t.Quantity)
	}
	if t.Side != Buy && t.Side != Sell {
		return errors.Wrapf(ErrInvalidTrade, "unknown side %q", t.Side)
	}
	if !t.Price.IsPositive() {
		return errors.Wrap(ErrInvalidTrade, "price must be positive")
	}
	return nil
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
