package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"stock-simulator/internal/idgen"
	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

// fill is one trade about to be applied to a user's account. OrderID is
// zero for market trades.
type fill struct {
	OrderID  int64
	UserID   int64
	Ticker   string
	Side     models.Side
	Quantity int64
	Price    decimal.Decimal
	At       time.Time
}

func fillForOrder(o *models.Order, at time.Time) fill {
	return fill{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Ticker:   o.Ticker,
		Side:     o.Side(),
		Quantity: o.Quantity,
		Price:    o.TriggerPrice(),
		At:       at,
	}
}

// applyFill checks the account against the fill and applies it inside tx:
// claim the order, move cash, move shares, record the trade. Any error
// leaves tx to be rolled back by the caller.
func applyFill(ctx context.Context, tx store.Tx, f fill) (*models.Trade, error) {
	trade := &models.Trade{
		OrderID:    f.OrderID,
		UserID:     f.UserID,
		Ticker:     f.Ticker,
		Side:       f.Side,
		Quantity:   f.Quantity,
		Price:      f.Price,
		ExecutedAt: f.At,
	}
	if err := trade.Validate(); err != nil {
		return nil, err
	}
	total := trade.Total()

	if f.OrderID != 0 {
		if err := tx.MarkExecuted(ctx, f.OrderID, f.Price, f.At); err != nil {
			return nil, err
		}
	}

	pos, err := tx.Position(ctx, f.UserID, f.Ticker)
	if err != nil {
		return nil, err
	}

	switch f.Side {
	case models.Buy:
		balance, err := tx.Balance(ctx, f.UserID)
		if err != nil {
			return nil, err
		}
		if balance.LessThan(total) {
			return nil, errors.Wrapf(models.ErrInsufficientFunds, "have %s, need %s", balance.StringFixed(2), total.StringFixed(2))
		}
		if err := tx.AddBalance(ctx, f.UserID, total.Neg()); err != nil {
			return nil, err
		}
		pos.Buy(f.Quantity, f.Price, f.At)
		if err := tx.SavePosition(ctx, pos); err != nil {
			return nil, err
		}

	case models.Sell:
		if err := pos.Sell(f.Quantity, f.At); err != nil {
			return nil, err
		}
		if pos.Quantity == 0 {
			err = tx.DeletePosition(ctx, f.UserID, f.Ticker)
		} else {
			err = tx.SavePosition(ctx, pos)
		}
		if err != nil {
			return nil, err
		}
		if err := tx.AddBalance(ctx, f.UserID, total); err != nil {
			return nil, err
		}
	}

	trade.ID = idgen.Next()
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// isPreconditionError reports whether err is an account check that failed,
// as opposed to a storage problem.
func isPreconditionError(err error) bool {
	return errors.Is(err, models.ErrInsufficientFunds) ||
		errors.Is(err, models.ErrInsufficientShares) ||
		errors.Is(err, models.ErrInvalidTrade)
}
