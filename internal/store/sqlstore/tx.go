package sqlstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

type sqlTx struct {
	db *gorm.DB
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

func (t *sqlTx) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var row userRow
	err := t.db.WithContext(ctx).Clauses(forUpdate).
		Select("id", "cash_cents").
		Where("id = ?", userID).
		First(&row).Error
	if err != nil {
		return decimal.Zero, translate(err, "read balance")
	}
	return models.FromCents(row.CashCents), nil
}

func (t *sqlTx) AddBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	cents := models.ToCents(delta)
	if cents == 0 {
		_, err := t.Balance(ctx, userID)
		return err
	}
	q := t.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID)
	if cents < 0 {
		q = q.Where("cash_cents >= ?", -cents)
	}
	res := q.Update("cash_cents", gorm.Expr("cash_cents + ?", cents))
	if res.Error != nil {
		return translate(res.Error, "update balance")
	}
	if res.RowsAffected == 0 {
		bal, err := t.Balance(ctx, userID)
		if err != nil {
			return err
		}
		return errors.Wrapf(models.ErrInsufficientFunds, "have %s, need %s", bal.StringFixed(2), delta.Neg().StringFixed(2))
	}
	return nil
}

func (t *sqlTx) Position(ctx context.Context, userID int64, ticker string) (*models.Position, error) {
	var row positionRow
	err := t.db.WithContext(ctx).Clauses(forUpdate).
		Where("user_id = ? AND ticker = ?", userID, ticker).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Position{UserID: userID, Ticker: ticker, AvgPrice: decimal.Zero}, nil
	}
	if err != nil {
		return nil, translate(err, "read position")
	}
	p := row.model()
	return &p, nil
}

func (t *sqlTx) SavePosition(ctx context.Context, pos *models.Position) error {
	if pos.Quantity < 0 {
		return errors.Wrapf(models.ErrInsufficientShares, "negative quantity for %s", pos.Ticker)
	}
	row := positionRow{
		UserID:      pos.UserID,
		Ticker:      pos.Ticker,
		Quantity:    pos.Quantity,
		AvgPrice:    pos.AvgPrice,
		LastUpdated: pos.UpdatedAt,
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price", "last_updated"}),
	}).Create(&row).Error
	return translate(err, "save position")
}

func (t *sqlTx) DeletePosition(ctx context.Context, userID int64, ticker string) error {
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND ticker = ?", userID, ticker).
		Delete(&positionRow{}).Error
	return translate(err, "delete position")
}

func (t *sqlTx) MarkExecuted(ctx context.Context, orderID int64, price decimal.Decimal, at time.Time) error {
	res := t.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ? AND status = ?", orderID, models.OrderOpen).
		Updates(map[string]any{
			"status":         models.OrderExecuted,
			"executed_at":    at,
			"executed_price": decimal.NewNullDecimal(price),
		})
	if res.Error != nil {
		return translate(res.Error, "mark order executed")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(store.ErrOrderNotOpen, "order %d", orderID)
	}
	return nil
}

func (t *sqlTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	row := tradeRow{
		ID:         trade.ID,
		OrderID:    trade.OrderID,
		UserID:     trade.UserID,
		Ticker:     trade.Ticker,
		Side:       string(trade.Side),
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		ExecutedAt: trade.ExecutedAt,
	}
	return translate(t.db.WithContext(ctx).Create(&row).Error, "insert trade")
}
