package sqlstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

func (s *SQLStore) CreateOrder(ctx context.Context, order *models.Order) error {
	row := toOrderRow(order)
	return translate(s.db.WithContext(ctx).Create(&row).Error, "create order")
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&row).Error; err != nil {
		return nil, translate(err, "get order")
	}
	o := row.model()
	return &o, nil
}

func (s *SQLStore) ListOpenOrders(ctx context.Context) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("status = ?", models.OrderOpen).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "list open orders")
	}
	return ordersFromRows(rows), nil
}

func (s *SQLStore) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "list user orders")
	}
	return ordersFromRows(rows), nil
}

func (s *SQLStore) CancelOrder(ctx context.Context, orderID, userID int64) error {
	res := s.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ? AND user_id = ? AND status = ?", orderID, userID, models.OrderOpen).
		Update("status", models.OrderCanceled)
	if res.Error != nil {
		return translate(res.Error, "cancel order")
	}
	if res.RowsAffected == 0 {
		return s.whyNotOpen(ctx, orderID, userID)
	}
	return nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, orderID int64, reason string) error {
	res := s.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ? AND status = ?", orderID, models.OrderOpen).
		Updates(map[string]any{
			"status":      models.OrderFailed,
			"fail_reason": store.ClipFailReason(reason),
		})
	if res.Error != nil {
		return translate(res.Error, "mark order failed")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(store.ErrOrderNotOpen, "order %d", orderID)
	}
	return nil
}

func (s *SQLStore) LockedCash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Select("quantity", "limit_price").
		Where("user_id = ? AND kind = ? AND status = ?", userID, models.LimitBuy, models.OrderOpen).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, translate(err, "locked cash")
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.LimitPrice.Decimal.Mul(decimal.NewFromInt(r.Quantity)))
	}
	return total, nil
}

func (s *SQLStore) ListPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	var rows []positionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("ticker ASC").Find(&rows).Error; err != nil {
		return nil, translate(err, "list positions")
	}
	out := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *SQLStore) ListTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "list trades")
	}
	out := make([]models.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// whyNotOpen tells a missing or foreign order apart from one that has
// already left the open state.
func (s *SQLStore) whyNotOpen(ctx context.Context, orderID, userID int64) error {
	var row orderRow
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", orderID, userID).First(&row).Error
	if err != nil {
		return translate(err, "cancel order")
	}
	return errors.Wrapf(store.ErrOrderNotOpen, "order %d is %s", orderID, row.Status)
}

func ordersFromRows(rows []orderRow) []models.Order {
	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}
