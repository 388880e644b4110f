package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/idgen"
	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

// AdvancedOrderService accepts and cancels conditional orders. Execution is
// left to the OrderProcessor.
type AdvancedOrderService struct {
	store    store.Store
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewAdvancedOrderService(st store.Store, notifier Notifier, log logrus.FieldLogger) *AdvancedOrderService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AdvancedOrderService{
		store:    st,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates and stores a new open order. A limit buy must be
// covered by cash not already bound in other open limit buys; a sell needs
// the shares in the portfolio. Both are checked again at execution.
func (s *AdvancedOrderService) CreateOrder(ctx context.Context, order *models.Order) error {
	order.Ticker = models.NormalizeTicker(order.Ticker)
	if err := order.Validate(); err != nil {
		return err
	}

	if order.IsBuy() {
		cash, err := s.availableCash(ctx, order.UserID)
		if err != nil {
			return err
		}
		need := order.LimitPrice.Decimal.Mul(decimal.NewFromInt(order.Quantity))
		if cash.LessThan(need) {
			return errors.Wrapf(models.ErrInsufficientFunds, "available %s, order needs %s", cash.StringFixed(2), need.StringFixed(2))
		}
	} else {
		held, err := s.heldShares(ctx, order.UserID, order.Ticker)
		if err != nil {
			return err
		}
		if held < order.Quantity {
			return errors.Wrapf(models.ErrInsufficientShares, "have %d %s, order sells %d", held, order.Ticker, order.Quantity)
		}
	}

	order.ID = idgen.Next()
	order.Status = models.OrderOpen
	order.CreatedAt = s.now()
	order.ExecutedAt = nil
	order.ExecutedPrice = decimal.NullDecimal{}
	order.FailReason = ""
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"order": order.ID, "user": order.UserID}).
		Infof("%s order created: %s %d @ %s", order.Kind, order.Ticker, order.Quantity, order.TriggerPrice().StringFixed(2))
	return nil
}

func (s *AdvancedOrderService) availableCash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	locked, err := s.store.LockedCash(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.CashBalance.Sub(locked), nil
}

func (s *AdvancedOrderService) heldShares(ctx context.Context, userID int64, ticker string) (int64, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Ticker == ticker {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

func (s *AdvancedOrderService) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListUserOrders(ctx, userID)
}

func (s *AdvancedOrderService) GetActiveOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := s.store.ListUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := orders[:0]
	for _, o := range orders {
		if o.Status == models.OrderOpen {
			active = append(active, o)
		}
	}
	return active, nil
}

// CancelOrder cancels an open order owned by userID. If the processor got
// there first the result is store.ErrOrderNotOpen.
func (s *AdvancedOrderService) CancelOrder(ctx context.Context, userID, orderID int64) error {
	if err := s.store.CancelOrder(ctx, orderID, userID); err != nil {
		return err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.log.WithError(err).WithField("order", orderID).Warn("canceled order could not be reloaded")
		return nil
	}
	s.notifier.Publish(OrderEvent{Type: EventOrderCanceled, UserID: userID, Order: order, At: s.now()})
	return nil
}
