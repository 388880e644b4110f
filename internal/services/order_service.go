package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

// OrderService executes market trades immediately and reports on the
// user's account.
type OrderService struct {
	store  store.Store
	quotes QuoteSource
	// valuation prices holdings in GetPortfolio; it may serve cached
	// prices and is never used for fills.
	valuation QuoteSource
	notifier  Notifier
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewOrderService(st store.Store, quotes QuoteSource, notifier Notifier, log logrus.FieldLogger) *OrderService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &OrderService{
		store:     st,
		quotes:    quotes,
		valuation: quotes,
		notifier:  notifier,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithValuationQuotes prices portfolio holdings from q instead of the
// execution source.
func (s *OrderService) WithValuationQuotes(q QuoteSource) *OrderService {
	if q != nil {
		s.valuation = q
	}
	return s
}

// PlaceMarketOrder buys or sells qty shares at the current price, rounded
// to cents, under the same balance and position rules as triggered orders.
func (s *OrderService) PlaceMarketOrder(ctx context.Context, userID int64, ticker string, side models.Side, qty int64) (*models.Trade, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, errors.Wrap(models.ErrInvalidTrade, "ticker is required")
	}
	if side != models.Buy && side != models.Sell {
		return nil, errors.Wrapf(models.ErrInvalidTrade, "invalid side %q", side)
	}
	if qty <= 0 {
		return nil, errors.Wrapf(models.ErrInvalidTrade, "quantity must be positive, got %d", qty)
	}

	prices, err := s.quotes.LastPrices(ctx, []string{ticker})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch price for %s", ticker)
	}
	price, ok := prices[ticker]
	if !ok {
		return nil, errors.Wrapf(ErrNoQuote, "could not fetch current price for %s", ticker)
	}
	price = price.Round(2)

	f := fill{UserID: userID, Ticker: ticker, Side: side, Quantity: qty, Price: price, At: s.now()}
	var trade *models.Trade
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		trade, err = applyFill(ctx, tx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user": userID, "ticker": ticker, "side": side}).
		Infof("market %s %d @ %s", side, qty, price.StringFixed(2))
	s.notifier.Publish(OrderEvent{Type: EventTradeExecuted, UserID: userID, Trade: trade, At: trade.ExecutedAt})
	return trade, nil
}

func (s *OrderService) GetUserTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	return s.store.ListTrades(ctx, userID, limit)
}

func (s *OrderService) GetCashBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.CashBalance, nil
}

// GetPortfolio values every holding with one batch price lookup. When the
// lookup fails the holdings are still listed, without values.
func (s *OrderService) GetPortfolio(ctx context.Context, userID int64) (*models.Portfolio, error) {
	cash, err := s.GetCashBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.store.LockedCash(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	pf := &models.Portfolio{
		UserID:         userID,
		CashBalance:    cash,
		LockedCash:     locked,
		AvailableCash:  decimal.Max(cash.Sub(locked), decimal.Zero),
		Holdings:       make([]models.Holding, 0, len(positions)),
		PortfolioValue: decimal.Zero,
		PricesComplete: true,
	}

	var prices map[string]decimal.Decimal
	if len(positions) > 0 {
		tickers := make([]string, 0, len(positions))
		for _, p := range positions {
			tickers = append(tickers, p.Ticker)
		}
		prices, err = s.valuation.LastPrices(ctx, tickers)
		if err != nil {
			s.log.WithError(err).WithField("user", userID).Warn("portfolio prices unavailable")
		}
	}

	for _, p := range positions {
		h := models.Holding{Position: p}
		if price, ok := prices[p.Ticker]; ok {
			qty := decimal.NewFromInt(p.Quantity)
			value := price.Mul(qty)
			h.CurrentPrice = decimal.NewNullDecimal(price)
			h.MarketValue = decimal.NewNullDecimal(value)
			h.UnrealizedPnL = decimal.NewNullDecimal(value.Sub(p.AvgPrice.Mul(qty)))
			pf.PortfolioValue = pf.PortfolioValue.Add(value)
		} else {
			pf.PricesComplete = false
		}
		pf.Holdings = append(pf.Holdings, h)
	}
	pf.NetWorth = cash.Add(pf.PortfolioValue)
	return pf, nil
}
