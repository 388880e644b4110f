package services

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

// PassReport summarizes one pass over the open orders.
type PassReport struct {
	Open        int `json:"open"`
	Executed    int `json:"executed"`
	Failed      int `json:"failed"`
	Deferred    int `json:"deferred"`    // no price this pass
	Untriggered int `json:"untriggered"` // price did not cross the trigger
	Skipped     int `json:"skipped"`     // left the open state during the pass
	Errors      int `json:"errors"`      // could not be executed nor marked failed
}

// OrderProcessor executes open limit and stop-loss orders whose trigger
// condition holds at the last price. It keeps no state between passes.
type OrderProcessor struct {
	store    store.Store
	quotes   QuoteSource
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time

	running atomic.Bool
}

func NewOrderProcessor(st store.Store, quotes QuoteSource, notifier Notifier, log logrus.FieldLogger) *OrderProcessor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &OrderProcessor{
		store:    st,
		quotes:   quotes,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one pass. It returns an error only when the pass was
// aborted before touching any order: the open orders or the quotes could
// not be read.
func (p *OrderProcessor) Process(ctx context.Context) (PassReport, error) {
	var report PassReport

	orders, err := p.store.ListOpenOrders(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list open orders")
	}
	report.Open = len(orders)
	if len(orders) == 0 {
		return report, nil
	}
	// Stores already return creation order; keep it stable regardless.
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})

	prices, err := p.quotes.LastPrices(ctx, distinctTickers(orders))
	if err != nil {
		return report, errors.Wrap(err, "fetch quotes")
	}

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := &orders[i]
		price, ok := prices[o.Ticker]
		if !ok {
			report.Deferred++
			continue
		}
		if !o.Triggered(price) {
			report.Untriggered++
			continue
		}
		p.execute(ctx, o, &report)
	}
	return report, nil
}

func (p *OrderProcessor) execute(ctx context.Context, o *models.Order, report *PassReport) {
	log := p.log.WithFields(logrus.Fields{
		"order":  o.ID,
		"user":   o.UserID,
		"ticker": o.Ticker,
		"kind":   o.Kind,
	})
	at := p.now()

	var trade *models.Trade
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		trade, err = applyFill(ctx, tx, fillForOrder(o, at))
		return err
	})
	switch {
	case err == nil:
		report.Executed++
		o.Status = models.OrderExecuted
		o.ExecutedAt = &at
		o.ExecutedPrice = decimal.NewNullDecimal(trade.Price)
		log.Infof("executed %d @ %s", o.Quantity, trade.Price.StringFixed(2))
		p.notifier.Publish(OrderEvent{Type: EventOrderExecuted, UserID: o.UserID, Order: o, Trade: trade, At: at})
		return

	case errors.Is(err, store.ErrOrderNotOpen):
		report.Skipped++
		log.Info("order left the open state before execution")
		return

	case ctx.Err() != nil:
		report.Errors++
		log.WithError(err).Warn("pass canceled during execution; order stays open")
		return
	}

	reason := err.Error()
	if !isPreconditionError(err) {
		reason = "storage error: " + reason
	}
	if ferr := p.store.MarkFailed(ctx, o.ID, reason); ferr != nil {
		if errors.Is(ferr, store.ErrOrderNotOpen) {
			report.Skipped++
			return
		}
		report.Errors++
		log.WithError(ferr).WithField("cause", reason).Error("could not mark order failed; order stays open")
		return
	}
	report.Failed++
	o.Status = models.OrderFailed
	o.FailReason = reason
	log.WithField("reason", reason).Warn("order failed")
	p.notifier.Publish(OrderEvent{Type: EventOrderFailed, UserID: o.UserID, Order: o, Reason: reason, At: at})
}

// RunOnce runs a pass unless one is already in flight, and logs the
// outcome. It never returns an error to the scheduler.
func (p *OrderProcessor) RunOnce(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Warn("previous order pass still running, skipping this tick")
		return
	}
	defer p.running.Store(false)

	start := time.Now()
	report, err := p.Process(ctx)
	entry := p.log.WithFields(logrus.Fields{
		"open":     report.Open,
		"executed": report.Executed,
		"failed":   report.Failed,
		"deferred": report.Deferred,
		"skipped":  report.Skipped,
		"took":     time.Since(start).Round(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Warn("order pass aborted; retrying next interval")
		return
	}
	if report.Open > 0 {
		entry.Info("order pass complete")
	}
}

// Start runs a pass every interval until ctx is done.
func (p *OrderProcessor) Start(ctx context.Context, interval time.Duration) {
	p.log.WithField("interval", interval).Info("starting open order processing")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("open order processing stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

func distinctTickers(orders []models.Order) []string {
	seen := make(map[string]bool, len(orders))
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		if !seen[o.Ticker] {
			seen[o.Ticker] = true
			out = append(out, o.Ticker)
		}
	}
	sort.Strings(out)
	return out
}
