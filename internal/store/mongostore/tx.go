package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

// mongoTx runs every call on the session context so that it joins the
// transaction; the per-call ctx is ignored.
type mongoTx struct {
	s  *MongoStore
	sc mongo.SessionContext
}

func (t *mongoTx) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	var doc userDoc
	err := t.s.users.FindOne(t.sc, bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"cash_cents": 1})).Decode(&doc)
	if err != nil {
		return decimal.Zero, translate(err, "read balance")
	}
	return models.FromCents(doc.CashCents), nil
}

func (t *mongoTx) AddBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	cents := models.ToCents(delta)
	filter := bson.M{"_id": userID}
	if cents < 0 {
		filter["cash_cents"] = bson.M{"$gte": -cents}
	}
	res, err := t.s.users.UpdateOne(t.sc, filter, bson.M{"$inc": bson.M{"cash_cents": cents}})
	if err != nil {
		return translate(err, "update balance")
	}
	if res.MatchedCount == 0 {
		bal, err := t.Balance(ctx, userID)
		if err != nil {
			return err
		}
		return errors.Wrapf(models.ErrInsufficientFunds, "have %s, need %s", bal.StringFixed(2), delta.Neg().StringFixed(2))
	}
	return nil
}

func (t *mongoTx) Position(_ context.Context, userID int64, ticker string) (*models.Position, error) {
	var doc positionDoc
	err := t.s.positions.FindOne(t.sc, bson.M{"_id": positionKey(userID, ticker)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.Position{UserID: userID, Ticker: ticker, AvgPrice: decimal.Zero}, nil
	}
	if err != nil {
		return nil, translate(err, "read position")
	}
	p := doc.model()
	return &p, nil
}

func (t *mongoTx) SavePosition(_ context.Context, pos *models.Position) error {
	if pos.Quantity < 0 {
		return errors.Wrapf(models.ErrInsufficientShares, "negative quantity for %s", pos.Ticker)
	}
	_, err := t.s.positions.UpdateOne(t.sc,
		bson.M{"_id": positionKey(pos.UserID, pos.Ticker)},
		bson.M{"$set": bson.M{
			"user_id":      pos.UserID,
			"ticker":       pos.Ticker,
			"quantity":     pos.Quantity,
			"avg_price":    pos.AvgPrice.String(),
			"last_updated": pos.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	return translate(err, "save position")
}

func (t *mongoTx) DeletePosition(_ context.Context, userID int64, ticker string) error {
	_, err := t.s.positions.DeleteOne(t.sc, bson.M{"_id": positionKey(userID, ticker)})
	return translate(err, "delete position")
}

func (t *mongoTx) MarkExecuted(_ context.Context, orderID int64, price decimal.Decimal, at time.Time) error {
	res, err := t.s.orders.UpdateOne(t.sc,
		bson.M{"_id": orderID, "status": models.OrderOpen},
		bson.M{"$set": bson.M{
			"status":         models.OrderExecuted,
			"executed_at":    at,
			"executed_price": price.String(),
		}},
	)
	if err != nil {
		return translate(err, "mark order executed")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(store.ErrOrderNotOpen, "order %d", orderID)
	}
	return nil
}

func (t *mongoTx) InsertTrade(_ context.Context, trade *models.Trade) error {
	_, err := t.s.trades.InsertOne(t.sc, tradeDoc{
		ID:         trade.ID,
		OrderID:    trade.OrderID,
		UserID:     trade.UserID,
		Ticker:     trade.Ticker,
		Side:       string(trade.Side),
		Quantity:   trade.Quantity,
		Price:      trade.Price.String(),
		ExecutedAt: trade.ExecutedAt,
	})
	return translate(err, "insert trade")
}
