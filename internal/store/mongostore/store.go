// Package mongostore implements store.Store on MongoDB. Fills run in
// multi-document transactions, so the server must be a replica set.
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

type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	orders    *mongo.Collection
	positions *mongo.Collection
	trades    *mongo.Collection
}

var _ store.Store = (*MongoStore)(nil)

func Open(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongostore: uri cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongostore: ping")
	}
	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		users:     db.Collection("users"),
		orders:    db.Collection("orders"),
		positions: db.Collection("positions"),
		trades:    db.Collection("trades"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
		{s.orders, mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}}},
		{s.orders, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}}},
		{s.positions, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "ticker", Value: 1}}, Options: unique}},
		{s.trades, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "executed_at", Value: -1}}}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateOne(ctx, spec.model); err != nil {
			return errors.Wrapf(err, "mongostore: index on %s", spec.coll.Name())
		}
	}
	return nil
}

func (s *MongoStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "mongostore: start session")
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&mongoTx{s: s, sc: sc})
	})
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.users.InsertOne(ctx, toUserDoc(user))
	return translate(err, "create user")
}

func (s *MongoStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		return nil, translate(err, "get user")
	}
	return doc.model(), nil
}

func (s *MongoStore) FindUserByLogin(ctx context.Context, login string) (*models.User, error) {
	filter := bson.M{"username": login}
	if models.LooksLikeEmail(login) {
		filter = bson.M{"email": models.NormalizeEmail(login)}
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translate(err, "find user")
	}
	return doc.model(), nil
}

func (s *MongoStore) UserExists(ctx context.Context, username, email string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{
		"$or": []bson.M{
			{"username": username},
			{"email": models.NormalizeEmail(email)},
		},
	})
	if err != nil {
		return false, translate(err, "check user")
	}
	return n > 0, nil
}

func (s *MongoStore) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.orders.InsertOne(ctx, toOrderDoc(order))
	return translate(err, "create order")
}

func (s *MongoStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var doc orderDoc
	if err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return nil, translate(err, "get order")
	}
	o := doc.model()
	return &o, nil
}

func (s *MongoStore) ListOpenOrders(ctx context.Context) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findOrders(ctx, bson.M{"status": models.OrderOpen}, opts)
}

func (s *MongoStore) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return s.findOrders(ctx, bson.M{"user_id": userID}, opts)
}

func (s *MongoStore) findOrders(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Order, error) {
	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err, "find orders")
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translate(err, "decode orders")
	}
	out := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) CancelOrder(ctx context.Context, orderID, userID int64) error {
	res, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": orderID, "user_id": userID, "status": models.OrderOpen},
		bson.M{"$set": bson.M{"status": models.OrderCanceled}},
	)
	if err != nil {
		return translate(err, "cancel order")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	var doc orderDoc
	if err := s.orders.FindOne(ctx, bson.M{"_id": orderID, "user_id": userID}).Decode(&doc); err != nil {
		return translate(err, "cancel order")
	}
	return errors.Wrapf(store.ErrOrderNotOpen, "order %d is %s", orderID, doc.Status)
}

func (s *MongoStore) MarkFailed(ctx context.Context, orderID int64, reason string) error {
	res, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": orderID, "status": models.OrderOpen},
		bson.M{"$set": bson.M{"status": models.OrderFailed, "fail_reason": store.ClipFailReason(reason)}},
	)
	if err != nil {
		return translate(err, "mark order failed")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(store.ErrOrderNotOpen, "order %d", orderID)
	}
	return nil
}

func (s *MongoStore) LockedCash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	orders, err := s.findOrders(ctx, bson.M{
		"user_id": userID,
		"kind":    models.LimitBuy,
		"status":  models.OrderOpen,
	}, options.Find())
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.LimitPrice.Decimal.Mul(decimal.NewFromInt(o.Quantity)))
	}
	return total, nil
}

func (s *MongoStore) ListPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	cursor, err := s.positions.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "ticker", Value: 1}}))
	if err != nil {
		return nil, translate(err, "list positions")
	}
	defer cursor.Close(ctx)

	var docs []positionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translate(err, "decode positions")
	}
	out := make([]models.Position, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *MongoStore) ListTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.trades.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, translate(err, "list trades")
	}
	defer cursor.Close(ctx)

	var docs []tradeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translate(err, "decode trades")
	}
	out := make([]models.Trade, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errors.Wrap(store.ErrNotFound, what)
	case mongo.IsDuplicateKeyError(err):
		return errors.Wrap(store.ErrDuplicate, what)
	default:
		return errors.Wrap(err, what)
	}
}
