package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stock-simulator/internal/models"
)

// Decimals are stored as strings; balances as integer cents.

type userDoc struct {
	ID        int64     `bson:"_id"`
	Username  string    `bson:"username"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	CashCents int64     `bson:"cash_cents"`
	CreatedAt time.Time `bson:"created_at"`
}

type orderDoc struct {
	ID            int64      `bson:"_id"`
	UserID        int64      `bson:"user_id"`
	Ticker        string     `bson:"ticker"`
	Kind          string     `bson:"kind"`
	Quantity      int64      `bson:"quantity"`
	LimitPrice    *string    `bson:"limit_price"`
	StopPrice     *string    `bson:"stop_price"`
	Status        string     `bson:"status"`
	CreatedAt     time.Time  `bson:"created_at"`
	ExecutedAt    *time.Time `bson:"executed_at"`
	ExecutedPrice *string    `bson:"executed_price"`
	FailReason    string     `bson:"fail_reason,omitempty"`
}

type positionDoc struct {
	ID          string    `bson:"_id"`
	UserID      int64     `bson:"user_id"`
	Ticker      string    `bson:"ticker"`
	Quantity    int64     `bson:"quantity"`
	AvgPrice    string    `bson:"avg_price"`
	LastUpdated time.Time `bson:"last_updated"`
}

type tradeDoc struct {
	ID         int64     `bson:"_id"`
	OrderID    int64     `bson:"order_id"`
	UserID     int64     `bson:"user_id"`
	Ticker     string    `bson:"ticker"`
	Side       string    `bson:"side"`
	Quantity   int64     `bson:"quantity"`
	Price      string    `bson:"price"`
	ExecutedAt time.Time `bson:"executed_at"`
}

func positionKey(userID int64, ticker string) string {
	return fmt.Sprintf("%d:%s", userID, ticker)
}

func toUserDoc(u *models.User) userDoc {
	return userDoc{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.Password,
		CashCents: models.ToCents(u.CashBalance),
		CreatedAt: u.CreatedAt,
	}
}

func (d userDoc) model() *models.User {
	return &models.User{
		ID:          d.ID,
		Username:    d.Username,
		Email:       d.Email,
		Password:    d.Password,
		CashBalance: models.FromCents(d.CashCents),
		CreatedAt:   d.CreatedAt,
	}
}

func toOrderDoc(o *models.Order) orderDoc {
	return orderDoc{
		ID:            o.ID,
		UserID:        o.UserID,
		Ticker:        o.Ticker,
		Kind:          string(o.Kind),
		Quantity:      o.Quantity,
		LimitPrice:    nullString(o.LimitPrice),
		StopPrice:     nullString(o.StopPrice),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		ExecutedAt:    o.ExecutedAt,
		ExecutedPrice: nullString(o.ExecutedPrice),
		FailReason:    o.FailReason,
	}
}

func (d orderDoc) model() models.Order {
	return models.Order{
		ID:            d.ID,
		UserID:        d.UserID,
		Ticker:        d.Ticker,
		Kind:          models.OrderKind(d.Kind),
		Quantity:      d.Quantity,
		LimitPrice:    nullDecimal(d.LimitPrice),
		StopPrice:     nullDecimal(d.StopPrice),
		Status:        models.OrderStatus(d.Status),
		CreatedAt:     d.CreatedAt,
		ExecutedAt:    d.ExecutedAt,
		ExecutedPrice: nullDecimal(d.ExecutedPrice),
		FailReason:    d.FailReason,
	}
}

func (d positionDoc) model() models.Position {
	return models.Position{
		UserID:    d.UserID,
		Ticker:    d.Ticker,
		Quantity:  d.Quantity,
		AvgPrice:  parseDecimal(d.AvgPrice),
		UpdatedAt: d.LastUpdated,
	}
}

func (d tradeDoc) model() models.Trade {
	return models.Trade{
		ID:         d.ID,
		OrderID:    d.OrderID,
		UserID:     d.UserID,
		Ticker:     d.Ticker,
		Side:       models.Side(d.Side),
		Quantity:   d.Quantity,
		Price:      parseDecimal(d.Price),
		ExecutedAt: d.ExecutedAt,
	}
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(parseDecimal(*s))
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
