package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	"stock-simulator/internal/models"
)

type userRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Username  string `gorm:"size:64;uniqueIndex"`
	Email     string `gorm:"size:255;uniqueIndex"`
	Password  string `gorm:"size:255"`
	CashCents int64  `gorm:"not null"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type orderRow struct {
	ID            int64               `gorm:"primaryKey;autoIncrement:false"`
	UserID        int64               `gorm:"index;not null"`
	Ticker        string              `gorm:"size:16;not null"`
	Kind          string              `gorm:"size:20;not null"`
	Quantity      int64               `gorm:"not null"`
	LimitPrice    decimal.NullDecimal `gorm:"type:varchar(32)"`
	StopPrice     decimal.NullDecimal `gorm:"type:varchar(32)"`
	Status        string              `gorm:"size:12;index;not null"`
	CreatedAt     time.Time           `gorm:"index"`
	ExecutedAt    *time.Time
	ExecutedPrice decimal.NullDecimal `gorm:"type:varchar(32)"`
	FailReason    string              `gorm:"size:255"`
}

func (orderRow) TableName() string { return "orders" }

type positionRow struct {
	UserID      int64           `gorm:"primaryKey;autoIncrement:false"`
	Ticker      string          `gorm:"primaryKey;size:16"`
	Quantity    int64           `gorm:"not null"`
	AvgPrice    decimal.Decimal `gorm:"type:varchar(40);not null"`
	LastUpdated time.Time
}

func (positionRow) TableName() string { return "positions" }

type tradeRow struct {
	ID         int64           `gorm:"primaryKey;autoIncrement:false"`
	OrderID    int64           `gorm:"index"`
	UserID     int64           `gorm:"index;not null"`
	Ticker     string          `gorm:"size:16;not null"`
	Side       string          `gorm:"size:4;not null"`
	Quantity   int64           `gorm:"not null"`
	Price      decimal.Decimal `gorm:"type:varchar(32);not null"`
	ExecutedAt time.Time       `gorm:"index"`
}

func (tradeRow) TableName() string { return "trades" }

func toUserRow(u *models.User) userRow {
	return userRow{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.Password,
		CashCents: models.ToCents(u.CashBalance),
		CreatedAt: u.CreatedAt,
	}
}

func (r userRow) model() *models.User {
	return &models.User{
		ID:          r.ID,
		Username:    r.Username,
		Email:       r.Email,
		Password:    r.Password,
		CashBalance: models.FromCents(r.CashCents),
		CreatedAt:   r.CreatedAt,
	}
}

func toOrderRow(o *models.Order) orderRow {
	return orderRow{
		ID:            o.ID,
		UserID:        o.UserID,
		Ticker:        o.Ticker,
		Kind:          string(o.Kind),
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		ExecutedAt:    o.ExecutedAt,
		ExecutedPrice: o.ExecutedPrice,
		FailReason:    o.FailReason,
	}
}

func (r orderRow) model() models.Order {
	return models.Order{
		ID:            r.ID,
		UserID:        r.UserID,
		Ticker:        r.Ticker,
		Kind:          models.OrderKind(r.Kind),
		Quantity:      r.Quantity,
		LimitPrice:    r.LimitPrice,
		StopPrice:     r.StopPrice,
		Status:        models.OrderStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		ExecutedAt:    r.ExecutedAt,
		ExecutedPrice: r.ExecutedPrice,
		FailReason:    r.FailReason,
	}
}

func (r positionRow) model() models.Position {
	return models.Position{
		UserID:    r.UserID,
		Ticker:    r.Ticker,
		Quantity:  r.Quantity,
		AvgPrice:  r.AvgPrice,
		UpdatedAt: r.LastUpdated,
	}
}

func (r tradeRow) model() models.Trade {
	return models.Trade{
		ID:         r.ID,
		OrderID:    r.OrderID,
		UserID:     r.UserID,
		Ticker:     r.Ticker,
		Side:       models.Side(r.Side),
		Quantity:   r.Quantity,
		Price:      r.Price,
		ExecutedAt: r.ExecutedAt,
	}
}
