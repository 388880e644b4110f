// Package store defines persistence for users, orders, positions and trades.
// Every mutation of a balance or position happens inside a Tx so that one
// fill is applied completely or not at all.
package store

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"stock-simulator/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrOrderNotOpen = errors.New("order is no longer open")
	ErrDuplicate    = errors.New("already exists")
)

// MaxFailReasonBytes bounds the stored failure reason on every backend.
const MaxFailReasonBytes = 255

// ClipFailReason shortens reason to MaxFailReasonBytes without splitting a
// UTF-8 sequence.
func ClipFailReason(reason string) string {
	if len(reason) <= MaxFailReasonBytes {
		return reason
	}
	cut := MaxFailReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// Store is the entry point for database access.
type Store interface {
	UserRepository
	OrderRepository
	PortfolioRepository

	// InTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise; the transaction is released on every path.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	// FindUserByLogin looks a user up by email when login looks like one,
	// by username otherwise.
	FindUserByLogin(ctx context.Context, login string) (*models.User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	// ListOpenOrders returns open orders by creation time, then ID, ascending.
	ListOpenOrders(ctx context.Context) ([]models.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	// CancelOrder moves an open order owned by userID to canceled.
	CancelOrder(ctx context.Context, orderID, userID int64) error
	// MarkFailed moves an open order to failed. ErrOrderNotOpen means another
	// actor already moved it.
	MarkFailed(ctx context.Context, orderID int64, reason string) error
	// LockedCash is the cash bound in open limit-buy orders.
	LockedCash(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type PortfolioRepository interface {
	ListPositions(ctx context.Context, userID int64) ([]models.Position, error)
	ListTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error)
}

// Tx is one unit of work over balances, positions, order status and trades.
type Tx interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// AddBalance adds delta (negative to withdraw) relative to the stored
	// value. It fails with models.ErrInsufficientFunds instead of going
	// below zero.
	AddBalance(ctx context.Context, userID int64, delta decimal.Decimal) error
	// Position returns the user's holding; a missing row yields a zero
	// position, not an error.
	Position(ctx context.Context, userID int64, ticker string) (*models.Position, error)
	SavePosition(ctx context.Context, pos *models.Position) error
	DeletePosition(ctx context.Context, userID int64, ticker string) error
	// MarkExecuted moves an open order to executed, or returns ErrOrderNotOpen.
	MarkExecuted(ctx context.Context, orderID int64, price decimal.Decimal, at time.Time) error
	InsertTrade(ctx context.Context, trade *models.Trade) error
}
