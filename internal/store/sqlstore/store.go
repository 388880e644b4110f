// Package sqlstore implements store.Store with gorm over SQLite or MySQL.
package sqlstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock-simulator/internal/store"
)

type SQLStore struct {
	db *gorm.DB
}

var _ store.Store = (*SQLStore)(nil)

// Open connects to driver ("sqlite" or "mysql") and migrates the schema.
func Open(driver, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn cannot be empty")
	}
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: open %s", driver)
	}
	if driver == "sqlite" {
		// SQLite has a single writer; one connection keeps transactions
		// from tripping over each other.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing gorm handle and migrates the schema.
func NewFromDB(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("sqlstore: gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&userRow{}, &orderRow{}, &positionRow{}, &tradeRow{}); err != nil {
		return nil, errors.Wrap(err, "sqlstore: migrate")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&sqlTx{db: gtx})
	})
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(store.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(store.ErrDuplicate, what)
	default:
		return errors.Wrap(err, what)
	}
}
