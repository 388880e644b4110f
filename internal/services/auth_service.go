package services

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stock-simulator/internal/idgen"
	"stock-simulator/internal/models"
	"stock-simulator/internal/store"
)

var (
	ErrUserExists         = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUser        = errors.New("invalid user")
)

type AuthService struct {
	store           store.UserRepository
	startingBalance decimal.Decimal
	log             logrus.FieldLogger
}

func NewAuthService(users store.UserRepository, startingBalance decimal.Decimal, log logrus.FieldLogger) *AuthService {
	return &AuthService{store: users, startingBalance: startingBalance, log: log}
}

// Register creates a new user funded with the starting balance. The plain
// password in user.Password is replaced by its hash.
func (s *AuthService) Register(ctx context.Context, user *models.User) error {
	user.Username = strings.TrimSpace(user.Username)
	user.Email = models.NormalizeEmail(user.Email)
	if user.Username == "" {
		return errors.Wrap(ErrInvalidUser, "username is required")
	}
	if !models.LooksLikeEmail(user.Email) {
		return errors.Wrapf(ErrInvalidUser, "invalid email %q", user.Email)
	}
	if user.Password == "" {
		return errors.Wrap(ErrInvalidUser, "password is required")
	}

	exists, err := s.store.UserExists(ctx, user.Username, user.Email)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	if err := user.HashPassword(); err != nil {
		return errors.Wrap(err, "hash password")
	}
	user.ID = idgen.Next()
	user.CashBalance = s.startingBalance
	user.CreatedAt = time.Now().UTC()

	if err := s.store.CreateUser(ctx, user); err != nil {
		// Two concurrent registrations can both pass UserExists.
		if errors.Is(err, store.ErrDuplicate) {
			return ErrUserExists
		}
		return err
	}

	s.log.WithField("user", user.ID).Infof("new user registered: %s", user.Username)
	return nil
}

// Login accepts either the username or the email address.
func (s *AuthService) Login(ctx context.Context, login, password string) (*models.User, error) {
	user, err := s.store.FindUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	user.Password = ""
	return user, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Password = ""
	return user, nil
}
