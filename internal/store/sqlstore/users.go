package sqlstore

import (
	"context"

	"stock-simulator/internal/models"
)

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	row := toUserRow(user)
	return translate(s.db.WithContext(ctx).Create(&row).Error, "create user")
}

func (s *SQLStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error; err != nil {
		return nil, translate(err, "get user")
	}
	return row.model(), nil
}

func (s *SQLStore) FindUserByLogin(ctx context.Context, login string) (*models.User, error) {
	q := s.db.WithContext(ctx)
	if models.LooksLikeEmail(login) {
		q = q.Where("email = ?", models.NormalizeEmail(login))
	} else {
		q = q.Where("username = ?", login)
	}
	var row userRow
	if err := q.First(&row).Error; err != nil {
		return nil, translate(err, "find user")
	}
	return row.model(), nil
}

func (s *SQLStore) UserExists(ctx context.Context, username, email string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&userRow{}).
		Where("username = ? OR email = ?", username, models.NormalizeEmail(email)).
		Count(&n).Error
	if err != nil {
		return false, translate(err, "check user")
	}
	return n > 0, nil
}
