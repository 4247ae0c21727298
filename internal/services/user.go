package services

import (
	"context"

	"github.com/quickbites/quickbites-backend/internal/models"
)

type userStorage interface {
	FindUser(ctx context.Context, userID string) (*models.User, error)
}

// UserLookupService resolves authenticated token subjects to users. Account
// management itself lives in the authentication service.
type UserLookupService struct {
	storage userStorage
}

func NewUserLookupService(storage userStorage) *UserLookupService {
	return &UserLookupService{storage: storage}
}

func (u *UserLookupService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return u.storage.FindUser(ctx, userID)
}
