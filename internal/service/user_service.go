package service

import (
	"context"

	"ams_backend/internal/domain"
)

// UserService provides user lookups for starting new conversations.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// List returns one page of users, optionally restricted to a role. The role
// filter is not paginated.
func (s *UserService) List(ctx context.Context, role string, offset, limit int) ([]*domain.User, error) {
	if role != "" {
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		return s.users.ListByRole(ctx, r)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, offset, limit)
}
