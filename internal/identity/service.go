package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service answers receiver-confirmation lookups.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register adds a user to the directory.
func (s *Service) Register(ctx context.Context, name, phone string) (User, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return User{}, ErrInvalidUser
	}
	user := User{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// DisplayName returns the name registered for phone, or ErrNotFound.
func (s *Service) DisplayName(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrNotFound
	}
	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}
