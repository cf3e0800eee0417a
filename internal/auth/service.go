package auth

import (
	"context"
	"fmt"
)

// Service runs the login/logout transitions against a session store.
type Service struct {
	store       Store
	credentials Credentials
}

func NewService(store Store, credentials Credentials) *Service {
	return &Service{
		store:       store,
		credentials: credentials,
	}
}

// Login creates a session when username and password match the configured
// pair, otherwise returns ErrInvalidCredentials and touches nothing.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if !s.credentials.Matches(username, password) {
		return "", ErrInvalidCredentials
	}

	token, err := s.store.Create(ctx, User{Username: username})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.Destroy(ctx, token)
}
