package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				ID:        "usr_admin",
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := legacyAdminStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users, nil)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
}

func TestTokenCarriesUserIDAndRole(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ADMIN", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.UserID != "usr_admin" {
		t.Fatalf("expected user id in login response, got %q", resp.UserID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.UserID != "usr_admin" || actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager(context.Background(), "secret-one", time.Hour, legacyAdminStore(), nil)
	verifier := NewAuthManager(context.Background(), "secret-two", time.Hour, legacyAdminStore(), nil)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	users := legacyAdminStore()
	account := users.users["admin"]
	account.Active = false
	users.users["admin"] = account

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	users := legacyAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users, nil)

	created, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "Seller",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Username != "seller" || created.Role != domain.RoleMember || created.ID == "" {
		t.Fatalf("unexpected user %+v", created)
	}

	saved, ok := users.users["seller"]
	if !ok {
		t.Fatalf("expected user to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "seller", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with created user failed: %v", err)
	}
	if resp.UserID != created.ID {
		t.Fatalf("expected token for %s, got %s", created.ID, resp.UserID)
	}
}

func TestCreateUserValidation(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, legacyAdminStore(), nil)

	cases := []struct {
		name string
		req  domain.UserCreateRequest
		want error
	}{
		{"short username", domain.UserCreateRequest{Username: "abc", Password: "pass1234"}, store.ErrValidation},
		{"space in username", domain.UserCreateRequest{Username: "ab cd", Password: "pass1234"}, store.ErrValidation},
		{"short password", domain.UserCreateRequest{Username: "seller", Password: "123"}, store.ErrValidation},
		{"unknown role", domain.UserCreateRequest{Username: "seller", Password: "pass1234", Role: "owner"}, store.ErrValidation},
		{"duplicate", domain.UserCreateRequest{Username: "admin", Password: "pass1234"}, store.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := manager.CreateUser(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
