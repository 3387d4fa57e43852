package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"optica/backend/internal/domain"
	"optica/backend/internal/store/memory"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
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

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginRejectsInactiveVendor(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"maria": {Username: "maria", Password: "vendor-pass", Role: domain.RoleVendor, Active: false},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "maria", Password: "vendor-pass"})
	if err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestTokenRoundTripCarriesRole(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"maria": {Username: "Maria", Password: "vendor-pass", Role: domain.RoleVendor, Active: true},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " MARIA ", Password: "vendor-pass"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "maria" || actor.Role != domain.RoleVendor {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, "123456", nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestEnsureAdminCreatesFirstAccountOnce(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	created, err := EnsureAdmin(ctx, repo, "Owner", "owner-pass-1")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if !created {
		t.Fatalf("expected admin to be created on empty store")
	}

	created, err = EnsureAdmin(ctx, repo, "second", "second-pass-1")
	if err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	if created {
		t.Fatalf("expected no second admin")
	}

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "123456", repo)
	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "owner", Password: "owner-pass-1"})
	if err != nil {
		t.Fatalf("login as bootstrap admin: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}
}

func TestEnsureAdminRejectsShortPassword(t *testing.T) {
	if _, err := EnsureAdmin(context.Background(), memory.New(), "owner", "short"); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}
