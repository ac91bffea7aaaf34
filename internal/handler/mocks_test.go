package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/talentiq/internal/clerk"
	"github.com/hitoshi/talentiq/internal/model"
	"github.com/hitoshi/talentiq/internal/session"
)

// --- モック定義 ---

// mockVerifier は"valid-<clerkID>"形式のトークンのみ受け付ける。
type mockVerifier struct{}

func (mockVerifier) Verify(ctx context.Context, token string) (*clerk.Claims, error) {
	clerkID, ok := strings.CutPrefix(token, "valid-")
	if !ok || clerkID == "" {
		return nil, clerk.ErrTokenInvalid
	}
	return &clerk.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: clerkID}}, nil
}

// mockProvisioner はClerkのユーザーIDから固定のユーザーを返す。
type mockProvisioner struct {
	ensureFn func(ctx context.Context, clerkID string) (*model.User, error)
}

func (m *mockProvisioner) EnsureUser(ctx context.Context, clerkID string) (*model.User, error) {
	if m.ensureFn != nil {
		return m.ensureFn(ctx, clerkID)
	}
	return &model.User{
		ID:           "id-" + clerkID,
		ClerkID:      clerkID,
		Name:         "Test " + clerkID,
		Email:        clerkID + "@example.com",
		ProfileImage: "https://img.example.com/" + clerkID,
	}, nil
}

type mockTokenIssuer struct {
	createTokenFn func(userID string) (string, error)
}

func (m *mockTokenIssuer) CreateToken(userID string) (string, error) {
	if m.createTokenFn != nil {
		return m.createTokenFn(userID)
	}
	return "stream-token-" + userID, nil
}

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	createFn       func(ctx context.Context, host *model.User, in session.CreateInput) (*model.SessionView, error)
	listActiveFn   func(ctx context.Context) ([]*model.SessionView, error)
	listMyRecentFn func(ctx context.Context, user *model.User) ([]*model.SessionView, error)
	getFn          func(ctx context.Context, id string) (*model.SessionView, error)
	joinFn         func(ctx context.Context, id string, user *model.User) (*model.SessionView, error)
	endFn          func(ctx context.Context, id string, user *model.User) (*model.SessionView, error)
}

var errNotMocked = errors.New("not mocked")

func (m *mockSessionService) Create(ctx context.Context, host *model.User, in session.CreateInput) (*model.SessionView, error) {
	if m.createFn != nil {
		return m.createFn(ctx, host, in)
	}
	return nil, errNotMocked
}

func (m *mockSessionService) ListActive(ctx context.Context) ([]*model.SessionView, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return []*model.SessionView{}, nil
}

func (m *mockSessionService) ListMyRecent(ctx context.Context, user *model.User) ([]*model.SessionView, error) {
	if m.listMyRecentFn != nil {
		return m.listMyRecentFn(ctx, user)
	}
	return []*model.SessionView{}, nil
}

func (m *mockSessionService) Get(ctx context.Context, id string) (*model.SessionView, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewSessionNotFoundError()
}

func (m *mockSessionService) Join(ctx context.Context, id string, user *model.User) (*model.SessionView, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, id, user)
	}
	return nil, errNotMocked
}

func (m *mockSessionService) End(ctx context.Context, id string, user *model.User) (*model.SessionView, error) {
	if m.endFn != nil {
		return m.endFn(ctx, id, user)
	}
	return nil, errNotMocked
}
