package clerk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"

	"github.com/hitoshi/talentiq/internal/model"
)

// User はClerk Backend APIおよびWebhookイベントのユーザー表現。
type User = clerksdk.User

// Profile はIdPプロフィールに変換する。プライマリのメールアドレスを先頭に並べる。
func Profile(u *User) *model.IdentityProfile {
	p := &model.IdentityProfile{
		ID:        u.ID,
		FirstName: deref(u.FirstName),
		LastName:  deref(u.LastName),
		ImageURL:  deref(u.ImageURL),
	}

	primary := deref(u.PrimaryEmailAddressID)
	for _, e := range u.EmailAddresses {
		if e == nil {
			continue
		}
		if primary != "" && e.ID == primary {
			p.Emails = append([]string{e.EmailAddress}, p.Emails...)
			continue
		}
		p.Emails = append(p.Emails, e.EmailAddress)
	}
	return p
}

// Client はClerk Backend APIのクライアント。
type Client struct {
	users *user.Client
}

// NewClient はClientを生成する。baseURLはバージョンを含まないAPIのURL。
func NewClient(httpClient *http.Client, baseURL, secretKey string) *Client {
	return &Client{users: user.NewClient(backendConfig(httpClient, baseURL, secretKey))}
}

// GetUser はClerkのユーザーIDでプロフィールを取得する。
// ユーザーが存在しない場合はErrUserNotFoundを返す。
func (c *Client) GetUser(ctx context.Context, userID string) (*model.IdentityProfile, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		var apiErr *clerksdk.APIErrorResponse
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", userID, ErrUserNotFound)
		}
		slog.Error("clerk api request failed",
			slog.String("clerk_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to call clerk api: %w", err)
	}
	return Profile(u), nil
}

// backendConfig はBackend API用のSDK設定を組み立てる。
func backendConfig(httpClient *http.Client, baseURL, secretKey string) *clerksdk.ClientConfig {
	cfg := &clerksdk.ClientConfig{}
	cfg.Key = clerksdk.String(secretKey)
	if baseURL != "" {
		cfg.URL = clerksdk.String(strings.TrimRight(baseURL, "/") + "/v1")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return cfg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
