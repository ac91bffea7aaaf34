package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inngest/inngestgo"

	"github.com/hitoshi/talentiq/internal/clerk"
	"github.com/hitoshi/talentiq/internal/metrics"
	"github.com/hitoshi/talentiq/internal/model"
)

// IdPから送られるユーザーイベント名
const (
	EventUserCreated = "clerk/user.created"
	EventUserDeleted = "clerk/user.deleted"
)

// UserSyncer はユーザーイベントを処理するサービスのインターフェース。
type UserSyncer interface {
	SyncFromEvent(ctx context.Context, profile *model.IdentityProfile) (*model.User, error)
	DeleteFromEvent(ctx context.Context, clerkID string) error
}

// function はイベントをトリガーに実行されるバックグラウンド関数の定義。
type function struct {
	ID    string
	Name  string
	Event string
	Run   func(ctx context.Context, event string, data json.RawMessage) (any, error)
}

// UserFunctions はユーザー同期用のバックグラウンド関数。
type UserFunctions struct {
	users   UserSyncer
	metrics metrics.MetricsCollector
}

// NewUserFunctions はUserFunctionsを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewUserFunctions(users UserSyncer, collector metrics.MetricsCollector) *UserFunctions {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &UserFunctions{users: users, metrics: collector}
}

func (f *UserFunctions) functions() []function {
	return []function{
		{ID: "sync-user", Name: "Sync user", Event: EventUserCreated, Run: f.instrument("sync-user", f.SyncUser)},
		{ID: "delete-user-from-db", Name: "Delete user from DB", Event: EventUserDeleted, Run: f.instrument("delete-user-from-db", f.DeleteUser)},
	}
}

// SyncUser はユーザー作成イベントのプロフィールをローカルとチャットプロバイダーへ同期する。
func (f *UserFunctions) SyncUser(ctx context.Context, event string, data json.RawMessage) (any, error) {
	var u clerk.User
	if err := decodeData(event, data, &u); err != nil {
		return nil, err
	}
	user, err := f.users.SyncFromEvent(ctx, clerk.Profile(&u))
	if err != nil {
		return nil, err
	}
	return map[string]string{"userId": user.ID, "clerkId": user.ClerkID}, nil
}

// DeleteUser はユーザー削除イベントを受けてローカルとチャットプロバイダーからユーザーを削除する。
func (f *UserFunctions) DeleteUser(ctx context.Context, event string, data json.RawMessage) (any, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decodeData(event, data, &payload); err != nil {
		return nil, err
	}
	if err := f.users.DeleteFromEvent(ctx, payload.ID); err != nil {
		return nil, err
	}
	return map[string]string{"clerkId": payload.ID}, nil
}

// instrument は実行結果をメトリクスとログに記録する。
func (f *UserFunctions) instrument(id string, run func(context.Context, string, json.RawMessage) (any, error)) func(context.Context, string, json.RawMessage) (any, error) {
	return func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		result, err := run(ctx, event, data)
		if err != nil {
			f.metrics.RecordJobRun(id, metrics.JobResultFailure)
			slog.Error("job function failed",
				slog.String("function", id),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		f.metrics.RecordJobRun(id, metrics.JobResultSuccess)
		return result, nil
	}
}

// decodeData はイベントのdataを読み込む。不正なペイロードとidの欠落は再試行しない。
func decodeData(event string, data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return inngestgo.NoRetryError(errors.New("event data is empty"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return inngestgo.NoRetryError(fmt.Errorf("failed to decode %s data: %w", event, err))
	}
	var ident struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &ident)
	if ident.ID == "" {
		return inngestgo.NoRetryError(errors.New("user id is missing in event payload"))
	}
	return nil
}
