package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	inngesterrors "github.com/inngest/inngestgo/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/talentiq/internal/model"
)

// --- モック ---

type mockUserSyncer struct {
	mu        sync.Mutex
	synced    []*model.IdentityProfile
	deleted   []string
	syncErr   error
	deleteErr error
}

func (m *mockUserSyncer) SyncFromEvent(ctx context.Context, profile *model.IdentityProfile) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	m.synced = append(m.synced, profile)
	return &model.User{ID: "u1", ClerkID: profile.ID}, nil
}

func (m *mockUserSyncer) DeleteFromEvent(ctx context.Context, clerkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, clerkID)
	return m.deleteErr
}

type recordingMetrics struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingMetrics) RecordUserProvisioned() {}
func (r *recordingMetrics) RecordProvisionFailure(string) {}
func (r *recordingMetrics) RecordProvisionLatency(time.Duration) {}
func (r *recordingMetrics) RecordSessionEvent(string) {}
func (r *recordingMetrics) RecordHTTPStatus(int) {}
func (r *recordingMetrics) RecordJobRun(function, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, function+":"+result)
}

// --- ヘルパー ---

func rawData(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return raw
}

// runFunction はIDで関数を探してイベントを渡す。
func runFunction(t *testing.T, f *UserFunctions, id, event string, data json.RawMessage) (any, error) {
	t.Helper()
	for _, fn := range f.functions() {
		if fn.ID == id {
			assert.Equal(t, event, fn.Event)
			return fn.Run(context.Background(), event, data)
		}
	}
	t.Fatalf("function %s is not defined", id)
	return nil, nil
}

// --- 関数定義 ---

func TestUserFunctions_Definitions(t *testing.T) {
	fns := NewUserFunctions(&mockUserSyncer{}, nil).functions()

	require.Len(t, fns, 2)
	assert.Equal(t, "sync-user", fns[0].ID)
	assert.Equal(t, EventUserCreated, fns[0].Event)
	assert.Equal(t, "delete-user-from-db", fns[1].ID)
	assert.Equal(t, EventUserDeleted, fns[1].Event)
}

// TestSyncUser_SyncsProfile はユーザー作成イベントでプロフィールが同期されることを検証する。
func TestSyncUser_SyncsProfile(t *testing.T) {
	users := &mockUserSyncer{}
	rec := &recordingMetrics{}
	f := NewUserFunctions(users, rec)

	result, err := runFunction(t, f, "sync-user", EventUserCreated, rawData(t, map[string]any{
		"id":                       "user_2abc",
		"first_name":               "Grace",
		"last_name":                "Hopper",
		"image_url":                "https://img.example.com/g.png",
		"primary_email_address_id": "idn_2",
		"email_addresses": []map[string]string{
			{"id": "idn_1", "email_address": "old@example.com"},
			{"id": "idn_2", "email_address": "grace@example.com"},
		},
	}))
	require.NoError(t, err)

	require.Len(t, users.synced, 1)
	p := users.synced[0]
	assert.Equal(t, "user_2abc", p.ID)
	assert.Equal(t, "Grace Hopper", p.DisplayName())
	assert.Equal(t, "grace@example.com", p.PrimaryEmail())
	assert.Equal(t, "https://img.example.com/g.png", p.ImageURL)
	assert.Equal(t, map[string]string{"userId": "u1", "clerkId": "user_2abc"}, result)
	assert.Equal(t, []string{"sync-user:success"}, rec.runs)
}

func TestDeleteUser_DeletesByClerkID(t *testing.T) {
	users := &mockUserSyncer{}
	f := NewUserFunctions(users, nil)

	result, err := runFunction(t, f, "delete-user-from-db", EventUserDeleted, rawData(t, map[string]any{"id": "user_2abc", "deleted": true}))
	require.NoError(t, err)

	assert.Equal(t, []string{"user_2abc"}, users.deleted)
	assert.Equal(t, map[string]string{"clerkId": "user_2abc"}, result)
}

// TestUserFunctions_MalformedPayloadIsNotRetried は不正なペイロードを再試行させないことを検証する。
func TestUserFunctions_MalformedPayloadIsNotRetried(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		event string
		data  json.RawMessage
	}{
		{"idなし", "sync-user", EventUserCreated, json.RawMessage(`{"first_name":"Grace"}`)},
		{"JSONでない", "sync-user", EventUserCreated, json.RawMessage(`{not json`)},
		{"dataなし", "delete-user-from-db", EventUserDeleted, nil},
		{"null", "delete-user-from-db", EventUserDeleted, json.RawMessage(`null`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserSyncer{}
			rec := &recordingMetrics{}
			f := NewUserFunctions(users, rec)

			_, err := runFunction(t, f, tt.id, tt.event, tt.data)

			require.Error(t, err)
			assert.True(t, inngesterrors.IsNoRetryError(err))
			assert.Empty(t, users.synced)
			assert.Empty(t, users.deleted)
			assert.Equal(t, []string{tt.id + ":failure"}, rec.runs)
		})
	}
}

// TestUserFunctions_ServiceFailureIsRetried はサービス障害時は再試行可能なエラーを返すことを検証する。
func TestUserFunctions_ServiceFailureIsRetried(t *testing.T) {
	users := &mockUserSyncer{syncErr: errors.New("chat provider unavailable")}
	rec := &recordingMetrics{}
	f := NewUserFunctions(users, rec)

	_, err := runFunction(t, f, "sync-user", EventUserCreated, json.RawMessage(`{"id":"user_2abc"}`))

	require.Error(t, err)
	assert.False(t, inngesterrors.IsNoRetryError(err))
	assert.Contains(t, err.Error(), "chat provider unavailable")
	assert.Equal(t, []string{"sync-user:failure"}, rec.runs)
}

// --- ハンドラー ---

func TestNewHandler_DevMode(t *testing.T) {
	h, err := NewHandler(Config{AppID: "talent-iq", Dev: true}, NewUserFunctions(&mockUserSyncer{}, nil))
	require.NoError(t, err)
	require.NotNil(t, h)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/inngest", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewHandler_InvalidServeURL(t *testing.T) {
	_, err := NewHandler(Config{AppID: "talent-iq", Dev: true, ServeURL: "://bad"}, NewUserFunctions(&mockUserSyncer{}, nil))
	assert.Error(t, err)
}
