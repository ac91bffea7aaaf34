package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	getstream "github.com/GetStream/getstream-go"
	streamchat "github.com/GetStream/stream-chat-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/talentiq/internal/model"
)

// --- モック ---

// memorySessionRepo はSessionRepositoryのインメモリ実装。
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	order    []string
	seq      int

	createErr error
	updateErr error

	// assignHook はAssignParticipantの直前に呼ばれる（競合の再現用）。
	assignHook func(s *model.Session)
	staleCount int64
	staleAt    time.Time
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *memorySessionRepo) Create(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	s.ID = fmt.Sprintf("s%d", m.seq)
	cp := *s
	m.sessions[s.ID] = &cp
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessionRepo) ListActive(ctx context.Context, limit int) ([]*model.Session, error) {
	return m.list(limit, func(s *model.Session) bool { return s.IsActive() }), nil
}

func (m *memorySessionRepo) ListRecentCompletedByUser(ctx context.Context, userID string, limit int) ([]*model.Session, error) {
	return m.list(limit, func(s *model.Session) bool {
		return !s.IsActive() && (s.HostID == userID || s.ParticipantID == userID)
	}), nil
}

func (m *memorySessionRepo) list(limit int, match func(*model.Session) bool) []*model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Session
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		s := m.sessions[m.order[i]]
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memorySessionRepo) AssignParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if m.assignHook != nil {
		m.assignHook(s)
	}
	if !s.IsActive() || s.HasParticipant() {
		return false, nil
	}
	s.ParticipantID = userID
	s.UpdatedAt = at
	return true, nil
}

func (m *memorySessionRepo) ReleaseParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive() || s.ParticipantID != userID {
		return false, nil
	}
	s.ParticipantID = ""
	s.UpdatedAt = at
	return true, nil
}

func (m *memorySessionRepo) Complete(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive() {
		return false, nil
	}
	s.Status = model.SessionStatusCompleted
	s.UpdatedAt = at
	return true, nil
}

func (m *memorySessionRepo) CompleteStaleBefore(ctx context.Context, before time.Time) (int64, error) {
	m.staleAt = before
	return m.staleCount, nil
}

func (m *memorySessionRepo) get(id string) *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// memoryUserRepo はセッションのホスト・参加者展開に使う読み取り専用のユーザーリポジトリ。
type memoryUserRepo struct {
	users   map[string]*model.User
	findErr error
}

func newMemoryUserRepo(users ...*model.User) *memoryUserRepo {
	m := &memoryUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUserRepo) FindByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	for _, u := range m.users {
		if u.ClerkID == clerkID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *memoryUserRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make(map[string]*model.User)
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user *model.User) error { return nil }

func (m *memoryUserRepo) DeleteByClerkID(ctx context.Context, clerkID string) error { return nil }

func (m *memoryUserRepo) Delete(ctx context.Context, user *model.User) error { return nil }

// mockCallProvider は外部プロバイダー呼び出しを記録する。
type mockCallProvider struct {
	calls []string

	callErr       error
	channelErr    error
	addMemberErr  error
	deleteCallErr error
	deleteChanErr error

	custom  map[string]any
	name    string
	members []string

	// 呼び出し中に割り込む別リクエストの再現用
	deleteCallHook func()
	addMemberHook  func()
}

func (m *mockCallProvider) GetOrCreateCall(ctx context.Context, callType, callID, createdByID string, custom map[string]any) error {
	m.calls = append(m.calls, "call.create:"+callType+":"+callID)
	m.custom = custom
	return m.callErr
}

func (m *mockCallProvider) DeleteCall(ctx context.Context, callType, callID string) error {
	m.calls = append(m.calls, "call.delete:"+callID)
	if hook := m.deleteCallHook; hook != nil {
		m.deleteCallHook = nil
		hook()
	}
	return m.deleteCallErr
}

func (m *mockCallProvider) CreateChannel(ctx context.Context, channelType, channelID, createdByID, name string, members []string) error {
	m.calls = append(m.calls, "channel.create:"+channelType+":"+channelID)
	m.name = name
	m.members = members
	return m.channelErr
}

func (m *mockCallProvider) AddChannelMembers(ctx context.Context, channelType, channelID string, userIDs []string) error {
	m.calls = append(m.calls, "channel.add:"+strings.Join(userIDs, ","))
	if hook := m.addMemberHook; hook != nil {
		m.addMemberHook = nil
		hook()
	}
	return m.addMemberErr
}

func (m *mockCallProvider) DeleteChannel(ctx context.Context, channelType, channelID string) error {
	m.calls = append(m.calls, "channel.delete:"+channelID)
	return m.deleteChanErr
}

type recordingPublisher struct {
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, data any) {
	p.subjects = append(p.subjects, subject)
}

type recordingMetrics struct {
	events []string
}

func (r *recordingMetrics) RecordUserProvisioned() {}
func (r *recordingMetrics) RecordProvisionFailure(string) {}
func (r *recordingMetrics) RecordProvisionLatency(time.Duration) {}
func (r *recordingMetrics) RecordJobRun(string, string) {}
func (r *recordingMetrics) RecordSessionEvent(event string) { r.events = append(r.events, event) }
func (r *recordingMetrics) RecordHTTPStatus(int) {}

// --- ヘルパー ---

var (
	host  = &model.User{ID: "u1", ClerkID: "user_host", Name: "Host", Email: "host@example.com"}
	guest = &model.User{ID: "u2", ClerkID: "user_guest", Name: "Guest", Email: "guest@example.com"}
	other = &model.User{ID: "u3", ClerkID: "user_other", Name: "Other", Email: "other@example.com"}
)

type fixture struct {
	svc       *Service
	sessions  *memorySessionRepo
	users     *memoryUserRepo
	calls     *mockCallProvider
	publisher *recordingPublisher
	metrics   *recordingMetrics
}

func newFixture() *fixture {
	f := &fixture{
		sessions:  newMemorySessionRepo(),
		users:     newMemoryUserRepo(host, guest, other),
		calls:     &mockCallProvider{},
		publisher: &recordingPublisher{},
		metrics:   &recordingMetrics{},
	}
	f.svc = NewService(f.sessions, f.users, f.calls, f.publisher, f.metrics)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	return f
}

func (f *fixture) createSession(t *testing.T) *model.SessionView {
	t.Helper()
	v, err := f.svc.Create(context.Background(), host, CreateInput{Problem: "Two Sum", Difficulty: "easy"})
	require.NoError(t, err)
	f.calls.calls = nil
	return v
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

// --- Create ---

// TestCreate_ProvisionsCallAndChannel はセッション作成時に通話・チャンネルが作成されることを検証する。
func TestCreate_ProvisionsCallAndChannel(t *testing.T) {
	f := newFixture()

	v, err := f.svc.Create(context.Background(), host, CreateInput{Problem: "Two Sum", Difficulty: "easy"})
	require.NoError(t, err)

	assert.Equal(t, "s1", v.ID)
	assert.Equal(t, "Two Sum", v.Problem)
	assert.Equal(t, model.DifficultyEasy, v.Difficulty)
	assert.Equal(t, model.SessionStatusActive, v.Status)
	require.NotNil(t, v.Host)
	assert.Equal(t, "user_host", v.Host.ClerkID)
	assert.Nil(t, v.Participant)
	assert.True(t, strings.HasPrefix(v.CallID, "session_"), "callId=%s", v.CallID)

	assert.Equal(t, []string{
		"call.create:default:" + v.CallID,
		"channel.create:messaging:" + v.CallID,
	}, f.calls.calls)
	assert.Equal(t, "Two Sum Session", f.calls.name)
	assert.Equal(t, []string{"user_host"}, f.calls.members)
	assert.Equal(t, "s1", f.calls.custom["sessionId"])
	assert.Equal(t, "easy", f.calls.custom["difficulty"])

	assert.Equal(t, []string{eventCreated}, f.metrics.events)
	assert.Len(t, f.publisher.subjects, 1)
}

// TestCreate_SanitizesProblem はHTMLを含む問題名がプレーンテキストとして保存されることを検証する。
func TestCreate_SanitizesProblem(t *testing.T) {
	f := newFixture()

	v, err := f.svc.Create(context.Background(), host, CreateInput{Problem: "<b>Valid</b>  Parentheses", Difficulty: "Medium"})
	require.NoError(t, err)

	assert.Equal(t, "Valid Parentheses", v.Problem)
	assert.Equal(t, model.DifficultyMedium, v.Difficulty)
	assert.Equal(t, "Valid Parentheses", f.sessions.get(v.ID).Problem)
}

// TestCreate_ValidationErrors は必須項目・難易度の検証を行う。
func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateInput
		message string
	}{
		{"問題名なし", CreateInput{Difficulty: "easy"}, "Problem and difficulty are required"},
		{"難易度なし", CreateInput{Problem: "Two Sum"}, "Problem and difficulty are required"},
		{"タグのみの問題名", CreateInput{Problem: "<script>x</script>", Difficulty: "easy"}, "Problem and difficulty are required"},
		{"未定義の難易度", CreateInput{Problem: "Two Sum", Difficulty: "expert"}, "Difficulty must be one of easy, medium, hard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.svc.Create(context.Background(), host, tt.input)

			var apiErr *model.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, model.ErrCodeValidation, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Empty(t, f.calls.calls)
			assert.Empty(t, f.sessions.order)
		})
	}
}

// TestCreate_ProviderFailureClosesSession はプロバイダー失敗時にセッションが終了済みになることを検証する。
func TestCreate_ProviderFailureClosesSession(t *testing.T) {
	f := newFixture()
	f.calls.channelErr = errors.New("chat unavailable")

	_, err := f.svc.Create(context.Background(), host, CreateInput{Problem: "Two Sum", Difficulty: "easy"})
	require.Error(t, err)

	s := f.sessions.get("s1")
	require.NotNil(t, s)
	assert.Equal(t, model.SessionStatusCompleted, s.Status)

	active, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.metrics.events)
}

// TestCreate_RepositoryFailure はDB障害時に外部プロバイダーを呼ばないことを検証する。
func TestCreate_RepositoryFailure(t *testing.T) {
	f := newFixture()
	f.sessions.createErr = errors.New("db down")

	_, err := f.svc.Create(context.Background(), host, CreateInput{Problem: "Two Sum", Difficulty: "easy"})
	require.Error(t, err)
	assert.Empty(t, f.calls.calls)
}

func TestNewCallID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := newCallID(now)

	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "session", parts[0])
	assert.Equal(t, "1700000000123", parts[1])
	assert.Len(t, parts[2], 10)
	assert.NotEqual(t, id, newCallID(now))
}

// --- List / Get ---

// TestListActive_PopulatesUsers は一覧でホスト・参加者が展開されることを検証する。
func TestListActive_PopulatesUsers(t *testing.T) {
	f := newFixture()
	first := f.createSession(t)
	_, err := f.svc.Join(context.Background(), first.ID, guest)
	require.NoError(t, err)
	f.createSession(t)

	views, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)

	// 新しい順
	assert.Equal(t, "s2", views[0].ID)
	assert.Nil(t, views[0].Participant)
	assert.Equal(t, "s1", views[1].ID)
	require.NotNil(t, views[1].Participant)
	assert.Equal(t, "user_guest", views[1].Participant.ClerkID)
	assert.Equal(t, "user_host", views[1].Host.ClerkID)
}

func TestListActive_Empty(t *testing.T) {
	f := newFixture()

	views, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestListActive_UserLookupFailure(t *testing.T) {
	f := newFixture()
	f.createSession(t)
	f.users.findErr = errors.New("db down")

	_, err := f.svc.ListActive(context.Background())
	require.Error(t, err)
}

// TestListMyRecent_OnlyCompletedSessionsOfUser は自分が関わった終了済みセッションのみ返すことを検証する。
func TestListMyRecent_OnlyCompletedSessionsOfUser(t *testing.T) {
	f := newFixture()
	joined := f.createSession(t)
	_, err := f.svc.Join(context.Background(), joined.ID, guest)
	require.NoError(t, err)
	_, err = f.svc.End(context.Background(), joined.ID, host)
	require.NoError(t, err)

	hostOnly := f.createSession(t)
	_, err = f.svc.End(context.Background(), hostOnly.ID, host)
	require.NoError(t, err)

	f.createSession(t) // active のまま

	guestViews, err := f.svc.ListMyRecent(context.Background(), guest)
	require.NoError(t, err)
	require.Len(t, guestViews, 1)
	assert.Equal(t, joined.ID, guestViews[0].ID)

	hostViews, err := f.svc.ListMyRecent(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, hostViews, 2)
	assert.Equal(t, hostOnly.ID, hostViews[0].ID)

	otherViews, err := f.svc.ListMyRecent(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, otherViews)
}

func TestListActive_Limit(t *testing.T) {
	f := newFixture()
	for i := 0; i < ListLimit+5; i++ {
		f.createSession(t)
	}

	views, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, views, ListLimit)
}

func TestGet(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)

	v, err := f.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, v.ID)
	assert.Equal(t, "user_host", v.Host.ClerkID)

	_, err = f.svc.Get(context.Background(), "missing")
	requireAPIError(t, err, model.ErrCodeSessionNotFound)
}

// --- Join ---

// TestJoin_AssignsParticipantAndAddsMember は参加時に参加者設定とチャンネル追加が行われることを検証する。
func TestJoin_AssignsParticipantAndAddsMember(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)

	v, err := f.svc.Join(context.Background(), created.ID, guest)
	require.NoError(t, err)

	require.NotNil(t, v.Participant)
	assert.Equal(t, "user_guest", v.Participant.ClerkID)
	assert.Equal(t, "user_host", v.Host.ClerkID)
	assert.Equal(t, "u2", f.sessions.get(created.ID).ParticipantID)
	assert.Equal(t, []string{"channel.add:user_guest"}, f.calls.calls)
	assert.Equal(t, []string{eventCreated, eventJoined}, f.metrics.events)
}

// TestJoin_Rejections は参加できない条件ごとのエラーを検証する。
func TestJoin_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture, id string)
		user  *model.User
		id    string
		code  string
	}{
		{
			name: "存在しないセッション",
			user: guest,
			id:   "missing",
			code: model.ErrCodeSessionNotFound,
		},
		{
			name: "ホスト本人",
			user: host,
			code: model.ErrCodeHostCannotJoin,
		},
		{
			name: "満員",
			setup: func(t *testing.T, f *fixture, id string) {
				_, err := f.svc.Join(context.Background(), id, other)
				require.NoError(t, err)
			},
			user: guest,
			code: model.ErrCodeSessionFull,
		},
		{
			name: "終了済み",
			setup: func(t *testing.T, f *fixture, id string) {
				_, err := f.svc.End(context.Background(), id, host)
				require.NoError(t, err)
			},
			user: guest,
			code: model.ErrCodeSessionCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			created := f.createSession(t)
			if tt.setup != nil {
				tt.setup(t, f, created.ID)
			}
			id := created.ID
			if tt.id != "" {
				id = tt.id
			}

			_, err := f.svc.Join(context.Background(), id, tt.user)
			requireAPIError(t, err, tt.code)
		})
	}
}

// TestJoin_SameParticipantTwiceIsFull は同じユーザーが2回参加した場合も満員として扱うことを検証する。
func TestJoin_SameParticipantTwiceIsFull(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	_, err := f.svc.Join(context.Background(), created.ID, guest)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), created.ID, guest)
	requireAPIError(t, err, model.ErrCodeSessionFull)
}

// TestJoin_LosesRace は参加判定後に他のユーザーが先に参加した場合にSESSION_FULLを返すことを検証する。
func TestJoin_LosesRace(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.sessions.assignHook = func(s *model.Session) {
		s.ParticipantID = other.ID
	}

	_, err := f.svc.Join(context.Background(), created.ID, guest)
	requireAPIError(t, err, model.ErrCodeSessionFull)
	assert.Equal(t, other.ID, f.sessions.get(created.ID).ParticipantID)
	assert.Empty(t, f.calls.calls)
}

// TestJoin_LosesRaceToEnd は参加判定後にセッションが終了された場合にSESSION_COMPLETEDを返すことを検証する。
func TestJoin_LosesRaceToEnd(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.sessions.assignHook = func(s *model.Session) {
		s.Status = model.SessionStatusCompleted
	}

	_, err := f.svc.Join(context.Background(), created.ID, guest)
	requireAPIError(t, err, model.ErrCodeSessionCompleted)
}

// TestJoin_ConcurrentOnlyOneSucceeds は同時参加で1人だけが参加者になることを検証する。
func TestJoin_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	// 並行呼び出しでスライスに書き込むため、プロバイダー呼び出しの記録はロックで保護する
	calls := &lockedCallProvider{}
	f.svc.calls = calls

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, u := range []*model.User{guest, other} {
		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			_, err := f.svc.Join(context.Background(), created.ID, u)
			results <- err
		}(u)
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSessionFull {
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
}

type lockedCallProvider struct {
	mu sync.Mutex
	mockCallProvider
}

func (l *lockedCallProvider) AddChannelMembers(ctx context.Context, channelType, channelID string, userIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mockCallProvider.AddChannelMembers(ctx, channelType, channelID, userIDs)
}

// TestJoin_ProviderFailureReleasesSeat はチャンネル追加失敗時に参加者が取り消されることを検証する。
func TestJoin_ProviderFailureReleasesSeat(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.addMemberErr = errors.New("chat unavailable")

	_, err := f.svc.Join(context.Background(), created.ID, guest)
	require.Error(t, err)
	assert.Empty(t, f.sessions.get(created.ID).ParticipantID)

	// 復旧後は再参加できる
	f.calls.addMemberErr = nil
	_, err = f.svc.Join(context.Background(), created.ID, guest)
	require.NoError(t, err)
}

// TestJoin_ProviderFailureAfterEndKeepsCompleted はチャンネル追加中にセッションが終了された場合、
// 参加の取り消しが終了状態を上書きしないことを検証する。
func TestJoin_ProviderFailureAfterEndKeepsCompleted(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.addMemberErr = errors.New("chat unavailable")
	f.calls.addMemberHook = func() {
		_, err := f.svc.End(context.Background(), created.ID, host)
		require.NoError(t, err)
	}

	_, err := f.svc.Join(context.Background(), created.ID, guest)
	require.Error(t, err)

	s := f.sessions.get(created.ID)
	assert.Equal(t, model.SessionStatusCompleted, s.Status)
	assert.Equal(t, guest.ID, s.ParticipantID)

	active, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

// TestJoin_ReleaseOnlyOwnSeat は取り消し時に他のユーザーの参加を消さないことを検証する。
func TestJoin_ReleaseOnlyOwnSeat(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.addMemberErr = errors.New("chat unavailable")
	f.calls.addMemberHook = func() {
		// 席が一度空いて別ユーザーが参加した状況を再現
		f.sessions.mu.Lock()
		f.sessions.sessions[created.ID].ParticipantID = other.ID
		f.sessions.mu.Unlock()
	}

	_, err := f.svc.Join(context.Background(), created.ID, guest)
	require.Error(t, err)
	assert.Equal(t, other.ID, f.sessions.get(created.ID).ParticipantID)
}

// --- End ---

// TestEnd_DeletesResourcesAndCompletes はホストによる終了で通話・チャンネルが削除されることを検証する。
func TestEnd_DeletesResourcesAndCompletes(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)

	v, err := f.svc.End(context.Background(), created.ID, host)
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusCompleted, v.Status)
	assert.Equal(t, model.SessionStatusCompleted, f.sessions.get(created.ID).Status)
	assert.Equal(t, []string{
		"call.delete:" + created.CallID,
		"channel.delete:" + created.CallID,
	}, f.calls.calls)
	assert.Equal(t, []string{eventCreated, eventEnded}, f.metrics.events)
}

func TestEnd_Rejections(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)

	_, err := f.svc.End(context.Background(), "missing", host)
	requireAPIError(t, err, model.ErrCodeSessionNotFound)

	_, err = f.svc.End(context.Background(), created.ID, guest)
	requireAPIError(t, err, model.ErrCodeNotSessionHost)

	_, err = f.svc.End(context.Background(), created.ID, host)
	require.NoError(t, err)

	_, err = f.svc.End(context.Background(), created.ID, host)
	requireAPIError(t, err, model.ErrCodeSessionAlreadyCompleted)
}

// TestEnd_ToleratesMissingProviderResources はプロバイダー側に既にリソースが無い場合も終了できることを検証する。
func TestEnd_ToleratesMissingProviderResources(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.deleteCallErr = fmt.Errorf("failed to delete stream call: %w", getstream.StreamError{StatusCode: http.StatusNotFound, Message: "call not found"})
	f.calls.deleteChanErr = fmt.Errorf("failed to delete stream channel: %w", streamchat.Error{StatusCode: http.StatusNotFound})

	_, err := f.svc.End(context.Background(), created.ID, host)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, f.sessions.get(created.ID).Status)
}

// TestEnd_ProviderFailureKeepsSessionActive はプロバイダー障害時はセッションをactiveのまま残すことを検証する。
func TestEnd_ProviderFailureKeepsSessionActive(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.deleteCallErr = fmt.Errorf("failed to delete stream call: %w", getstream.StreamError{StatusCode: http.StatusInternalServerError})

	_, err := f.svc.End(context.Background(), created.ID, host)
	require.Error(t, err)
	assert.Equal(t, model.SessionStatusActive, f.sessions.get(created.ID).Status)
}

// TestEnd_KeepsParticipantJoinedDuringDeletion はリソース削除中に参加したユーザーが終了後も記録に残ることを検証する。
func TestEnd_KeepsParticipantJoinedDuringDeletion(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.deleteCallHook = func() {
		_, err := f.svc.Join(context.Background(), created.ID, guest)
		require.NoError(t, err)
	}

	v, err := f.svc.End(context.Background(), created.ID, host)
	require.NoError(t, err)

	s := f.sessions.get(created.ID)
	assert.Equal(t, model.SessionStatusCompleted, s.Status)
	assert.Equal(t, guest.ID, s.ParticipantID)
	require.NotNil(t, v.Participant)
	assert.Equal(t, "user_guest", v.Participant.ClerkID)

	recent, err := f.svc.ListMyRecent(context.Background(), guest)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, created.ID, recent[0].ID)
}

// TestEnd_LosesRaceToAnotherEnd は削除中に別の終了処理が完了した場合にSESSION_ALREADY_COMPLETEDを返すことを検証する。
func TestEnd_LosesRaceToAnotherEnd(t *testing.T) {
	f := newFixture()
	created := f.createSession(t)
	f.calls.deleteCallHook = func() {
		_, err := f.svc.End(context.Background(), created.ID, host)
		require.NoError(t, err)
	}

	_, err := f.svc.End(context.Background(), created.ID, host)
	requireAPIError(t, err, model.ErrCodeSessionAlreadyCompleted)
	assert.Equal(t, []string{eventCreated, eventEnded}, f.metrics.events)
}

// --- CleanupStale ---

func TestCleanupStale(t *testing.T) {
	f := newFixture()
	f.sessions.staleCount = 3

	n, err := f.svc.CleanupStale(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(3), n)
	assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), f.sessions.staleAt)
	assert.Equal(t, []string{eventExpired, eventExpired, eventExpired}, f.metrics.events)
}
