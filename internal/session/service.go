// Package session は1対1のコーディング面接セッションのドメインロジックを提供する。
// セッションごとにビデオ通話とチャットチャンネルを外部プロバイダー上に作成し、
// 参加・終了に合わせてメンバーやリソースを管理する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/talentiq/internal/events"
	"github.com/hitoshi/talentiq/internal/metrics"
	"github.com/hitoshi/talentiq/internal/model"
	"github.com/hitoshi/talentiq/internal/repository"
	"github.com/hitoshi/talentiq/internal/security"
	"github.com/hitoshi/talentiq/internal/stream"
)

const (
	// ListLimit は一覧取得の最大件数。
	ListLimit = 20
	// maxProblemLength は問題名の最大文字数。
	maxProblemLength = 200
)

// セッションイベント名（メトリクスのラベル）
const (
	eventCreated = "created"
	eventJoined  = "joined"
	eventEnded   = "ended"
	eventExpired = "expired"
)

// CallProvider はビデオ通話とチャットチャンネルを管理する外部プロバイダーのインターフェース。
type CallProvider interface {
	GetOrCreateCall(ctx context.Context, callType, callID, createdByID string, custom map[string]any) error
	DeleteCall(ctx context.Context, callType, callID string) error
	CreateChannel(ctx context.Context, channelType, channelID, createdByID, name string, members []string) error
	AddChannelMembers(ctx context.Context, channelType, channelID string, userIDs []string) error
	DeleteChannel(ctx context.Context, channelType, channelID string) error
}

// CreateInput はセッション作成の入力値。
type CreateInput struct {
	Problem    string `json:"problem"`
	Difficulty string `json:"difficulty"`
}

// Service は面接セッションのサービス層。
type Service struct {
	sessions  repository.SessionRepository
	users     repository.UserRepository
	calls     CallProvider
	sanitizer security.TextSanitizer
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newCallID func(now time.Time) string
}

// NewService はServiceの新しいインスタンスを生成する。
// publisher・collectorがnilの場合は何も記録しない実装を使用する。
func NewService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	calls CallProvider,
	publisher events.Publisher,
	collector metrics.MetricsCollector,
) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		sessions:  sessions,
		users:     users,
		calls:     calls,
		sanitizer: security.NewTextSanitizer(maxProblemLength),
		publisher: publisher,
		metrics:   collector,
		now:       time.Now,
		newCallID: newCallID,
	}
}

// newCallID は "session_<UNIXミリ秒>_<ランダム文字列>" 形式の通話IDを生成する。
func newCallID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), random)
}

// Create はセッションを作成し、ビデオ通話とチャットチャンネルを用意する。
// 外部プロバイダーでの作成に失敗した場合、セッションは終了済みにして一覧に残さない。
func (s *Service) Create(ctx context.Context, host *model.User, in CreateInput) (*model.SessionView, error) {
	problem := s.sanitizer.Sanitize(in.Problem)
	difficulty := model.Difficulty(strings.ToLower(strings.TrimSpace(in.Difficulty)))
	if problem == "" || difficulty == "" {
		return nil, model.NewValidationError("Problem and difficulty are required")
	}
	if !difficulty.Valid() {
		return nil, model.NewValidationError("Difficulty must be one of easy, medium, hard")
	}

	now := s.now()
	session := &model.Session{
		Problem:    problem,
		Difficulty: difficulty,
		HostID:     host.ID,
		Status:     model.SessionStatusActive,
		CallID:     s.newCallID(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.provisionRoom(ctx, host, session); err != nil {
		if _, uerr := s.sessions.Complete(ctx, session.ID, s.now()); uerr != nil {
			slog.Error("failed to close session after provider failure",
				slog.String("session_id", session.ID),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, err
	}

	s.metrics.RecordSessionEvent(eventCreated)
	s.publisher.Publish(ctx, events.SubjectSessionCreated, sessionEvent(session))
	slog.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("call_id", session.CallID),
		slog.String("host_id", host.ID),
	)
	return model.NewSessionView(session, host, nil), nil
}

// provisionRoom はセッション用のビデオ通話とチャットチャンネルを作成する。
func (s *Service) provisionRoom(ctx context.Context, host *model.User, session *model.Session) error {
	custom := map[string]any{
		"problem":    session.Problem,
		"difficulty": string(session.Difficulty),
		"sessionId":  session.ID,
	}
	if err := s.calls.GetOrCreateCall(ctx, stream.CallTypeDefault, session.CallID, host.ClerkID, custom); err != nil {
		return fmt.Errorf("failed to create video call: %w", err)
	}

	name := session.Problem + " Session"
	if err := s.calls.CreateChannel(ctx, stream.ChannelTypeMessaging, session.CallID, host.ClerkID, name, []string{host.ClerkID}); err != nil {
		return fmt.Errorf("failed to create chat channel: %w", err)
	}
	return nil
}

// ListActive はactive状態のセッションを新しい順に最大20件返す。
func (s *Service) ListActive(ctx context.Context) ([]*model.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return s.views(ctx, sessions)
}

// ListMyRecent は指定ユーザーがホストまたは参加者だった終了済みセッションを新しい順に最大20件返す。
func (s *Service) ListMyRecent(ctx context.Context, user *model.User) ([]*model.SessionView, error) {
	sessions, err := s.sessions.ListRecentCompletedByUser(ctx, user.ID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}
	return s.views(ctx, sessions)
}

// Get は指定IDのセッションを返す。存在しない場合はSESSION_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.SessionView, error) {
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, []*model.Session{session})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// Join は指定ユーザーをセッションの参加者にし、チャットチャンネルに追加する。
func (s *Service) Join(ctx context.Context, id string, user *model.User) (*model.SessionView, error) {
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkJoinable(session, user); err != nil {
		return nil, err
	}

	now := s.now()
	assigned, err := s.sessions.AssignParticipant(ctx, session.ID, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	if !assigned {
		// 同時に参加・終了した別のリクエストに先を越された
		latest, err := s.find(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkJoinable(latest, user); err != nil {
			return nil, err
		}
		return nil, model.NewSessionFullError()
	}
	session.ParticipantID = user.ID
	session.UpdatedAt = now

	if err := s.calls.AddChannelMembers(ctx, stream.ChannelTypeMessaging, session.CallID, []string{user.ClerkID}); err != nil {
		// 自分が確保した席だけを空ける。その間に終了されていれば何もしない
		if _, uerr := s.sessions.ReleaseParticipant(ctx, session.ID, user.ID, s.now()); uerr != nil {
			slog.Error("failed to release participant after provider failure",
				slog.String("session_id", session.ID),
				slog.String("error", uerr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to add chat member: %w", err)
	}

	s.metrics.RecordSessionEvent(eventJoined)
	s.publisher.Publish(ctx, events.SubjectSessionJoined, sessionEvent(session))
	slog.Info("session joined",
		slog.String("session_id", session.ID),
		slog.String("participant_id", user.ID),
	)

	host, err := s.users.FindByID(ctx, session.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session host: %w", err)
	}
	return model.NewSessionView(session, host, user), nil
}

// checkJoinable は参加可否を判定する。判定順は終了済み・ホスト本人・満員。
func checkJoinable(session *model.Session, user *model.User) error {
	switch {
	case !session.IsActive():
		return model.NewSessionCompletedError()
	case session.HostID == user.ID:
		return model.NewHostCannotJoinError()
	case session.HasParticipant():
		return model.NewSessionFullError()
	}
	return nil
}

// End はホストがセッションを終了する。ビデオ通話とチャットチャンネルを削除してから終了済みにする。
// 終了済みへの更新は状態だけを書き換えるため、削除中に参加した参加者も記録に残る。
func (s *Service) End(ctx context.Context, id string, user *model.User) (*model.SessionView, error) {
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.HostID != user.ID {
		return nil, model.NewNotSessionHostError()
	}
	if !session.IsActive() {
		return nil, model.NewSessionAlreadyCompletedError()
	}

	if err := s.calls.DeleteCall(ctx, stream.CallTypeDefault, session.CallID); err != nil && !stream.IsNotFound(err) {
		return nil, fmt.Errorf("failed to delete video call: %w", err)
	}
	if err := s.calls.DeleteChannel(ctx, stream.ChannelTypeMessaging, session.CallID); err != nil && !stream.IsNotFound(err) {
		return nil, fmt.Errorf("failed to delete chat channel: %w", err)
	}

	completed, err := s.sessions.Complete(ctx, session.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	if !completed {
		// 同時に実行された終了処理またはクリーンアップが先に終了済みにした
		return nil, model.NewSessionAlreadyCompletedError()
	}

	if session, err = s.find(ctx, id); err != nil {
		return nil, err
	}

	s.metrics.RecordSessionEvent(eventEnded)
	s.publisher.Publish(ctx, events.SubjectSessionEnded, sessionEvent(session))
	slog.Info("session ended", slog.String("session_id", session.ID))

	views, err := s.views(ctx, []*model.Session{session})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// CleanupStale はolderThanより前に作成されたまま放置されたactiveなセッションを終了済みにする。
func (s *Service) CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	n, err := s.sessions.CompleteStaleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stale sessions: %w", err)
	}
	for i := int64(0); i < n; i++ {
		s.metrics.RecordSessionEvent(eventExpired)
	}
	return n, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return session, nil
}

// views はホスト・参加者をまとめて取得してSessionViewに変換する。
func (s *Service) views(ctx context.Context, sessions []*model.Session) ([]*model.SessionView, error) {
	ids := make([]string, 0, len(sessions)*2)
	for _, session := range sessions {
		ids = append(ids, session.HostID)
		if session.HasParticipant() {
			ids = append(ids, session.ParticipantID)
		}
	}

	users := map[string]*model.User{}
	if len(ids) > 0 {
		var err error
		users, err = s.users.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load session users: %w", err)
		}
	}

	views := make([]*model.SessionView, 0, len(sessions))
	for _, session := range sessions {
		var participant *model.User
		if session.HasParticipant() {
			participant = users[session.ParticipantID]
		}
		views = append(views, model.NewSessionView(session, users[session.HostID], participant))
	}
	return views, nil
}

func sessionEvent(s *model.Session) map[string]string {
	return map[string]string{
		"sessionId":     s.ID,
		"callId":        s.CallID,
		"hostId":        s.HostID,
		"participantId": s.ParticipantID,
		"status":        string(s.Status),
	}
}
