// Package user はユーザーの自動作成・同期・削除のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/talentiq/internal/events"
	"github.com/hitoshi/talentiq/internal/metrics"
	"github.com/hitoshi/talentiq/internal/model"
	"github.com/hitoshi/talentiq/internal/repository"
	"github.com/hitoshi/talentiq/internal/stream"
)

// defaultProvisionTimeout はユーザー自動作成全体のタイムアウト。
const defaultProvisionTimeout = 15 * time.Second

// ErrProvisionFailed はユーザーの自動作成・同期に失敗したことを表す。
var ErrProvisionFailed = errors.New("user provisioning failed")

// ProfileFetcher はIdPからプロフィールを取得するインターフェース。
type ProfileFetcher interface {
	GetUser(ctx context.Context, clerkID string) (*model.IdentityProfile, error)
}

// ChatUserSyncer はチャット・ビデオ通話プロバイダーへユーザーを同期するインターフェース。
type ChatUserSyncer interface {
	UpsertUser(ctx context.Context, user stream.User) error
	DeleteUser(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	users     repository.UserRepository
	profiles  ProfileFetcher
	chat      ChatUserSyncer
	publisher events.Publisher
	metrics   metrics.MetricsCollector

	group            singleflight.Group
	provisionTimeout time.Duration
	now              func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// publisher・collectorがnilの場合は何も記録しない実装を使用する。
func NewService(
	users repository.UserRepository,
	profiles ProfileFetcher,
	chat ChatUserSyncer,
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
		users:            users,
		profiles:         profiles,
		chat:             chat,
		publisher:        publisher,
		metrics:          collector,
		provisionTimeout: defaultProvisionTimeout,
		now:              time.Now,
	}
}

// EnsureUser はClerkのユーザーIDに対応するローカルユーザーを返す。
// 存在しない場合はIdPのプロフィールから作成し、チャットプロバイダーへ同期する。
// 同一プロセス内の同じユーザーに対する同時呼び出しは1回の作成処理にまとめられる。
// 作成・同期の失敗はErrProvisionFailedでラップして返す。
func (s *Service) EnsureUser(ctx context.Context, clerkID string) (*model.User, error) {
	user, err := s.users.FindByClerkID(ctx, clerkID)
	if err != nil {
		s.metrics.RecordProvisionFailure(metrics.StageLookup)
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	v, err, shared := s.group.Do(clerkID, func() (any, error) {
		// 呼び出し元のキャンセルを他の待機者に伝播させない
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.provisionTimeout)
		defer cancel()
		return s.provision(pctx, clerkID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("user provisioning shared", slog.String("clerk_id", clerkID))
	}
	return v.(*model.User), nil
}

// provision はユーザーを作成してチャットプロバイダーへ同期する。
// 同期に失敗した場合は作成したレコードを削除し、次のリクエストで再試行できる状態に戻す。
func (s *Service) provision(ctx context.Context, clerkID string) (*model.User, error) {
	start := s.now()

	// 直前に別の呼び出しが作成を終えている場合
	if existing, err := s.users.FindByClerkID(ctx, clerkID); err == nil && existing != nil {
		return s.syncExisting(ctx, existing)
	}

	profile, err := s.profiles.GetUser(ctx, clerkID)
	if err != nil {
		return nil, s.fail(metrics.StageProfile, clerkID, err)
	}

	user := model.NewUserFromProfile(profile, s.now())
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 別プロセスが先に作成した
			existing, ferr := s.users.FindByClerkID(ctx, clerkID)
			if ferr == nil && existing != nil {
				return s.syncExisting(ctx, existing)
			}
		}
		return nil, s.fail(metrics.StageCreate, clerkID, err)
	}

	if err := s.chat.UpsertUser(ctx, toStreamUser(user)); err != nil {
		// 自分が作成したレコードだけを消す
		if derr := s.users.Delete(ctx, user); derr != nil {
			slog.Error("failed to roll back unsynced user",
				slog.String("clerk_id", clerkID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, s.fail(metrics.StageChat, clerkID, err)
	}

	s.metrics.RecordUserProvisioned()
	s.metrics.RecordProvisionLatency(s.now().Sub(start))
	s.publisher.Publish(ctx, events.SubjectUserProvisioned, userEvent(user))

	slog.Info("user provisioned",
		slog.String("clerk_id", clerkID),
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// syncExisting は他の呼び出しが作成したレコードをチャットプロバイダーへ同期してから返す。
// 作成側の同期がまだ終わっていない、または失敗して巻き戻し中の可能性がある。
func (s *Service) syncExisting(ctx context.Context, existing *model.User) (*model.User, error) {
	if err := s.chat.UpsertUser(ctx, toStreamUser(existing)); err != nil {
		return nil, s.fail(metrics.StageChat, existing.ClerkID, err)
	}
	return existing, nil
}

func (s *Service) fail(stage, clerkID string, err error) error {
	s.metrics.RecordProvisionFailure(stage)
	slog.Error("user provisioning failed",
		slog.String("clerk_id", clerkID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %w", ErrProvisionFailed, stage, err)
}

// SyncFromEvent はIdPのユーザー作成イベントからユーザーを作成し、チャットプロバイダーへ同期する。
// 既に存在する場合はチャットプロバイダーへの同期のみを行う。
func (s *Service) SyncFromEvent(ctx context.Context, profile *model.IdentityProfile) (*model.User, error) {
	if profile == nil || profile.ID == "" {
		return nil, fmt.Errorf("user id is missing in event payload")
	}

	user, err := s.users.FindByClerkID(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user == nil {
		user = model.NewUserFromProfile(profile, s.now())
		err := s.users.Create(ctx, user)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			user, err = s.users.FindByClerkID(ctx, profile.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to look up user: %w", err)
			}
			if user == nil {
				return nil, fmt.Errorf("user %s conflicts with an existing record", profile.ID)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to create user: %w", err)
		default:
			s.publisher.Publish(ctx, events.SubjectUserProvisioned, userEvent(user))
		}
	}

	if err := s.chat.UpsertUser(ctx, toStreamUser(user)); err != nil {
		return nil, fmt.Errorf("failed to sync user to chat: %w", err)
	}

	slog.Info("user synced from event", slog.String("clerk_id", profile.ID))
	return user, nil
}

// DeleteFromEvent はIdPのユーザー削除イベントを受けてローカルユーザーとチャットユーザーを削除する。
// どちらも存在しない場合は成功として扱う。
func (s *Service) DeleteFromEvent(ctx context.Context, clerkID string) error {
	if clerkID == "" {
		return fmt.Errorf("user id is missing in event payload")
	}

	if err := s.users.DeleteByClerkID(ctx, clerkID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		slog.Info("user already deleted", slog.String("clerk_id", clerkID))
	}

	if err := s.chat.DeleteUser(ctx, clerkID); err != nil {
		if !stream.IsNotFound(err) {
			return fmt.Errorf("failed to delete chat user: %w", err)
		}
	}

	s.publisher.Publish(ctx, events.SubjectUserDeleted, map[string]string{"clerkId": clerkID})
	slog.Info("user deleted from event", slog.String("clerk_id", clerkID))
	return nil
}

func toStreamUser(u *model.User) stream.User {
	return stream.User{
		ID:    u.ClerkID,
		Name:  u.Name,
		Image: u.ProfileImage,
	}
}

func userEvent(u *model.User) map[string]string {
	return map[string]string{
		"userId":  u.ID,
		"clerkId": u.ClerkID,
		"email":   u.Email,
	}
}
