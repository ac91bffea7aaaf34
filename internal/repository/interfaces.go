// Package repository はデータ永続化のインターフェースと実装を提供する。
// MongoDBとPostgreSQLの2系統の実装を持ち、DB_URLのスキームで切り替える。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/talentiq/internal/model"
)

var (
	// ErrDuplicate は一意制約違反（clerkId・emailの重複など）を表す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByClerkID はClerkのユーザーIDでユーザーを取得する。見つからない場合はnilを返す。
	FindByClerkID(ctx context.Context, clerkID string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByIDs は指定IDのユーザーをIDをキーとするマップで返す。存在しないIDは含まれない。
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)

	// Create はユーザーを作成し、採番したIDをuser.IDに設定する。
	// clerkIdまたはemailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByClerkID はClerkのユーザーIDでユーザーを削除する。
	// 対象が存在しない場合はErrNotFoundを返す。
	DeleteByClerkID(ctx context.Context, clerkID string) error

	// Delete はuser.IDのユーザーを削除する。作成直後のレコードの取り消しに使う。
	// 対象が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, user *model.User) error
}

// SessionRepository は面接セッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成し、採番したIDをsession.IDに設定する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// ListActive はactive状態のセッションを作成日時の降順で最大limit件返す。
	ListActive(ctx context.Context, limit int) ([]*model.Session, error)

	// ListRecentCompletedByUser は指定ユーザーがホストまたは参加者であった
	// completed状態のセッションを作成日時の降順で最大limit件返す。
	ListRecentCompletedByUser(ctx context.Context, userID string, limit int) ([]*model.Session, error)

	// AssignParticipant はactive状態かつ参加者未定のセッションにのみ参加者を設定する。
	// 条件を満たさず更新されなかった場合はfalseを返す。
	AssignParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error)

	// ReleaseParticipant はactive状態かつ参加者がuserIDのセッションからのみ参加者を外す。
	// 既に終了済み、または別の参加者に変わっている場合はfalseを返す。
	ReleaseParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error)

	// Complete はactive状態のセッションの状態のみをcompletedにする。参加者は変更しない。
	// 既に終了済みの場合はfalseを返す。
	Complete(ctx context.Context, sessionID string, at time.Time) (bool, error)

	// CompleteStaleBefore はbefore以前に作成されたactive状態のセッションをcompletedにし、件数を返す。
	CompleteStaleBefore(ctx context.Context, before time.Time) (int64, error)
}

// HealthChecker はデータストアの疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}
