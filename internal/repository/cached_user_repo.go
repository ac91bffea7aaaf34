package repository

import (
	"context"
	"log/slog"

	"github.com/hitoshi/talentiq/internal/model"
)

// UserCache はClerkのユーザーIDをキーとするユーザーキャッシュ。
type UserCache interface {
	// Get はキャッシュ済みのユーザーを返す。キャッシュに無い場合はnilを返す。
	Get(ctx context.Context, clerkID string) (*model.User, error)
	Set(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, clerkID string) error
}

// CachedUserRepo はUserRepositoryにキャッシュを被せるデコレータ。
// キャッシュのエラーはログに記録して無視し、下位のリポジトリの結果を優先する。
type CachedUserRepo struct {
	UserRepository
	cache UserCache
}

// NewCachedUserRepo はCachedUserRepoを生成する。
func NewCachedUserRepo(inner UserRepository, cache UserCache) *CachedUserRepo {
	return &CachedUserRepo{UserRepository: inner, cache: cache}
}

// FindByClerkID はキャッシュを参照し、無ければ下位のリポジトリから取得してキャッシュする。
func (r *CachedUserRepo) FindByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	cached, err := r.cache.Get(ctx, clerkID)
	if err != nil {
		slog.Warn("user cache get failed", slog.String("clerk_id", clerkID), slog.String("error", err.Error()))
	}
	if cached != nil {
		return cached, nil
	}

	user, err := r.UserRepository.FindByClerkID(ctx, clerkID)
	if err != nil || user == nil {
		return user, err
	}
	r.store(ctx, user)
	return user, nil
}

// Create はユーザーを作成し、作成したユーザーをキャッシュする。
func (r *CachedUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := r.UserRepository.Create(ctx, user); err != nil {
		return err
	}
	r.store(ctx, user)
	return nil
}

// DeleteByClerkID はユーザーを削除してからキャッシュを無効化する。
// 削除中の読み込みがキャッシュへ書き戻したエントリも取り除くため、無効化は削除の後に行う。
func (r *CachedUserRepo) DeleteByClerkID(ctx context.Context, clerkID string) error {
	err := r.UserRepository.DeleteByClerkID(ctx, clerkID)
	r.invalidate(ctx, clerkID)
	return err
}

// Delete はuser.IDのユーザーを削除してからキャッシュを無効化する。
func (r *CachedUserRepo) Delete(ctx context.Context, user *model.User) error {
	err := r.UserRepository.Delete(ctx, user)
	r.invalidate(ctx, user.ClerkID)
	return err
}

func (r *CachedUserRepo) invalidate(ctx context.Context, clerkID string) {
	if err := r.cache.Delete(ctx, clerkID); err != nil {
		slog.Warn("user cache delete failed", slog.String("clerk_id", clerkID), slog.String("error", err.Error()))
	}
}

func (r *CachedUserRepo) store(ctx context.Context, user *model.User) {
	if err := r.cache.Set(ctx, user); err != nil {
		slog.Warn("user cache set failed", slog.String("clerk_id", user.ClerkID), slog.String("error", err.Error()))
	}
}

// compile-time interface check
var _ UserRepository = (*CachedUserRepo)(nil)
