// Package cache はRedisを使用したキャッシュを提供する。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/talentiq/internal/model"
)

// キープレフィックス
const prefixUserByClerkID = "talentiq:user:clerk:"

// UserCache はClerkのユーザーIDをキーとしてユーザーをキャッシュする。
type UserCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewUserCache は既存のRedisクライアントからUserCacheを生成する。
func NewUserCache(client redis.UniversalClient, ttl time.Duration) *UserCache {
	return &UserCache{client: client, ttl: ttl}
}

// NewUserCacheFromURL はREDIS_URL形式の接続URLからUserCacheを生成する。
// 接続は最初のコマンド実行時に確立される。
func NewUserCacheFromURL(redisURL string, ttl time.Duration) (*UserCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewUserCache(redis.NewClient(opts), ttl), nil
}

// Get はキャッシュからユーザーを取得する。キャッシュに無い場合はnilを返す。
func (c *UserCache) Get(ctx context.Context, clerkID string) (*model.User, error) {
	data, err := c.client.Get(ctx, userKey(clerkID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return &user, nil
}

// Set はユーザーをTTL付きでキャッシュする。
func (c *UserCache) Set(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, userKey(user.ClerkID), data, c.ttl).Err()
}

// Delete はキャッシュからユーザーを削除する。
func (c *UserCache) Delete(ctx context.Context, clerkID string) error {
	return c.client.Del(ctx, userKey(clerkID)).Err()
}

// Ping はRedisへの疎通を確認する。
func (c *UserCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (c *UserCache) Close() error {
	return c.client.Close()
}

func userKey(clerkID string) string {
	return prefixUserByClerkID + clerkID
}
