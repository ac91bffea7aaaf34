// Package stream は Stream のチャット/ビデオ API を SDK 経由で操作する。
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	getstream "github.com/GetStream/getstream-go"
	chat "github.com/GetStream/stream-chat-go/v7"
)

const (
	// CallTypeDefault はセッションで作成するビデオ通話の種類。
	CallTypeDefault = "default"
	// ChannelTypeMessaging はセッションで作成するチャットチャンネルの種類。
	ChannelTypeMessaging = "messaging"
)

// User は Stream 側に同期するユーザー情報。
type User struct {
	ID    string
	Name  string
	Image string
}

// Config は Stream クライアントの設定。
type Config struct {
	APIKey    string
	APISecret string
	// ChatURL は空でなければチャット API のベース URL を上書きする。
	ChatURL string
}

// videoCalls はビデオ通話 API のうちセッションが使う操作。
type videoCalls interface {
	GetOrCreate(ctx context.Context, callType, callID, createdByID string, custom map[string]any) error
	Delete(ctx context.Context, callType, callID string) error
}

// Client はチャットとビデオの SDK クライアントをまとめたもの。
type Client struct {
	apiKey string
	chat   *chat.Client
	video  videoCalls
}

// NewClient は設定から Stream クライアントを生成する。
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	chatClient, err := chat.NewClient(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream chat client: %w", err)
	}
	if cfg.ChatURL != "" {
		chatClient.BaseURL = strings.TrimRight(cfg.ChatURL, "/")
	}
	if httpClient != nil {
		chatClient.HTTP = httpClient
	}

	videoClient, err := getstream.NewClient(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream video client: %w", err)
	}

	return &Client{
		apiKey: cfg.APIKey,
		chat:   chatClient,
		video:  &sdkVideoCalls{call: videoClient.Video().Call},
	}, nil
}

// APIKey はクライアントに渡す公開 API キーを返す。
func (c *Client) APIKey() string {
	return c.apiKey
}

// CreateToken は userID 用の無期限チャットトークンを発行する。
func (c *Client) CreateToken(userID string) (string, error) {
	token, err := c.chat.CreateToken(userID, time.Time{})
	if err != nil {
		return "", fmt.Errorf("failed to create stream token: %w", err)
	}
	return token, nil
}

// UpsertUser はユーザーを作成または更新する。
func (c *Client) UpsertUser(ctx context.Context, u User) error {
	_, err := c.chat.UpsertUser(ctx, &chat.User{ID: u.ID, Name: u.Name, Image: u.Image})
	if err != nil {
		return fmt.Errorf("failed to upsert stream user: %w", err)
	}
	return nil
}

// DeleteUser はユーザーを削除する。
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if _, err := c.chat.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete stream user: %w", err)
	}
	return nil
}

// CreateChannel は createdBy を作成者としてチャンネルを作成する。
func (c *Client) CreateChannel(ctx context.Context, channelType, channelID, createdBy, name string, members []string) error {
	req := &chat.ChannelRequest{
		Members:   members,
		ExtraData: map[string]interface{}{"name": name},
	}
	if _, err := c.chat.CreateChannel(ctx, channelType, channelID, createdBy, req); err != nil {
		return fmt.Errorf("failed to create stream channel: %w", err)
	}
	return nil
}

// AddChannelMembers はチャンネルにメンバーを追加する。
func (c *Client) AddChannelMembers(ctx context.Context, channelType, channelID string, members []string) error {
	if _, err := c.chat.Channel(channelType, channelID).AddMembers(ctx, members); err != nil {
		return fmt.Errorf("failed to add stream channel members: %w", err)
	}
	return nil
}

// DeleteChannel はチャンネルを削除する。
func (c *Client) DeleteChannel(ctx context.Context, channelType, channelID string) error {
	if _, err := c.chat.Channel(channelType, channelID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete stream channel: %w", err)
	}
	return nil
}

// GetOrCreateCall はビデオ通話を取得し、無ければ作成する。
func (c *Client) GetOrCreateCall(ctx context.Context, callType, callID, createdByID string, custom map[string]any) error {
	if err := c.video.GetOrCreate(ctx, callType, callID, createdByID, custom); err != nil {
		return fmt.Errorf("failed to get or create stream call: %w", err)
	}
	return nil
}

// DeleteCall はビデオ通話を削除する。
func (c *Client) DeleteCall(ctx context.Context, callType, callID string) error {
	if err := c.video.Delete(ctx, callType, callID); err != nil {
		return fmt.Errorf("failed to delete stream call: %w", err)
	}
	return nil
}

// IsNotFound は err が Stream API の 404 応答に由来するかを判定する。
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var chatErr chat.Error
	if errors.As(err, &chatErr) {
		return chatErr.StatusCode
	}
	var chatErrPtr *chat.Error
	if errors.As(err, &chatErrPtr) && chatErrPtr != nil {
		return chatErrPtr.StatusCode
	}
	var videoErr getstream.StreamError
	if errors.As(err, &videoErr) {
		return videoErr.StatusCode
	}
	var videoErrPtr *getstream.StreamError
	if errors.As(err, &videoErrPtr) && videoErrPtr != nil {
		return videoErrPtr.StatusCode
	}
	return 0
}

// sdkVideoCalls は getstream-go の Call を videoCalls に合わせる。
type sdkVideoCalls struct {
	call func(callType, callID string) *getstream.Call
}

func (v *sdkVideoCalls) GetOrCreate(ctx context.Context, callType, callID, createdByID string, custom map[string]any) error {
	_, err := v.call(callType, callID).GetOrCreate(ctx, &getstream.GetOrCreateCallRequest{
		Data: &getstream.CallRequest{
			CreatedByID: getstream.PtrTo(createdByID),
			Custom:      custom,
		},
	})
	return err
}

func (v *sdkVideoCalls) Delete(ctx context.Context, callType, callID string) error {
	_, err := v.call(callType, callID).Delete(ctx, &getstream.DeleteCallRequest{
		Hard: getstream.PtrTo(true),
	})
	return err
}
