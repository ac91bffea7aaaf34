// Package jobs はジョブランナー（Inngest）で実行するバックグラウンド関数を定義し、
// 関数の登録・実行を受け付けるHTTPハンドラーを提供する。
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/inngest/inngestgo"
)

// Config はジョブランナーとの接続設定。
type Config struct {
	AppID      string
	EventKey   string
	SigningKey string
	Dev        bool   // trueの場合はローカルのDev Serverに接続し、署名検証を行わない
	APIURL     string // 関数登録先のAPIベースURL
	ServeURL   string // 空の場合はリクエストから組み立てる
}

// NewHandler は関数を登録したクライアントを生成し、/api/inngest に載せるハンドラーを返す。
// イントロスペクション・登録・署名検証・実行はSDKのハンドラーが行う。
func NewHandler(cfg Config, functions *UserFunctions) (http.Handler, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	for _, fn := range functions.functions() {
		run := fn.Run
		_, err := inngestgo.CreateFunction(
			client,
			inngestgo.FunctionOpts{ID: fn.ID, Name: fn.Name},
			inngestgo.EventTrigger(fn.Event, nil),
			func(ctx context.Context, input inngestgo.Input[json.RawMessage]) (any, error) {
				return run(ctx, input.Event.Name, input.Event.Data)
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create job function %s: %w", fn.ID, err)
		}
	}
	return client.Serve(), nil
}

func newClient(cfg Config) (inngestgo.Client, error) {
	opts := inngestgo.ClientOpts{
		AppID: cfg.AppID,
		Dev:   &cfg.Dev,
	}
	if cfg.EventKey != "" {
		opts.EventKey = &cfg.EventKey
	}
	if cfg.SigningKey != "" {
		opts.SigningKey = &cfg.SigningKey
	}
	if cfg.APIURL != "" {
		registerURL := strings.TrimRight(cfg.APIURL, "/") + "/fn/register"
		opts.RegisterURL = &registerURL
	}
	if cfg.ServeURL != "" {
		u, err := url.Parse(cfg.ServeURL)
		if err != nil {
			return nil, fmt.Errorf("invalid INNGEST_SERVE_URL: %w", err)
		}
		opts.URL = u
	}

	client, err := inngestgo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create inngest client: %w", err)
	}
	return client, nil
}
