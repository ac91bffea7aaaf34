// Package events はドメインイベントの発行を提供する。
// NATS_URLが設定されている場合はNATSへJSONで発行し、未設定の場合は何もしない。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// イベントのサブジェクト
const (
	SubjectUserProvisioned = "talentiq.users.provisioned"
	SubjectUserDeleted     = "talentiq.users.deleted"
	SubjectSessionCreated  = "talentiq.sessions.created"
	SubjectSessionJoined   = "talentiq.sessions.joined"
	SubjectSessionEnded    = "talentiq.sessions.ended"
)

// Publisher はドメインイベントの発行インターフェース。
// 発行の失敗は呼び出し元の処理を失敗させない。
type Publisher interface {
	Publish(ctx context.Context, subject string, data any)
}

// Envelope は発行するメッセージの共通形式。
type Envelope struct {
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func encode(subject string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Subject: subject, OccurredAt: now.UTC(), Data: data})
}

// NATSPublisher はNATSへイベントを発行するPublisher。
type NATSPublisher struct {
	conn *nats.Conn
	now  func() time.Time
}

// ConnectNATS はNATSへ接続してNATSPublisherを生成する。
// 接続断の後は自動で再接続を繰り返す。
func ConnectNATS(url string, timeout time.Duration) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("talentiq"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	slog.Info("connected to nats", slog.String("url", conn.ConnectedUrlRedacted()))
	return &NATSPublisher{conn: conn, now: time.Now}, nil
}

// Publish はイベントをJSONエンコードして発行する。失敗はログに記録する。
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data any) {
	payload, err := encode(subject, data, p.now())
	if err != nil {
		slog.Error("failed to encode event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		slog.Error("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	slog.Debug("event published", slog.String("subject", subject))
}

// Close は未送信のメッセージを送信してから接続を閉じる。
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

// Noop は何も発行しないPublisher。
type Noop struct{}

// Publish は何もしない。
func (Noop) Publish(context.Context, string, any) {}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Noop{}
)
