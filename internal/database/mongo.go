package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBのコレクション名
const (
	UsersCollection    = "users"
	SessionsCollection = "sessions"
)

// ErrDatabaseURLNotDefined はDB_URLが未設定の場合のエラー。
var ErrDatabaseURLNotDefined = errors.New("DB_URL is not defined")

// Mongo はプロセス内で共有するMongoDB接続を管理する。
// Connectは最初の成功までmutexで直列化され、失敗した場合は次の呼び出しで再試行する。
type Mongo struct {
	uri     string
	dbName  string
	timeout time.Duration

	mu     sync.Mutex
	client *mongo.Client
}

// NewMongo はMongoを生成する。この時点では接続しない。
func NewMongo(uri, dbName string, timeout time.Duration) *Mongo {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mongo{uri: uri, dbName: dbName, timeout: timeout}
}

// Connect はMongoDBへ接続し疎通確認を行う。接続済みの場合は何もしない。
func (m *Mongo) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		slog.Debug("mongodb already connected")
		return nil
	}
	if m.uri == "" {
		return ErrDatabaseURLNotDefined
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}

	m.client = client
	slog.Info("connected to mongodb", slog.String("database", m.dbName))
	return nil
}

// Connected は接続済みかどうかを返す。
func (m *Mongo) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// Database は接続済みのデータベースハンドルを返す。未接続の場合はnilを返す。
func (m *Mongo) Database() *mongo.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	return m.client.Database(m.dbName)
}

// Ping はMongoDBへの疎通を確認する。
func (m *Mongo) Ping(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return errors.New("mongodb is not connected")
	}
	return client.Ping(ctx, nil)
}

// Disconnect は接続を閉じる。未接続の場合は何もしない。
func (m *Mongo) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect mongodb: %w", err)
	}
	return nil
}

// EnsureIndexes はusers・sessionsコレクションのインデックスを作成する。
// 既に存在するインデックスはそのまま維持される。
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	users := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clerkId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_users_clerk_id"),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_users_email"),
		},
	}
	if _, err := db.Collection(UsersCollection).Indexes().CreateMany(ctx, users); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	sessions := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("idx_sessions_status_created_at"),
		},
		{
			Keys:    bson.D{{Key: "host", Value: 1}},
			Options: options.Index().SetName("idx_sessions_host"),
		},
		{
			Keys:    bson.D{{Key: "participant", Value: 1}},
			Options: options.Index().SetName("idx_sessions_participant").SetSparse(true),
		},
	}
	if _, err := db.Collection(SessionsCollection).Indexes().CreateMany(ctx, sessions); err != nil {
		return fmt.Errorf("failed to create sessions indexes: %w", err)
	}

	return nil
}
