// Package database はMongoDB・PostgreSQLへの接続とスキーマ管理を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator は埋め込みSQLを読み込むPostgreSQL用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のPostgreSQLマイグレーションをすべて適用する。
// 前回の適用が途中で失敗してdirtyになっている場合は手動対応が必要なためエラーを返す。
func RunMigrations(databaseURL string) (err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if version, dirty, verr := m.Version(); verr == nil && dirty {
		return fmt.Errorf("schema version %d is dirty; fix it manually and force the version", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if version, _, verr := m.Version(); verr == nil {
		slog.Info("postgres migrations applied", slog.Uint64("version", uint64(version)))
	}
	return nil
}

// Migrate はDB_URLのスキームに応じてスキーマを最新化する。
// PostgreSQLはマイグレーションを適用し、MongoDBはインデックスを作成する。
func Migrate(ctx context.Context, databaseURL string, mongo *Mongo) error {
	driver, err := Driver(databaseURL)
	if err != nil {
		return err
	}

	switch driver {
	case DriverPostgres:
		if err := RunMigrations(databaseURL); err != nil {
			return err
		}
	case DriverMongo:
		if err := mongo.Connect(ctx); err != nil {
			return err
		}
		if err := EnsureIndexes(ctx, mongo.Database()); err != nil {
			return err
		}
	}

	slog.Info("database schema is up to date", slog.String("driver", string(driver)))
	return nil
}
