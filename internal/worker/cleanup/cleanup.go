// Package cleanup は放置された面接セッションを自動で終了するジョブを提供する。
// ホストが終了操作をしないまま一定時間（デフォルト24時間）経過した
// active状態のセッションをcompletedにする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultStaleAfter はセッションを放置とみなすまでのデフォルト経過時間。
const DefaultStaleAfter = 24 * time.Hour

// StaleSessionCompleter は放置セッションを終了する処理を抽象化するインターフェース。
// *session.Service を受け付ける。
type StaleSessionCompleter interface {
	CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob は放置セッションの自動終了ジョブ。
// 冪等であり、対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions   StaleSessionCompleter
	logger     *slog.Logger
	StaleAfter time.Duration // 放置とみなす経過時間（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions StaleSessionCompleter, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:   sessions,
		logger:     logger,
		StaleAfter: DefaultStaleAfter,
	}
}

// Run は作成からStaleAfter以上経過したactive状態のセッションを終了する。
// StaleAfterが0以下の場合は何も終了せずエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive: %v", j.StaleAfter)
	}
	start := time.Now()

	completed, err := j.sessions.CleanupStale(ctx, j.StaleAfter)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("stale_after", j.StaleAfter),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("completed_count", completed),
		slog.Duration("stale_after", j.StaleAfter),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。実行時のエラーはログに記録して継続する。
// intervalまたはStaleAfterが0以下の場合は実行せずにエラーを返す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive: %v", interval)
	}
	if j.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive: %v", j.StaleAfter)
	}
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
