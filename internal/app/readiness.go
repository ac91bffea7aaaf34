package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/talentiq/internal/repository"
)

// readinessTimeout は依存先1件あたりの疎通確認のタイムアウト。
const readinessTimeout = 3 * time.Second

// dependencyCheck は起動時に疎通を確認する依存先。
type dependencyCheck struct {
	name     string
	checker  repository.HealthChecker
	required bool
}

// checkDependencies は依存先へ順に疎通確認し、結果をログに残す。
// 必須の依存先に到達できない場合はエラーを返す。任意の依存先は警告のみ。
func checkDependencies(ctx context.Context, checks []dependencyCheck) error {
	for _, c := range checks {
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := c.checker.Ping(pctx)
		cancel()

		if err == nil {
			slog.Info("dependency ready",
				slog.String("dependency", c.name),
				slog.Duration("latency", time.Since(start)),
			)
			continue
		}
		if c.required {
			return fmt.Errorf("%s is not reachable: %w", c.name, err)
		}
		slog.Warn("dependency not ready",
			slog.String("dependency", c.name),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
