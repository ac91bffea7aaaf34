// Package logger はアプリケーション全体で使うslogのJSONロガーを構築する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName は全ログ行に付与するserviceフィールドの値。
const ServiceName = "talentiq"

// Setup はwに出力するJSONロガーを生成する。
// 全ログ行にserviceフィールドを付与し、Debugレベルでは呼び出し元も出力する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})
	return slog.New(h).With(slog.String("service", ServiceName))
}

// SetupDefault はLOG_LEVEL環境変数のレベルでグローバルロガーを差し替える。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, ParseLevel(os.Getenv("LOG_LEVEL"))))
}

// ParseLevel はdebug/info/warn/errorを大文字小文字を区別せずslog.Levelに変換する。未知の値はInfo。
func ParseLevel(s string) slog.Level {
	var level slog.Level
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
