package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// フロントエンドはMessageをそのまま表示するため、Messageは英語で返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, session, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeUserSyncFailed          = "USER_SYNC_FAILED"
	ErrCodeInternal                = "INTERNAL_ERROR"
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeSessionNotFound         = "SESSION_NOT_FOUND"
	ErrCodeSessionCompleted        = "SESSION_COMPLETED"
	ErrCodeHostCannotJoin          = "HOST_CANNOT_JOIN"
	ErrCodeSessionFull             = "SESSION_FULL"
	ErrCodeNotSessionHost          = "NOT_SESSION_HOST"
	ErrCodeSessionAlreadyCompleted = "SESSION_ALREADY_COMPLETED"
	ErrCodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ErrCodeForbiddenOrigin         = "FORBIDDEN_ORIGIN"
)

// NewUnauthorizedError は認証トークンが無い、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized - invalid token",
		Category: "auth",
		Action:   "Sign in again and retry the request.",
	}
}

// NewUserSyncFailedError はユーザーの自動作成・同期に失敗した場合のエラーを生成する。
func NewUserSyncFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUserSyncFailed,
		Message:  "Failed to sync user data",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal Server Error",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "Session not found",
		Category: "session",
		Action:   "Check the session ID.",
	}
}

// NewSessionCompletedError は終了済みセッションへの参加を試みた場合のエラーを生成する。
func NewSessionCompletedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionCompleted,
		Message:  "Cannot join a completed session",
		Category: "session",
		Action:   "Pick an active session from the list.",
	}
}

// NewHostCannotJoinError はホストが自分のセッションに参加者として参加しようとした場合のエラーを生成する。
func NewHostCannotJoinError() *APIError {
	return &APIError{
		Code:     ErrCodeHostCannotJoin,
		Message:  "Host cannot join their own session as participant",
		Category: "session",
		Action:   "Share the session with another user instead.",
	}
}

// NewSessionFullError はセッションに既に参加者がいる場合のエラーを生成する。
func NewSessionFullError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionFull,
		Message:  "Session is full",
		Category: "session",
		Action:   "Pick another active session.",
	}
}

// NewNotSessionHostError はホスト以外がセッションを終了しようとした場合のエラーを生成する。
func NewNotSessionHostError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSessionHost,
		Message:  "Only the host can end the session",
		Category: "session",
		Action:   "Ask the host to end the session.",
	}
}

// NewSessionAlreadyCompletedError は終了済みのセッションを再度終了しようとした場合のエラーを生成する。
func NewSessionAlreadyCompletedError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionAlreadyCompleted,
		Message:  "Session is already completed",
		Category: "session",
		Action:   "No further action is needed.",
	}
}

// NewRateLimitExceededError はレート制限超過時のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewForbiddenOriginError は許可されていないオリジンからの状態変更リクエストのエラーを生成する。
func NewForbiddenOriginError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenOrigin,
		Message:  "Forbidden",
		Category: "auth",
		Action:   "Use the application from its own origin.",
	}
}
