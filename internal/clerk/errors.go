package clerk

import "errors"

var (
	// ErrTokenMissing はリクエストにセッショントークンが含まれないことを表す。
	ErrTokenMissing = errors.New("clerk: session token missing")
	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("clerk: token expired")
	// ErrTokenNotYetValid はnbf・iatが未来であることを表す。
	ErrTokenNotYetValid = errors.New("clerk: token not yet valid")
	// ErrTokenInvalid は署名・形式・クレームの検証失敗を表す。
	ErrTokenInvalid = errors.New("clerk: invalid token")
	// ErrUnauthorizedParty はazpが許可されたオリジンに含まれないことを表す。
	ErrUnauthorizedParty = errors.New("clerk: unauthorized party")
	// ErrUnknownKey はkidに対応する公開鍵がJWKSに存在しないことを表す。
	ErrUnknownKey = errors.New("clerk: unknown signing key")
	// ErrUserNotFound はClerk上にユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("clerk: user not found")
)
