// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// defaultUserName は氏名が取得できなかったユーザーの表示名。
const defaultUserName = "User"

// User はサービス利用ユーザーを表す。
// ClerkIDをキーとしてIdPのプロフィールを同期したローカルレコード。
type User struct {
	ID           string    `json:"_id"`
	ClerkID      string    `json:"clerkId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profileImage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IdentityProfile はIdPから取得したユーザープロフィールを表す。
type IdentityProfile struct {
	ID        string
	FirstName string
	LastName  string
	Emails    []string // 先頭がプライマリメールアドレス
	ImageURL  string
}

// PrimaryEmail はプロフィールのプライマリメールアドレスを返す。未登録の場合は空文字。
func (p *IdentityProfile) PrimaryEmail() string {
	if len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0]
}

// DisplayName は「名 姓」を返す。どちらも空の場合は"User"を返す。
func (p *IdentityProfile) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return defaultUserName
	}
	return name
}

// NewUserFromProfile はIdPのプロフィールから未永続化のUserを生成する。
func NewUserFromProfile(p *IdentityProfile, now time.Time) *User {
	return &User{
		ClerkID:      p.ID,
		Email:        p.PrimaryEmail(),
		Name:         p.DisplayName(),
		ProfileImage: p.ImageURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UserSummary はセッションのホスト・参加者として返す公開用のユーザー情報。
type UserSummary struct {
	ID           string `json:"_id"`
	ClerkID      string `json:"clerkId"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
}

// Summary はUserSummaryを返す。nilレシーバの場合はnilを返す。
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:           u.ID,
		ClerkID:      u.ClerkID,
		Email:        u.Email,
		Name:         u.Name,
		ProfileImage: u.ProfileImage,
	}
}
