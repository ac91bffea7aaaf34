package model

import "time"

// Difficulty は面接セッションで扱う問題の難易度。
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid は定義済みの難易度かどうかを返す。
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// SessionStatus は面接セッションの状態。
type SessionStatus string

const (
	// SessionStatusActive は参加受付中または進行中のセッション。
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted はホストが終了したセッション。
	SessionStatusCompleted SessionStatus = "completed"
)

// Session は1対1のコーディング面接セッションを表す。
// ビデオ通話とチャットチャンネルはCallIDで外部プロバイダー側と紐付く。
type Session struct {
	ID            string
	Problem       string
	Difficulty    Difficulty
	HostID        string
	ParticipantID string // 未参加の場合は空
	Status        SessionStatus
	CallID        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive はセッションがactive状態かどうかを返す。
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// HasParticipant は参加者が既に決まっているかどうかを返す。
func (s *Session) HasParticipant() bool {
	return s.ParticipantID != ""
}

// SessionView はホスト・参加者を展開したレスポンス用のセッション表現。
type SessionView struct {
	ID          string        `json:"_id"`
	Problem     string        `json:"problem"`
	Difficulty  Difficulty    `json:"difficulty"`
	Host        *UserSummary  `json:"host"`
	Participant *UserSummary  `json:"participant"`
	Status      SessionStatus `json:"status"`
	CallID      string        `json:"callId"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewSessionView はセッションと展開済みのユーザー情報からSessionViewを生成する。
func NewSessionView(s *Session, host, participant *User) *SessionView {
	return &SessionView{
		ID:          s.ID,
		Problem:     s.Problem,
		Difficulty:  s.Difficulty,
		Host:        host.Summary(),
		Participant: participant.Summary(),
		Status:      s.Status,
		CallID:      s.CallID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
