package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/talentiq/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用した面接セッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const sessionColumns = `id, problem, difficulty, host_id, participant_id, status, call_id, created_at, updated_at`

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, session.Problem, string(session.Difficulty), session.HostID,
		nullableString(session.ParticipantID), string(session.Status), session.CallID,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.ID = id
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	session, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// ListActive はactive状態のセッションを新しい順に取得する。
func (r *PostgresSessionRepo) ListActive(ctx context.Context, limit int) ([]*model.Session, error) {
	return r.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		string(model.SessionStatusActive), limit,
	)
}

// ListRecentCompletedByUser は指定ユーザーが関わった終了済みセッションを新しい順に取得する。
func (r *PostgresSessionRepo) ListRecentCompletedByUser(ctx context.Context, userID string, limit int) ([]*model.Session, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return []*model.Session{}, nil
	}
	return r.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = $1 AND (host_id = $2 OR participant_id = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		string(model.SessionStatusCompleted), userID, limit,
	)
}

// AssignParticipant は参加者未定のactiveなセッションにのみ参加者を設定する。
func (r *PostgresSessionRepo) AssignParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx, "assign participant",
		`UPDATE sessions SET participant_id = $2, updated_at = $3
		 WHERE id = $1 AND status = $4 AND participant_id IS NULL`,
		sessionID, userID, at, string(model.SessionStatusActive),
	)
}

// ReleaseParticipant はactiveなセッションの参加者がuserIDのままの場合に限り参加者を外す。
func (r *PostgresSessionRepo) ReleaseParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx, "release participant",
		`UPDATE sessions SET participant_id = NULL, updated_at = $3
		 WHERE id = $1 AND participant_id = $2 AND status = $4`,
		sessionID, userID, at, string(model.SessionStatusActive),
	)
}

// Complete はactiveなセッションの状態だけをcompletedにする。参加者は変更しない。
func (r *PostgresSessionRepo) Complete(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx, "complete session",
		`UPDATE sessions SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		sessionID, string(model.SessionStatusCompleted), at, string(model.SessionStatusActive),
	)
}

// conditionalUpdate は1行だけを対象とするUPDATEを実行し、更新されたかどうかを返す。
// 先頭の引数はセッションIDで、UUIDでない場合は何もしない。
func (r *PostgresSessionRepo) conditionalUpdate(ctx context.Context, op, query string, args ...any) (bool, error) {
	if id, _ := args[0].(string); !isUUID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// CompleteStaleBefore はbefore以前に作成されたactiveなセッションを終了済みにする。
func (r *PostgresSessionRepo) CompleteStaleBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $1, updated_at = now()
		 WHERE status = $2 AND created_at < $3`,
		string(model.SessionStatusCompleted), string(model.SessionStatusActive), before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete stale sessions: %w", err)
	}
	return result.RowsAffected()
}

func (r *PostgresSessionRepo) query(ctx context.Context, query string, args ...any) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s           model.Session
		difficulty  string
		status      string
		participant sql.NullString
	)
	err := row.Scan(&s.ID, &s.Problem, &difficulty, &s.HostID, &participant, &status, &s.CallID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Difficulty = model.Difficulty(difficulty)
	s.Status = model.SessionStatus(status)
	s.ParticipantID = participant.String
	return &s, nil
}

// nullableString は空文字をNULLとして扱う。
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
