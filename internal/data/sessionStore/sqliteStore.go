package sessionStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
)

type sessionRow struct {
	Id              string    `db:"id"`
	UserId          int64     `db:"user_id"`
	State           string    `db:"state"`
	JobProfile      string    `db:"job_profile"`
	ExtractAttempts int       `db:"extract_attempts"`
	LastError       string    `db:"last_error"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// SQLiteSessionStore persists sessions, extracted documents, score results
// and the transition audit trail in SQLite.
type SQLiteSessionStore struct {
	db *sqlx.DB
}

func NewSQLiteSessionStore(db *sqlx.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

func (s *SQLiteSessionStore) Upsert(ctx context.Context, session sessionModel.Session) error {
	lastError, err := json.Marshal(session.LastError)
	if err != nil {
		return fmt.Errorf("marshal last error: %w", err)
	}

	query := `
		INSERT INTO sessions (id, user_id, state, job_profile, extract_attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			job_profile = excluded.job_profile,
			extract_attempts = excluded.extract_attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		session.Id,
		session.UserId,
		string(session.State),
		session.JobProfile,
		session.ExtractAttempts,
		string(lastError),
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return sessionModel.ErrActiveSessionExists
	}
	return err
}

func (s *SQLiteSessionStore) Get(ctx context.Context, sessionId string) (sessionModel.Session, bool, error) {
	var row sessionRow
	query := `
		SELECT id, user_id, state, job_profile, extract_attempts, last_error, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	err := s.db.GetContext(ctx, &row, query, sessionId)
	if err == sql.ErrNoRows {
		return sessionModel.Session{}, false, nil
	}
	if err != nil {
		return sessionModel.Session{}, false, err
	}
	session, err := rowToSession(row)
	return session, err == nil, err
}

func (s *SQLiteSessionStore) FindActiveByUser(ctx context.Context, userId int64) (sessionModel.Session, bool, error) {
	var row sessionRow
	query := `
		SELECT id, user_id, state, job_profile, extract_attempts, last_error, created_at, updated_at
		FROM sessions
		WHERE user_id = $1 AND state NOT IN ($2, $3)
	`
	err := s.db.GetContext(ctx, &row, query, userId,
		string(sessionModel.StateDone), string(sessionModel.StateFailed))
	if err == sql.ErrNoRows {
		return sessionModel.Session{}, false, nil
	}
	if err != nil {
		return sessionModel.Session{}, false, err
	}
	session, err := rowToSession(row)
	return session, err == nil, err
}

func (s *SQLiteSessionStore) AppendDocument(ctx context.Context, sessionId string, doc commonModels.CanonicalDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	// First write wins, a crash replay must not overwrite the artifact. The
	// content hash makes a replayed upload of identical bytes visible in the
	// row without unmarshalling the payload.
	query := `
		INSERT INTO session_documents (session_id, content_hash, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query, sessionId, doc.ContentHash(), string(payload), time.Now().UTC())
	return err
}

func (s *SQLiteSessionStore) GetDocument(ctx context.Context, sessionId string) (commonModels.CanonicalDocument, bool, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT document FROM session_documents WHERE session_id = $1`, sessionId)
	if err == sql.ErrNoRows {
		return commonModels.CanonicalDocument{}, false, nil
	}
	if err != nil {
		return commonModels.CanonicalDocument{}, false, err
	}

	var doc commonModels.CanonicalDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return commonModels.CanonicalDocument{}, false, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, true, nil
}

func (s *SQLiteSessionStore) AppendScore(ctx context.Context, sessionId string, score commonModels.ScoreResult) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}

	query := `
		INSERT INTO session_scores (session_id, score, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query, sessionId, string(payload), time.Now().UTC())
	return err
}

func (s *SQLiteSessionStore) GetScore(ctx context.Context, sessionId string) (commonModels.ScoreResult, bool, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT score FROM session_scores WHERE session_id = $1`, sessionId)
	if err == sql.ErrNoRows {
		return commonModels.ScoreResult{}, false, nil
	}
	if err != nil {
		return commonModels.ScoreResult{}, false, err
	}

	var score commonModels.ScoreResult
	if err := json.Unmarshal([]byte(payload), &score); err != nil {
		return commonModels.ScoreResult{}, false, fmt.Errorf("unmarshal score: %w", err)
	}
	return score, true, nil
}

func (s *SQLiteSessionStore) AppendTransition(ctx context.Context, sessionId string, tr sessionModel.Transition) error {
	query := `
		INSERT INTO session_transitions (session_id, from_state, to_state, at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, sessionId, string(tr.From), string(tr.To), tr.At)
	return err
}

func (s *SQLiteSessionStore) Transitions(ctx context.Context, sessionId string) ([]sessionModel.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_state, to_state, at FROM session_transitions WHERE session_id = $1 ORDER BY id`,
		sessionId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []sessionModel.Transition
	for rows.Next() {
		var from, to string
		var at time.Time
		if err := rows.Scan(&from, &to, &at); err != nil {
			return nil, err
		}
		transitions = append(transitions, sessionModel.Transition{
			From: sessionModel.SessionState(from),
			To:   sessionModel.SessionState(to),
			At:   at,
		})
	}
	return transitions, rows.Err()
}

func (s *SQLiteSessionStore) FindStale(ctx context.Context, cutoff time.Time) ([]sessionModel.Session, error) {
	var sessionRows []sessionRow
	query := `
		SELECT id, user_id, state, job_profile, extract_attempts, last_error, created_at, updated_at
		FROM sessions
		WHERE state NOT IN ($1, $2) AND updated_at < $3
	`
	err := s.db.SelectContext(ctx, &sessionRows, query,
		string(sessionModel.StateDone), string(sessionModel.StateFailed), cutoff)
	if err != nil {
		return nil, err
	}

	sessions := make([]sessionModel.Session, 0, len(sessionRows))
	for _, row := range sessionRows {
		session, err := rowToSession(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func rowToSession(row sessionRow) (sessionModel.Session, error) {
	session := sessionModel.Session{
		Id:              row.Id,
		UserId:          row.UserId,
		State:           sessionModel.SessionState(row.State),
		JobProfile:      row.JobProfile,
		ExtractAttempts: row.ExtractAttempts,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.LastError != "" {
		if err := json.Unmarshal([]byte(row.LastError), &session.LastError); err != nil {
			return session, fmt.Errorf("unmarshal last error: %w", err)
		}
	}
	return session, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
