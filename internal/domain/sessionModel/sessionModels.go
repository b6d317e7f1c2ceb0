package sessionModel

import (
	"context"
	"errors"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

// ErrActiveSessionExists is returned by SessionStore.Upsert when the write
// would create a second live session for the same user.
var ErrActiveSessionExists = errors.New("user already has an active session")

type SessionState string

const (
	StateAwaitingDocument SessionState = "AwaitingDocument"
	StateExtracting       SessionState = "Extracting"
	StateAwaitingScore    SessionState = "AwaitingScore"
	StateScoring          SessionState = "Scoring"
	StateRetrying         SessionState = "Retrying"
	StateDelivering       SessionState = "Delivering"
	StateDone             SessionState = "Done"
	StateFailed           SessionState = "Failed"
)

// Terminal reports whether the session can never change again.
func (s SessionState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type ErrorKind string

const (
	ErrNone               ErrorKind = ""
	ErrDocumentTooLarge   ErrorKind = "DocumentTooLarge"
	ErrMalformedDocument  ErrorKind = "MalformedDocument"
	ErrUnsupportedFeature ErrorKind = "UnsupportedFeature"
	ErrExtractionEmpty    ErrorKind = "ExtractionEmpty"
	ErrOverloaded         ErrorKind = "Overloaded"
	ErrScoringFailed      ErrorKind = "ScoringFailed"
	ErrScoringUnavailable ErrorKind = "ScoringUnavailable"
	ErrSessionBusy        ErrorKind = "SessionBusy"
	ErrSessionTimeout     ErrorKind = "SessionTimeout"
	ErrDeliveryFailed     ErrorKind = "DeliveryFailed"
	ErrCancelled          ErrorKind = "Cancelled"
)

type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	Retry   bool      `json:"retry"`
}

// Transition is one audit record of a state change.
type Transition struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	At   time.Time    `json:"at"`
}

// Session is one user's intake attempt from upload to delivered result or
// terminal failure. Mutated only by the state machine.
type Session struct {
	Id              string       `json:"id" db:"id"`
	UserId          int64        `json:"user_id" db:"user_id"`
	State           SessionState `json:"state" db:"state"`
	JobProfile      string       `json:"job_profile" db:"job_profile"`
	ExtractAttempts int          `json:"extract_attempts" db:"extract_attempts"`
	LastError       SessionError `json:"last_error,omitempty"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

func (s *Session) Active() bool {
	return !s.State.Terminal()
}

// SessionStore persists sessions and their immutable artifacts. Every write
// keyed by session id is an upsert: re-applying it after a crash must not
// duplicate or corrupt anything.
type SessionStore interface {
	Upsert(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionId string) (Session, bool, error)
	FindActiveByUser(ctx context.Context, userId int64) (Session, bool, error)
	AppendDocument(ctx context.Context, sessionId string, doc commonModels.CanonicalDocument) error
	GetDocument(ctx context.Context, sessionId string) (commonModels.CanonicalDocument, bool, error)
	AppendScore(ctx context.Context, sessionId string, score commonModels.ScoreResult) error
	GetScore(ctx context.Context, sessionId string) (commonModels.ScoreResult, bool, error)
	AppendTransition(ctx context.Context, sessionId string, tr Transition) error
	Transitions(ctx context.Context, sessionId string) ([]Transition, error)
	// FindStale returns non-terminal sessions untouched since the cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]Session, error)
}

// RawDocumentStore keeps uploaded bytes only while an extraction attempt (or
// its one retry) is pending.
type RawDocumentStore interface {
	Save(ctx context.Context, sessionId string, doc commonModels.RawDocument) error
	Get(ctx context.Context, sessionId string) (commonModels.RawDocument, bool)
	Delete(ctx context.Context, sessionId string)
}
