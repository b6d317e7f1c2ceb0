package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/extractor"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/metrics"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

var (
	// ErrSessionBusy rejects an operation that would interleave with a
	// pipeline step already running for the same session.
	ErrSessionBusy = errors.New("session is busy")

	// ErrNoActiveSession means the user has nothing in flight.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNoJobProfile rejects an upload when neither the session nor the
	// configuration carries a job profile to score against.
	ErrNoJobProfile = errors.New("no job profile set")

	// ErrNotAwaitingRetry rejects a delivery retry when the session is not
	// stuck in Delivering.
	ErrNotAwaitingRetry = errors.New("session has no failed delivery to retry")
)

// errRunStopped signals that the pipeline run ended inside a helper which
// already recorded the terminal state.
var errRunStopped = errors.New("pipeline run stopped")

// Scorer is the slice of the scoring client the machine drives. The machine
// owns the retry loop; the scorer owns one call, its classification and the
// backoff schedule.
type Scorer interface {
	Score(ctx context.Context, text string, jobProfile string) (commonModels.ScoreResult, error)
	Retryable(err error) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// Sender delivers one outbound chat message.
type Sender interface {
	Send(ctx context.Context, userId int64, text string) error
}

type Config struct {
	MaxFileSize        int64
	MaxExtractAttempts int
	DefaultJobProfile  string
}

// Machine drives one user's journey from upload to delivered score. All
// session mutation goes through here; stores and the scorer never change
// state on their own.
type Machine struct {
	sessions sessionModel.SessionStore
	rawDocs  sessionModel.RawDocumentStore
	scorer   Scorer
	sender   Sender
	cfg      Config
	logger   *logger_i.Logger

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

func NewMachine(sessions sessionModel.SessionStore, rawDocs sessionModel.RawDocumentStore, scorer Scorer, sender Sender, cfg Config) *Machine {
	if cfg.MaxExtractAttempts < 1 {
		cfg.MaxExtractAttempts = 1
	}
	return &Machine{
		sessions: sessions,
		rawDocs:  rawDocs,
		scorer:   scorer,
		sender:   sender,
		cfg:      cfg,
		logger:   logger_i.NewLogger("SessionMachine"),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// StartSession records the job profile from a plain chat message. When the
// user already has a session still waiting for a document, the profile is
// replaced instead of opening a second session.
func (m *Machine) StartSession(ctx context.Context, userId int64, jobProfile string) (sessionModel.Session, error) {
	existing, found, err := m.sessions.FindActiveByUser(ctx, userId)
	if err != nil {
		return sessionModel.Session{}, fmt.Errorf("find active session: %w", err)
	}
	if found {
		if existing.State != sessionModel.StateAwaitingDocument {
			return existing, ErrSessionBusy
		}
		existing.JobProfile = jobProfile
		existing.UpdatedAt = time.Now().UTC()
		if err := m.sessions.Upsert(ctx, existing); err != nil {
			return existing, fmt.Errorf("update job profile: %w", err)
		}
		return existing, nil
	}

	now := time.Now().UTC()
	session := sessionModel.Session{
		Id:         uuid.NewString(),
		UserId:     userId,
		State:      sessionModel.StateAwaitingDocument,
		JobProfile: jobProfile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.sessions.Upsert(ctx, session); err != nil {
		// another event won the creation race for this user
		if errors.Is(err, sessionModel.ErrActiveSessionExists) {
			return session, ErrSessionBusy
		}
		return session, fmt.Errorf("create session: %w", err)
	}
	metrics.IncrementActiveSessionCount()
	return session, nil
}

// HandleUpload runs the full extract-score-deliver pipeline for one uploaded
// document. It is called on a worker goroutine and blocks until the session
// either reaches a terminal state or returns to AwaitingDocument for a
// re-upload.
func (m *Machine) HandleUpload(ctx context.Context, userId int64, raw commonModels.RawDocument) error {
	session, found, err := m.sessions.FindActiveByUser(ctx, userId)
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}
	if !found {
		if m.cfg.DefaultJobProfile == "" {
			return ErrNoJobProfile
		}
		session, err = m.StartSession(ctx, userId, m.cfg.DefaultJobProfile)
		if err != nil {
			return err
		}
	}
	if session.State != sessionModel.StateAwaitingDocument {
		return ErrSessionBusy
	}
	if session.JobProfile == "" {
		if m.cfg.DefaultJobProfile == "" {
			return ErrNoJobProfile
		}
		session.JobProfile = m.cfg.DefaultJobProfile
	}

	runCtx, ok := m.acquire(ctx, session.Id)
	if !ok {
		return ErrSessionBusy
	}
	defer m.release(session.Id)

	log := m.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "session Id", session.Id, "user Id", userId)

	if raw.Size > m.cfg.MaxFileSize {
		log.Warn("document exceeds size limit", "size", raw.Size)
		return m.failAttempt(runCtx, &session, sessionModel.SessionError{
			Kind:    sessionModel.ErrDocumentTooLarge,
			Message: fmt.Sprintf("document is %d bytes, limit is %d", raw.Size, m.cfg.MaxFileSize),
		})
	}

	if err := m.rawDocs.Save(runCtx, session.Id, raw); err != nil {
		log.Error("saving raw document failed", "error", err)
	}

	if err := m.transition(runCtx, &session, sessionModel.StateExtracting); err != nil {
		return err
	}

	return m.runExtraction(runCtx, &session, raw)
}

// runExtraction carries a session in Extracting through to the end of the
// pipeline: extract, persist the document, then score and deliver.
func (m *Machine) runExtraction(ctx context.Context, session *sessionModel.Session, raw commonModels.RawDocument) error {
	doc, extractErr := m.extract(raw)
	if ctx.Err() != nil {
		m.fail(ctx, session, sessionModel.SessionError{
			Kind:    sessionModel.ErrCancelled,
			Message: ctx.Err().Error(),
		})
		m.notify(ctx, session.UserId, msgCancelled)
		return nil
	}
	if extractErr.Kind != sessionModel.ErrNone {
		m.logger.Warn("extraction failed", "session Id", session.Id, "kind", extractErr.Kind, "error", extractErr.Message)
		return m.failAttempt(ctx, session, extractErr)
	}

	if err := m.sessions.AppendDocument(ctx, session.Id, doc); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	m.rawDocs.Delete(ctx, session.Id)

	if err := m.transition(ctx, session, sessionModel.StateAwaitingScore); err != nil {
		return err
	}

	return m.runScoring(ctx, session, doc)
}

// Recover resumes sessions a restart left mid-pipeline: extraction from the
// retained raw bytes, scoring from the persisted document, delivery from the
// persisted score. Called once at startup.
func (m *Machine) Recover(ctx context.Context) error {
	interrupted, err := m.sessions.FindStale(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("find interrupted sessions: %w", err)
	}

	for _, s := range interrupted {
		session := s
		if err := m.recoverSession(ctx, &session); err != nil {
			m.logger.Error("session recovery failed", "session Id", session.Id, "error", err)
		}
	}
	return nil
}

func (m *Machine) recoverSession(ctx context.Context, session *sessionModel.Session) error {
	runCtx, ok := m.acquire(ctx, session.Id)
	if !ok {
		return nil
	}
	defer m.release(session.Id)

	switch session.State {
	case sessionModel.StateExtracting:
		raw, found := m.rawDocs.Get(runCtx, session.Id)
		if !found {
			// the retained bytes expired with the crash
			if err := m.transition(runCtx, session, sessionModel.StateAwaitingDocument); err != nil {
				return err
			}
			m.notify(runCtx, session.UserId, msgReuploadAfterRestart)
			return nil
		}
		m.logger.Info("resuming interrupted extraction", "session Id", session.Id)
		return m.runExtraction(runCtx, session, raw)

	case sessionModel.StateAwaitingScore, sessionModel.StateScoring, sessionModel.StateRetrying:
		doc, found, err := m.sessions.GetDocument(runCtx, session.Id)
		if err != nil {
			return fmt.Errorf("load document: %w", err)
		}
		if !found {
			if err := m.transition(runCtx, session, sessionModel.StateAwaitingDocument); err != nil {
				return err
			}
			m.notify(runCtx, session.UserId, msgReuploadAfterRestart)
			return nil
		}
		m.logger.Info("resuming interrupted scoring", "session Id", session.Id)
		return m.runScoring(runCtx, session, doc)

	case sessionModel.StateDelivering:
		// a failed delivery waits for an explicit retry command
		if session.LastError.Kind == sessionModel.ErrDeliveryFailed {
			return nil
		}
		score, found, err := m.sessions.GetScore(runCtx, session.Id)
		if err != nil {
			return fmt.Errorf("load score: %w", err)
		}
		if !found {
			return fmt.Errorf("session %s delivering without a stored score", session.Id)
		}
		m.logger.Info("resuming interrupted delivery", "session Id", session.Id)
		return m.deliver(runCtx, session, score)
	}
	return nil
}

func (m *Machine) extract(raw commonModels.RawDocument) (commonModels.CanonicalDocument, sessionModel.SessionError) {
	format := extractor.DetectFormat(raw.Bytes, raw.FileName)
	ext, err := extractor.ForFormat(format)
	if err != nil {
		return commonModels.CanonicalDocument{}, sessionModel.SessionError{
			Kind:    sessionModel.ErrMalformedDocument,
			Message: err.Error(),
		}
	}

	start := time.Now()
	doc, err := ext.Extract(raw)
	metrics.CaptureExtractionMetrics(string(format), time.Since(start))

	switch {
	case errors.Is(err, extractor.ErrUnsupported):
		return doc, sessionModel.SessionError{Kind: sessionModel.ErrUnsupportedFeature, Message: err.Error()}
	case err != nil:
		return doc, sessionModel.SessionError{Kind: sessionModel.ErrMalformedDocument, Message: err.Error()}
	case doc.Empty():
		return doc, sessionModel.SessionError{Kind: sessionModel.ErrExtractionEmpty, Message: "no extractable text"}
	}
	return doc, sessionModel.SessionError{}
}

// failAttempt handles one failed extraction attempt: the session goes back to
// AwaitingDocument for a re-upload until the attempt budget is spent, then
// terminally to Failed.
func (m *Machine) failAttempt(ctx context.Context, session *sessionModel.Session, cause sessionModel.SessionError) error {
	session.ExtractAttempts++
	session.LastError = cause

	if session.ExtractAttempts >= m.cfg.MaxExtractAttempts {
		m.fail(ctx, session, cause)
		m.notify(ctx, session.UserId, attemptsExhaustedMessage(cause.Kind))
		return nil
	}

	if session.State != sessionModel.StateAwaitingDocument {
		if err := m.transition(ctx, session, sessionModel.StateAwaitingDocument); err != nil {
			return err
		}
	} else {
		session.UpdatedAt = time.Now().UTC()
		if err := m.sessions.Upsert(ctx, *session); err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
	}

	remaining := m.cfg.MaxExtractAttempts - session.ExtractAttempts
	m.notify(ctx, session.UserId, retryUploadMessage(cause.Kind, remaining))
	return nil
}

func (m *Machine) runScoring(ctx context.Context, session *sessionModel.Session, doc commonModels.CanonicalDocument) error {
	if err := m.transition(ctx, session, sessionModel.StateScoring); err != nil {
		return err
	}

	log := m.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "session Id", session.Id)
	text := doc.FullText()

	var score commonModels.ScoreResult
	var lastErr error
	for attempt := 0; attempt < m.scorer.MaxAttempts(); attempt++ {
		score, lastErr = m.scorer.Score(ctx, text, session.JobProfile)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			m.fail(ctx, session, sessionModel.SessionError{
				Kind:    sessionModel.ErrCancelled,
				Message: ctx.Err().Error(),
			})
			m.notify(ctx, session.UserId, msgCancelled)
			return nil
		}
		if !m.scorer.Retryable(lastErr) {
			log.Warn("scoring failed permanently", "error", lastErr)
			m.fail(ctx, session, sessionModel.SessionError{
				Kind:    sessionModel.ErrScoringFailed,
				Message: lastErr.Error(),
			})
			m.notify(ctx, session.UserId, msgScoringFailed)
			return nil
		}
		if attempt == m.scorer.MaxAttempts()-1 {
			break
		}
		// surface the transient cause in /status while the retry is pending
		if errors.Is(lastErr, scoring.ErrOverloaded) {
			session.LastError = sessionModel.SessionError{Kind: sessionModel.ErrOverloaded, Message: lastErr.Error(), Retry: true}
		}
		if err := m.backoff(ctx, session, attempt); err != nil {
			if errors.Is(err, errRunStopped) {
				return nil
			}
			return err
		}
	}

	if lastErr != nil {
		log.Warn("scoring retry budget exhausted", "error", lastErr)
		m.fail(ctx, session, sessionModel.SessionError{Kind: sessionModel.ErrScoringUnavailable, Message: lastErr.Error(), Retry: true})
		m.notify(ctx, session.UserId, msgScoringUnavailable)
		return nil
	}

	if err := m.sessions.AppendScore(ctx, session.Id, score); err != nil {
		return fmt.Errorf("persist score: %w", err)
	}

	if err := m.transition(ctx, session, sessionModel.StateDelivering); err != nil {
		return err
	}
	return m.deliver(ctx, session, score)
}

// backoff records the Retrying sub-state around the wait so the audit trail
// shows every attempt.
func (m *Machine) backoff(ctx context.Context, session *sessionModel.Session, attempt int) error {
	if err := m.transition(ctx, session, sessionModel.StateRetrying); err != nil {
		return err
	}

	delay := m.scorer.Backoff(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		m.fail(ctx, session, sessionModel.SessionError{
			Kind:    sessionModel.ErrCancelled,
			Message: ctx.Err().Error(),
		})
		m.notify(ctx, session.UserId, msgCancelled)
		return errRunStopped
	}

	return m.transition(ctx, session, sessionModel.StateScoring)
}

func (m *Machine) deliver(ctx context.Context, session *sessionModel.Session, score commonModels.ScoreResult) error {
	if err := m.sender.Send(ctx, session.UserId, FormatScoreReply(score)); err != nil {
		m.logger.Error("delivery failed", "session Id", session.Id, "error", err)
		session.LastError = sessionModel.SessionError{
			Kind:    sessionModel.ErrDeliveryFailed,
			Message: err.Error(),
			Retry:   true,
		}
		session.UpdatedAt = time.Now().UTC()
		if upsertErr := m.sessions.Upsert(ctx, *session); upsertErr != nil {
			return fmt.Errorf("record delivery failure: %w", upsertErr)
		}
		return nil
	}

	session.LastError = sessionModel.SessionError{}
	return m.finish(ctx, session, sessionModel.StateDone)
}

// RetryDelivery re-sends a persisted score after a failed delivery. The score
// is never recomputed.
func (m *Machine) RetryDelivery(ctx context.Context, userId int64) error {
	session, found, err := m.sessions.FindActiveByUser(ctx, userId)
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}
	if !found {
		return ErrNoActiveSession
	}
	if session.State != sessionModel.StateDelivering || session.LastError.Kind != sessionModel.ErrDeliveryFailed {
		return ErrNotAwaitingRetry
	}

	score, haveScore, err := m.sessions.GetScore(ctx, session.Id)
	if err != nil {
		return fmt.Errorf("load score: %w", err)
	}
	if !haveScore {
		return fmt.Errorf("session %s delivering without a stored score", session.Id)
	}
	return m.deliver(ctx, &session, score)
}

// Cancel aborts whatever the user's session is doing. An in-flight pipeline
// step is interrupted through its context; otherwise the session is failed
// directly.
func (m *Machine) Cancel(ctx context.Context, userId int64) error {
	session, found, err := m.sessions.FindActiveByUser(ctx, userId)
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}
	if !found {
		return ErrNoActiveSession
	}

	m.mu.Lock()
	cancel, running := m.inFlight[session.Id]
	m.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	m.fail(ctx, &session, sessionModel.SessionError{Kind: sessionModel.ErrCancelled, Message: "cancelled by user"})
	m.notify(ctx, session.UserId, msgCancelled)
	return nil
}

// Status returns the user's active session, falling back to nothing when all
// sessions are terminal.
func (m *Machine) Status(ctx context.Context, userId int64) (sessionModel.Session, bool, error) {
	return m.sessions.FindActiveByUser(ctx, userId)
}

// ExpireStale force-fails sessions untouched since the cutoff. Sessions with
// a pipeline step still running are left alone; their own context deadline
// governs them.
func (m *Machine) ExpireStale(ctx context.Context, cutoff time.Time) error {
	stale, err := m.sessions.FindStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale sessions: %w", err)
	}

	for _, session := range stale {
		m.mu.Lock()
		_, running := m.inFlight[session.Id]
		m.mu.Unlock()
		if running {
			continue
		}

		m.logger.Warn("expiring stale session", "session Id", session.Id, "state", session.State)
		m.fail(ctx, &session, sessionModel.SessionError{
			Kind:    sessionModel.ErrSessionTimeout,
			Message: fmt.Sprintf("no progress since %s", session.UpdatedAt.Format(time.RFC3339)),
		})
		m.notify(ctx, session.UserId, msgSessionTimeout)
	}
	return nil
}

// acquire registers the session as having a pipeline step in flight and
// returns a cancellable context for it. Reports false when a step is already
// running.
func (m *Machine) acquire(ctx context.Context, sessionId string) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inFlight[sessionId]; exists {
		return nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.inFlight[sessionId] = cancel
	return runCtx, true
}

func (m *Machine) release(sessionId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, exists := m.inFlight[sessionId]; exists {
		cancel()
		delete(m.inFlight, sessionId)
	}
}

func (m *Machine) transition(ctx context.Context, session *sessionModel.Session, to sessionModel.SessionState) error {
	tr := sessionModel.Transition{From: session.State, To: to, At: time.Now().UTC()}
	session.State = to
	session.UpdatedAt = tr.At

	if err := m.sessions.Upsert(ctx, *session); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", tr.From, tr.To, err)
	}
	if err := m.sessions.AppendTransition(ctx, session.Id, tr); err != nil {
		m.logger.Error("recording transition failed", "session Id", session.Id, "error", err)
	}
	return nil
}

// fail moves the session to the terminal Failed state. The write uses a
// detached context and store errors are only logged; a failed session must
// not get stuck because the failure could not be written.
func (m *Machine) fail(ctx context.Context, session *sessionModel.Session, cause sessionModel.SessionError) {
	session.LastError = cause
	if err := m.finish(context.WithoutCancel(ctx), session, sessionModel.StateFailed); err != nil {
		m.logger.Error("recording session failure", "session Id", session.Id, "error", err)
	}
}

func (m *Machine) finish(ctx context.Context, session *sessionModel.Session, to sessionModel.SessionState) error {
	if err := m.transition(ctx, session, to); err != nil {
		return err
	}
	m.rawDocs.Delete(ctx, session.Id)
	metrics.DecrementActiveSessionCount()
	metrics.CountSessionOutcome(string(to), string(session.LastError.Kind))
	metrics.CaptureSessionMetrics(string(to), session.UpdatedAt.Sub(session.CreatedAt))
	return nil
}

// notify sends a status update on a detached context so cancellation of the
// pipeline run does not swallow the message explaining it.
func (m *Machine) notify(ctx context.Context, userId int64, text string) {
	if err := m.sender.Send(context.WithoutCancel(ctx), userId, text); err != nil {
		m.logger.Error("notify failed", "user Id", userId, "error", err)
	}
}
