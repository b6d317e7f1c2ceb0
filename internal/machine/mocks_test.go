package machine

import (
	"context"
	"sync"
	"time"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
)

type fakeSessionStore struct {
	mu          sync.Mutex
	sessions    map[string]sessionModel.Session
	documents   map[string]commonModels.CanonicalDocument
	scores      map[string]commonModels.ScoreResult
	transitions map[string][]sessionModel.Transition

	docWrites int
	upsertErr error // returned by the next Upsert, then cleared
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions:    make(map[string]sessionModel.Session),
		documents:   make(map[string]commonModels.CanonicalDocument),
		scores:      make(map[string]commonModels.ScoreResult),
		transitions: make(map[string][]sessionModel.Transition),
	}
}

func (f *fakeSessionStore) Upsert(ctx context.Context, session sessionModel.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		err := f.upsertErr
		f.upsertErr = nil
		return err
	}
	f.sessions[session.Id] = session
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionId string) (sessionModel.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionId]
	return s, ok, nil
}

func (f *fakeSessionStore) FindActiveByUser(ctx context.Context, userId int64) (sessionModel.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserId == userId && !s.State.Terminal() {
			return s, true, nil
		}
	}
	return sessionModel.Session{}, false, nil
}

func (f *fakeSessionStore) AppendDocument(ctx context.Context, sessionId string, doc commonModels.CanonicalDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docWrites++
	if _, exists := f.documents[sessionId]; exists {
		return nil
	}
	f.documents[sessionId] = doc
	return nil
}

func (f *fakeSessionStore) GetDocument(ctx context.Context, sessionId string) (commonModels.CanonicalDocument, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[sessionId]
	return d, ok, nil
}

func (f *fakeSessionStore) AppendScore(ctx context.Context, sessionId string, score commonModels.ScoreResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.scores[sessionId]; exists {
		return nil
	}
	f.scores[sessionId] = score
	return nil
}

func (f *fakeSessionStore) GetScore(ctx context.Context, sessionId string) (commonModels.ScoreResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[sessionId]
	return s, ok, nil
}

func (f *fakeSessionStore) AppendTransition(ctx context.Context, sessionId string, tr sessionModel.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions[sessionId] = append(f.transitions[sessionId], tr)
	return nil
}

func (f *fakeSessionStore) Transitions(ctx context.Context, sessionId string) ([]sessionModel.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sessionModel.Transition(nil), f.transitions[sessionId]...), nil
}

func (f *fakeSessionStore) FindStale(ctx context.Context, cutoff time.Time) ([]sessionModel.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []sessionModel.Session
	for _, s := range f.sessions {
		if !s.State.Terminal() && s.UpdatedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

func (f *fakeSessionStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeScorer struct {
	mu          sync.Mutex
	scoreFn     func(call int, ctx context.Context) (commonModels.ScoreResult, error)
	retryableFn func(err error) bool
	maxAttempts int
	calls       int
}

func (f *fakeScorer) Score(ctx context.Context, text string, jobProfile string) (commonModels.ScoreResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.scoreFn(call, ctx)
}

func (f *fakeScorer) Retryable(err error) bool {
	if f.retryableFn != nil {
		return f.retryableFn(err)
	}
	return false
}

func (f *fakeScorer) Backoff(attempt int) time.Duration { return 0 }

func (f *fakeScorer) MaxAttempts() int { return f.maxAttempts }

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentMessage struct {
	userId int64
	text   string
}

type fakeSender struct {
	mu       sync.Mutex
	failNext int
	sent     []sentMessage
}

func (f *fakeSender) Send(ctx context.Context, userId int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errSendFailed
	}
	f.sent = append(f.sent, sentMessage{userId: userId, text: text})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}
