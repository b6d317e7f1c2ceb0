package machine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/data/rawdocStore"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring"
)

var errSendFailed = errors.New("transport send failed")

func okScorer(score int) *fakeScorer {
	return &fakeScorer{
		maxAttempts: 4,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			return commonModels.ScoreResult{Score: score, FullName: "Jane Doe"}, nil
		},
	}
}

type harness struct {
	machine *Machine
	store   *fakeSessionStore
	rawDocs *rawdocStore.InMemoryRawDocStore
	scorer  *fakeScorer
	sender  *fakeSender
}

func newHarness(t *testing.T, scorer *fakeScorer) *harness {
	t.Helper()
	store := newFakeSessionStore()
	rawDocs := rawdocStore.InitInMemoryRawDocStore()
	sender := &fakeSender{}
	m := NewMachine(store, rawDocs, scorer, sender, Config{
		MaxFileSize:        5 << 20,
		MaxExtractAttempts: 3,
	})
	return &harness{machine: m, store: store, rawDocs: rawDocs, scorer: scorer, sender: sender}
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "extractor", "testdata", name))
	require.NoError(t, err)
	return data
}

func pdfUpload(data []byte) commonModels.RawDocument {
	return commonModels.RawDocument{
		FileName: "resume.pdf",
		Format:   commonModels.PDF,
		Size:     int64(len(data)),
		Bytes:    data,
	}
}

func statesOf(transitions []sessionModel.Transition) []sessionModel.SessionState {
	states := make([]sessionModel.SessionState, 0, len(transitions))
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	return states
}

func TestTwoPagePDFThroughToDone(t *testing.T) {
	h := newHarness(t, okScorer(88))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 42, "Senior Go engineer")
	require.NoError(t, err)

	data := loadFixture(t, "sample.pdf")
	require.NoError(t, h.machine.HandleUpload(ctx, 42, pdfUpload(data)))

	final, found, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sessionModel.StateDone, final.State)
	assert.Equal(t, sessionModel.ErrNone, final.LastError.Kind)

	doc, haveDoc, err := h.store.GetDocument(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, haveDoc)
	assert.Equal(t, 2, doc.PageCount)
	text := doc.FullText()
	assert.Less(t, strings.Index(text, "First page"), strings.Index(text, "Second page"))

	score, haveScore, err := h.store.GetScore(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, haveScore)
	assert.Equal(t, 88, score.Score)

	transitions, err := h.store.Transitions(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, []sessionModel.SessionState{
		sessionModel.StateExtracting,
		sessionModel.StateAwaitingScore,
		sessionModel.StateScoring,
		sessionModel.StateDelivering,
		sessionModel.StateDone,
	}, statesOf(transitions))

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Score: 88/100")
	assert.Contains(t, msgs[0].text, "Jane Doe")
}

func TestUnsupportedDocumentExhaustsUploadBudget(t *testing.T) {
	h := newHarness(t, okScorer(50))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 7, "profile")
	require.NoError(t, err)

	// OLE container, the legacy/encrypted Office format the DOCX extractor
	// rejects as unsupported.
	oleDoc := commonModels.RawDocument{
		FileName: "resume.doc",
		Format:   commonModels.DOCX,
		Size:     16,
		Bytes:    []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0, 0, 0, 0, 0, 0, 0},
	}

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, h.machine.HandleUpload(ctx, 7, oleDoc))
		got, _, err := h.store.Get(ctx, session.Id)
		require.NoError(t, err)
		assert.Equal(t, sessionModel.StateAwaitingDocument, got.State, "attempt %d", attempt)
		assert.Equal(t, attempt, got.ExtractAttempts)
		assert.Equal(t, sessionModel.ErrUnsupportedFeature, got.LastError.Kind)
	}

	require.NoError(t, h.machine.HandleUpload(ctx, 7, oleDoc))
	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrUnsupportedFeature, got.LastError.Kind)

	// Three guidance messages, no score.
	assert.Len(t, h.sender.messages(), 3)
	assert.Zero(t, h.scorer.callCount())
}

func TestScoringRecoversWithinRetryBudget(t *testing.T) {
	scorer := &fakeScorer{
		maxAttempts: 4,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			if call <= 3 {
				return commonModels.ScoreResult{}, context.DeadlineExceeded
			}
			return commonModels.ScoreResult{Score: 61}, nil
		},
		retryableFn: func(err error) bool {
			return errors.Is(err, context.DeadlineExceeded)
		},
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 9, "profile")
	require.NoError(t, err)

	data := loadFixture(t, "sample.pdf")
	require.NoError(t, h.machine.HandleUpload(ctx, 9, pdfUpload(data)))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDone, got.State)
	assert.Equal(t, 4, h.scorer.callCount())

	score, haveScore, err := h.store.GetScore(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, haveScore)
	assert.Equal(t, 61, score.Score)

	// One session, one document row, despite the retries.
	assert.Equal(t, 1, h.store.sessionCount())
	assert.Equal(t, 1, h.store.docWrites)

	transitions, err := h.store.Transitions(ctx, session.Id)
	require.NoError(t, err)
	retrying := 0
	for _, tr := range transitions {
		if tr.To == sessionModel.StateRetrying {
			retrying++
		}
	}
	assert.Equal(t, 3, retrying)
}

func TestScoringBudgetExhausted(t *testing.T) {
	scorer := &fakeScorer{
		maxAttempts: 4,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			return commonModels.ScoreResult{}, context.DeadlineExceeded
		},
		retryableFn: func(err error) bool { return true },
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 3, "profile")
	require.NoError(t, err)

	require.NoError(t, h.machine.HandleUpload(ctx, 3, pdfUpload(loadFixture(t, "sample.pdf"))))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrScoringUnavailable, got.LastError.Kind)
	assert.Equal(t, 4, h.scorer.callCount())
}

func TestNonRetryableScoringFailsImmediately(t *testing.T) {
	scorer := &fakeScorer{
		maxAttempts: 4,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			return commonModels.ScoreResult{}, errors.New("malformed reply")
		},
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 4, "profile")
	require.NoError(t, err)

	require.NoError(t, h.machine.HandleUpload(ctx, 4, pdfUpload(loadFixture(t, "sample.pdf"))))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrScoringFailed, got.LastError.Kind)
	assert.Equal(t, 1, h.scorer.callCount(), "non-retryable errors must not consume retry budget")
}

func TestScannedPDFYieldsExtractionEmpty(t *testing.T) {
	h := newHarness(t, okScorer(50))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 11, "profile")
	require.NoError(t, err)

	require.NoError(t, h.machine.HandleUpload(ctx, 11, pdfUpload(loadFixture(t, "scanned.pdf"))))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateAwaitingDocument, got.State)
	assert.Equal(t, sessionModel.ErrExtractionEmpty, got.LastError.Kind)
	assert.Zero(t, h.scorer.callCount())
}

func TestOversizedDocumentRejectedBeforeParsing(t *testing.T) {
	h := newHarness(t, okScorer(50))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 12, "profile")
	require.NoError(t, err)

	raw := commonModels.RawDocument{
		FileName: "huge.pdf",
		Format:   commonModels.PDF,
		Size:     6 << 20,
		Bytes:    []byte("%PDF-"),
	}
	require.NoError(t, h.machine.HandleUpload(ctx, 12, raw))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateAwaitingDocument, got.State)
	assert.Equal(t, sessionModel.ErrDocumentTooLarge, got.LastError.Kind)
	assert.Equal(t, 1, got.ExtractAttempts)
}

func TestConcurrentUploadRejectedAsBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	scorer := &fakeScorer{
		maxAttempts: 1,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			close(started)
			<-release
			return commonModels.ScoreResult{Score: 10}, nil
		},
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	_, err := h.machine.StartSession(ctx, 13, "profile")
	require.NoError(t, err)

	data := loadFixture(t, "sample.pdf")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.machine.HandleUpload(ctx, 13, pdfUpload(data)))
	}()
	<-started

	err = h.machine.HandleUpload(ctx, 13, pdfUpload(data))
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	wg.Wait()
}

func TestCreationRaceMapsToSessionBusy(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	// the store's unique-active-session guard fires when two events race
	// to create a session for the same user
	h.store.upsertErr = sessionModel.ErrActiveSessionExists
	_, err := h.machine.StartSession(ctx, 23, "profile")
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestOverloadExhaustionEndsScoringUnavailable(t *testing.T) {
	scorer := &fakeScorer{
		maxAttempts: 3,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			return commonModels.ScoreResult{}, scoring.ErrOverloaded
		},
		retryableFn: func(err error) bool { return errors.Is(err, scoring.ErrOverloaded) },
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 24, "profile")
	require.NoError(t, err)
	require.NoError(t, h.machine.HandleUpload(ctx, 24, pdfUpload(loadFixture(t, "sample.pdf"))))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	// overload is the retryable condition; the terminal kind after the
	// budget is spent is always ScoringUnavailable
	assert.Equal(t, sessionModel.ErrScoringUnavailable, got.LastError.Kind)
	assert.Equal(t, 3, h.scorer.callCount())
}

func TestRecoverResumesExtractionFromRetainedBytes(t *testing.T) {
	h := newHarness(t, okScorer(70))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 25, "profile")
	require.NoError(t, err)
	session.State = sessionModel.StateExtracting
	session.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.Upsert(ctx, session))
	require.NoError(t, h.rawDocs.Save(ctx, session.Id, pdfUpload(loadFixture(t, "sample.pdf"))))

	require.NoError(t, h.machine.Recover(ctx))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDone, got.State)

	_, found := h.rawDocs.Get(ctx, session.Id)
	assert.False(t, found, "raw bytes must be dropped once the document is persisted")

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Score: 70/100")
}

func TestRecoverAsksForReuploadWhenBytesExpired(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 26, "profile")
	require.NoError(t, err)
	session.State = sessionModel.StateExtracting
	session.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.Upsert(ctx, session))

	require.NoError(t, h.machine.Recover(ctx))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateAwaitingDocument, got.State)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgReuploadAfterRestart, msgs[0].text)
}

func TestRecoverResumesScoringFromPersistedDocument(t *testing.T) {
	h := newHarness(t, okScorer(64))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 27, "profile")
	require.NoError(t, err)
	doc := commonModels.CanonicalDocument{
		Format: commonModels.PDF,
		Blocks: []commonModels.TextBlock{{PageNum: 1, Text: "experienced engineer"}},
	}
	require.NoError(t, h.store.AppendDocument(ctx, session.Id, doc))
	session.State = sessionModel.StateScoring
	session.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.Upsert(ctx, session))

	require.NoError(t, h.machine.Recover(ctx))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDone, got.State)
	assert.Equal(t, 1, h.scorer.callCount())

	score, haveScore, err := h.store.GetScore(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, haveScore)
	assert.Equal(t, 64, score.Score)
}

func TestRecoverResumesDelivery(t *testing.T) {
	h := newHarness(t, okScorer(91))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 28, "profile")
	require.NoError(t, err)
	require.NoError(t, h.store.AppendScore(ctx, session.Id, commonModels.ScoreResult{Score: 91}))
	session.State = sessionModel.StateDelivering
	session.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.Upsert(ctx, session))

	require.NoError(t, h.machine.Recover(ctx))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDone, got.State)
	assert.Zero(t, h.scorer.callCount(), "delivery recovery must not re-score")

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Score: 91/100")
}

func TestRecoverLeavesFailedDeliveryForRetryCommand(t *testing.T) {
	h := newHarness(t, okScorer(91))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 29, "profile")
	require.NoError(t, err)
	require.NoError(t, h.store.AppendScore(ctx, session.Id, commonModels.ScoreResult{Score: 91}))
	session.State = sessionModel.StateDelivering
	session.LastError = sessionModel.SessionError{Kind: sessionModel.ErrDeliveryFailed, Retry: true}
	session.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.store.Upsert(ctx, session))

	require.NoError(t, h.machine.Recover(ctx))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDelivering, got.State)
	assert.Empty(t, h.sender.messages())
}

func TestDeliveryFailureThenRetryDeliveryOnly(t *testing.T) {
	h := newHarness(t, okScorer(77))
	h.sender.failNext = 1
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 14, "profile")
	require.NoError(t, err)

	require.NoError(t, h.machine.HandleUpload(ctx, 14, pdfUpload(loadFixture(t, "sample.pdf"))))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDelivering, got.State)
	assert.Equal(t, sessionModel.ErrDeliveryFailed, got.LastError.Kind)

	require.NoError(t, h.machine.RetryDelivery(ctx, 14))

	got, _, err = h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateDone, got.State)
	assert.Equal(t, 1, h.scorer.callCount(), "delivery retry must not re-score")

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "Score: 77/100")
}

func TestRetryDeliveryRequiresFailedDelivery(t *testing.T) {
	h := newHarness(t, okScorer(77))
	ctx := context.Background()

	err := h.machine.RetryDelivery(ctx, 15)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = h.machine.StartSession(ctx, 15, "profile")
	require.NoError(t, err)
	err = h.machine.RetryDelivery(ctx, 15)
	assert.ErrorIs(t, err, ErrNotAwaitingRetry)
}

func TestCancelIdleSession(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 16, "profile")
	require.NoError(t, err)

	require.NoError(t, h.machine.Cancel(ctx, 16))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrCancelled, got.LastError.Kind)

	assert.ErrorIs(t, h.machine.Cancel(ctx, 16), ErrNoActiveSession)
}

func TestCancelInterruptsInFlightScoring(t *testing.T) {
	started := make(chan struct{})
	scorer := &fakeScorer{
		maxAttempts: 4,
		scoreFn: func(call int, ctx context.Context) (commonModels.ScoreResult, error) {
			close(started)
			<-ctx.Done()
			return commonModels.ScoreResult{}, ctx.Err()
		},
	}
	h := newHarness(t, scorer)
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 17, "profile")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.machine.HandleUpload(ctx, 17, pdfUpload(loadFixture(t, "sample.pdf"))))
	}()
	<-started

	require.NoError(t, h.machine.Cancel(ctx, 17))
	<-done

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrCancelled, got.LastError.Kind)
}

func TestStartSessionReplacesProfileWhileAwaiting(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	first, err := h.machine.StartSession(ctx, 18, "old profile")
	require.NoError(t, err)

	second, err := h.machine.StartSession(ctx, 18, "new profile")
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, "new profile", second.JobProfile)
	assert.Equal(t, 1, h.store.sessionCount())
}

func TestUploadWithoutProfileRejected(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	err := h.machine.HandleUpload(ctx, 19, pdfUpload(loadFixture(t, "sample.pdf")))
	assert.ErrorIs(t, err, ErrNoJobProfile)
}

func TestUploadWithoutProfileUsesDefault(t *testing.T) {
	store := newFakeSessionStore()
	sender := &fakeSender{}
	scorer := okScorer(55)
	m := NewMachine(store, rawdocStore.InitInMemoryRawDocStore(), scorer, sender, Config{
		MaxFileSize:        5 << 20,
		MaxExtractAttempts: 3,
		DefaultJobProfile:  "generalist",
	})
	ctx := context.Background()

	data, err := os.ReadFile(filepath.Join("..", "extractor", "testdata", "sample.pdf"))
	require.NoError(t, err)
	require.NoError(t, m.HandleUpload(ctx, 20, pdfUpload(data)))

	session, found, err := store.Get(ctx, firstSessionId(store))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sessionModel.StateDone, session.State)
	assert.Equal(t, "generalist", session.JobProfile)
}

func firstSessionId(store *fakeSessionStore) string {
	store.mu.Lock()
	defer store.mu.Unlock()
	for id := range store.sessions {
		return id
	}
	return ""
}

func TestExpireStaleSessions(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 21, "profile")
	require.NoError(t, err)

	session.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.store.Upsert(ctx, session))

	require.NoError(t, h.machine.ExpireStale(ctx, time.Now().UTC().Add(-30*time.Minute)))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, sessionModel.StateFailed, got.State)
	assert.Equal(t, sessionModel.ErrSessionTimeout, got.LastError.Kind)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(21), msgs[0].userId)
}

func TestUpsertIdempotence(t *testing.T) {
	h := newHarness(t, okScorer(10))
	ctx := context.Background()

	session, err := h.machine.StartSession(ctx, 22, "profile")
	require.NoError(t, err)

	require.NoError(t, h.store.Upsert(ctx, session))
	require.NoError(t, h.store.Upsert(ctx, session))

	got, _, err := h.store.Get(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, session, got)
	assert.Equal(t, 1, h.store.sessionCount())
}
