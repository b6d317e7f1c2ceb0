package sessionStore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
)

func newTestStore(t *testing.T) *SQLiteSessionStore {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("migrations/000001_create_sessions.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return NewSQLiteSessionStore(db)
}

func newSession(userId int64) sessionModel.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return sessionModel.Session{
		Id:         uuid.NewString(),
		UserId:     userId,
		State:      sessionModel.StateAwaitingDocument,
		JobProfile: "Senior Go engineer",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(100)
	require.NoError(t, store.Upsert(ctx, session))

	got, found, err := store.Get(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, session.Id, got.Id)
	assert.Equal(t, session.UserId, got.UserId)
	assert.Equal(t, sessionModel.StateAwaitingDocument, got.State)
	assert.Equal(t, "Senior Go engineer", got.JobProfile)

	// Re-applying the same upsert must be harmless.
	require.NoError(t, store.Upsert(ctx, session))

	session.State = sessionModel.StateExtracting
	session.LastError = sessionModel.SessionError{
		Kind:    sessionModel.ErrOverloaded,
		Message: "queue full",
		Retry:   true,
	}
	session.UpdatedAt = session.UpdatedAt.Add(time.Second)
	require.NoError(t, store.Upsert(ctx, session))

	got, found, err = store.Get(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sessionModel.StateExtracting, got.State)
	assert.Equal(t, sessionModel.ErrOverloaded, got.LastError.Kind)
	assert.True(t, got.LastError.Retry)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOneActiveSessionPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newSession(7)
	require.NoError(t, store.Upsert(ctx, first))

	second := newSession(7)
	err := store.Upsert(ctx, second)
	assert.ErrorIs(t, err, sessionModel.ErrActiveSessionExists)

	// Finishing the first session frees the slot.
	first.State = sessionModel.StateDone
	require.NoError(t, store.Upsert(ctx, first))
	require.NoError(t, store.Upsert(ctx, second))

	got, found, err := store.FindActiveByUser(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.Id, got.Id)
}

func TestDocumentFirstWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(1)
	require.NoError(t, store.Upsert(ctx, session))

	doc := commonModels.CanonicalDocument{
		Format:    commonModels.PDF,
		FileName:  "resume.pdf",
		PageCount: 2,
		Blocks: []commonModels.TextBlock{
			{PageNum: 1, ParaIndex: 0, Text: "Jane Doe"},
		},
		ExtractedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.AppendDocument(ctx, session.Id, doc))

	replay := doc
	replay.FileName = "other.pdf"
	require.NoError(t, store.AppendDocument(ctx, session.Id, replay))

	got, found, err := store.GetDocument(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "resume.pdf", got.FileName)
	assert.Equal(t, doc.Blocks, got.Blocks)
}

func TestScoreFirstWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(2)
	require.NoError(t, store.Upsert(ctx, session))

	score := commonModels.ScoreResult{
		Score:    81,
		FullName: "Jane Doe",
		Breakdown: map[string]commonModels.CriterionScore{
			"skills": {Score: 85, Comment: "solid"},
		},
		Model:     "deepseek-chat",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.AppendScore(ctx, session.Id, score))

	replay := score
	replay.Score = 5
	require.NoError(t, store.AppendScore(ctx, session.Id, replay))

	got, found, err := store.GetScore(ctx, session.Id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 81, got.Score)
	assert.Equal(t, "deepseek-chat", got.Model)
}

func TestTransitionsKeepOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newSession(3)
	require.NoError(t, store.Upsert(ctx, session))

	at := time.Now().UTC().Truncate(time.Second)
	steps := []sessionModel.Transition{
		{From: sessionModel.StateAwaitingDocument, To: sessionModel.StateExtracting, At: at},
		{From: sessionModel.StateExtracting, To: sessionModel.StateScoring, At: at.Add(time.Second)},
		{From: sessionModel.StateScoring, To: sessionModel.StateRetrying, At: at.Add(2 * time.Second)},
		{From: sessionModel.StateRetrying, To: sessionModel.StateScoring, At: at.Add(3 * time.Second)},
	}
	for _, tr := range steps {
		require.NoError(t, store.AppendTransition(ctx, session.Id, tr))
	}

	got, err := store.Transitions(ctx, session.Id)
	require.NoError(t, err)
	require.Len(t, got, len(steps))
	for i := range steps {
		assert.Equal(t, steps[i].From, got[i].From, "step %d", i)
		assert.Equal(t, steps[i].To, got[i].To, "step %d", i)
	}
}

func TestFindStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	stale := newSession(10)
	stale.State = sessionModel.StateScoring
	stale.UpdatedAt = now.Add(-10 * time.Minute)
	require.NoError(t, store.Upsert(ctx, stale))

	fresh := newSession(11)
	fresh.State = sessionModel.StateScoring
	fresh.UpdatedAt = now
	require.NoError(t, store.Upsert(ctx, fresh))

	finished := newSession(12)
	finished.State = sessionModel.StateDone
	finished.UpdatedAt = now.Add(-10 * time.Minute)
	require.NoError(t, store.Upsert(ctx, finished))

	got, err := store.FindStale(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.Id, got[0].Id)
}
