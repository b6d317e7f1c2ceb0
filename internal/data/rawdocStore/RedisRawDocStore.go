package rawdocStore

import (
	"context"
	"encoding/json"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/data/redisStore"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

// RedisRawDocStore holds uploaded bytes keyed by session id. Entries carry a
// TTL so an abandoned session cannot pin document bytes forever.
type RedisRawDocStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisRawDocStore(ctx context.Context, addr string, password string) *RedisRawDocStore {
	store := redisStore.GetRedisStore(ctx, addr, password, config.RedisRawDocumentDB)
	if store == nil {
		return nil
	}
	return &RedisRawDocStore{
		store:  store,
		logger: logger_i.NewLogger("RawDocStore"),
	}
}

func (s *RedisRawDocStore) Save(ctx context.Context, sessionId string, doc commonModels.RawDocument) error {
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "session Id", sessionId)
	log.Debug("saving raw document")
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	err = s.store.Set(ctx, sessionId, data, config.RawDocumentTTL)
	if err == nil {
		log.Debug("Saved raw document to Redis")
	}
	return err
}

func (s *RedisRawDocStore) Get(ctx context.Context, sessionId string) (commonModels.RawDocument, bool) {
	var doc commonModels.RawDocument
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "session Id", sessionId)
	log.Debug("getting raw document")
	val, err := s.store.Get(ctx, sessionId)
	if s.store.IsNil(err) {
		return doc, false
	} else if err != nil {
		return doc, false
	}

	err = json.Unmarshal([]byte(val), &doc)
	if err != nil {
		return doc, false
	}

	log.Debug("Raw document found in Redis")
	return doc, true
}

func (s *RedisRawDocStore) Delete(ctx context.Context, sessionId string) {
	err := s.store.Del(ctx, sessionId)
	if err != nil {
		s.logger.Error("Error deleting raw document from Redis", "session Id", sessionId)
		return
	}
	s.logger.Debug("Raw document deleted from Redis", "session Id", sessionId)
}

func TestRawDocStore(store *redisStore.Store) *RedisRawDocStore {
	return &RedisRawDocStore{
		store:  store,
		logger: logger_i.NewLogger("test redis"),
	}
}
