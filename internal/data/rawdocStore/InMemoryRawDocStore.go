package rawdocStore

import (
	"context"
	"sync"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

var inMemLogger = logger_i.NewLogger("InMem RawDocStore")

type InMemoryRawDocStore struct {
	docMutex *sync.RWMutex
	docMap   map[string]commonModels.RawDocument
}

func InitInMemoryRawDocStore() *InMemoryRawDocStore {
	return &InMemoryRawDocStore{
		docMutex: new(sync.RWMutex),
		docMap:   make(map[string]commonModels.RawDocument),
	}
}

func (store *InMemoryRawDocStore) Save(ctx context.Context, sessionId string, doc commonModels.RawDocument) error {
	store.docMutex.Lock()
	defer store.docMutex.Unlock()
	store.docMap[sessionId] = doc
	inMemLogger.Debug(sessionId, " : Saved raw document to store")
	return nil
}

func (store *InMemoryRawDocStore) Get(ctx context.Context, sessionId string) (commonModels.RawDocument, bool) {
	store.docMutex.RLock()
	defer store.docMutex.RUnlock()
	result, found := store.docMap[sessionId]
	return result, found
}

func (store *InMemoryRawDocStore) Delete(ctx context.Context, sessionId string) {
	store.docMutex.Lock()
	defer store.docMutex.Unlock()
	delete(store.docMap, sessionId)
}
