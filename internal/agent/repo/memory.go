package repo

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/patrickmn/go-cache"

	"github.com/dev-onboarding-agent/server/internal/agent/model"
	errx "github.com/dev-onboarding-agent/server/internal/core/error"
)

// MemoryConversationRepository keeps every thread in process memory.
// It is the default checkpoint store when no Redis URL is configured.
type MemoryConversationRepository struct {
	mu      sync.RWMutex
	threads map[string][]*schema.Message
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{threads: make(map[string][]*schema.Message)}
}

func (r *MemoryConversationRepository) AddMessages(_ context.Context, threadID string, messages ...*schema.Message) error {
	for i, m := range messages {
		if m == nil {
			return errx.Input("message %d is nil", i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[threadID] = append(r.threads[threadID], messages...)
	return nil
}

func (r *MemoryConversationRepository) LoadHistory(_ context.Context, threadID string) (*model.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.threads[threadID]
	msgs := make([]*schema.Message, len(stored))
	copy(msgs, stored)
	return &model.ConversationHistory{ThreadID: threadID, Messages: msgs}, nil
}

func (r *MemoryConversationRepository) ClearHistory(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, threadID)
	return nil
}

func (r *MemoryConversationRepository) GetMessageCount(_ context.Context, threadID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads[threadID]), nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)

// MemorySessionStore keeps sessions in a go-cache with the same expiry as the
// checkpoint store. A zero ttl keeps sessions forever.
type MemorySessionStore struct {
	cache *cache.Cache
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemorySessionStore{cache: cache.New(ttl, 10*time.Minute)}
}

func (s *MemorySessionStore) Load(_ context.Context, threadID string) (model.Session, error) {
	if x, found := s.cache.Get(threadID); found {
		return x.(model.Session), nil
	}
	return model.NewSession(threadID), nil
}

func (s *MemorySessionStore) Save(_ context.Context, session model.Session) error {
	if session.ThreadID == "" {
		return errx.Input("session has no thread id")
	}
	s.cache.Set(session.ThreadID, session, cache.DefaultExpiration)
	return nil
}

func (s *MemorySessionStore) Touch(_ context.Context, threadID string) error {
	if x, found := s.cache.Get(threadID); found {
		s.cache.Set(threadID, x, cache.DefaultExpiration)
	}
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, threadID string) error {
	s.cache.Delete(threadID)
	return nil
}

var _ model.SessionStore = (*MemorySessionStore)(nil)
