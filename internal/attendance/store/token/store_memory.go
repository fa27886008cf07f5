// Package token persists issued attendance tokens.
package token

import (
	"context"
	"sync"
	"time"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const numShards = 32

type shard struct {
	mu     sync.RWMutex
	tokens map[id.TokenID]*models.Token
}

// InMemoryStore keeps tokens in hash-sharded maps so issuance of different
// tokens does not contend on one lock. Reads return copies.
type InMemoryStore struct {
	shards [numShards]*shard
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{tokens: make(map[id.TokenID]*models.Token)}
	}
	return s
}

func (s *InMemoryStore) shardFor(tokenID id.TokenID) *shard {
	return s.shards[tx.HashString(tokenID.String())%numShards]
}

func (s *InMemoryStore) Create(_ context.Context, token *models.Token) error {
	sh := s.shardFor(token.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.tokens[token.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *token
	sh.tokens[token.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	sh := s.shardFor(tokenID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	t, ok := sh.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *InMemoryStore) Deactivate(_ context.Context, tokenID id.TokenID) error {
	sh := s.shardFor(tokenID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.tokens[tokenID]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.Active = false
	return nil
}

// ExpireStale marks active tokens with expires_at <= now inactive.
func (s *InMemoryStore) ExpireStale(_ context.Context, now time.Time) (int, error) {
	expired := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, t := range sh.tokens {
			if t.Active && !t.ExpiresAt.After(now) {
				t.Active = false
				expired++
			}
		}
		sh.mu.Unlock()
	}
	return expired, nil
}

// DeleteExpired evicts tokens that expired before the cutoff.
func (s *InMemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	deleted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, t := range sh.tokens {
			if t.ExpiresAt.Before(before) {
				delete(sh.tokens, key)
				deleted++
			}
		}
		sh.mu.Unlock()
	}
	return deleted, nil
}
