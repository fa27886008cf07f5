package ledger

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const numShards = 64

// Records of one holder always land in the same shard, so the uniqueness
// check-and-insert and ListByHolder each take a single lock.
type shard struct {
	mu       sync.RWMutex
	byKey    map[models.RecordKey]*models.Record
	byHolder map[id.UserID][]*models.Record
	ids      map[id.RecordID]struct{}
}

// InMemoryStore is a holder-sharded ledger for single-process deployments.
type InMemoryStore struct {
	shards [numShards]*shard
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{
			byKey:    make(map[models.RecordKey]*models.Record),
			byHolder: make(map[id.UserID][]*models.Record),
			ids:      make(map[id.RecordID]struct{}),
		}
	}
	return s
}

func (s *InMemoryStore) shardFor(holder id.UserID) *shard {
	return s.shards[tx.HashString(holder.String())%numShards]
}

// TryCommit inserts record unless its (holder, subject, day) slot is taken.
func (s *InMemoryStore) TryCommit(_ context.Context, record *models.Record) (*models.Record, error) {
	sh := s.shardFor(record.HolderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	key := record.Key()
	if existing, ok := sh.byKey[key]; ok {
		return nil, alreadyRedeemed(existing)
	}
	if _, dup := sh.ids[record.ID]; dup {
		return nil, sentinel.ErrConflict
	}

	stored := *record
	sh.byKey[key] = &stored
	sh.byHolder[record.HolderID] = append(sh.byHolder[record.HolderID], &stored)
	sh.ids[record.ID] = struct{}{}

	committed := stored
	return &committed, nil
}

// ListByHolder returns the holder's records, newest first.
func (s *InMemoryStore) ListByHolder(_ context.Context, holder id.UserID) ([]*models.Record, error) {
	sh := s.shardFor(holder)
	sh.mu.RLock()
	out := cloneAll(sh.byHolder[holder])
	sh.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RedeemedAt.After(out[j].RedeemedAt)
	})
	return out, nil
}

// ListBySubjectAndDay returns a subject's records in commit order. An empty
// day spans all days; a nil issuer spans all issuers.
func (s *InMemoryStore) ListBySubjectAndDay(_ context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error) {
	var out []*models.Record
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, r := range sh.byKey {
			if r.Subject != subject {
				continue
			}
			if day != "" && r.Day != day {
				continue
			}
			if issuer != nil && r.IssuerID != *issuer {
				continue
			}
			clone := *r
			out = append(out, &clone)
		}
		sh.mu.RUnlock()
	}
	sortByRedeemedAtAsc(out)
	return out, nil
}

// StatsForDay counts the day's records overall and per subject.
func (s *InMemoryStore) StatsForDay(_ context.Context, day models.Day) (models.DayStats, error) {
	stats := models.DayStats{Day: day, BySubject: make(map[string]int)}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, r := range sh.byKey {
			if r.Day == day {
				stats.Total++
				stats.BySubject[r.Subject]++
			}
		}
		sh.mu.RUnlock()
	}
	return stats, nil
}

func cloneAll(records []*models.Record) []*models.Record {
	out := make([]*models.Record, len(records))
	for i, r := range records {
		clone := *r
		out[i] = &clone
	}
	return out
}

func sortByRedeemedAtAsc(records []*models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RedeemedAt.Equal(records[j].RedeemedAt) {
			return records[i].HolderID.String() < records[j].HolderID.String()
		}
		return records[i].RedeemedAt.Before(records[j].RedeemedAt)
	})
}
