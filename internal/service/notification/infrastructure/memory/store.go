// Package memory 是通知仓储的进程内实现，语义与 MySQL 实现一致。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"promohub/internal/service/notification/domain"
)

type document struct {
	createdAt time.Time
	entries   []*domain.Entry
	events    map[string]struct{}
}

type Store struct {
	mu     sync.Mutex
	docs   map[string]*document
	writes int
}

func NewStore() *Store {
	return &Store{docs: make(map[string]*document)}
}

func clone(e *domain.Entry) *domain.Entry {
	c := *e
	c.Content = append([]byte(nil), e.Content...)
	return &c
}

func (s *Store) Append(_ context.Context, entry *domain.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[entry.PlayerID]
	if !ok {
		doc = &document{createdAt: entry.CreatedAt, events: make(map[string]struct{})}
		s.docs[entry.PlayerID] = doc
	}
	if _, dup := doc.events[entry.EventID]; dup {
		return false, nil
	}
	doc.events[entry.EventID] = struct{}{}
	doc.entries = append(doc.entries, clone(entry))
	s.writes++
	return true, nil
}

func (s *Store) Unread(_ context.Context, playerID string) ([]*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Entry
	if doc, ok := s.docs[playerID]; ok {
		for _, e := range doc.entries {
			if !e.Read {
				out = append(out, clone(e))
			}
		}
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, playerID string, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[playerID]
	if !ok || len(ids) == 0 {
		return 0, nil
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for _, e := range doc.entries {
		if want[e.ID] && !e.Read {
			e.Read = true
			n++
		}
	}
	s.writes++
	return n, nil
}

func (s *Store) Document(_ context.Context, playerID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[playerID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	out := &domain.Document{PlayerID: playerID, CreatedAt: doc.createdAt}
	for _, e := range doc.entries {
		out.Entries = append(out.Entries, clone(e))
	}
	return out, nil
}

// Writes 返回写操作次数，测试用
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
