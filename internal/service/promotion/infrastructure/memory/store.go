// Package memory 提供与 MySQL 仓储语义一致的进程内实现，用于测试和本地运行。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"promohub/internal/service/promotion/domain"
)

type pairKey struct {
	player    uuid.UUID
	promotion uuid.UUID
}

// Store 同时实现 PromotionRepository / AssignmentRepository / UnitOfWork / ClaimIntentRepository。
type Store struct {
	mu          sync.Mutex
	promotions  map[uuid.UUID]*domain.Promotion
	created     map[uuid.UUID]int64 // 创建序号，保证分页顺序稳定
	seq         int64
	assignments map[uuid.UUID]*domain.PlayerPromotion
	byPair      map[pairKey]uuid.UUID
	intents     map[uuid.UUID]*domain.ClaimIntent
	rowLocks    map[uuid.UUID]chan struct{}
}

func NewStore() *Store {
	return &Store{
		promotions:  make(map[uuid.UUID]*domain.Promotion),
		created:     make(map[uuid.UUID]int64),
		assignments: make(map[uuid.UUID]*domain.PlayerPromotion),
		byPair:      make(map[pairKey]uuid.UUID),
		intents:     make(map[uuid.UUID]*domain.ClaimIntent),
		rowLocks:    make(map[uuid.UUID]chan struct{}),
	}
}

func clonePromotion(p *domain.Promotion) *domain.Promotion {
	c := *p
	return &c
}

func cloneAssignment(pp *domain.PlayerPromotion) *domain.PlayerPromotion {
	c := *pp
	return &c
}

// --- PromotionRepository ---

func (s *Store) Create(_ context.Context, p *domain.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Type.IsUnique() && p.IsActive {
		for _, existing := range s.promotions {
			if existing.Overlaps(p) {
				return domain.ErrPromotionConflict
			}
		}
	}
	if _, ok := s.promotions[p.ID]; ok {
		return domain.ErrPromotionConflict
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.seq++
	s.created[p.ID] = s.seq
	s.promotions[p.ID] = clonePromotion(p)
	return nil
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promotions[id]
	if !ok {
		return nil, domain.ErrPromotionNotFound
	}
	return clonePromotion(p), nil
}

func (s *Store) FindActive(_ context.Context, t domain.PromotionType, at time.Time) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *domain.Promotion
	for _, p := range s.sortedLocked() {
		if p.Type == t && p.IsActive && p.Contains(at) {
			found = p
			break
		}
	}
	if found == nil {
		return nil, domain.ErrPromotionNotFound
	}
	return clonePromotion(found), nil
}

// SetActive 模拟后台对活动的停用/启用。
func (s *Store) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.promotions[id]; ok {
		p.IsActive = active
	}
}

func (s *Store) sortedLocked() []*domain.Promotion {
	out := make([]*domain.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return s.created[out[i].ID] < s.created[out[j].ID] })
	return out
}

func matches(p *domain.Promotion, f domain.PromotionFilter) bool {
	if f.PromotionID != nil && p.ID != *f.PromotionID {
		return false
	}
	if f.IsActive != nil && p.IsActive != *f.IsActive {
		return false
	}
	if f.StartFrom != nil && p.StartDate.Before(domain.DateOf(*f.StartFrom)) {
		return false
	}
	if f.EndUntil != nil && p.EndDate.After(domain.DateOf(*f.EndUntil)) {
		return false
	}
	if f.Type != nil && p.Type != *f.Type {
		return false
	}
	return true
}

func paginate[T any](items []T, page domain.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *Store) Query(_ context.Context, f domain.PromotionFilter, page domain.Page) ([]*domain.Promotion, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filtered []*domain.Promotion
	for _, p := range s.sortedLocked() {
		if matches(p, f) {
			filtered = append(filtered, clonePromotion(p))
		}
	}
	return paginate(filtered, page), int64(len(filtered)), nil
}

func (s *Store) QueryForPlayer(_ context.Context, playerID uuid.UUID, f domain.PromotionFilter, page domain.Page) ([]*domain.PlayerPromotionView, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var filtered []*domain.PlayerPromotionView
	for _, p := range s.sortedLocked() {
		id, ok := s.byPair[pairKey{player: playerID, promotion: p.ID}]
		if !ok || !matches(p, f) {
			continue
		}
		filtered = append(filtered, &domain.PlayerPromotionView{Promotion: *p, Claimed: s.assignments[id].Claimed})
	}
	return paginate(filtered, page), int64(len(filtered)), nil
}

// --- AssignmentRepository ---

func (s *Store) Find(_ context.Context, playerID, promotionID uuid.UUID) (*domain.PlayerPromotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pairKey{player: playerID, promotion: promotionID}]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return cloneAssignment(s.assignments[id]), nil
}

func (s *Store) ExistingAssignees(_ context.Context, promotionID uuid.UUID, playerIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, pid := range playerIDs {
		if _, ok := s.byPair[pairKey{player: pid, promotion: promotionID}]; ok {
			out = append(out, pid)
		}
	}
	return out, nil
}

func (s *Store) InsertBatch(_ context.Context, rows []*domain.PlayerPromotion) ([]*domain.PlayerPromotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]*domain.PlayerPromotion, 0, len(rows))
	for _, row := range rows {
		if _, ok := s.promotions[row.PromotionID]; !ok {
			return inserted, domain.ErrPromotionNotFound
		}
		key := pairKey{player: row.PlayerID, promotion: row.PromotionID}
		if _, exists := s.byPair[key]; exists {
			continue
		}
		s.byPair[key] = row.ID
		s.assignments[row.ID] = cloneAssignment(row)
		inserted = append(inserted, cloneAssignment(row))
	}
	return inserted, nil
}

// AssignmentCount 返回分配总行数，测试用。
func (s *Store) AssignmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments)
}

// --- UnitOfWork ---

type memTx struct {
	store   *Store
	held    map[uuid.UUID]chan struct{}
	pending map[uuid.UUID]*domain.PlayerPromotion
}

// Within 模拟 SELECT ... FOR UPDATE：被锁定的行在事务结束前对其他事务不可锁。
// 事务内的修改在 fn 成功返回后才写回；ctx 已结束时与 database/sql 一样回滚。
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx domain.AssignmentTx) error) (err error) {
	tx := &memTx{store: s, held: map[uuid.UUID]chan struct{}{}, pending: map[uuid.UUID]*domain.PlayerPromotion{}}
	defer func() {
		for _, lock := range tx.held {
			<-lock
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pp := range tx.pending {
		s.assignments[id] = cloneAssignment(pp)
	}
	return nil
}

func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.rowLocks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		s.rowLocks[id] = lock
	}
	return lock
}

func (tx *memTx) lock(ctx context.Context, id uuid.UUID) (*domain.PlayerPromotion, error) {
	if _, ok := tx.held[id]; !ok {
		lock := tx.store.rowLock(id)
		select {
		case lock <- struct{}{}:
			tx.held[id] = lock
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if pp, ok := tx.pending[id]; ok {
		return cloneAssignment(pp), nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	pp, ok := tx.store.assignments[id]
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return cloneAssignment(pp), nil
}

func (tx *memTx) LockAssignment(ctx context.Context, playerID, promotionID uuid.UUID) (*domain.PlayerPromotion, error) {
	tx.store.mu.Lock()
	id, ok := tx.store.byPair[pairKey{player: playerID, promotion: promotionID}]
	tx.store.mu.Unlock()
	if !ok {
		return nil, domain.ErrAssignmentNotFound
	}
	return tx.lock(ctx, id)
}

func (tx *memTx) LockAssignmentByID(ctx context.Context, id uuid.UUID) (*domain.PlayerPromotion, error) {
	return tx.lock(ctx, id)
}

func (tx *memTx) Save(_ context.Context, pp *domain.PlayerPromotion) error {
	if _, ok := tx.held[pp.ID]; !ok {
		return domain.ErrAssignmentNotFound
	}
	tx.pending[pp.ID] = cloneAssignment(pp)
	return nil
}

// --- ClaimIntentRepository ---

func (s *Store) FindByAssignment(_ context.Context, assignmentID uuid.UUID) (*domain.ClaimIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.intents[assignmentID]
	if !ok {
		return nil, domain.ErrClaimIntentNotFound
	}
	c := *ci
	return &c, nil
}

func (s *Store) Save(_ context.Context, intent *domain.ClaimIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *intent
	s.intents[intent.AssignmentID] = &c
	return nil
}

func (s *Store) Transition(_ context.Context, assignmentID, correlationID uuid.UUID, from, to domain.ClaimIntentStatus, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.intents[assignmentID]
	if !ok || ci.CorrelationID != correlationID || ci.Status != from {
		return false, nil
	}
	ci.Status = to
	ci.LastError = lastError
	ci.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) ListStale(_ context.Context, status domain.ClaimIntentStatus, before time.Time, limit int) ([]*domain.ClaimIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ClaimIntent
	for _, ci := range s.intents {
		if ci.Status == status && ci.UpdatedAt.Before(before) {
			c := *ci
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
