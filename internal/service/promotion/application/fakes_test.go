package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/clock"
	"promohub/internal/service/promotion/domain"
	"promohub/internal/service/promotion/infrastructure/memory"
	"promohub/internal/service/promotion/port"
)

var tracer = noop.NewTracerProvider().Tracer("test")

var (
	staff = auth.Identity{UserID: uuid.NewString(), Role: auth.RoleStaff, Active: true}
	admin = auth.Identity{UserID: uuid.NewString(), Role: auth.RoleAdmin, Active: true}
)

func playerIdentity(id uuid.UUID) auth.Identity {
	return auth.Identity{UserID: id.String(), Role: auth.RolePlayer, Active: true}
}

type fakeLedger struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	balances map[string]decimal.Decimal
	requests []port.LedgerRequest
	// onCall 在返回前执行，用于观察调用期间的状态
	onCall func(req port.LedgerRequest)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]decimal.Decimal{}}
}

func (l *fakeLedger) AddTransaction(ctx context.Context, req port.LedgerRequest) (*port.LedgerResult, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.onCall != nil {
		l.onCall(req)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return nil, l.err
	}
	balance := l.balances[req.UserID].Add(req.Amount)
	l.balances[req.UserID] = balance
	return &port.LedgerResult{UserID: req.UserID, Balance: balance}, nil
}

func (l *fakeLedger) Requests() []port.LedgerRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]port.LedgerRequest(nil), l.requests...)
}

func (l *fakeLedger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type sentNotification struct {
	kind      domain.NotificationKind
	playerID  uuid.UUID
	promotion uuid.UUID
	balance   decimal.Decimal
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (p *fakeProducer) SendPromotionAssigned(_ context.Context, playerID uuid.UUID, promotion *domain.Promotion) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentNotification{kind: domain.NotificationAssigned, playerID: playerID, promotion: promotion.ID})
	return p.err
}

func (p *fakeProducer) SendPromotionClaimed(_ context.Context, playerID uuid.UUID, promotion *domain.Promotion, balance decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentNotification{kind: domain.NotificationClaimed, playerID: playerID, promotion: promotion.ID, balance: balance})
	return p.err
}

func (p *fakeProducer) Sent() []sentNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentNotification(nil), p.sent...)
}

type fixture struct {
	store      *memory.Store
	clock      *clock.MockClock
	ledger     *fakeLedger
	producer   *fakeProducer
	promotions *PromotionService
	assign     *AssignmentService
	claims     *ClaimService
	reconciler *Reconciler
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		store:    memory.NewStore(),
		clock:    clock.NewMockClock(now),
		ledger:   newFakeLedger(),
		producer: &fakeProducer{},
	}
	f.promotions = NewPromotionService(f.store, tracer)
	f.assign = NewAssignmentService(f.store, f.store, f.producer, f.clock, tracer)
	f.claims = NewClaimService(ClaimServiceDeps{
		Promotions:    f.store,
		Assignments:   f.store,
		UnitOfWork:    f.store,
		Intents:       f.store,
		Ledger:        f.ledger,
		Producer:      f.producer,
		Clock:         f.clock,
		Tracer:        tracer,
		LedgerTimeout: 200 * time.Millisecond,
	})
	f.reconciler = NewReconciler(f.store, f.store, nil, f.clock, tracer, time.Minute, 2*time.Minute)
	return f
}

func (f *fixture) createPromotion(req CreatePromotionRequest) *domain.Promotion {
	p, err := f.promotions.CreatePromotion(context.Background(), staff, req)
	if err != nil {
		panic(err)
	}
	return p
}

func welcomeRequest() CreatePromotionRequest {
	return CreatePromotionRequest{
		Title:       "Welcome Bonus",
		Description: "Get a welcome bonus on registration",
		Amount:      "20.00",
		StartDate:   "2025-01-01",
		EndDate:     "2025-01-31",
		Type:        string(domain.TypeWelcomeBonus),
	}
}
