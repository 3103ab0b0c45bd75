package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/mq"
	"promohub/internal/service/promotion/application"
	"promohub/internal/service/promotion/domain"
	"promohub/internal/service/promotion/infrastructure/memory"
	"promohub/internal/service/promotion/port"
)

const jwtSecret = "handler-secret"

type stubLedger struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (l *stubLedger) AddTransaction(_ context.Context, req port.LedgerRequest) (*port.LedgerResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &port.LedgerResult{UserID: req.UserID, Balance: req.Amount.Add(decimal.NewFromInt(100))}, nil
}

func (l *stubLedger) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *stubLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type nopProducer struct{}

func (nopProducer) SendPromotionAssigned(context.Context, uuid.UUID, *domain.Promotion) error {
	return nil
}

func (nopProducer) SendPromotionClaimed(context.Context, uuid.UUID, *domain.Promotion, decimal.Decimal) error {
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    *meta           `json:"meta"`
	Error   *errorDetail    `json:"error"`
}

type HandlerSuite struct {
	suite.Suite
	store   *memory.Store
	ledger  *stubLedger
	assign  *application.AssignmentService
	server  *httptest.Server
	staff   string
	player  uuid.UUID
	playerT string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	tracer := noop.NewTracerProvider().Tracer("test")
	clk := clock.NewMockClock(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	s.store = memory.NewStore()
	s.ledger = &stubLedger{}

	promotions := application.NewPromotionService(s.store, tracer)
	s.assign = application.NewAssignmentService(s.store, s.store, nopProducer{}, clk, tracer)
	claims := application.NewClaimService(application.ClaimServiceDeps{
		Promotions:  s.store,
		Assignments: s.store,
		UnitOfWork:  s.store,
		Intents:     s.store,
		Ledger:      s.ledger,
		Producer:    nopProducer{},
		Clock:       clk,
		Tracer:      tracer,
	})

	mux := http.NewServeMux()
	NewPromotionHandler(promotions, s.assign, claims, auth.NewVerifier(jwtSecret)).RegisterRoutes(mux)
	s.server = httptest.NewServer(mux)

	s.staff = s.token(auth.Identity{UserID: uuid.NewString(), Role: auth.RoleStaff, Active: true})
	s.player = uuid.New()
	s.playerT = s.token(auth.Identity{UserID: s.player.String(), Role: auth.RolePlayer, Active: true})
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) token(id auth.Identity) string {
	tok, err := auth.IssueToken(jwtSecret, id, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) do(method, path, token string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var env envelope
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *HandlerSuite) createWelcome() application.PromotionResponse {
	status, env := s.do(http.MethodPost, "/api/v1/promotions", s.staff, map[string]string{
		"title":       "Welcome",
		"description": "Welcome bonus for new players",
		"amount":      "20.00",
		"startDate":   "2025-01-01",
		"endDate":     "2025-01-31",
		"type":        string(domain.TypeWelcomeBonus),
	})
	s.Require().Equal(http.StatusCreated, status)
	var p application.PromotionResponse
	s.Require().NoError(json.Unmarshal(env.Data, &p))
	return p
}

func (s *HandlerSuite) TestCreateAndList() {
	p := s.createWelcome()
	s.Equal("20.00", p.Amount)
	s.Equal("2025-01-31", p.EndDate)

	status, env := s.do(http.MethodGet, "/api/v1/promotions?limit=5", s.staff, nil)
	s.Equal(http.StatusOK, status)
	s.Equal("Get all promotions", env.Message)
	s.Require().NotNil(env.Meta)
	s.Equal(int64(1), env.Meta.Total)
	s.Equal(5, env.Meta.Limit)
	s.Equal(1, env.Meta.Page)
}

func (s *HandlerSuite) TestCreateConflictAndValidation() {
	s.createWelcome()

	status, env := s.do(http.MethodPost, "/api/v1/promotions", s.staff, map[string]string{
		"title": "Another", "description": "Second welcome", "amount": "5.00", "startDate": "2025-01-15", "endDate": "2025-02-15", "type": string(domain.TypeWelcomeBonus),
	})
	s.Equal(http.StatusConflict, status)
	s.Equal(codePromotionExists, env.Error.Code)

	status, env = s.do(http.MethodPost, "/api/v1/promotions", s.staff, map[string]string{"title": "x", "amount": "abc"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(codeValidation, env.Error.Code)
	s.False(env.Success)
	s.Contains(env.Error.Details, "amount")

	// 描述为必填
	status, env = s.do(http.MethodPost, "/api/v1/promotions", s.staff, map[string]string{
		"title": "No description", "amount": "5.00", "startDate": "2025-03-01", "endDate": "2025-03-31",
	})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(codeValidation, env.Error.Code)
	s.Contains(env.Error.Details, "description")
	s.NotContains(env.Error.Details, "amount")
}

func (s *HandlerSuite) TestPlayerCannotCreate() {
	status, env := s.do(http.MethodPost, "/api/v1/promotions", s.playerT, map[string]string{"title": "x"})
	s.Equal(http.StatusForbidden, status)
	s.Equal(auth.CodeForbidden, env.Error.Code)
}

func (s *HandlerSuite) TestUnauthenticated() {
	status, env := s.do(http.MethodGet, "/api/v1/promotions", "", nil)
	s.Equal(http.StatusUnauthorized, status)
	s.Equal(auth.CodeTokenMissing, env.Error.Code)
}

func (s *HandlerSuite) TestAssignThenClaim() {
	p := s.createWelcome()

	status, env := s.do(http.MethodPost, "/api/v1/promotions/"+p.ID+"/assign", s.staff, map[string][]string{"userIds": {s.player.String()}})
	s.Require().Equal(http.StatusCreated, status)
	s.Equal("Promotion assigned successfully", env.Message)

	status, env = s.do(http.MethodPost, "/api/v1/promotions/"+p.ID+"/assign", s.staff, map[string][]string{"userIds": {s.player.String()}})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(codeClaimed, env.Error.Code)

	// 玩家查询他人时被强制为自己
	status, env = s.do(http.MethodGet, "/api/v1/promotions/players/"+uuid.NewString(), s.playerT, nil)
	s.Require().Equal(http.StatusOK, status)
	var items []application.PlayerPromotionResponse
	s.Require().NoError(json.Unmarshal(env.Data, &items))
	s.Require().Len(items, 1)
	s.False(items[0].Claimed)

	status, env = s.do(http.MethodPost, "/api/v1/promotions/claim", s.playerT, map[string]string{"promotionId": p.ID})
	s.Require().Equal(http.StatusCreated, status)
	var claimed application.ClaimResponse
	s.Require().NoError(json.Unmarshal(env.Data, &claimed))
	s.Equal("120.00", claimed.Balance)

	status, env = s.do(http.MethodPost, "/api/v1/promotions/claim", s.playerT, map[string]string{"promotionId": p.ID})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(codeClaimed, env.Error.Code)
	s.Equal(1, s.ledger.Calls())
}

func (s *HandlerSuite) TestClaimErrors() {
	p := s.createWelcome()

	status, env := s.do(http.MethodPost, "/api/v1/promotions/claim", s.playerT, map[string]string{"promotionId": p.ID})
	s.Equal(http.StatusNotFound, status)
	s.Equal(codeNotFound, env.Error.Code)

	_, err := s.store.InsertBatch(context.Background(), []*domain.PlayerPromotion{
		domain.NewPlayerPromotion(s.player, uuid.MustParse(p.ID), time.Now()),
	})
	s.Require().NoError(err)

	s.ledger.fail(port.ErrLedgerUnavailable)
	status, env = s.do(http.MethodPost, "/api/v1/promotions/claim", s.playerT, map[string]string{"promotionId": p.ID})
	s.Equal(http.StatusBadGateway, status)
	s.Equal(codeUpstream, env.Error.Code)

	status, env = s.do(http.MethodPost, "/api/v1/promotions/claim", s.playerT, map[string]string{"promotionId": "not-a-uuid"})
	s.Equal(http.StatusBadRequest, status)
	s.Equal(codeValidation, env.Error.Code)
}

func (s *HandlerSuite) TestMalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/promotions/claim", bytes.NewBufferString("{"))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.playerT)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestPlayerEventHandler() {
	s.createWelcome()
	h := NewPlayerEventHandler(s.assign)
	ctx := context.Background()

	registered := []byte(`{"event_type":"PLAYER_REGISTERED","user_id":"` + s.player.String() + `"}`)
	s.Require().NoError(h.Handle(ctx, kafka.Message{Value: registered}))
	// 重复投递不会产生第二条分配
	s.Require().NoError(h.Handle(ctx, kafka.Message{Value: registered}))
	s.Equal(1, s.store.AssignmentCount())

	s.NoError(h.Handle(ctx, kafka.Message{Value: []byte(`{"event_type":"PLAYER_UPDATED","user_id":"x"}`)}))

	err := h.Handle(ctx, kafka.Message{Value: []byte(`{oops`)})
	s.True(mq.IsPermanent(err))

	err = h.Handle(ctx, kafka.Message{Value: []byte(`{"event_type":"PLAYER_REGISTERED","user_id":"bad"}`)})
	s.True(mq.IsPermanent(err))
}
