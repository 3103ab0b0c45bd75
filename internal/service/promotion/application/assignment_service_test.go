package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promohub/internal/service/promotion/domain"
)

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func strs(ids ...uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func TestAssignPromotion(t *testing.T) {
	f := newFixture(jan15)
	ctx := context.Background()
	promo := f.createPromotion(welcomeRequest())
	players := ids(3)

	inserted, err := f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: strs(players[0], players[1], players[0])})
	require.NoError(t, err)
	assert.Len(t, inserted, 2, "duplicate ids in one request are collapsed")
	assert.Len(t, f.producer.Sent(), 2)

	inserted, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: strs(players...)})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, players[2], inserted[0].PlayerID)
	assert.Len(t, f.producer.Sent(), 3)

	_, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: strs(players...)})
	assert.ErrorIs(t, err, domain.ErrAllAlreadyAssigned)
	assert.Equal(t, 3, f.store.AssignmentCount())
}

func TestAssignPromotion_Rejections(t *testing.T) {
	f := newFixture(jan15)
	ctx := context.Background()
	promo := f.createPromotion(welcomeRequest())
	req := AssignRequest{UserIDs: strs(uuid.New())}

	_, err := f.assign.AssignPromotion(ctx, playerIdentity(uuid.New()), promo.ID.String(), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: []string{"nope"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.assign.AssignPromotion(ctx, staff, uuid.NewString(), req)
	assert.ErrorIs(t, err, domain.ErrPromotionNotFound)

	f.clock.Set(time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC))
	_, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), req)
	assert.ErrorIs(t, err, domain.ErrPromotionExpired)

	f.clock.Set(jan15)
	f.store.SetActive(promo.ID, false)
	_, err = f.assign.AssignPromotion(ctx, staff, promo.ID.String(), req)
	assert.ErrorIs(t, err, domain.ErrPromotionNotActive)
	assert.Zero(t, f.store.AssignmentCount())
}

func TestAssignPromotion_NotificationFailureKeepsAssignment(t *testing.T) {
	f := newFixture(jan15)
	f.producer.err = errors.New("broker down")
	promo := f.createPromotion(welcomeRequest())

	inserted, err := f.assign.AssignPromotion(context.Background(), staff, promo.ID.String(), AssignRequest{UserIDs: strs(uuid.New())})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)
	assert.Equal(t, 1, f.store.AssignmentCount())
}

func TestAssignRegisteredPromotion(t *testing.T) {
	ctx := context.Background()

	t.Run("no active welcome promotion is a no-op", func(t *testing.T) {
		f := newFixture(jan15)
		require.NoError(t, f.assign.AssignRegisteredPromotion(ctx, uuid.New()))
		assert.Zero(t, f.store.AssignmentCount())
		assert.Empty(t, f.producer.Sent())
	})

	t.Run("redelivery does not duplicate", func(t *testing.T) {
		f := newFixture(jan15)
		promo := f.createPromotion(welcomeRequest())
		player := uuid.New()

		for i := 0; i < 3; i++ {
			require.NoError(t, f.assign.AssignRegisteredPromotion(ctx, player))
		}
		assert.Equal(t, 1, f.store.AssignmentCount())
		sent := f.producer.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, domain.NotificationAssigned, sent[0].kind)
		assert.Equal(t, promo.ID, sent[0].promotion)
	})

	t.Run("outside the window is a no-op", func(t *testing.T) {
		f := newFixture(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
		f.createPromotion(welcomeRequest())
		require.NoError(t, f.assign.AssignRegisteredPromotion(ctx, uuid.New()))
		assert.Zero(t, f.store.AssignmentCount())
	})
}

// staleAssignees 的预检总是看不到已有分配，模拟预检与写入之间的并发分配
type staleAssignees struct {
	domain.AssignmentRepository
}

func (staleAssignees) ExistingAssignees(context.Context, uuid.UUID, []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func TestAssignPromotion_ConcurrentAssignerLeavesNothingToInsert(t *testing.T) {
	f := newFixture(jan15)
	ctx := context.Background()
	promo := f.createPromotion(welcomeRequest())
	players := ids(2)

	svc := NewAssignmentService(f.store, staleAssignees{AssignmentRepository: f.store}, f.producer, f.clock, tracer)
	inserted, err := svc.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: strs(players...)})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	inserted, err = svc.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: strs(players...)})
	assert.ErrorIs(t, err, domain.ErrAllAlreadyAssigned)
	assert.Nil(t, inserted)
	assert.Equal(t, 2, f.store.AssignmentCount())
	assert.Len(t, f.producer.Sent(), 2)
}
