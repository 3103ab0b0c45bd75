package application

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promohub/internal/service/promotion/domain"
)

var jan15 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func TestCreatePromotion(t *testing.T) {
	f := newFixture(jan15)
	ctx := context.Background()

	p, err := f.promotions.CreatePromotion(ctx, admin, welcomeRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.TypeWelcomeBonus, p.Type)
	assert.Equal(t, "20.00", p.Amount.StringFixed(2))
	assert.True(t, p.IsActive)

	t.Run("default type is BONUS", func(t *testing.T) {
		req := welcomeRequest()
		req.Type = ""
		p, err := f.promotions.CreatePromotion(ctx, staff, req)
		require.NoError(t, err)
		assert.Equal(t, domain.TypeBonus, p.Type)
	})

	t.Run("overlapping welcome bonus conflicts", func(t *testing.T) {
		req := welcomeRequest()
		req.StartDate, req.EndDate = "2025-01-31", "2025-02-28"
		_, err := f.promotions.CreatePromotion(ctx, staff, req)
		assert.ErrorIs(t, err, domain.ErrPromotionConflict)
	})

	t.Run("players cannot create", func(t *testing.T) {
		_, err := f.promotions.CreatePromotion(ctx, playerIdentity(uuid.New()), welcomeRequest())
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	tests := []struct {
		name   string
		mutate func(r *CreatePromotionRequest)
		field  string
	}{
		{"missing title", func(r *CreatePromotionRequest) { r.Title = "" }, "title"},
		{"amount without fraction", func(r *CreatePromotionRequest) { r.Amount = "20" }, "amount"},
		{"amount with three decimals", func(r *CreatePromotionRequest) { r.Amount = "20.001" }, "amount"},
		{"zero amount", func(r *CreatePromotionRequest) { r.Amount = "0.00" }, "amount"},
		{"bad date", func(r *CreatePromotionRequest) { r.StartDate = "yesterday" }, "startDate"},
		{"end before start", func(r *CreatePromotionRequest) { r.StartDate, r.EndDate = "2025-03-10", "2025-03-01" }, "endDate"},
		{"unknown type", func(r *CreatePromotionRequest) { r.Type = "CASHBACK" }, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := welcomeRequest()
			req.Type = string(domain.TypeBonus)
			tt.mutate(&req)
			_, err := f.promotions.CreatePromotion(ctx, staff, req)
			require.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestCreatePromotion_AcceptsRFC3339Dates(t *testing.T) {
	f := newFixture(jan15)
	req := welcomeRequest()
	req.StartDate, req.EndDate = "2025-01-01T00:00:00Z", "2025-01-10T23:59:59Z"

	p, err := f.promotions.CreatePromotion(context.Background(), staff, req)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), p.EndDate)
}

func TestListPromotions_Pagination(t *testing.T) {
	f := newFixture(jan15)
	var created []*domain.Promotion
	for i := 0; i < 25; i++ {
		req := welcomeRequest()
		req.Type = string(domain.TypeBonus)
		req.Title = "Bonus " + strconv.Itoa(i)
		created = append(created, f.createPromotion(req))
	}

	res, err := f.promotions.ListPromotions(context.Background(), staff, ListPromotionsQuery{Page: "2", Limit: "10"})
	require.NoError(t, err)
	assert.EqualValues(t, 25, res.Total)
	require.Len(t, res.Items, 10)
	assert.Equal(t, created[10].ID, res.Items[0].ID)
	assert.Equal(t, 2, res.Page)

	res, err = f.promotions.ListPromotions(context.Background(), staff, ListPromotionsQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Items, defaultLimit)
	assert.Equal(t, 1, res.Page)

	res, err = f.promotions.ListPromotions(context.Background(), staff, ListPromotionsQuery{PromotionID: created[3].ID.String()})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Bonus 3", res.Items[0].Title)

	_, err = f.promotions.ListPromotions(context.Background(), staff, ListPromotionsQuery{Page: "0"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.promotions.ListPromotions(context.Background(), staff, ListPromotionsQuery{IsActive: "yes"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.promotions.ListPromotions(context.Background(), playerIdentity(uuid.New()), ListPromotionsQuery{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListPlayerPromotions_PlayerSeesOnlyOwn(t *testing.T) {
	f := newFixture(jan15)
	ctx := context.Background()
	promo := f.createPromotion(welcomeRequest())

	alice, bob := uuid.New(), uuid.New()
	_, err := f.assign.AssignPromotion(ctx, staff, promo.ID.String(), AssignRequest{UserIDs: []string{alice.String()}})
	require.NoError(t, err)

	// bob 试图查看 alice 的活动，被强制为自己的 id
	res, err := f.promotions.ListPlayerPromotions(ctx, playerIdentity(bob), alice.String(), ListPromotionsQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = f.promotions.ListPlayerPromotions(ctx, playerIdentity(alice), "ignored", ListPromotionsQuery{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.False(t, res.Items[0].Claimed)

	res, err = f.promotions.ListPlayerPromotions(ctx, staff, alice.String(), ListPromotionsQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)

	_, err = f.promotions.ListPlayerPromotions(ctx, staff, "not-a-uuid", ListPromotionsQuery{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
