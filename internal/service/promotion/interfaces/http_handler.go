package interfaces

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"promohub/internal/pkg/auth"
	"promohub/internal/service/promotion/application"
	"promohub/internal/service/promotion/domain"
)

const maxBodyBytes = 1 << 20

// PromotionHandler 封装了 promotion 服务的 HTTP 处理器
type PromotionHandler struct {
	promotions  *application.PromotionService
	assignments *application.AssignmentService
	claims      *application.ClaimService
	verifier    *auth.Verifier
}

// NewPromotionHandler 创建一个新的 HTTP 处理器实例
func NewPromotionHandler(
	promotions *application.PromotionService,
	assignments *application.AssignmentService,
	claims *application.ClaimService,
	verifier *auth.Verifier,
) *PromotionHandler {
	return &PromotionHandler{promotions: promotions, assignments: assignments, claims: claims, verifier: verifier}
}

// RegisterRoutes 在 ServeMux 上注册所有路由，所有接口都需要认证
func (h *PromotionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/promotions", h.wrap(h.handleCreate))
	mux.Handle("GET /api/v1/promotions", h.wrap(h.handleList))
	mux.Handle("GET /api/v1/promotions/players/{player_id}", h.wrap(h.handleListForPlayer))
	mux.Handle("POST /api/v1/promotions/claim", h.wrap(h.handleClaim))
	mux.Handle("POST /api/v1/promotions/{promotion_id}/assign", h.wrap(h.handleAssign))
}

// wrap 先恢复上游链路上下文，再做认证
func (h *PromotionHandler) wrap(fn http.HandlerFunc) http.Handler {
	authed := auth.Middleware(h.verifier, fn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		authed.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid request body")
	}
	return nil
}

func listQuery(r *http.Request) application.ListPromotionsQuery {
	q := r.URL.Query()
	return application.ListPromotionsQuery{
		PromotionID: q.Get("promotion_id"),
		IsActive:    q.Get("is_active"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
		Type:        q.Get("type"),
		Page:        q.Get("page"),
		Limit:       q.Get("limit"),
	}
}

func (h *PromotionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req application.CreatePromotionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	promotion, err := h.promotions.CreatePromotion(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Promotion created successfully", application.NewPromotionResponse(promotion), nil)
}

func (h *PromotionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.promotions.ListPromotions(r.Context(), caller(r), listQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]application.PromotionResponse, 0, len(res.Items))
	for _, p := range res.Items {
		items = append(items, application.NewPromotionResponse(p))
	}
	writeSuccess(w, http.StatusOK, "Get all promotions", items, &meta{Page: res.Page, Limit: res.Limit, Total: res.Total})
}

func (h *PromotionHandler) handleListForPlayer(w http.ResponseWriter, r *http.Request) {
	res, err := h.promotions.ListPlayerPromotions(r.Context(), caller(r), r.PathValue("player_id"), listQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]application.PlayerPromotionResponse, 0, len(res.Items))
	for _, v := range res.Items {
		items = append(items, application.NewPlayerPromotionResponse(v))
	}
	writeSuccess(w, http.StatusOK, "Get all promotions of player", items, &meta{Page: res.Page, Limit: res.Limit, Total: res.Total})
}

func (h *PromotionHandler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req application.ClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.claims.ClaimPromotion(r.Context(), caller(r), req, auth.CredentialFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Promotion claimed successfully", application.NewClaimResponse(res), nil)
}

func (h *PromotionHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req application.AssignRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := h.assignments.AssignPromotion(r.Context(), caller(r), r.PathValue("promotion_id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]application.AssignmentResponse, 0, len(rows))
	for _, pp := range rows {
		items = append(items, application.NewAssignmentResponse(pp))
	}
	writeSuccess(w, http.StatusCreated, "Promotion assigned successfully", items, nil)
}
