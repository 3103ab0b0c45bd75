package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/logger"
	"promohub/internal/service/notification/application"
	"promohub/internal/service/notification/domain"
)

type entryResponse struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

type documentResponse struct {
	PlayerID string          `json:"playerId"`
	Unread   int             `json:"unread"`
	Entries  []entryResponse `json:"entries"`
}

func newDocumentResponse(doc *domain.Document) documentResponse {
	out := documentResponse{PlayerID: doc.PlayerID, Unread: doc.Unread(), Entries: make([]entryResponse, 0, len(doc.Entries))}
	for _, e := range doc.Entries {
		out.Entries = append(out.Entries, entryResponse{
			ID:        e.ID.String(),
			EventID:   e.EventID,
			Type:      string(e.Type),
			Content:   e.Content,
			Read:      e.Read,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// NotificationHandler 提供通知文档的查询接口
type NotificationHandler struct {
	delivery *application.DeliveryService
	verifier *auth.Verifier
}

func NewNotificationHandler(delivery *application.DeliveryService, verifier *auth.Verifier) *NotificationHandler {
	return &NotificationHandler{delivery: delivery, verifier: verifier}
}

func (h *NotificationHandler) RegisterRoutes(mux *http.ServeMux, gateway *Gateway) {
	mux.Handle("GET /ws", gateway)
	mux.Handle("GET /api/v1/notifications", auth.Middleware(h.verifier, http.HandlerFunc(h.handleDocument)))
}

// handleDocument 返回调用者自己的文档；员工可以用 ?player_id= 查询任意玩家。
// 从未收到过通知的玩家返回空文档。
func (h *NotificationHandler) handleDocument(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	id, _ := auth.FromContext(ctx)
	playerID := id.UserID
	if q := r.URL.Query().Get("player_id"); q != "" && id.IsStaff() {
		playerID = q
	}

	doc, err := h.delivery.Document(ctx, playerID)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		doc = &domain.Document{PlayerID: playerID}
	case err != nil:
		logger.Ctx(ctx).Error().Err(err).Str("player_id", playerID).Msg("failed to load notification document")
		auth.WriteError(w, http.StatusInternalServerError, "GE00", "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Get notifications",
		"data":    newDocumentResponse(doc),
	})
}
