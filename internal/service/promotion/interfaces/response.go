package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/logger"
	"promohub/internal/service/promotion/domain"
)

// 与用户服务共享的错误码
const (
	codeUnknown          = "GE00"
	codeValidation       = "GE01"
	codeNotFound         = "GE03"
	codeUpstream         = "GE04"
	codePromotionExists  = "PR00"
	codeNotActive        = "PR01"
	codeExpired          = "PR02"
	codeClaimed          = "PR03"
	codePendingReconcile = "PR04"
)

type meta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type successBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Meta    *meta       `json:"meta,omitempty"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}, m *meta) {
	writeJSON(w, status, successBody{Success: true, Message: message, Data: data, Meta: m})
}

// writeError 按错误类型返回不同的 HTTP 状态码和错误码
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorBody{Message: errors.Cause(err).Error(), Error: errorDetail{Code: code}}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Error.Details = ve.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if code == codeUnknown {
			body.Message = "internal server error"
		}
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, auth.CodeForbidden
	case errors.Is(err, domain.ErrPromotionNotFound), errors.Is(err, domain.ErrAssignmentNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrPromotionConflict):
		return http.StatusConflict, codePromotionExists
	case errors.Is(err, domain.ErrPromotionNotActive):
		return http.StatusBadRequest, codeNotActive
	case errors.Is(err, domain.ErrPromotionExpired):
		return http.StatusBadRequest, codeExpired
	case errors.Is(err, domain.ErrAlreadyClaimed), errors.Is(err, domain.ErrAllAlreadyAssigned):
		return http.StatusBadRequest, codeClaimed
	case errors.Is(err, domain.ErrClaimPendingReconciliation):
		return http.StatusConflict, codePendingReconcile
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrLedgerRejected):
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeUnknown
	}
}
