// internal/service/promotion/domain/errors.go
package domain

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrPromotionNotFound  = errors.New("promotion not found")
	ErrPromotionConflict  = errors.New("promotion already exists in selected range")
	ErrPromotionNotActive = errors.New("promotion is not active")
	ErrPromotionExpired   = errors.New("promotion has expired")

	ErrAssignmentNotFound = errors.New("promotion is not assigned to this player")
	ErrAlreadyClaimed     = errors.New("promotion already claimed")
	ErrAllAlreadyAssigned = errors.New("all players already have this promotion")

	// ErrDuplicateAssignment 由存储层在 (player, promotion) 唯一约束冲突时返回
	ErrDuplicateAssignment = errors.New("assignment already exists")

	ErrClaimIntentNotFound        = errors.New("claim intent not found")
	ErrClaimPendingReconciliation = errors.New("a previous claim attempt is unresolved")

	ErrUpstreamUnavailable = errors.New("wallet ledger unavailable")
	ErrLedgerRejected      = errors.New("wallet ledger rejected the transaction")

	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("access denied")
)

// ValidationError 携带字段级别的校验失败原因，errors.Is(err, ErrValidation) 为 true。
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError 创建单字段的校验错误。
func NewValidationError(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}
