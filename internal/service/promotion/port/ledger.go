// internal/service/promotion/port/ledger.go
package port

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TransactionType 与钱包服务 proto 中的枚举值一致。
type TransactionType int32

const (
	TransactionCredit TransactionType = 0
	TransactionDebit  TransactionType = 1
)

func (t TransactionType) String() string {
	if t == TransactionDebit {
		return "DEBIT"
	}
	return "CREDIT"
}

var (
	// ErrLedgerUnavailable 表示传输层失败或超时，账本是否入账未知
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerRejected 表示账本明确拒绝了该笔交易
	ErrLedgerRejected = errors.New("ledger rejected transaction")
)

// LedgerRequest 是一次记账请求。
type LedgerRequest struct {
	UserID         string
	Amount         decimal.Decimal
	Type           TransactionType
	Description    string
	AdditionalData []byte // JSON
	// IdempotencyKey 对同一分配的所有尝试保持不变
	IdempotencyKey string
	// Credential 是调用者的访问令牌，原样转发给账本做鉴权
	Credential string
}

type LedgerResult struct {
	UserID  string
	Balance decimal.Decimal
}

// Ledger 是钱包账本的出站端口。
type Ledger interface {
	AddTransaction(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
}
