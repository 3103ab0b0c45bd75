package adapter

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"promohub/internal/pkg/bootstrap"
	"promohub/internal/pkg/logger"
	"promohub/internal/service/promotion/port"
)

// 转发给钱包服务的 metadata 键
const (
	metadataAuthorization  = "authorization"
	metadataIdempotencyKey = "x-idempotency-key"
)

// LedgerGRPCAdapter 实现了 port.Ledger 接口，调用钱包服务的 AddTransaction。
type LedgerGRPCAdapter struct {
	conn   grpc.ClientConnInterface
	desc   *ledgerDescriptors
	tracer trace.Tracer
}

// NewLedgerGRPCAdapter 基于已建立的连接创建适配器。
func NewLedgerGRPCAdapter(conn grpc.ClientConnInterface) (*LedgerGRPCAdapter, error) {
	desc, err := buildLedgerDescriptors()
	if err != nil {
		return nil, err
	}
	return &LedgerGRPCAdapter{conn: conn, desc: desc, tracer: otel.Tracer("promohub/ledger")}, nil
}

// DialLedger 建立到钱包服务的连接。cfg.Addr 为空时通过 discover 按服务名查找地址。
func DialLedger(cfg bootstrap.LedgerConfig, discover func(serviceName string) (string, error)) (*grpc.ClientConn, error) {
	addr := cfg.Addr
	if addr == "" {
		if discover == nil {
			return nil, errors.New("ledger address is empty and service discovery is disabled")
		}
		var err error
		if addr, err = discover(cfg.ServiceName); err != nil {
			return nil, errors.Wrapf(err, "discover ledger service %s", cfg.ServiceName)
		}
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dial ledger %s", addr)
	}
	logger.L().Info().Str("addr", addr).Msg("ledger client created")
	return conn, nil
}

// AddTransaction 发起一次记账。
// 返回 port.ErrLedgerRejected 表示钱包明确拒绝；port.ErrLedgerUnavailable 表示结果未知。
func (a *LedgerGRPCAdapter) AddTransaction(ctx context.Context, req port.LedgerRequest) (*port.LedgerResult, error) {
	ctx, span := a.tracer.Start(ctx, "ledger.AddTransaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.method", addTransactionPath),
			attribute.String("ledger.transaction_type", req.Type.String()),
		),
	)
	defer span.End()

	md := metadata.MD{}
	if req.Credential != "" {
		md.Set(metadataAuthorization, "Bearer "+req.Credential)
	}
	if req.IdempotencyKey != "" {
		md.Set(metadataIdempotencyKey, req.IdempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(md))
	ctx = metadata.NewOutgoingContext(ctx, md)

	in := a.newRequest(req)
	out := dynamicpb.NewMessage(a.desc.response)
	if err := a.conn.Invoke(ctx, addTransactionPath, in, out); err != nil {
		mapped := mapLedgerError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapped
	}

	fields := a.desc.response.Fields()
	return &port.LedgerResult{
		UserID:  out.Get(fields.ByName("id")).String(),
		Balance: decimal.NewFromFloat(out.Get(fields.ByName("balance")).Float()).Round(2),
	}, nil
}

func (a *LedgerGRPCAdapter) newRequest(req port.LedgerRequest) *dynamicpb.Message {
	fields := a.desc.request.Fields()
	msg := dynamicpb.NewMessage(a.desc.request)
	msg.Set(fields.ByName("userId"), protoreflect.ValueOfString(req.UserID))
	msg.Set(fields.ByName("amount"), protoreflect.ValueOfFloat64(req.Amount.InexactFloat64()))
	msg.Set(fields.ByName("transactionType"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(req.Type)))
	msg.Set(fields.ByName("description"), protoreflect.ValueOfString(req.Description))
	msg.Set(fields.ByName("additionalData"), protoreflect.ValueOfString(string(req.AdditionalData)))
	return msg
}

// mapLedgerError 区分"明确拒绝"与"结果未知"
func mapLedgerError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(port.ErrLedgerUnavailable, err.Error())
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Canceled,
		grpccodes.ResourceExhausted, grpccodes.Aborted, grpccodes.Unknown, grpccodes.Internal:
		return errors.Wrap(port.ErrLedgerUnavailable, st.Message())
	default:
		return errors.Wrap(port.ErrLedgerRejected, st.Message())
	}
}

// metadataCarrier 让 gRPC metadata 满足 otel 的 TextMapCarrier。
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
