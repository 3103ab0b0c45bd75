package adapter

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"promohub/internal/pkg/bootstrap"
	"promohub/internal/service/promotion/port"
)

type recordedCall struct {
	method string
	md     metadata.MD
	req    map[string]protoreflect.Value
}

// fakeWallet 用 UnknownServiceHandler 模拟钱包服务
type fakeWallet struct {
	desc *ledgerDescriptors

	mu      sync.Mutex
	calls   []recordedCall
	err     error
	balance float64
	delay   time.Duration
}

func (f *fakeWallet) handle(_ interface{}, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	in := dynamicpb.NewMessage(f.desc.request)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	md, _ := metadata.FromIncomingContext(stream.Context())

	call := recordedCall{method: method, md: md, req: map[string]protoreflect.Value{}}
	in.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		call.req[string(fd.Name())] = v
		return true
	})

	f.mu.Lock()
	f.calls = append(f.calls, call)
	err, balance, delay := f.err, f.balance, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
	if err != nil {
		return err
	}

	out := dynamicpb.NewMessage(f.desc.response)
	fields := f.desc.response.Fields()
	out.Set(fields.ByName("id"), call.req["userId"])
	out.Set(fields.ByName("balance"), protoreflect.ValueOfFloat64(balance))
	return stream.SendMsg(out)
}

func (f *fakeWallet) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func newLedgerPair(t *testing.T) (*LedgerGRPCAdapter, *fakeWallet) {
	t.Helper()
	desc, err := buildLedgerDescriptors()
	require.NoError(t, err)
	wallet := &fakeWallet{desc: desc, balance: 120.5}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(wallet.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///wallet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	a, err := NewLedgerGRPCAdapter(conn)
	require.NoError(t, err)
	return a, wallet
}

func creditRequest() port.LedgerRequest {
	return port.LedgerRequest{
		UserID:         "5f0c3c7e-8d7e-4b1e-9a57-3f6b2b1c0d11",
		Amount:         decimal.RequireFromString("20.00"),
		Type:           port.TransactionCredit,
		Description:    "Promotion claimed: Welcome",
		AdditionalData: []byte(`{"id":"p-1"}`),
		IdempotencyKey: "assignment-1",
		Credential:     "token-abc",
	}
}

func TestLedgerGRPCAdapter_AddTransaction(t *testing.T) {
	a, wallet := newLedgerPair(t)

	res, err := a.AddTransaction(context.Background(), creditRequest())
	require.NoError(t, err)
	assert.Equal(t, "5f0c3c7e-8d7e-4b1e-9a57-3f6b2b1c0d11", res.UserID)
	assert.True(t, decimal.RequireFromString("120.50").Equal(res.Balance))

	calls := wallet.Calls()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, addTransactionPath, c.method)
	assert.Equal(t, []string{"Bearer token-abc"}, c.md.Get(metadataAuthorization))
	assert.Equal(t, []string{"assignment-1"}, c.md.Get(metadataIdempotencyKey))
	assert.Equal(t, 20.0, c.req["amount"].Float())
	assert.Equal(t, "Promotion claimed: Welcome", c.req["description"].String())
	assert.Equal(t, `{"id":"p-1"}`, c.req["additionalData"].String())
	// CREDIT 是 proto3 的默认值，不会出现在线上
	_, hasType := c.req["transactionType"]
	assert.False(t, hasType)
}

func TestLedgerGRPCAdapter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "invalid argument is a rejection", err: status.Error(grpccodes.InvalidArgument, "insufficient funds"), want: port.ErrLedgerRejected},
		{name: "not found is a rejection", err: status.Error(grpccodes.NotFound, "user not found"), want: port.ErrLedgerRejected},
		{name: "unauthenticated is a rejection", err: status.Error(grpccodes.Unauthenticated, "bad token"), want: port.ErrLedgerRejected},
		{name: "unavailable is unknown outcome", err: status.Error(grpccodes.Unavailable, "down"), want: port.ErrLedgerUnavailable},
		{name: "internal is unknown outcome", err: status.Error(grpccodes.Internal, "boom"), want: port.ErrLedgerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, wallet := newLedgerPair(t)
			wallet.err = tt.err
			_, err := a.AddTransaction(context.Background(), creditRequest())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLedgerGRPCAdapter_DeadlineIsUnavailable(t *testing.T) {
	a, wallet := newLedgerPair(t)
	wallet.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.AddTransaction(ctx, creditRequest())
	assert.ErrorIs(t, err, port.ErrLedgerUnavailable)
}

func TestMetadataCarrier(t *testing.T) {
	md := metadata.MD{}
	c := metadataCarrier(md)
	c.Set("Traceparent", "00-abc")
	assert.Equal(t, "00-abc", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}

func TestDialLedger_RequiresAddressOrDiscovery(t *testing.T) {
	_, err := DialLedger(bootstrap.LedgerConfig{ServiceName: "users-service"}, nil)
	assert.Error(t, err)

	conn, err := DialLedger(bootstrap.LedgerConfig{ServiceName: "users-service"}, func(name string) (string, error) {
		assert.Equal(t, "users-service", name)
		return "127.0.0.1:50051", nil
	})
	require.NoError(t, err)
	_ = conn.Close()
}
