// Package pb holds the stockledger.v1.Ledger gRPC service. Messages travel
// as JSON, so the descriptors are written out by hand instead of generated.
package pb

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/stockledger/internal/core/domain"
)

const (
	ServiceName = "stockledger.v1.Ledger"

	ListItemsMethod   = "/" + ServiceName + "/ListItems"
	UpdateStockMethod = "/" + ServiceName + "/UpdateStock"
	WatchMethod       = "/" + ServiceName + "/Watch"

	// ActorMetadataKey carries the acting user, like the X-Actor header.
	ActorMetadataKey = "x-actor"
)

type ListItemsRequest struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Category string `json:"category,omitempty"`
}

type UpdateStockRequest struct {
	ID            string `json:"id"`
	CurrentStock  int    `json:"currentStock"`
	ExpectedStock *int   `json:"expectedStock,omitempty"`
}

type WatchRequest struct{}

type LedgerServer interface {
	ListItems(context.Context, *ListItemsRequest) (*domain.ItemPage, error)
	UpdateStock(context.Context, *UpdateStockRequest) (*domain.Item, error)
	Watch(*WatchRequest, Ledger_WatchServer) error
}

type Ledger_WatchServer interface {
	Send(*domain.ChangeEvent) error
	grpc.ServerStream
}

type ledgerWatchServer struct {
	grpc.ServerStream
}

func (x *ledgerWatchServer) Send(m *domain.ChangeEvent) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&Ledger_ServiceDesc, srv)
}

func _Ledger_ListItems_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListItemsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).ListItems(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListItemsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServer).ListItems(ctx, req.(*ListItemsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_UpdateStock_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateStockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServer).UpdateStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: UpdateStockMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServer).UpdateStock(ctx, req.(*UpdateStockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ledger_Watch_Handler(srv any, stream grpc.ServerStream) error {
	m := new(WatchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LedgerServer).Watch(m, &ledgerWatchServer{stream})
}

var Ledger_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListItems", Handler: _Ledger_ListItems_Handler},
		{MethodName: "UpdateStock", Handler: _Ledger_UpdateStock_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: _Ledger_Watch_Handler, ServerStreams: true},
	},
}

type LedgerClient interface {
	ListItems(ctx context.Context, in *ListItemsRequest, opts ...grpc.CallOption) (*domain.ItemPage, error)
	UpdateStock(ctx context.Context, in *UpdateStockRequest, opts ...grpc.CallOption) (*domain.Item, error)
	Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (Ledger_WatchClient, error)
}

type ledgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient {
	return &ledgerClient{cc}
}

func (c *ledgerClient) ListItems(ctx context.Context, in *ListItemsRequest, opts ...grpc.CallOption) (*domain.ItemPage, error) {
	out := new(domain.ItemPage)
	if err := c.cc.Invoke(ctx, ListItemsMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) UpdateStock(ctx context.Context, in *UpdateStockRequest, opts ...grpc.CallOption) (*domain.Item, error) {
	out := new(domain.Item)
	if err := c.cc.Invoke(ctx, UpdateStockMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (Ledger_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &Ledger_ServiceDesc.Streams[0], WatchMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &ledgerWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Ledger_WatchClient interface {
	Recv() (*domain.ChangeEvent, error)
	grpc.ClientStream
}

type ledgerWatchClient struct {
	grpc.ClientStream
}

func (x *ledgerWatchClient) Recv() (*domain.ChangeEvent, error) {
	m := new(domain.ChangeEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
