package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName               = "paywebhook.v1.LedgerQuery"
	getBalanceMethod          = "/" + serviceName + "/GetBalance"
	countTransactionsMethod   = "/" + serviceName + "/CountTransactions"
	listTransactionsMethod    = "/" + serviceName + "/ListTransactions"
	serviceDescriptorMetadata = "paywebhook/v1/ledger_query"
)

// LedgerQueryService is the server contract of paywebhook.v1.LedgerQuery.
type LedgerQueryService interface {
	GetBalance(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	CountTransactions(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.ListValue, error)
}

// LedgerQueryServiceDesc describes paywebhook.v1.LedgerQuery. The messages are protobuf well-known types.
var LedgerQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerQueryService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: getBalanceHandler},
		{MethodName: "CountTransactions", Handler: countTransactionsHandler},
		{MethodName: "ListTransactions", Handler: listTransactionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceDescriptorMetadata,
}

// RegisterLedgerQueryService registers service on registrar.
func RegisterLedgerQueryService(registrar grpc.ServiceRegistrar, service LedgerQueryService) {
	registrar.RegisterService(&LedgerQueryServiceDesc, service)
}

func getBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(wrapperspb.StringValue)
	if err := dec(request); err != nil {
		return nil, err
	}
	service := srv.(LedgerQueryService)
	if interceptor == nil {
		return service.GetBalance(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getBalanceMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return service.GetBalance(ctx, request.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, request, info, handler)
}

func countTransactionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(wrapperspb.StringValue)
	if err := dec(request); err != nil {
		return nil, err
	}
	service := srv.(LedgerQueryService)
	if interceptor == nil {
		return service.CountTransactions(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: countTransactionsMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return service.CountTransactions(ctx, request.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, request, info, handler)
}

func listTransactionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := dec(request); err != nil {
		return nil, err
	}
	service := srv.(LedgerQueryService)
	if interceptor == nil {
		return service.ListTransactions(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listTransactionsMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return service.ListTransactions(ctx, request.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}
