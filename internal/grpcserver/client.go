package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LedgerQueryClient calls paywebhook.v1.LedgerQuery.
type LedgerQueryClient struct {
	conn grpc.ClientConnInterface
}

// NewLedgerQueryClient wraps an established connection.
func NewLedgerQueryClient(conn grpc.ClientConnInterface) *LedgerQueryClient {
	return &LedgerQueryClient{conn: conn}
}

// GetBalance returns the buyer's credit balance.
func (client *LedgerQueryClient) GetBalance(ctx context.Context, buyerID string, options ...grpc.CallOption) (int64, error) {
	response := new(wrapperspb.Int64Value)
	if err := client.conn.Invoke(ctx, getBalanceMethod, wrapperspb.String(buyerID), response, options...); err != nil {
		return 0, err
	}
	return response.GetValue(), nil
}

// CountTransactions returns how many ledger rows carry providerTransactionID.
func (client *LedgerQueryClient) CountTransactions(ctx context.Context, providerTransactionID string, options ...grpc.CallOption) (int64, error) {
	response := new(wrapperspb.Int64Value)
	if err := client.conn.Invoke(ctx, countTransactionsMethod, wrapperspb.String(providerTransactionID), response, options...); err != nil {
		return 0, err
	}
	return response.GetValue(), nil
}

// ListTransactions returns up to limit transactions older than beforeUnixUTC (zero means now).
func (client *LedgerQueryClient) ListTransactions(ctx context.Context, buyerID string, beforeUnixUTC int64, limit int, options ...grpc.CallOption) ([]*structpb.Struct, error) {
	request, err := structpb.NewStruct(map[string]any{
		fieldBuyerID:       buyerID,
		fieldBeforeUnixUTC: beforeUnixUTC,
		fieldLimit:         limit,
	})
	if err != nil {
		return nil, err
	}
	response := new(structpb.ListValue)
	if err := client.conn.Invoke(ctx, listTransactionsMethod, request, response, options...); err != nil {
		return nil, err
	}
	entries := make([]*structpb.Struct, 0, len(response.GetValues()))
	for _, value := range response.GetValues() {
		entries = append(entries, value.GetStructValue())
	}
	return entries, nil
}
