// Package grpcserver exposes read-only ledger queries over gRPC.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	errorInvalidBuyerID               = "invalid_buyer_id"
	errorInvalidProviderTransactionID = "invalid_provider_transaction_id"
	errorInvalidListLimit             = "invalid_list_limit"
	errorInvalidCursor                = "invalid_before_unix_utc"
	errorInvalidRequest               = "invalid_request"
	errorLedgerUnavailable            = "ledger_unavailable"

	fieldBuyerID               = "buyer_id"
	fieldLimit                 = "limit"
	fieldBeforeUnixUTC         = "before_unix_utc"
	fieldTransactionID         = "transaction_id"
	fieldProviderTransactionID = "provider_transaction_id"
	fieldPlan                  = "plan"
	fieldCredits               = "credits"
	fieldAmountMinorUnits      = "amount_minor_units"
	fieldSourceEventKind       = "source_event_kind"
	fieldMetadata              = "metadata"
	fieldCreatedUnixUTC        = "created_unix_utc"

	maxListTransactionsLimit = 500
)

// Ledger is the read side of the purchase ledger served over gRPC.
type Ledger interface {
	Balance(ctx context.Context, buyerID purchase.BuyerID) (purchase.AccountBalance, error)
	CountTransactions(ctx context.Context, providerTransactionID purchase.ProviderTransactionID) (int64, error)
	ListTransactions(ctx context.Context, buyerID purchase.BuyerID, beforeUnixUTC int64, limit int) ([]purchase.Transaction, error)
}

// LedgerQueryServer implements LedgerQueryService on top of a Ledger.
type LedgerQueryServer struct {
	ledger Ledger
}

// NewLedgerQueryServer constructs a gRPC server for ledger reads.
func NewLedgerQueryServer(ledger Ledger) *LedgerQueryServer {
	return &LedgerQueryServer{ledger: ledger}
}

// GetBalance returns the credit balance of the buyer named by request.
func (server *LedgerQueryServer) GetBalance(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	buyerID, err := purchase.NewBuyerID(request.GetValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.ledger.Balance(ctx, buyerID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return wrapperspb.Int64(balance.CreditBalance.Int64()), nil
}

// CountTransactions returns how many ledger rows carry the provider transaction id.
func (server *LedgerQueryServer) CountTransactions(ctx context.Context, request *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	providerTransactionID, err := purchase.NewProviderTransactionID(request.GetValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	count, err := server.ledger.CountTransactions(ctx, providerTransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return wrapperspb.Int64(count), nil
}

// ListTransactions pages through a buyer's transactions, newest first.
// The request carries buyer_id, and optionally limit and before_unix_utc.
func (server *LedgerQueryServer) ListTransactions(ctx context.Context, request *structpb.Struct) (*structpb.ListValue, error) {
	fields := request.GetFields()
	buyerID, err := purchase.NewBuyerID(fields[fieldBuyerID].GetStringValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, ok := wholeNumber(fields[fieldLimit])
	if !ok || limit < 0 || limit > maxListTransactionsLimit {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	before, ok := wholeNumber(fields[fieldBeforeUnixUTC])
	if !ok || before < 0 {
		return nil, status.Error(codes.InvalidArgument, errorInvalidCursor)
	}
	transactions, err := server.ledger.ListTransactions(ctx, buyerID, before, int(limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	values := make([]*structpb.Value, 0, len(transactions))
	for _, transaction := range transactions {
		entry, err := transactionStruct(transaction)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, structpb.NewStructValue(entry))
	}
	return &structpb.ListValue{Values: values}, nil
}

func transactionStruct(transaction purchase.Transaction) (*structpb.Struct, error) {
	var metadata any
	if err := json.Unmarshal([]byte(transaction.Metadata.String()), &metadata); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		fieldTransactionID:         transaction.TransactionID.String(),
		fieldProviderTransactionID: transaction.ProviderTransactionID.String(),
		fieldBuyerID:               transaction.BuyerID.String(),
		fieldPlan:                  transaction.Plan.String(),
		fieldCredits:               transaction.Credits.Int64(),
		fieldAmountMinorUnits:      transaction.AmountMinorUnits.Int64(),
		fieldSourceEventKind:       transaction.SourceEventKind.String(),
		fieldMetadata:              metadata,
		fieldCreatedUnixUTC:        transaction.CreatedUnixUTC,
	})
}

// wholeNumber reads an optional integral number field. Absent fields read as zero.
func wholeNumber(value *structpb.Value) (int64, bool) {
	if value == nil {
		return 0, true
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	if math.IsNaN(number.NumberValue) || math.IsInf(number.NumberValue, 0) || number.NumberValue != math.Trunc(number.NumberValue) {
		return 0, false
	}
	if math.Abs(number.NumberValue) > 1<<53 {
		return 0, false
	}
	return int64(number.NumberValue), true
}

func mapToGRPCError(source error) error {
	if errors.Is(source, purchase.ErrInvalidBuyerID) {
		return status.Error(codes.InvalidArgument, errorInvalidBuyerID)
	}
	if errors.Is(source, purchase.ErrInvalidProviderTransactionID) {
		return status.Error(codes.InvalidArgument, errorInvalidProviderTransactionID)
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if purchase.IsTransient(source) {
		return status.Error(codes.Unavailable, errorLedgerUnavailable)
	}
	return status.Error(codes.Internal, source.Error())
}
