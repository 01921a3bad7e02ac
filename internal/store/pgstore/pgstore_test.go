package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDatabaseURLEnv = "PAYWEBHOOK_TEST_DATABASE_URL"

var _ purchase.Store = (*Store)(nil)
var _ purchase.Store = (*TxStore)(nil)

func TestIsDuplicateTransaction(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "provider id violation", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: indexProviderTransactionID}, want: true},
		{name: "primary key violation", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "purchase_transactions_pkey"}, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: "23514", ConstraintName: indexProviderTransactionID}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isDuplicateTransaction(testCase.err); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestWrapStoreErrorClassification(test *testing.T) {
	test.Parallel()
	if err := wrapStoreError(errorSubjectTransaction, errorCodeCommit, &pgconn.PgError{Code: pgDeadlockDetectedCode}); !errors.Is(err, purchase.ErrTransactionAborted) {
		test.Fatalf("expected ErrTransactionAborted, got %v", err)
	}
	if err := wrapStoreError(errorSubjectTransaction, errorCodeBegin, context.DeadlineExceeded); !errors.Is(err, purchase.ErrStorageUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected ErrStorageUnavailable wrapping the cause, got %v", err)
	}
}

// TestStoreAgainstPostgres runs only when a disposable database is provided.
func TestStoreAgainstPostgres(test *testing.T) {
	databaseURL := os.Getenv(testDatabaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", testDatabaseURLEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := Migrate(ctx, pool); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	service, err := purchase.NewService(New(pool), func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	suffix := uuid.NewString()
	providerTransactionID, _ := purchase.NewProviderTransactionID("TXN-" + suffix)
	correlation, err := purchase.ParseCorrelation("basic|100|buyer-" + suffix)
	if err != nil {
		test.Fatalf("correlation: %v", err)
	}
	event, err := purchase.NewPurchaseEvent(providerTransactionID, correlation, 999, purchase.EventKindCaptureCompleted, purchase.PurchaseEventDetails{})
	if err != nil {
		test.Fatalf("event: %v", err)
	}

	if _, err := service.Apply(ctx, event); err != nil {
		test.Fatalf("apply: %v", err)
	}
	if _, err := service.Apply(ctx, event); !errors.Is(err, purchase.ErrDuplicateTransaction) {
		test.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	report, err := service.Audit(ctx, correlation.BuyerID)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if report.CreditBalance != 100 || report.TransactionCount != 1 {
		test.Fatalf("unexpected audit report %+v", report)
	}
	transactions, err := service.ListTransactions(ctx, correlation.BuyerID, 0, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 1 || transactions[0].AmountMinorUnits != 999 {
		test.Fatalf("unexpected transactions %+v", transactions)
	}
}
