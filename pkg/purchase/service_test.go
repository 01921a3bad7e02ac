package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

var errStoreFailure = errors.New("store error")

func TestNewServiceRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestApplyRecordsTransactionAndCreditsBuyer(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, WithTransactionIDGenerator(func() string { return "tx-1" }))
	event := mustPurchaseEvent(test, "TXN1", "basic|100|buyerA", 999)

	transaction, err := service.Apply(context.Background(), event)
	if err != nil {
		test.Fatalf("apply: %v", err)
	}
	if transaction.TransactionID.String() != "tx-1" || transaction.ProviderTransactionID.String() != "TXN1" {
		test.Fatalf("unexpected transaction ids: %+v", transaction)
	}
	if transaction.Credits != 100 || transaction.AmountMinorUnits != 999 || transaction.BuyerID.String() != "buyerA" {
		test.Fatalf("unexpected transaction: %+v", transaction)
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(transaction.Metadata.String()), &metadata); err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata["source_event_kind"] != "CaptureCompleted" || metadata["currency"] != "USD" || metadata["event_id"] != "WH-1" {
		test.Fatalf("unexpected metadata: %v", metadata)
	}
	balance, err := service.Balance(context.Background(), mustBuyerID(test, "buyerA"))
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.CreditBalance != 100 {
		test.Fatalf("expected 100 credits, got %d", balance.CreditBalance)
	}
}

func TestApplyTwiceHasNoAdditionalEffect(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	event := mustPurchaseEvent(test, "TXN-retry", "pro|500|user123", 4999)

	if _, err := service.Apply(context.Background(), event); err != nil {
		test.Fatalf("first apply: %v", err)
	}
	_, err := service.Apply(context.Background(), event)
	if !errors.Is(err, ErrDuplicateTransaction) {
		test.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	count, err := service.CountTransactions(context.Background(), event.ProviderTransactionID())
	if err != nil || count != 1 {
		test.Fatalf("expected one transaction, got %d (%v)", count, err)
	}
	balance, err := service.Balance(context.Background(), event.BuyerID())
	if err != nil || balance.CreditBalance != 500 {
		test.Fatalf("expected balance 500, got %d (%v)", balance.CreditBalance, err)
	}
}

func TestApplyConcurrentDuplicatesCreditOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	event := mustPurchaseEvent(test, "TXN-race", "pro|50|racer", 100)

	const deliveries = 8
	var waitGroup sync.WaitGroup
	results := make(chan error, deliveries)
	for index := 0; index < deliveries; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Apply(context.Background(), event)
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrDuplicateTransaction):
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		test.Fatalf("expected exactly one successful apply, got %d", successes)
	}
	balance, _ := service.Balance(context.Background(), event.BuyerID())
	if balance.CreditBalance != 50 {
		test.Fatalf("expected balance 50, got %d", balance.CreditBalance)
	}
}

func TestApplyFailureLeavesNoPartialEffect(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "credit fails after insert", configure: func(store *stubStore) { store.creditError = errStoreFailure }},
		{name: "insert fails", configure: func(store *stubStore) { store.insertError = errStoreFailure }},
		{name: "begin fails", configure: func(store *stubStore) { store.beginError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			event := mustPurchaseEvent(test, "TXN-fail", "pro|10|buyer", 100)

			if _, err := service.Apply(context.Background(), event); !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
			if len(store.state.transactions) != 0 {
				test.Fatalf("expected no transactions, got %d", len(store.state.transactions))
			}
			if store.state.balances["buyer"] != 0 {
				test.Fatalf("expected no balance change, got %d", store.state.balances["buyer"])
			}
		})
	}
}

func TestAuditDetectsMismatch(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	event := mustPurchaseEvent(test, "TXN-audit", "pro|40|auditor", 100)
	if _, err := service.Apply(context.Background(), event); err != nil {
		test.Fatalf("apply: %v", err)
	}

	report, err := service.Audit(context.Background(), event.BuyerID())
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if !report.Consistent() || report.TransactionCount != 1 || report.LedgerCredits != 40 {
		test.Fatalf("unexpected report: %+v", report)
	}

	store.state.balances["auditor"] = 41
	report, err = service.Audit(context.Background(), event.BuyerID())
	if !errors.Is(err, ErrBalanceMismatch) {
		test.Fatalf("expected ErrBalanceMismatch, got %v", err)
	}
	if report.CreditBalance != 41 || report.LedgerCredits != 40 {
		test.Fatalf("unexpected report: %+v", report)
	}
}

func TestAuditReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.sumError = errStoreFailure
	service := mustNewService(test, store)
	if _, err := service.Audit(context.Background(), mustBuyerID(test, "buyer")); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
}

func TestListTransactionsNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := int64(100)
	service, err := NewService(store, func() int64 { clock++; return clock })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	for _, id := range []string{"A", "B", "C"} {
		if _, err := service.Apply(context.Background(), mustPurchaseEvent(test, id, "pro|1|lister", 1)); err != nil {
			test.Fatalf("apply %s: %v", id, err)
		}
	}
	transactions, err := service.ListTransactions(context.Background(), mustBuyerID(test, "lister"), 0, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 || transactions[0].ProviderTransactionID.String() != "C" || transactions[1].ProviderTransactionID.String() != "B" {
		test.Fatalf("unexpected listing: %+v", transactions)
	}
}
