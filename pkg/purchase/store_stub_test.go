package purchase

import (
	"context"
	"sort"
	"sync"
	"testing"
)

type stubState struct {
	transactions []Transaction
	balances     map[string]Credits
}

func (state stubState) clone() stubState {
	copied := stubState{
		transactions: append([]Transaction(nil), state.transactions...),
		balances:     make(map[string]Credits, len(state.balances)),
	}
	for buyer, credits := range state.balances {
		copied.balances[buyer] = credits
	}
	return copied
}

// stubStore keeps state in memory and only publishes a transaction's writes when fn succeeds.
type stubStore struct {
	mutex *sync.Mutex
	state *stubState

	insertError  error
	creditError  error
	balanceError error
	sumError     error
	beginError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		mutex: &sync.Mutex{},
		state: &stubState{balances: map[string]Credits{}},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.beginError != nil {
		return store.beginError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	working := store.state.clone()
	transactionStore := &stubStore{
		mutex:        &sync.Mutex{},
		state:        &working,
		insertError:  store.insertError,
		creditError:  store.creditError,
		balanceError: store.balanceError,
		sumError:     store.sumError,
	}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	*store.state = working
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	if store.insertError != nil {
		return store.insertError
	}
	for _, existing := range store.state.transactions {
		if existing.ProviderTransactionID == transaction.ProviderTransactionID {
			return WrapError("store", "transaction", "duplicate", ErrDuplicateTransaction)
		}
	}
	store.state.transactions = append(store.state.transactions, transaction)
	return nil
}

func (store *stubStore) CreditAccount(_ context.Context, buyerID BuyerID, credits Credits) error {
	if store.creditError != nil {
		return store.creditError
	}
	store.state.balances[buyerID.String()] += credits
	return nil
}

func (store *stubStore) GetBalance(_ context.Context, buyerID BuyerID) (Credits, error) {
	if store.balanceError != nil {
		return 0, store.balanceError
	}
	return store.state.balances[buyerID.String()], nil
}

func (store *stubStore) SumCredits(_ context.Context, buyerID BuyerID) (Credits, int64, error) {
	if store.sumError != nil {
		return 0, 0, store.sumError
	}
	var total Credits
	var count int64
	for _, transaction := range store.state.transactions {
		if transaction.BuyerID == buyerID {
			total += transaction.Credits
			count++
		}
	}
	return total, count, nil
}

func (store *stubStore) CountTransactions(_ context.Context, providerTransactionID ProviderTransactionID) (int64, error) {
	var count int64
	for _, transaction := range store.state.transactions {
		if transaction.ProviderTransactionID == providerTransactionID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) ListTransactions(_ context.Context, buyerID BuyerID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	matches := make([]Transaction, 0)
	for _, transaction := range store.state.transactions {
		if transaction.BuyerID == buyerID && transaction.CreatedUnixUTC < beforeUnixUTC {
			matches = append(matches, transaction)
		}
	}
	sort.SliceStable(matches, func(left, right int) bool {
		return matches[left].CreatedUnixUTC > matches[right].CreatedUnixUTC
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustBuyerID(test *testing.T, raw string) BuyerID {
	test.Helper()
	buyerID, err := NewBuyerID(raw)
	if err != nil {
		test.Fatalf("buyer id: %v", err)
	}
	return buyerID
}

func mustProviderTransactionID(test *testing.T, raw string) ProviderTransactionID {
	test.Helper()
	providerTransactionID, err := NewProviderTransactionID(raw)
	if err != nil {
		test.Fatalf("provider transaction id: %v", err)
	}
	return providerTransactionID
}

func mustCorrelation(test *testing.T, raw string) Correlation {
	test.Helper()
	correlation, err := ParseCorrelation(raw)
	if err != nil {
		test.Fatalf("correlation: %v", err)
	}
	return correlation
}

func mustPurchaseEvent(test *testing.T, providerTransactionID string, correlation string, amount int64) PurchaseEvent {
	test.Helper()
	event, err := NewPurchaseEvent(
		mustProviderTransactionID(test, providerTransactionID),
		mustCorrelation(test, correlation),
		AmountMinorUnits(amount),
		EventKindCaptureCompleted,
		PurchaseEventDetails{Currency: "usd", EventID: "WH-1"},
	)
	if err != nil {
		test.Fatalf("purchase event: %v", err)
	}
	return event
}
