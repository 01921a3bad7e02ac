package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service records purchases in the ledger and credits the buyer in one store transaction.
type Service struct {
	store  Store
	nowFn  func() int64
	newID  func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Apply inserts the ledger transaction for event and credits the buyer atomically.
// A second call with the same provider transaction id fails with ErrDuplicateTransaction and changes nothing.
func (service *Service) Apply(ctx context.Context, event PurchaseEvent) (Transaction, error) {
	transaction, operationError := service.newTransaction(event)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
				return err
			}
			return transactionStore.CreditAccount(ctx, event.BuyerID(), event.Credits())
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:             operationApply,
		ProviderTransactionID: event.ProviderTransactionID(),
		BuyerID:               event.BuyerID(),
		Plan:                  event.Plan(),
		Credits:               event.Credits(),
		Amount:                event.AmountMinorUnits(),
		SourceEventKind:       event.SourceEventKind(),
		Error:                 operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return transaction, nil
}

// Balance returns the buyer's current credit balance. Unknown buyers have a zero balance.
func (service *Service) Balance(ctx context.Context, buyerID BuyerID) (AccountBalance, error) {
	credits, err := service.store.GetBalance(ctx, buyerID)
	if err != nil {
		return AccountBalance{}, err
	}
	return AccountBalance{BuyerID: buyerID, CreditBalance: credits}, nil
}

// ListTransactions lists the buyer's transactions created before a cutoff, newest first.
// Out-of-range limits fall back to the default page size.
func (service *Service) ListTransactions(ctx context.Context, buyerID BuyerID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if beforeUnixUTC <= 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return service.store.ListTransactions(ctx, buyerID, beforeUnixUTC, limit)
}

// CountTransactions returns how many ledger rows carry the provider transaction id (0 or 1).
func (service *Service) CountTransactions(ctx context.Context, providerTransactionID ProviderTransactionID) (int64, error) {
	return service.store.CountTransactions(ctx, providerTransactionID)
}

// Audit reads the balance and the ledger sum in one transaction and checks that they agree.
func (service *Service) Audit(ctx context.Context, buyerID BuyerID) (AuditReport, error) {
	report := AuditReport{BuyerID: buyerID}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.GetBalance(ctx, buyerID)
		if err != nil {
			return err
		}
		ledgerCredits, transactionCount, err := transactionStore.SumCredits(ctx, buyerID)
		if err != nil {
			return err
		}
		report.CreditBalance = balance
		report.LedgerCredits = ledgerCredits
		report.TransactionCount = transactionCount
		return nil
	})
	if operationError == nil && !report.Consistent() {
		operationError = WrapError("service", "balance", "mismatch",
			fmt.Errorf("%w: balance %d, ledger %d", ErrBalanceMismatch, report.CreditBalance, report.LedgerCredits))
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationAudit,
		BuyerID:   buyerID,
		Credits:   report.LedgerCredits,
		Error:     operationError,
	})
	return report, operationError
}

func (service *Service) newTransaction(event PurchaseEvent) (Transaction, error) {
	transactionID, err := NewTransactionID(service.newID())
	if err != nil {
		return Transaction{}, err
	}
	metadata, err := eventMetadata(event)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		TransactionID:         transactionID,
		ProviderTransactionID: event.ProviderTransactionID(),
		BuyerID:               event.BuyerID(),
		Plan:                  event.Plan(),
		AmountMinorUnits:      event.AmountMinorUnits(),
		Credits:               event.Credits(),
		SourceEventKind:       event.SourceEventKind(),
		Metadata:              metadata,
		CreatedUnixUTC:        service.nowFn(),
	}, nil
}

func eventMetadata(event PurchaseEvent) (MetadataJSON, error) {
	fields := map[string]string{metadataKeySourceEventKind: event.SourceEventKind().String()}
	if event.EventID() != "" {
		fields[metadataKeyEventID] = event.EventID()
	}
	if event.Currency() != "" {
		fields[metadataKeyCurrency] = event.Currency()
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %w", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = operationStatusOK
		case errors.Is(entry.Error, ErrDuplicateTransaction):
			entry.Status = operationStatusDuplicate
		default:
			entry.Status = operationStatusError
		}
	}
	service.logger.LogOperation(ctx, entry)
}
