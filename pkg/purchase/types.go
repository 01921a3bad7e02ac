package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Credits is a non-negative count of account credits.
type Credits int64

// AmountMinorUnits is a non-negative amount in the currency's minor unit (cents).
type AmountMinorUnits int64

// ProviderTransactionID is the provider's globally unique purchase identifier.
type ProviderTransactionID struct {
	value string
}

// TransactionID identifies a stored ledger transaction.
type TransactionID struct {
	value string
}

// BuyerID identifies the account owner credited by a purchase.
type BuyerID struct {
	value string
}

// Plan names the purchased plan.
type Plan struct {
	value string
}

// MetadataJSON stores arbitrary transaction metadata.
type MetadataJSON struct {
	value string
}

// EventKind enumerates the provider event shapes that carry a purchase.
type EventKind string

const (
	EventKindOrderApproved    EventKind = "OrderApproved"
	EventKindCaptureCompleted EventKind = "CaptureCompleted"
)

// NewProviderTransactionID validates and normalizes a provider transaction id.
func NewProviderTransactionID(raw string) (ProviderTransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProviderTransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidProviderTransactionID)
	}
	return ProviderTransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProviderTransactionID) String() string {
	return id.value
}

// NewTransactionID validates a stored transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewBuyerID validates and normalizes a buyer id.
func NewBuyerID(raw string) (BuyerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BuyerID{}, fmt.Errorf("%w: empty value", ErrInvalidBuyerID)
	}
	return BuyerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BuyerID) String() string {
	return id.value
}

// NewPlan validates and normalizes a plan name.
func NewPlan(raw string) (Plan, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Plan{}, fmt.Errorf("%w: empty value", ErrInvalidPlan)
	}
	return Plan{value: trimmed}, nil
}

// String returns the normalized plan name.
func (plan Plan) String() string {
	return plan.value
}

// NewCredits validates a credit count.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// ParseCredits parses a decimal credit count. Anything but a plain non-negative integer is rejected.
func ParseCredits(raw string) (Credits, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.TrimLeft(trimmed, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidCredits, raw)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidCredits, raw)
	}
	return NewCredits(value)
}

// Int64 exposes the raw count.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewAmountMinorUnits validates an amount in minor units.
func NewAmountMinorUnits(raw int64) (AmountMinorUnits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountMinorUnits)
	}
	return AmountMinorUnits(raw), nil
}

// Int64 exposes the raw amount.
func (amount AmountMinorUnits) Int64() int64 {
	return int64(amount)
}

// ParseEventKind validates an event kind value.
func ParseEventKind(raw string) (EventKind, error) {
	switch EventKind(strings.TrimSpace(raw)) {
	case EventKindOrderApproved:
		return EventKindOrderApproved, nil
	case EventKindCaptureCompleted:
		return EventKindCaptureCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, raw)
	}
}

// String returns the event kind name.
func (kind EventKind) String() string {
	return string(kind)
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Correlation is the checkout context echoed back by the provider as plan|credits|buyerId.
type Correlation struct {
	Plan    Plan
	Credits Credits
	BuyerID BuyerID
}

// ParseCorrelation splits a correlation string into exactly three non-empty fields.
func ParseCorrelation(raw string) (Correlation, error) {
	fields := strings.Split(raw, correlationDelimiter)
	if len(fields) != correlationFieldCount {
		return Correlation{}, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidCorrelation, correlationFieldCount, len(fields))
	}
	plan, err := NewPlan(fields[0])
	if err != nil {
		return Correlation{}, fmt.Errorf("%w: %w", ErrInvalidCorrelation, err)
	}
	credits, err := ParseCredits(fields[1])
	if err != nil {
		return Correlation{}, fmt.Errorf("%w: %w", ErrInvalidCorrelation, err)
	}
	buyerID, err := NewBuyerID(fields[2])
	if err != nil {
		return Correlation{}, fmt.Errorf("%w: %w", ErrInvalidCorrelation, err)
	}
	return Correlation{Plan: plan, Credits: credits, BuyerID: buyerID}, nil
}

// String renders the correlation back into its wire form.
func (correlation Correlation) String() string {
	return strings.Join([]string{
		correlation.Plan.String(),
		strconv.FormatInt(correlation.Credits.Int64(), 10),
		correlation.BuyerID.String(),
	}, correlationDelimiter)
}

// PurchaseEvent is a verified, normalized purchase notification.
type PurchaseEvent struct {
	providerTransactionID ProviderTransactionID
	plan                  Plan
	credits               Credits
	buyerID               BuyerID
	amountMinorUnits      AmountMinorUnits
	sourceEventKind       EventKind
	currency              string
	eventID               string
}

// PurchaseEventDetails carries optional provider context recorded with the transaction.
type PurchaseEventDetails struct {
	Currency string
	EventID  string
}

// NewPurchaseEvent validates all fields of a purchase event.
func NewPurchaseEvent(providerTransactionID ProviderTransactionID, correlation Correlation, amount AmountMinorUnits, kind EventKind, details PurchaseEventDetails) (PurchaseEvent, error) {
	if providerTransactionID.String() == "" {
		return PurchaseEvent{}, fmt.Errorf("%w: empty value", ErrInvalidProviderTransactionID)
	}
	if correlation.Plan.String() == "" {
		return PurchaseEvent{}, fmt.Errorf("%w: empty value", ErrInvalidPlan)
	}
	if correlation.BuyerID.String() == "" {
		return PurchaseEvent{}, fmt.Errorf("%w: empty value", ErrInvalidBuyerID)
	}
	if _, err := NewCredits(correlation.Credits.Int64()); err != nil {
		return PurchaseEvent{}, err
	}
	if _, err := NewAmountMinorUnits(amount.Int64()); err != nil {
		return PurchaseEvent{}, err
	}
	if _, err := ParseEventKind(kind.String()); err != nil {
		return PurchaseEvent{}, err
	}
	return PurchaseEvent{
		providerTransactionID: providerTransactionID,
		plan:                  correlation.Plan,
		credits:               correlation.Credits,
		buyerID:               correlation.BuyerID,
		amountMinorUnits:      amount,
		sourceEventKind:       kind,
		currency:              strings.ToUpper(strings.TrimSpace(details.Currency)),
		eventID:               strings.TrimSpace(details.EventID),
	}, nil
}

// ProviderTransactionID returns the idempotency key of the purchase.
func (event PurchaseEvent) ProviderTransactionID() ProviderTransactionID {
	return event.providerTransactionID
}

// Plan returns the purchased plan.
func (event PurchaseEvent) Plan() Plan {
	return event.plan
}

// Credits returns the credits to add.
func (event PurchaseEvent) Credits() Credits {
	return event.credits
}

// BuyerID returns the credited account owner.
func (event PurchaseEvent) BuyerID() BuyerID {
	return event.buyerID
}

// AmountMinorUnits returns the charged amount.
func (event PurchaseEvent) AmountMinorUnits() AmountMinorUnits {
	return event.amountMinorUnits
}

// SourceEventKind returns the provider shape the event was normalized from.
func (event PurchaseEvent) SourceEventKind() EventKind {
	return event.sourceEventKind
}

// Currency returns the ISO currency code, if the provider supplied one.
func (event PurchaseEvent) Currency() string {
	return event.currency
}

// EventID returns the provider's webhook event id, if any.
func (event PurchaseEvent) EventID() string {
	return event.eventID
}

// Transaction is a single immutable purchase record in the ledger.
type Transaction struct {
	TransactionID         TransactionID
	ProviderTransactionID ProviderTransactionID
	BuyerID               BuyerID
	Plan                  Plan
	AmountMinorUnits      AmountMinorUnits
	Credits               Credits
	SourceEventKind       EventKind
	Metadata              MetadataJSON
	CreatedUnixUTC        int64
}

// AccountBalance is the credit balance of a buyer.
type AccountBalance struct {
	BuyerID       BuyerID
	CreditBalance Credits
}

// AuditReport compares the stored balance with the sum of ledger credits.
type AuditReport struct {
	BuyerID          BuyerID
	CreditBalance    Credits
	LedgerCredits    Credits
	TransactionCount int64
}

// Consistent reports whether the balance matches the ledger.
func (report AuditReport) Consistent() bool {
	return report.CreditBalance == report.LedgerCredits
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	CreditAccount(ctx context.Context, buyerID BuyerID, credits Credits) error
	GetBalance(ctx context.Context, buyerID BuyerID) (Credits, error)
	SumCredits(ctx context.Context, buyerID BuyerID) (Credits, int64, error)
	CountTransactions(ctx context.Context, providerTransactionID ProviderTransactionID) (int64, error)
	ListTransactions(ctx context.Context, buyerID BuyerID, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
