// Package normalize maps provider webhook envelopes onto purchase events.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"github.com/shopspring/decimal"
)

const (
	EventTypeOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	EventTypeCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"

	minorUnitDigits = 2
	maxMinorUnits   = int64(1<<63 - 1)
)

// Envelope is the outer webhook document.
type Envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type resourceMapper struct {
	kind    purchase.EventKind
	extract func(resource json.RawMessage) (resourceFields, error)
}

type resourceFields struct {
	providerTransactionID string
	correlation           string
	amount                string
	currency              string
}

type money struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type orderResource struct {
	ID            string `json:"id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Amount   money  `json:"amount"`
	} `json:"purchase_units"`
}

type captureResource struct {
	ID                string `json:"id"`
	CustomID          string `json:"custom_id"`
	Amount            money  `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

var orderMapper = resourceMapper{kind: purchase.EventKindOrderApproved, extract: extractOrder}

var captureMapper = resourceMapper{kind: purchase.EventKindCaptureCompleted, extract: extractCapture}

// mappers is the single event-type table. Provider names and canonical kind names resolve to the same mapper.
var mappers = map[string]resourceMapper{
	EventTypeOrderApproved:                      orderMapper,
	EventTypeCaptureCompleted:                   captureMapper,
	purchase.EventKindOrderApproved.String():    orderMapper,
	purchase.EventKindCaptureCompleted.String(): captureMapper,
}

// Supported reports whether eventType carries a purchase.
func Supported(eventType string) bool {
	_, ok := mappers[strings.TrimSpace(eventType)]
	return ok
}

// Decode parses raw body bytes into an envelope.
func Decode(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedResource, err)
	}
	if strings.TrimSpace(envelope.EventType) == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type", ErrMalformedResource)
	}
	return envelope, nil
}

// Normalize converts a verified envelope into a purchase event.
// The boolean is false for event types that carry no purchase; those are not errors.
func Normalize(envelope Envelope) (purchase.PurchaseEvent, bool, error) {
	mapper, ok := mappers[strings.TrimSpace(envelope.EventType)]
	if !ok {
		return purchase.PurchaseEvent{}, false, nil
	}
	if len(envelope.Resource) == 0 {
		return purchase.PurchaseEvent{}, false, fmt.Errorf("%w: missing resource", ErrMalformedResource)
	}
	fields, err := mapper.extract(envelope.Resource)
	if err != nil {
		return purchase.PurchaseEvent{}, false, err
	}
	event, err := fields.toEvent(mapper.kind, envelope.ID)
	if err != nil {
		return purchase.PurchaseEvent{}, false, fmt.Errorf("%w: %w", ErrMalformedResource, err)
	}
	return event, true, nil
}

// NormalizeStrict behaves like Normalize but reports unsupported kinds as ErrUnsupportedEventKind.
func NormalizeStrict(envelope Envelope) (purchase.PurchaseEvent, error) {
	event, ok, err := Normalize(envelope)
	if err != nil {
		return purchase.PurchaseEvent{}, err
	}
	if !ok {
		return purchase.PurchaseEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEventKind, envelope.EventType)
	}
	return event, nil
}

// ParseAmountMinorUnits converts a decimal amount string such as "9.99" into minor units.
func ParseAmountMinorUnits(raw string) (purchase.AmountMinorUnits, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", purchase.ErrInvalidAmountMinorUnits, raw)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", purchase.ErrInvalidAmountMinorUnits, raw)
	}
	minor := amount.Shift(minorUnitDigits)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d fractional digits", purchase.ErrInvalidAmountMinorUnits, raw, minorUnitDigits)
	}
	if minor.GreaterThan(decimal.NewFromInt(maxMinorUnits)) {
		return 0, fmt.Errorf("%w: %q is out of range", purchase.ErrInvalidAmountMinorUnits, raw)
	}
	return purchase.NewAmountMinorUnits(minor.IntPart())
}

func extractOrder(resource json.RawMessage) (resourceFields, error) {
	var order orderResource
	if err := json.Unmarshal(resource, &order); err != nil {
		return resourceFields{}, fmt.Errorf("%w: %w", ErrMalformedResource, err)
	}
	if len(order.PurchaseUnits) == 0 {
		return resourceFields{}, fmt.Errorf("%w: order has no purchase units", ErrMalformedResource)
	}
	unit := order.PurchaseUnits[0]
	return resourceFields{
		providerTransactionID: order.ID,
		correlation:           unit.CustomID,
		amount:                unit.Amount.Value,
		currency:              unit.Amount.CurrencyCode,
	}, nil
}

func extractCapture(resource json.RawMessage) (resourceFields, error) {
	var capture captureResource
	if err := json.Unmarshal(resource, &capture); err != nil {
		return resourceFields{}, fmt.Errorf("%w: %w", ErrMalformedResource, err)
	}
	// Captures are keyed by their order id when the provider links one, matching OrderApproved.
	providerTransactionID := capture.ID
	if orderID := strings.TrimSpace(capture.SupplementaryData.RelatedIDs.OrderID); orderID != "" {
		providerTransactionID = orderID
	}
	return resourceFields{
		providerTransactionID: providerTransactionID,
		correlation:           capture.CustomID,
		amount:                capture.Amount.Value,
		currency:              capture.Amount.CurrencyCode,
	}, nil
}

func (fields resourceFields) toEvent(kind purchase.EventKind, eventID string) (purchase.PurchaseEvent, error) {
	providerTransactionID, err := purchase.NewProviderTransactionID(fields.providerTransactionID)
	if err != nil {
		return purchase.PurchaseEvent{}, err
	}
	correlation, err := purchase.ParseCorrelation(fields.correlation)
	if err != nil {
		return purchase.PurchaseEvent{}, err
	}
	amount, err := ParseAmountMinorUnits(fields.amount)
	if err != nil {
		return purchase.PurchaseEvent{}, err
	}
	return purchase.NewPurchaseEvent(providerTransactionID, correlation, amount, kind, purchase.PurchaseEventDetails{
		Currency: fields.currency,
		EventID:  eventID,
	})
}
