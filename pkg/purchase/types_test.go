package purchase

import (
	"errors"
	"testing"
)

func TestParseCorrelationRoundTrip(test *testing.T) {
	test.Parallel()
	correlation, err := ParseCorrelation("pro|500|user123")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if correlation.Plan.String() != "pro" || correlation.Credits != 500 || correlation.BuyerID.String() != "user123" {
		test.Fatalf("unexpected correlation: %+v", correlation)
	}
	if correlation.String() != "pro|500|user123" {
		test.Fatalf("expected round trip, got %q", correlation.String())
	}
}

func TestParseCorrelationRejectsMalformedInput(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "non numeric credits", raw: "pro|abc|user123", wantErr: ErrInvalidCredits},
		{name: "negative credits", raw: "pro|-5|user123", wantErr: ErrInvalidCredits},
		{name: "signed credits", raw: "pro|+5|user123", wantErr: ErrInvalidCredits},
		{name: "decimal credits", raw: "pro|5.5|user123", wantErr: ErrInvalidCredits},
		{name: "too few fields", raw: "pro|500", wantErr: ErrInvalidCorrelation},
		{name: "too many fields", raw: "pro|500|user123|extra", wantErr: ErrInvalidCorrelation},
		{name: "empty plan", raw: "|500|user123", wantErr: ErrInvalidPlan},
		{name: "empty buyer", raw: "pro|500| ", wantErr: ErrInvalidBuyerID},
		{name: "empty string", raw: "", wantErr: ErrInvalidCorrelation},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := ParseCorrelation(testCase.raw)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if !errors.Is(err, ErrInvalidCorrelation) {
				test.Fatalf("expected correlation error, got %v", err)
			}
		})
	}
}

func TestParseCreditsAcceptsZero(test *testing.T) {
	test.Parallel()
	credits, err := ParseCredits("0")
	if err != nil || credits != 0 {
		test.Fatalf("expected zero credits, got %d (%v)", credits, err)
	}
}

func TestParseEventKind(test *testing.T) {
	test.Parallel()
	kind, err := ParseEventKind("CaptureCompleted")
	if err != nil || kind != EventKindCaptureCompleted {
		test.Fatalf("unexpected kind %q (%v)", kind, err)
	}
	if _, err := ParseEventKind("Refunded"); !errors.Is(err, ErrInvalidEventKind) {
		test.Fatalf("expected ErrInvalidEventKind, got %v", err)
	}
}

func TestNewPurchaseEventValidation(test *testing.T) {
	test.Parallel()
	validID := mustProviderTransactionID(test, "TXN1")
	validCorrelation := mustCorrelation(test, "basic|100|buyerA")

	testCases := []struct {
		name        string
		id          ProviderTransactionID
		correlation Correlation
		amount      AmountMinorUnits
		kind        EventKind
		wantErr     error
	}{
		{name: "missing id", id: ProviderTransactionID{}, correlation: validCorrelation, amount: 1, kind: EventKindOrderApproved, wantErr: ErrInvalidProviderTransactionID},
		{name: "missing plan", id: validID, correlation: Correlation{BuyerID: validCorrelation.BuyerID}, amount: 1, kind: EventKindOrderApproved, wantErr: ErrInvalidPlan},
		{name: "missing buyer", id: validID, correlation: Correlation{Plan: validCorrelation.Plan}, amount: 1, kind: EventKindOrderApproved, wantErr: ErrInvalidBuyerID},
		{name: "negative credits", id: validID, correlation: Correlation{Plan: validCorrelation.Plan, BuyerID: validCorrelation.BuyerID, Credits: -1}, amount: 1, kind: EventKindOrderApproved, wantErr: ErrInvalidCredits},
		{name: "negative amount", id: validID, correlation: validCorrelation, amount: -1, kind: EventKindOrderApproved, wantErr: ErrInvalidAmountMinorUnits},
		{name: "unknown kind", id: validID, correlation: validCorrelation, amount: 1, kind: EventKind("Refund"), wantErr: ErrInvalidEventKind},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := NewPurchaseEvent(testCase.id, testCase.correlation, testCase.amount, testCase.kind, PurchaseEventDetails{})
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestNewMetadataJSONDefaultsToEmptyObject(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("  ")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected {}, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON("{"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}
