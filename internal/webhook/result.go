package webhook

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
)

// State is a step of a delivery's lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateVerified     State = "verified"
	StateNormalized   State = "normalized"
	StateApplied      State = "applied"
	StateAcknowledged State = "acknowledged"
	StateRejected     State = "rejected"
)

// Reason qualifies a terminal state.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonIgnored          Reason = "ignored"
	ReasonDuplicate        Reason = "duplicate"
	ReasonAuthFailure      Reason = "authFailure"
	ReasonBadPayload       Reason = "badPayload"
	ReasonTransientFailure Reason = "transientFailure"
)

const outcomeApplied = "applied"

// Result is the terminal outcome of one delivery.
type Result struct {
	State  State
	Reason Reason
	// Path lists every state the delivery passed through, ending with State.
	Path                  []State
	EventID               string
	EventType             string
	ProviderTransactionID string
	// Transaction is set only when this delivery applied the purchase.
	Transaction purchase.Transaction
	Err         error
}

// HTTPStatus maps the outcome to the response the provider sees.
func (result Result) HTTPStatus() int {
	if result.State == StateAcknowledged {
		return http.StatusOK
	}
	switch result.Reason {
	case ReasonAuthFailure, ReasonBadPayload:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// Outcome is a short label for logs and metrics.
func (result Result) Outcome() string {
	if result.State == StateAcknowledged && result.Reason == ReasonNone {
		return outcomeApplied
	}
	return string(result.Reason)
}

// Applied reports whether this delivery wrote the transaction.
func (result Result) Applied() bool {
	return result.State == StateAcknowledged && result.Reason == ReasonNone
}
