// Package webhook drives a provider delivery from raw request to acknowledged or rejected.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/normalize"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"go.uber.org/zap"
)

const defaultStoreTimeout = 5 * time.Second

// ErrInvalidProcessorConfig marks a processor that cannot be built.
var ErrInvalidProcessorConfig = errors.New("invalid processor config")

// Delivery is one inbound webhook request.
type Delivery struct {
	Headers signature.Headers
	Body    []byte
}

// Verifier authenticates a delivery.
type Verifier interface {
	Verify(ctx context.Context, headers signature.Headers, body []byte) error
}

// Applier records a purchase and credits the buyer atomically.
type Applier interface {
	Apply(ctx context.Context, event purchase.PurchaseEvent) (purchase.Transaction, error)
}

// Observer receives one call per finished delivery.
type Observer interface {
	RecordDelivery(outcome string, status int, duration time.Duration)
}

// Option configures a Processor.
type Option func(*Processor)

// WithStoreTimeout bounds the storage transaction.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(processor *Processor) {
		if timeout > 0 {
			processor.storeTimeout = timeout
		}
	}
}

// WithObserver wires delivery metrics.
func WithObserver(observer Observer) Option {
	return func(processor *Processor) {
		processor.observer = observer
	}
}

// Processor runs the verify, normalize, apply pipeline for each delivery.
type Processor struct {
	verifier     Verifier
	applier      Applier
	logger       *zap.Logger
	observer     Observer
	storeTimeout time.Duration
	now          func() time.Time
}

// NewProcessor wires a Processor.
func NewProcessor(verifier Verifier, applier Applier, logger *zap.Logger, options ...Option) (*Processor, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier is required", ErrInvalidProcessorConfig)
	}
	if applier == nil {
		return nil, fmt.Errorf("%w: applier is required", ErrInvalidProcessorConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	processor := &Processor{
		verifier:     verifier,
		applier:      applier,
		logger:       logger,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(processor)
		}
	}
	return processor, nil
}

// Process always returns a terminal result; it never panics on malformed input.
func (processor *Processor) Process(ctx context.Context, delivery Delivery) Result {
	started := processor.now()
	result := processor.run(ctx, delivery)
	processor.finish(delivery, result, started)
	return result
}

// Reject records a delivery refused before it reached the pipeline, such as an oversized body.
func (processor *Processor) Reject(delivery Delivery, reason Reason, err error) Result {
	started := processor.now()
	result := Result{State: StateRejected, Reason: reason, Path: []State{StateReceived, StateRejected}, Err: err}
	processor.finish(delivery, result, started)
	return result
}

func (processor *Processor) run(ctx context.Context, delivery Delivery) Result {
	trail := &pathRecorder{path: []State{StateReceived}}

	if err := processor.verifier.Verify(ctx, delivery.Headers, delivery.Body); err != nil {
		if signature.IsTransient(err) {
			return trail.reject(ReasonTransientFailure, err)
		}
		return trail.reject(ReasonAuthFailure, err)
	}
	trail.advance(StateVerified)

	envelope, err := normalize.Decode(delivery.Body)
	if err != nil {
		return trail.reject(ReasonBadPayload, err)
	}
	event, ok, err := normalize.Normalize(envelope)
	if err != nil {
		result := trail.reject(ReasonBadPayload, err)
		return result.withEnvelope(envelope)
	}
	if !ok {
		result := trail.acknowledge(ReasonIgnored)
		return result.withEnvelope(envelope)
	}
	trail.advance(StateNormalized)

	// Detached from the caller: a started transaction always reaches commit or rollback.
	storeContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), processor.storeTimeout)
	defer cancel()
	transaction, err := processor.applier.Apply(storeContext, event)
	if errors.Is(err, purchase.ErrDuplicateTransaction) {
		result := trail.acknowledge(ReasonDuplicate)
		return result.withEnvelope(envelope).withEvent(event)
	}
	if err != nil {
		result := trail.reject(ReasonTransientFailure, err)
		return result.withEnvelope(envelope).withEvent(event)
	}
	trail.advance(StateApplied)
	result := trail.acknowledge(ReasonNone)
	result.Transaction = transaction
	return result.withEnvelope(envelope).withEvent(event)
}

func (processor *Processor) finish(delivery Delivery, result Result, started time.Time) {
	duration := processor.now().Sub(started)
	fields := []zap.Field{
		zap.String("outcome", result.Outcome()),
		zap.Int("status", result.HTTPStatus()),
		zap.String("transmission_id", delivery.Headers.TransmissionID),
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("provider_transaction_id", result.ProviderTransactionID),
		zap.Duration("duration", duration),
	}
	switch {
	case result.Reason == ReasonTransientFailure:
		processor.logger.Error("webhook rejected", append(fields, zap.Error(result.Err))...)
	case result.State == StateRejected:
		processor.logger.Warn("webhook rejected", append(fields, zap.Error(result.Err))...)
	default:
		processor.logger.Info("webhook acknowledged", fields...)
	}
	if processor.observer != nil {
		processor.observer.RecordDelivery(result.Outcome(), result.HTTPStatus(), duration)
	}
}

type pathRecorder struct {
	path []State
}

func (recorder *pathRecorder) advance(state State) {
	recorder.path = append(recorder.path, state)
}

func (recorder *pathRecorder) reject(reason Reason, err error) Result {
	recorder.advance(StateRejected)
	return Result{State: StateRejected, Reason: reason, Path: recorder.path, Err: err}
}

func (recorder *pathRecorder) acknowledge(reason Reason) Result {
	recorder.advance(StateAcknowledged)
	return Result{State: StateAcknowledged, Reason: reason, Path: recorder.path}
}

func (result Result) withEnvelope(envelope normalize.Envelope) Result {
	result.EventID = envelope.ID
	result.EventType = envelope.EventType
	return result
}

func (result Result) withEvent(event purchase.PurchaseEvent) Result {
	result.ProviderTransactionID = event.ProviderTransactionID().String()
	return result
}
