package purchase

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing purchase operation.
type OperationLog struct {
	Operation             string
	ProviderTransactionID ProviderTransactionID
	BuyerID               BuyerID
	Plan                  Plan
	Credits               Credits
	Amount                AmountMinorUnits
	SourceEventKind       EventKind
	Status                string
	Error                 error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithTransactionIDGenerator overrides how new transaction ids are minted.
func WithTransactionIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.newID = generator
		}
	}
}
