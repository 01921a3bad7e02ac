// Package oplog writes purchase operation callbacks to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"go.uber.org/zap"
)

// ZapOperationLogger implements purchase.OperationLogger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger returns a logger writing to logger, or a no-op logger when nil.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("purchase")}
}

// LogOperation records one service operation. Failures other than duplicates log at error level.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry purchase.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("buyer_id", entry.BuyerID.String()),
		zap.Int64("credits", entry.Credits.Int64()),
	}
	if entry.ProviderTransactionID.String() != "" {
		fields = append(fields,
			zap.String("provider_transaction_id", entry.ProviderTransactionID.String()),
			zap.String("plan", entry.Plan.String()),
			zap.Int64("amount_minor_units", entry.Amount.Int64()),
			zap.String("source_event_kind", entry.SourceEventKind.String()),
		)
	}
	if entry.Error == nil {
		operationLogger.logger.Info("purchase operation", fields...)
		return
	}
	fields = append(fields, zap.Error(entry.Error))
	if entry.Status == "duplicate" {
		operationLogger.logger.Info("purchase operation", fields...)
		return
	}
	operationLogger.logger.Error("purchase operation", fields...)
}
