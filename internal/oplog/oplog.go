// Package oplog adapts wallet operation callbacks onto a zap logger.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"go.uber.org/zap"
)

// Logger emits one structured log line per wallet operation.
type Logger struct {
	zapLogger *zap.Logger
}

// New returns a Logger writing to the supplied zap logger.
func New(zapLogger *zap.Logger) *Logger {
	return &Logger{zapLogger: zapLogger}
}

// LogOperation implements wallet.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("game_id", entry.GameID.String()),
		zap.Int("actions", entry.Actions),
		zap.Int64("balance", entry.Balance.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		logger.zapLogger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	logger.zapLogger.Info("wallet operation", fields...)
}
