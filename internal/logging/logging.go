package logging

import "go.uber.org/zap"

// New builds the process logger: JSON in production, console in dev.
func New(production bool) *zap.Logger {
	if production {
		logger, err := zap.NewProduction()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
