package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeProcs sets GOMAXPROCS to the container CPU quota.
// Call it at the start of main; the returned function restores the previous value.
func InitializeProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}
	logger.Debug("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
