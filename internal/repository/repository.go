package repository

import (
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/repository/sqlite"
)

// NewDocumentStore returns a SQLite-backed store at path. The path is
// typically from policy.StateFile(); signalPath from policy.SignalFilePath()
// (empty disables cross-process change detection).
func NewDocumentStore(path, signalPath string, logger *zap.Logger) (*sqlite.Store, error) {
	opts := []sqlite.Option{sqlite.WithLogger(logger)}
	if signalPath != "" {
		opts = append(opts, sqlite.WithChangeSignal(signalPath))
	}
	return sqlite.New(path, opts...)
}
