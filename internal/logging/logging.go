// Package logging is the single place that builds loggers for the module.
//
// Every component takes a *zap.SugaredLogger rather than reaching for a
// global, so tests can pass logging.Noop() and production code can pass
// logging.New("host"). Using github.com/ipfs/go-log/v2 for the name means
// libp2p's own subsystem logs (identify, relay, dht, ...) and this module's
// logs share one underlying zap core and one level-control surface.
package logging

import (
	golog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

// New returns a named sugared logger backed by go-log's shared zap core.
func New(name string) *zap.SugaredLogger {
	return &golog.Logger(name).SugaredLogger
}

// SetLevel adjusts the level for a single named logger, e.g. "transport".
func SetLevel(name, level string) error {
	return golog.SetLogLevel(name, level)
}

// Noop discards everything; used by tests that don't want log noise.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
