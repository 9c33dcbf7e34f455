// Package logging builds the process-wide logr.Logger.
package logging

import (
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// New returns a stdr-backed logger. "debug" enables V(1) messages, "error"
// keeps only errors; anything else logs at V(0).
func New(level string) logr.Logger {
	std := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	logger := stdr.NewWithOptions(std, stdr.Options{LogCaller: stdr.Error})

	switch level {
	case "debug":
		stdr.SetVerbosity(1)
	case "error":
		stdr.SetVerbosity(0)
		logger = logger.WithSink(errorOnly{logger.GetSink()})
	default:
		stdr.SetVerbosity(0)
	}
	return logger.WithName("thalamus")
}

type errorOnly struct {
	logr.LogSink
}

func (errorOnly) Enabled(int) bool { return false }

func (e errorOnly) WithValues(kv ...any) logr.LogSink {
	return errorOnly{e.LogSink.WithValues(kv...)}
}

func (e errorOnly) WithName(name string) logr.LogSink {
	return errorOnly{e.LogSink.WithName(name)}
}
