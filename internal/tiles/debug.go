package tiles

import (
	"io"
	"log"
	"sync"
)

var (
	logMu      sync.RWMutex
	opsLogger  *log.Logger
	diagLogger *log.Logger
)

// SetLogWriters configures the ops and diag streams for tile selection.
// Pass nil for either writer to disable that stream.
func SetLogWriters(ops, diag io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	opsLogger = newLogger("[tiles] ", ops)
	diagLogger = newLogger("[tiles] ", diag)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs skipped tiles and other data loss.
func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// diagf logs per-tile decisions.
func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
