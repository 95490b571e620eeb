// Package observe defines the opaque timing-observer interface spec.md §3
// calls for ("the engine reports timing via an opaque observer interface").
// The lock manager and the database's snapshot path call into it; the engine
// itself never logs or aggregates the timings, it only reports them.
package observe

import "time"

// Observer receives timing notifications from the engine core. Implementers
// decide whether/where to export them (a counter, a log line, nothing).
type Observer interface {
	// ObserveLockWait is called once a lock acquisition finishes, with the
	// time spent in the call (nonzero even for an immediate grant) and
	// whether the lock was granted (false on timeout or deadlock).
	ObserveLockWait(resourceID uint64, txnID uint64, wait time.Duration, granted bool)
	// ObserveSnapshot is called after a database snapshot write attempt.
	ObserveSnapshot(dbName string, pages int, dur time.Duration, err error)
}

// Noop is the default Observer: it discards every notification.
type Noop struct{}

func (Noop) ObserveLockWait(uint64, uint64, time.Duration, bool) {}
func (Noop) ObserveSnapshot(string, int, time.Duration, error)  {}

var _ Observer = Noop{}
