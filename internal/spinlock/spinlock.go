// Package spinlock provides a process-wide spin-lock contract. On a
// hosted Go build, sync/atomic is the faithful stand-in for the
// exclusive-store busy-wait loop a bare-metal target would implement in
// assembly.
package spinlock

import "sync/atomic"

// Lock is a busy-wait mutual-exclusion primitive with a scope-bound
// release, guaranteed on all control-flow exits via defer.
type Lock struct {
	held atomic.Bool
}

// TryLock attempts to acquire the lock without blocking, returning whether
// it succeeded.
func (l *Lock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}

// LockWait busy-waits until the lock is acquired.
func (l *Lock) LockWait() {
	for !l.TryLock() {
	}
}

// Unlock releases the lock. Callers typically pair LockWait with
// `defer l.Unlock()`.
func (l *Lock) Unlock() {
	l.held.Store(false)
}
