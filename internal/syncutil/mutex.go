// Package syncutil provides thin wrappers around the standard library's
// synchronization primitives that document locking contracts at call
// sites, the way production lock-discipline-heavy code (e.g. an MVCC
// registry shared by many writer and reader goroutines) tends to need.
package syncutil

import "sync"

// Mutex is a mutual exclusion lock that documents its own locking
// contract. AssertHeld is a no-op in every build; it exists so that unlocked-precondition functions can state their
// requirement in code, not just in a comment.
type Mutex struct {
	sync.Mutex
}

// AssertHeld is a documentation aid: functions that require the caller to
// already hold m may call this to make that requirement explicit. It does
// not itself detect violations.
func (m *Mutex) AssertHeld() {}

// RWMutex is a reader/writer mutual exclusion lock with the same
// documentation-only AssertHeld/AssertRHeld aids as Mutex.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld documents that the write lock is expected to be held.
func (rw *RWMutex) AssertHeld() {}

// AssertRHeld documents that at least the read lock is expected to be held.
func (rw *RWMutex) AssertRHeld() {}
