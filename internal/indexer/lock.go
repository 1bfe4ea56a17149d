package indexer

import "sync/atomic"

// pendingFlag marks that a coalesced refresh is queued but not yet started.
// Triggers that find the flag set are dropped; the queued run will see their changes.
type pendingFlag struct {
	state atomic.Int32 // 0 = clear, 1 = pending
}

// TrySet sets the flag and reports whether this caller set it
func (f *pendingFlag) TrySet() bool {
	return f.state.CompareAndSwap(0, 1)
}

// Clear is called by the worker when it picks up the queued refresh
func (f *pendingFlag) Clear() {
	f.state.Store(0)
}

// IsSet reports whether a coalesced refresh is waiting
func (f *pendingFlag) IsSet() bool {
	return f.state.Load() == 1
}
