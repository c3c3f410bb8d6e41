package rtsched

import (
	"github.com/petermattis/goid"
)

// goroutineID returns the current goroutine's ID, which stands in for the
// identity of an execution context. IDs start at 1, so 0 means no owner.
func goroutineID() uint64 { return uint64(goid.Get()) }
