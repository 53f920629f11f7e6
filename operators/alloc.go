package operators

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrResourceExhausted = func(requested, used, limit uint64) error {
		return fmt.Errorf("memory limit of %d bytes exhausted: %d bytes in use, %d more requested", limit, used, requested)
	}
)

type allocLimitPanic struct {
	err error
}

// LimitedAllocator is an arrow allocator that enforces an upper bound on the
// bytes it has handed out. The arrow allocator interface cannot return errors,
// so exceeding the limit panics with an internal sentinel; operator entry
// points turn that back into an error with RecoverAllocLimit.
//
// Not safe for concurrent use. Execution is single threaded per operator
// invocation, and each invocation owns its allocator.
type LimitedAllocator struct {
	mem   memory.Allocator
	limit uint64
	used  uint64
}

func NewLimitedAllocator(mem memory.Allocator, limitBytes uint64) *LimitedAllocator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &LimitedAllocator{mem: mem, limit: limitBytes}
}

func (la *LimitedAllocator) Allocate(size int) []byte {
	la.reserve(uint64(size))
	return la.mem.Allocate(size)
}

func (la *LimitedAllocator) Reallocate(size int, b []byte) []byte {
	if size > len(b) {
		la.reserve(uint64(size - len(b)))
	} else {
		la.used -= uint64(len(b) - size)
	}
	return la.mem.Reallocate(size, b)
}

func (la *LimitedAllocator) Free(b []byte) {
	la.used -= uint64(len(b))
	la.mem.Free(b)
}

// UsedBytes reports the bytes currently handed out.
func (la *LimitedAllocator) UsedBytes() uint64 { return la.used }

func (la *LimitedAllocator) reserve(n uint64) {
	if la.used+n > la.limit {
		panic(allocLimitPanic{err: ErrResourceExhausted(n, la.used, la.limit)})
	}
	la.used += n
}

// RecoverAllocLimit converts a LimitedAllocator panic into the error it
// carries. Use as `defer RecoverAllocLimit(&err)` at an operator entry point.
// Any other panic is re-raised.
func RecoverAllocLimit(err *error) {
	if r := recover(); r != nil {
		if lp, ok := r.(allocLimitPanic); ok {
			*err = lp.err
			return
		}
		panic(r)
	}
}
