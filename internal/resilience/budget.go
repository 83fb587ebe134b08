package resilience

import (
	"sync/atomic"
)

// Budget caps the total number of retries spent across an entire run.
// It bounds worst-case run duration when many items fail identically:
// once the budget is spent, callers skip retrying and fail fast.
// Safe for concurrent use by evaluation workers.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget creates a budget allowing at most max retries. A max <= 0
// yields a budget that is already spent.
func NewBudget(max int) *Budget {
	b := &Budget{}
	if max > 0 {
		b.remaining.Store(int64(max))
	}
	return b
}

// Consume takes one retry from the budget. It returns false when the
// budget is exhausted, leaving the counter at zero.
func (b *Budget) Consume() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining reports how many retries are left.
func (b *Budget) Remaining() int {
	n := b.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
