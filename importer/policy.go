package importer

import "github.com/poiesic/bulkimport/source"

// MaxScheduledWorkers is the parallelism above which DefaultThreadingPolicy
// never grows the pool, whatever the backlog.
const MaxScheduledWorkers = 5

// ThreadingPolicy decides whether the pool should gain a worker before the
// dispatcher descends into a container. It is consulted synchronously on the
// dispatcher goroutine and must not block or perform I/O.
type ThreadingPolicy interface {
	// ShouldGrowPool is called with the container's parent (nil at the top
	// level), the container itself, the number of leaf messages dispatched so
	// far, the configured batch size and the current number of workers.
	ShouldGrowPool(parent, node *source.Node, uploaded, batchSize, scheduled int) bool
}

// ThreadingPolicyFunc adapts a function to ThreadingPolicy.
type ThreadingPolicyFunc func(parent, node *source.Node, uploaded, batchSize, scheduled int) bool

func (f ThreadingPolicyFunc) ShouldGrowPool(parent, node *source.Node, uploaded, batchSize, scheduled int) bool {
	return f(parent, node, uploaded, batchSize, scheduled)
}

// DefaultThreadingPolicy grows the pool once a third of a batch has been
// dispatched, up to MaxScheduledWorkers.
type DefaultThreadingPolicy struct{}

func (DefaultThreadingPolicy) ShouldGrowPool(_, _ *source.Node, uploaded, batchSize, scheduled int) bool {
	if uploaded < batchSize/3 {
		return false
	}
	if scheduled >= MaxScheduledWorkers {
		return false
	}
	return true
}

// FixedThreadingPolicy never grows the pool.
type FixedThreadingPolicy struct{}

func (FixedThreadingPolicy) ShouldGrowPool(_, _ *source.Node, _, _, _ int) bool {
	return false
}
