package importer

import (
	"testing"

	"github.com/poiesic/bulkimport/source"
	"github.com/stretchr/testify/assert"
)

func TestDefaultThreadingPolicy_Threshold(t *testing.T) {
	policy := DefaultThreadingPolicy{}
	node := &source.Node{Path: "/a", Container: true}

	assert.False(t, policy.ShouldGrowPool(nil, node, 9, 30, 1), "9 < 30/3")
	assert.True(t, policy.ShouldGrowPool(nil, node, 10, 30, 1))
	assert.True(t, policy.ShouldGrowPool(nil, node, 10, 30, 4))
	assert.False(t, policy.ShouldGrowPool(nil, node, 0, 30, 1))
}

func TestDefaultThreadingPolicy_NeverGrowsAtFive(t *testing.T) {
	policy := DefaultThreadingPolicy{}
	for _, uploaded := range []int{0, 10, 1000, 1 << 30} {
		for _, batchSize := range []int{1, 3, 30, 1000} {
			for _, scheduled := range []int{5, 6, 100} {
				assert.False(t, policy.ShouldGrowPool(nil, nil, uploaded, batchSize, scheduled),
					"uploaded=%d batchSize=%d scheduled=%d", uploaded, batchSize, scheduled)
			}
		}
	}
}

func TestDefaultThreadingPolicy_SmallBatches(t *testing.T) {
	// batchSize/3 rounds down to zero, so any backlog is enough
	assert.True(t, DefaultThreadingPolicy{}.ShouldGrowPool(nil, nil, 0, 2, 1))
}

func TestFixedThreadingPolicy(t *testing.T) {
	assert.False(t, FixedThreadingPolicy{}.ShouldGrowPool(nil, nil, 1000, 30, 1))
}

func TestThreadingPolicyFunc(t *testing.T) {
	var seenParent, seenNode *source.Node
	policy := ThreadingPolicyFunc(func(parent, node *source.Node, uploaded, batchSize, scheduled int) bool {
		seenParent, seenNode = parent, node
		return uploaded > batchSize
	})

	parent := &source.Node{Path: "/p"}
	node := &source.Node{Path: "/p/c"}
	assert.True(t, policy.ShouldGrowPool(parent, node, 31, 30, 1))
	assert.Same(t, parent, seenParent)
	assert.Same(t, node, seenNode)
	assert.False(t, policy.ShouldGrowPool(parent, node, 30, 30, 1))
}
