package redisholder

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A reconnect may fall from a cluster client to a single-node client (or
// back); the holder must survive a swap across client kinds.
func TestSwapAcrossClientKinds(t *testing.T) {
	single := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	cluster := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"localhost:0"}})

	h := NewHolder(single)
	require.NotPanics(t, func() {
		old := h.swap(cluster)
		assert.Same(t, single, old)
	})
	assert.Same(t, cluster, h.Get())

	require.NotPanics(t, func() {
		old := h.swap(single)
		assert.Same(t, cluster, old)
	})
	assert.Same(t, single, h.Get())
}

func TestGetReturnsInitialClient(t *testing.T) {
	single := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	h := NewHolder(single)
	assert.Same(t, single, h.Get())
}
