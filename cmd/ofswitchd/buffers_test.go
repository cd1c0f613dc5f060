package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolSaveRetrieveRoundTrip(t *testing.T) {
	pool := newBufferPool()

	id, size := pool.Save([]byte("hello"))
	assert.Equal(t, 5, size)

	pkt, ok := pool.Retrieve(id)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), pkt.Buffer)
}

func TestBufferPoolRetrieveIsOneShot(t *testing.T) {
	pool := newBufferPool()

	id, _ := pool.Save([]byte("x"))
	_, ok := pool.Retrieve(id)
	require.True(t, ok)

	_, ok = pool.Retrieve(id)
	assert.False(t, ok, "a buffer id must not be replayable twice")
}

func TestBufferPoolRetrieveUnknownIDFails(t *testing.T) {
	pool := newBufferPool()

	_, ok := pool.Retrieve(42)
	assert.False(t, ok)
}

func TestBufferPoolAssignsDistinctIDs(t *testing.T) {
	pool := newBufferPool()

	id1, _ := pool.Save([]byte("a"))
	id2, _ := pool.Save([]byte("b"))

	assert.NotEqual(t, id1, id2)
}
