package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRetainsWithinCapacity(t *testing.T) {
	b := New(16)
	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b.Snapshot())
	assert.Equal(t, 5, b.Len())
}

func TestBufferEvictsOldestBeyondCapacity(t *testing.T) {
	b := New(8)
	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, []byte("23456789"), b.Snapshot())
	assert.Equal(t, 8, b.Len())
}

func TestBufferNeverExceedsCapacityAcrossManyWrites(t *testing.T) {
	b := New(4)
	for i := 0; i < 100; i++ {
		_, _ = b.Write([]byte{byte(i)})
	}
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []byte{96, 97, 98, 99}, b.Snapshot())
	assert.Equal(t, uint64(100), b.TotalWritten())
}

func TestBufferWriteLargerThanCapacity(t *testing.T) {
	b := New(4)
	_, _ = b.Write([]byte("abcdefgh"))
	assert.Equal(t, []byte("efgh"), b.Snapshot())
}

func TestZeroOrNegativeCapacityFallsBackToDefault(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCapacity, b.cap)
}
