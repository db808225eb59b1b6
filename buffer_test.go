package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendRetrieve(t *testing.T) {
	b := NewBuffer()
	require.Equal(t, 0, b.ReadableBytes())
	require.Equal(t, bufferCheapPrepend, b.PrependableBytes())

	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, "llo", string(b.Peek()))

	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, bufferCheapPrepend, b.PrependableBytes())
}

func TestBufferRetrieveAllAsString(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("x"))
	b.Append([]byte("y"))
	require.Equal(t, "xy", b.RetrieveAllAsString())
	require.Equal(t, 0, b.ReadableBytes())
}

func TestBufferGrowsPastInitialCapacity(t *testing.T) {
	b := NewBuffer()
	big := make([]byte, bufferInitialSize*4)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	require.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestBufferCompactsInsteadOfGrowingWhenPossible(t *testing.T) {
	b := NewBuffer()
	b.Append(make([]byte, 1000))
	b.Retrieve(900)
	before := len(b.data)

	b.Append(make([]byte, 900))
	assert.Equal(t, before, len(b.data), "should reuse existing storage via compaction")
}

func TestBufferInvariantsHoldAfterMixedOps(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 50; i++ {
		b.Append([]byte("abcdef"))
		if i%3 == 0 {
			b.Retrieve(2)
		}
		require.True(t, b.reader >= 0)
		require.True(t, b.reader <= b.writer)
		require.True(t, b.writer <= len(b.data))
	}
}
