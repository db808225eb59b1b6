package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampOrdering(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestTimestampMicroSecondsSinceEpoch(t *testing.T) {
	ts := Now()
	require.Greater(t, ts.MicroSecondsSinceEpoch(), int64(0))
}

func TestTimestampString(t *testing.T) {
	ts := Now()
	require.NotEmpty(t, ts.String())
}
