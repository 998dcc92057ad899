package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunning(t *testing.T) {
	var r Running
	assert.Nil(t, r.Mean())
	assert.Nil(t, r.Variance())
	assert.Equal(t, 1, r.Value().Len(), "only the count without samples")

	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		r.Add(v)
	}
	require.NotNil(t, r.Mean())
	assert.InDelta(t, 5.0, *r.Mean(), 1e-9)
	require.NotNil(t, r.Variance())
	assert.InDelta(t, 32.0/7.0, *r.Variance(), 1e-9)

	lo, _ := r.Value().Get("min").AsNumber()
	hi, _ := r.Value().Get("max").AsNumber()
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 9.0, hi)

	r.AddPtr(nil)
	assert.Equal(t, 8, r.N())
}

func TestCounterTopK(t *testing.T) {
	c := Counter{"death": 3, "boss": 3, "loot": 1}
	assert.Equal(t, []string{"boss", "death"}, c.TopK(2), "ties break by key")
	assert.Equal(t, []string{"boss", "death", "loot"}, c.TopK(0))

	top := c.TopKValue(1)
	require.Equal(t, 1, top.Len())
	key, _ := top.Index(0).Get("key").AsString()
	assert.Equal(t, "boss", key)
	assert.Equal(t, 0, Counter{}.TopKValue(3).Len())
}

func TestTrendSlope(t *testing.T) {
	var tr Trend
	_, ok := tr.Slope()
	assert.False(t, ok)

	tr.Add(0.5, 1)
	tr.Add(0.5, 3)
	_, ok = tr.Slope()
	assert.False(t, ok, "a single x value has no slope")

	var up Trend
	for _, p := range [][2]float64{{0, 0}, {0.5, 1}, {1, 2}} {
		up.Add(p[0], p[1])
	}
	s, ok := up.Slope()
	assert.True(t, ok)
	assert.InDelta(t, 2.0, s, 1e-9)
	assert.Equal(t, "rising", direction(s, ok))
	assert.Equal(t, "flat", direction(0, false))
	assert.Equal(t, "falling", direction(-0.2, true))
}
