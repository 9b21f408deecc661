package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsSamples(t *testing.T) {
	c := NewCollector(0)
	_, ok := c.Latest()
	assert.False(t, ok)

	c.Publish(result(0, false))
	c.Publish(result(1, true))
	c.Publish(nil)

	samples := c.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, uint64(2), c.Frames())

	first := samples[0]
	assert.False(t, first.HasOdometry)
	assert.Equal(t, 0, first.Obstacles)
	assert.Equal(t, 2, first.Voxels)
	assert.Equal(t, 3.0, first.TotalMs)

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Seq)
	assert.True(t, latest.HasOdometry)
	assert.Equal(t, -0.5, latest.Pose.X)
	assert.Equal(t, 1.0, latest.ObstacleSpeed)
	assert.Len(t, c.LatestVoxels(), 2)
}

func TestCollectorEvictsOldest(t *testing.T) {
	c := NewCollector(3)
	for i := uint64(0); i < 5; i++ {
		c.Publish(result(i, true))
	}

	samples := c.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, []uint64{2, 3, 4}, []uint64{samples[0].Seq, samples[1].Seq, samples[2].Seq})
	assert.Equal(t, uint64(5), c.Frames())

	// Samples returns a copy.
	samples[0].Seq = 99
	assert.Equal(t, uint64(2), c.Samples()[0].Seq)
}
