package syncclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAverageSpeedMeterEmptyIsZero(t *testing.T) {
	m := NewAverageSpeedMeter()
	require.Equal(t, float64(0), m.BlocksPerSecond())
}

func TestAverageSpeedMeterComputesRate(t *testing.T) {
	m := NewAverageSpeedMeter()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 11; i++ {
		m.Checkpoint(base.Add(time.Duration(i) * time.Second))
	}
	// 11 samples spanning 10 seconds => 1 block/sec.
	require.InDelta(t, 1.0, m.BlocksPerSecond(), 0.001)
}

func TestAverageSpeedMeterWindowSlides(t *testing.T) {
	m := NewAverageSpeedMeter()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < BlocksSpeedBlocksToInspect+10; i++ {
		m.Checkpoint(base.Add(time.Duration(i) * time.Second))
	}
	// Window holds exactly the most recent BlocksSpeedBlocksToInspect
	// samples, spanning BlocksSpeedBlocksToInspect-1 seconds => 1 block/sec
	// regardless of how many samples preceded the window.
	require.InDelta(t, 1.0, m.BlocksPerSecond(), 0.001)
}
