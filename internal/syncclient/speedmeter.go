package syncclient

import "time"

// BlocksSpeedBlocksToInspect is the ring buffer size
// original_source/sync/src/lib.rs calls BLOCKS_SPEED_BLOCKS_TO_INSPECT
// (SPEC_FULL.md §C.3): the rolling window of stored-block intervals used
// to report sync throughput.
const BlocksSpeedBlocksToInspect = 512

// AverageSpeedMeter tracks the rolling average time between consecutive
// stored blocks, over a fixed-size ring buffer of timestamps. Not safe for
// concurrent use; owned by the Client Core's single event loop.
type AverageSpeedMeter struct {
	timestamps [BlocksSpeedBlocksToInspect]time.Time
	count      int
	next       int
}

// NewAverageSpeedMeter returns an empty meter.
func NewAverageSpeedMeter() *AverageSpeedMeter {
	return &AverageSpeedMeter{}
}

// Checkpoint records that a block was stored at t.
func (m *AverageSpeedMeter) Checkpoint(t time.Time) {
	m.timestamps[m.next] = t
	m.next = (m.next + 1) % BlocksSpeedBlocksToInspect
	if m.count < BlocksSpeedBlocksToInspect {
		m.count++
	}
}

// BlocksPerSecond returns the average number of blocks stored per second
// over the window, or 0 if fewer than two samples have been recorded.
func (m *AverageSpeedMeter) BlocksPerSecond() float64 {
	if m.count < 2 {
		return 0
	}
	oldestIdx := m.next
	if m.count < BlocksSpeedBlocksToInspect {
		oldestIdx = 0
	}
	newestIdx := (m.next - 1 + BlocksSpeedBlocksToInspect) % BlocksSpeedBlocksToInspect
	oldest := m.timestamps[oldestIdx]
	newest := m.timestamps[newestIdx]
	elapsed := newest.Sub(oldest)
	if elapsed <= 0 {
		return 0
	}
	return float64(m.count-1) / elapsed.Seconds()
}
