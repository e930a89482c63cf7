package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWindow(now time.Time) *UsageWindow {
	return NewUsageWindow("lic-1", TierConfig{RateWindowSeconds: 60, RateWindowMaxRequests: 2}, now)
}

func TestUsageWindow_FixedWindow(t *testing.T) {
	start := date(2026, 5, 10)
	w := testWindow(start)

	assert.True(t, w.CanMakeRequest(start))
	w.RecordRequest(start)
	w.RecordRequest(start.Add(time.Second))
	assert.False(t, w.CanMakeRequest(start.Add(2*time.Second)))
	assert.Equal(t, 0, w.RemainingRequests(start.Add(2*time.Second)))
	assert.Equal(t, int64(58_000), w.TimeUntilResetMs(start.Add(2*time.Second)))

	// the boundary instant still belongs to the window
	end := start.Add(time.Minute)
	assert.False(t, w.IsWindowExpired(end))
	assert.False(t, w.CanMakeRequest(end))

	after := end.Add(time.Millisecond)
	assert.True(t, w.IsWindowExpired(after))
	assert.True(t, w.CanMakeRequest(after))
	assert.Equal(t, 2, w.RemainingRequests(after))
	assert.Equal(t, int64(0), w.TimeUntilResetMs(after))

	w.RecordRequest(after)
	assert.Equal(t, after, w.WindowStart)
	assert.Equal(t, 1, w.RequestCount)
	assert.Equal(t, after, w.LastRequestAt)
}

func TestUsageWindow_DoubleBurstAtBoundary(t *testing.T) {
	start := date(2026, 5, 10)
	w := testWindow(start)

	// quiet until just before the boundary, then a full burst
	late := start.Add(59 * time.Second)
	w.RecordRequest(late)
	w.RecordRequest(late)
	assert.False(t, w.CanMakeRequest(late))

	// a second full burst right after the window rolls over
	next := start.Add(61 * time.Second)
	assert.True(t, w.CanMakeRequest(next))
	w.RecordRequest(next)
	assert.True(t, w.CanMakeRequest(next))
	w.RecordRequest(next)
	assert.False(t, w.CanMakeRequest(next))
}

func TestUsageWindow_ApplyLimits(t *testing.T) {
	start := date(2026, 5, 10)
	w := testWindow(start)

	assert.False(t, w.ApplyLimits(TierConfig{RateWindowSeconds: 60, RateWindowMaxRequests: 2}))
	assert.True(t, w.ApplyLimits(TierConfig{RateWindowSeconds: 15, RateWindowMaxRequests: 20}))
	assert.Equal(t, int64(15_000), w.WindowDurationMs)
	assert.Equal(t, 20, w.MaxRequests)
}
