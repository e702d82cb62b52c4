package relay

import "go.uber.org/atomic"

// Metrics counts relay traffic for one Client
type Metrics struct {
	FramesIn      atomic.Int64
	FramesOut     atomic.Int64
	DroppedFrames atomic.Int64
	InvalidEvents atomic.Int64
	Failovers     atomic.Int64
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"frames_in":      m.FramesIn.Load(),
		"frames_out":     m.FramesOut.Load(),
		"dropped_frames": m.DroppedFrames.Load(),
		"invalid_events": m.InvalidEvents.Load(),
		"failovers":      m.Failovers.Load(),
	}
}
