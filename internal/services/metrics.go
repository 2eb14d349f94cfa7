package services

import (
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	totalFrames     atomic.Int64
	noFaceFrames    atomic.Int64
	malformedInputs atomic.Int64
	degenerateEyes  atomic.Int64
	detectorErrors  atomic.Int64
	droppedFrames   atomic.Int64
	droppedResults  atomic.Int64
	discarded       atomic.Int64
	totalLatency    atomic.Int64 // microseconds
	activeSessions  atomic.Int32
	lastFrameTime   atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func NewMetrics() *Metrics {
	return &Metrics{}
}

func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics()
	})
	return metricsInstance
}

// RecordFrame counts one processed frame and its pipeline latency.
func (m *Metrics) RecordFrame(latency time.Duration) {
	m.totalFrames.Add(1)
	m.totalLatency.Add(latency.Microseconds())
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementNoFace()         { m.noFaceFrames.Add(1) }
func (m *Metrics) IncrementMalformed()      { m.malformedInputs.Add(1) }
func (m *Metrics) IncrementDegenerate()     { m.degenerateEyes.Add(1) }
func (m *Metrics) IncrementDetectorErrors() { m.detectorErrors.Add(1) }
func (m *Metrics) IncrementDroppedFrames()  { m.droppedFrames.Add(1) }
func (m *Metrics) IncrementDroppedResults() { m.droppedResults.Add(1) }

// AddDiscarded counts results thrown away as stale, foreign or late.
func (m *Metrics) AddDiscarded(n int) {
	m.discarded.Add(int64(n))
}

func (m *Metrics) SetActiveSessions(count int) {
	m.activeSessions.Store(int32(count))
}

func (m *Metrics) GetTotalFrames() int64     { return m.totalFrames.Load() }
func (m *Metrics) GetNoFaceFrames() int64    { return m.noFaceFrames.Load() }
func (m *Metrics) GetMalformedInputs() int64 { return m.malformedInputs.Load() }
func (m *Metrics) GetDegenerateEyes() int64  { return m.degenerateEyes.Load() }
func (m *Metrics) GetDetectorErrors() int64  { return m.detectorErrors.Load() }
func (m *Metrics) GetDroppedFrames() int64   { return m.droppedFrames.Load() }
func (m *Metrics) GetDroppedResults() int64  { return m.droppedResults.Load() }
func (m *Metrics) GetDiscarded() int64       { return m.discarded.Load() }
func (m *Metrics) GetActiveSessions() int    { return int(m.activeSessions.Load()) }
func (m *Metrics) GetLastFrameTime() int64   { return m.lastFrameTime.Load() }

// GetAvgLatency returns the mean per-frame pipeline latency in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames) / 1000
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements WebSocket connection count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// GetWebSocketConnections returns current WebSocket connections
func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

// IncrementWebSocketMessages increments WebSocket message count
func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

// IncrementWebSocketErrors increments WebSocket error count
func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns all counters for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_frames":     m.GetTotalFrames(),
		"no_face_frames":   m.GetNoFaceFrames(),
		"malformed_inputs": m.GetMalformedInputs(),
		"degenerate_eyes":  m.GetDegenerateEyes(),
		"detector_errors":  m.GetDetectorErrors(),
		"dropped_frames":   m.GetDroppedFrames(),
		"dropped_results":  m.GetDroppedResults(),
		"discarded":        m.GetDiscarded(),
		"avg_latency_ms":   m.GetAvgLatency(),
		"active_sessions":  m.GetActiveSessions(),
		"last_frame_time":  m.GetLastFrameTime(),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
