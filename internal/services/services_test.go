package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/geometry"
	"drowsiness-monitor/backend/internal/models"
)

const (
	testWidth  = 640
	testHeight = 480
)

func face(leftEAR, rightEAR float64) []models.Face {
	pts := geometry.SyntheticFace(geometry.FaceMesh478, testWidth, testHeight, leftEAR, rightEAR)
	return []models.Face{{Landmarks: pts}}
}

func output(seq uint64, faces []models.Face) models.DetectorOutput {
	return models.DetectorOutput{
		Seq:         seq,
		Timestamp:   time.UnixMilli(int64(seq) * 33),
		FrameWidth:  testWidth,
		FrameHeight: testHeight,
		Faces:       faces,
	}
}

func newTestSession(t *testing.T, cfg config.Pipeline, opts SessionOptions) *Session {
	t.Helper()
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	s, err := NewSession(cfg, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSlot_KeepsNewest(t *testing.T) {
	s := NewSlot[int]()
	if s.Offer(1) {
		t.Fatal("first offer must not replace")
	}
	if !s.Offer(2) || !s.Offer(3) {
		t.Fatal("offers into a full slot must replace")
	}
	if got := <-s.C(); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if s.Drops() != 2 {
		t.Errorf("drops = %d, want 2", s.Drops())
	}
	if s.Drain() != 0 {
		t.Error("drain of an empty slot should discard nothing")
	}
	s.Offer(4)
	if s.Drain() != 1 {
		t.Error("drain should discard the pending value")
	}
}

func TestPublisher_LastValueWins(t *testing.T) {
	p := NewPublisher()
	if _, _, ok := p.Latest(); ok {
		t.Fatal("empty publisher reported a result")
	}

	for seq := uint64(1); seq <= 3; seq++ {
		p.Publish(models.Result{Seq: seq})
	}

	r, version, ok := p.Latest()
	if !ok || r.Seq != 3 || version != 3 {
		t.Fatalf("got seq %d version %d ok %v, want 3/3/true", r.Seq, version, ok)
	}
	if p.Overwrites() != 2 {
		t.Errorf("overwrites = %d, want 2", p.Overwrites())
	}
}

func TestPublisher_NextWaits(t *testing.T) {
	p := NewPublisher()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan uint64, 1)
	go func() {
		r, _, err := p.Next(ctx, 0)
		if err != nil {
			t.Errorf("Next: %v", err)
		}
		got <- r.Seq
	}()

	time.Sleep(10 * time.Millisecond)
	p.Publish(models.Result{Seq: 7})

	select {
	case seq := <-got:
		if seq != 7 {
			t.Errorf("got seq %d, want 7", seq)
		}
	case <-ctx.Done():
		t.Fatal("Next did not wake up")
	}
}

func TestPublisher_CloseWakesReaders(t *testing.T) {
	p := NewPublisher()
	errc := make(chan error, 1)
	go func() {
		_, _, err := p.Next(context.Background(), 0)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()
	p.Close()

	if err := <-errc; !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("got %v, want ErrPublisherClosed", err)
	}
	p.Publish(models.Result{Seq: 1})
	if _, _, ok := p.Latest(); ok {
		t.Error("publish after close should be ignored")
	}
}

func TestSession_PerclosScenario(t *testing.T) {
	cfg := config.DefaultPipeline().WithWindow(1, 5)
	s := newTestSession(t, cfg, SessionOptions{Source: "test"})

	// closed, open, closed, open, closed, open, closed: the last five hold 3 closed
	ears := []float64{0.1, 0.3, 0.1, 0.3, 0.1, 0.3, 0.1}
	var last models.Result
	for i, ear := range ears {
		r, err := s.Process(output(uint64(i+1), face(ear, ear)))
		if err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
		last = r
	}

	if last.WindowLen != 5 || last.WindowCap != 5 {
		t.Errorf("window %d/%d, want 5/5", last.WindowLen, last.WindowCap)
	}
	if math.Abs(last.Perclos-60) > 1e-9 {
		t.Errorf("perclos = %v, want 60", last.Perclos)
	}
	if last.Label != models.Fatigue {
		t.Errorf("label = %v, want Fatigue", last.Label)
	}
	if !last.FacePresent || last.Metrics == nil || !last.Metrics.EyesClosed {
		t.Errorf("last frame should report closed eyes with a face present: %+v", last)
	}
	if last.Geometry == nil || len(last.Geometry.Lines) != 12 {
		t.Error("result should carry eye geometry")
	}

	pub, _, ok := s.Publisher().Latest()
	if !ok || pub.Seq != 7 {
		t.Errorf("published seq %d, want 7", pub.Seq)
	}
}

func TestSession_OneEyeClosedIsOpen(t *testing.T) {
	s := newTestSession(t, config.DefaultPipeline().WithWindow(1, 4), SessionOptions{})

	r, err := s.Process(output(1, face(0.1, 0.3)))
	if err != nil {
		t.Fatal(err)
	}
	if r.Metrics.EyesClosed || r.Perclos != 0 {
		t.Errorf("one closed eye counted as closure: %+v", r.Metrics)
	}
}

func TestSession_NoFaceCountsAsOpen(t *testing.T) {
	metrics := NewMetrics()
	s := newTestSession(t, config.DefaultPipeline().WithWindow(1, 20), SessionOptions{Metrics: metrics})

	var last models.Result
	for i := 1; i <= 10; i++ {
		r, err := s.Process(output(uint64(i), nil))
		if err != nil {
			t.Fatal(err)
		}
		last = r
	}

	if last.FacePresent || last.Metrics != nil || last.Geometry != nil {
		t.Errorf("no-face result should carry no metrics: %+v", last)
	}
	if last.WindowLen != 10 || last.Perclos != 0 || last.Label != models.Alert {
		t.Errorf("got len %d perclos %v label %v, want 10 open samples", last.WindowLen, last.Perclos, last.Label)
	}
	if metrics.GetNoFaceFrames() != 10 {
		t.Errorf("no-face counter = %d, want 10", metrics.GetNoFaceFrames())
	}
}

func TestSession_MalformedLandmarks(t *testing.T) {
	metrics := NewMetrics()
	s := newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})

	short := []models.Face{{Landmarks: make([]models.LandmarkPoint, 100)}}
	r, err := s.Process(output(1, short))
	if err != nil {
		t.Fatal(err)
	}
	if r.FacePresent || r.WindowLen != 1 {
		t.Errorf("malformed frame should add one open sample: %+v", r)
	}
	if metrics.GetMalformedInputs() != 1 {
		t.Errorf("malformed counter = %d, want 1", metrics.GetMalformedInputs())
	}
}

func TestSession_NonFiniteLandmarksStayEncodable(t *testing.T) {
	metrics := NewMetrics()
	s := newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})

	pts := geometry.SyntheticFace(geometry.FaceMesh478, testWidth, testHeight, 0.1, 0.1)
	pts[geometry.FaceMesh478.LeftEye[0]] = models.LandmarkPoint{X: 1e306, Y: 0.4}

	r, err := s.Process(output(1, []models.Face{{Landmarks: pts}}))
	if err != nil {
		t.Fatal(err)
	}
	if r.FacePresent || r.Geometry != nil || r.Metrics != nil || r.WindowLen != 1 {
		t.Errorf("non-finite landmarks should count as one open no-face sample: %+v", r)
	}
	if metrics.GetMalformedInputs() != 1 {
		t.Errorf("malformed counter = %d, want 1", metrics.GetMalformedInputs())
	}
	if _, err := json.Marshal(r); err != nil {
		t.Errorf("result not encodable: %v", err)
	}
}

func TestNewSession_RejectsOversizedWindow(t *testing.T) {
	for _, cfg := range []config.Pipeline{
		config.DefaultPipeline().WithWindow(1<<31, 1<<31),
		config.DefaultPipeline().WithWindow(config.MaxWindowSeconds+1, 1),
	} {
		if _, err := NewSession(cfg, SessionOptions{Metrics: NewMetrics()}); err == nil {
			t.Errorf("window %dx%d accepted", cfg.WindowSeconds, cfg.FrameRateHint)
		}
	}
}

func TestSession_DegenerateEyeIsOpen(t *testing.T) {
	metrics := NewMetrics()
	s := newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})

	pts := geometry.SyntheticFace(geometry.FaceMesh478, testWidth, testHeight, 0.1, 0.1)
	for _, idx := range geometry.FaceMesh478.LeftEye {
		pts[idx] = models.LandmarkPoint{X: 0.3, Y: 0.3}
	}

	r, err := s.Process(output(1, []models.Face{{Landmarks: pts}}))
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(r.Metrics.LeftEAR, 1) {
		t.Errorf("left EAR = %v, want +Inf", r.Metrics.LeftEAR)
	}
	if r.Metrics.EyesClosed || r.Perclos != 0 {
		t.Error("degenerate eye must count as open")
	}
	if metrics.GetDegenerateEyes() != 1 {
		t.Errorf("degenerate counter = %d, want 1", metrics.GetDegenerateEyes())
	}
}

func TestSession_DetectorErrorLeavesWindowUntouched(t *testing.T) {
	s := newTestSession(t, config.DefaultPipeline().WithWindow(1, 4), SessionOptions{})

	if _, err := s.Process(output(1, face(0.1, 0.1))); err != nil {
		t.Fatal(err)
	}

	r, err := s.Process(models.DetectorOutput{
		Seq: 2,
		Err: &models.DetectorError{Message: "delegate unavailable", Code: models.AcceleratorError},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != models.KindError || r.Error == nil || r.Error.Code != models.AcceleratorError {
		t.Fatalf("expected an error event, got %+v", r)
	}
	if r.WindowLen != 1 || r.Perclos != 100 {
		t.Errorf("window changed on detector error: len %d perclos %v", r.WindowLen, r.Perclos)
	}
}

func TestSession_RejectsStaleAndForeign(t *testing.T) {
	s := newTestSession(t, config.DefaultPipeline(), SessionOptions{})

	if _, err := s.Process(output(5, nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Process(output(4, nil)); !errors.Is(err, ErrStaleResult) {
		t.Errorf("got %v, want ErrStaleResult", err)
	}

	foreign := output(6, nil)
	foreign.SessionID = "someone-else"
	if _, err := s.Process(foreign); !errors.Is(err, ErrForeignSession) {
		t.Errorf("got %v, want ErrForeignSession", err)
	}

	own := output(6, nil)
	own.SessionID = s.ID()
	if _, err := s.Process(own); err != nil {
		t.Errorf("own session id rejected: %v", err)
	}
}

func TestSession_ProcessAfterStop(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		s := newTestSession(t, config.DefaultPipeline(), SessionOptions{})
		s.Stop()
		if _, err := s.Process(output(1, nil)); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
		if s.Deliver(output(2, nil)) {
			t.Error("Deliver accepted a result after Stop")
		}
	})

	t.Run("strict", func(t *testing.T) {
		s := newTestSession(t, config.DefaultPipeline(), SessionOptions{Strict: true})
		s.Stop()
		defer func() {
			if recover() == nil {
				t.Error("expected a panic in strict mode")
			}
		}()
		s.Process(output(1, nil))
	})
}

// fakeDetector answers every frame with a face whose eyes match ears[seq].
type fakeDetector struct {
	mu      sync.Mutex
	deliver func(models.DetectorOutput)
	ears    map[uint64]float64
	closed  bool
}

func (f *fakeDetector) DetectAsync(_ context.Context, frame models.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	ear := f.ears[frame.Seq]
	go f.deliver(output(frame.Seq, face(ear, ear)))
	return nil
}

func (f *fakeDetector) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestSession_AsyncPipeline(t *testing.T) {
	det := &fakeDetector{ears: map[uint64]float64{1: 0.1, 2: 0.1}}
	factory := func(_ context.Context, _ string, _ models.Delegate, deliver func(models.DetectorOutput)) (Detector, error) {
		det.deliver = deliver
		return det, nil
	}

	metrics := NewMetrics()
	s := newTestSession(t, config.DefaultPipeline().WithWindow(1, 10), SessionOptions{Detector: factory, Metrics: metrics})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: %v", err)
	}

	var version uint64
	for i := 0; i < 2; i++ {
		if err := s.SubmitFrame(models.Frame{Width: testWidth, Height: testHeight}); err != nil {
			t.Fatalf("SubmitFrame: %v", err)
		}
		r, v, err := s.Publisher().Next(ctx, version)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		version = v
		if !r.FacePresent || !r.Metrics.EyesClosed {
			t.Errorf("frame %d: expected closed eyes, got %+v", i+1, r)
		}
	}

	s.Stop()
	if !det.closed {
		t.Error("Stop did not close the detector")
	}
	if err := s.SubmitFrame(models.Frame{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SubmitFrame after Stop: %v", err)
	}
	if _, _, err := s.Publisher().Next(ctx, version); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Next after Stop: %v", err)
	}
	if st := s.agg.Stats(); st.Len != 0 {
		t.Errorf("window not reset on Stop: %d samples", st.Len)
	}
}

func TestSession_SubmitWithoutDetector(t *testing.T) {
	s := newTestSession(t, config.DefaultPipeline(), SessionOptions{})
	if err := s.SubmitFrame(models.Frame{}); !errors.Is(err, ErrNoDetector) {
		t.Errorf("got %v, want ErrNoDetector", err)
	}
}

func TestRegistry(t *testing.T) {
	metrics := NewMetrics()
	reg := NewRegistry(metrics)

	a := newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})
	b := newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})
	reg.Add(a)
	reg.Add(b)

	if reg.Len() != 2 || metrics.GetActiveSessions() != 2 {
		t.Fatalf("len %d active %d, want 2", reg.Len(), metrics.GetActiveSessions())
	}
	if got, ok := reg.Get(a.ID()); !ok || got != a {
		t.Error("Get did not return the registered session")
	}
	if list := reg.List(); len(list) != 2 {
		t.Errorf("List returned %d sessions, want 2", len(list))
	}

	reg.Remove(a.ID())
	if _, ok := reg.Get(a.ID()); ok {
		t.Error("removed session still registered")
	}

	reg.StopAll()
	if reg.Len() != 0 || metrics.GetActiveSessions() != 0 {
		t.Error("StopAll left sessions behind")
	}
	if err := b.SubmitFrame(models.Frame{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("StopAll did not stop the session: %v", err)
	}
}

func TestRegistry_ConcurrentCountMatches(t *testing.T) {
	metrics := NewMetrics()
	reg := NewRegistry(metrics)

	sessions := make([]*Session, 32)
	for i := range sessions {
		sessions[i] = newTestSession(t, config.DefaultPipeline(), SessionOptions{Metrics: metrics})
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			reg.Add(s)
			if i%2 == 0 {
				reg.Remove(s.ID())
			}
		}(i, s)
	}
	wg.Wait()

	if reg.Len() != len(sessions)/2 {
		t.Fatalf("len %d, want %d", reg.Len(), len(sessions)/2)
	}
	if metrics.GetActiveSessions() != reg.Len() {
		t.Errorf("active sessions %d, registry holds %d", metrics.GetActiveSessions(), reg.Len())
	}
}
