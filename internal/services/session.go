package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/geometry"
	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/internal/perclos"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrStaleResult    = errors.New("stale detector result")
	ErrForeignSession = errors.New("detector result belongs to another session")
	ErrNoDetector     = errors.New("session has no landmark detector")
	ErrAlreadyStarted = errors.New("session already started")
)

// Detector is an asynchronous landmark detector bound to one session.
// DetectAsync returns as soon as the frame is submitted; the completion is
// delivered through the callback given to the DetectorFactory.
type Detector interface {
	DetectAsync(ctx context.Context, frame models.Frame) error
	Close() error
}

// DetectorFactory opens a detector for a session. deliver may be called
// from any goroutine.
type DetectorFactory func(ctx context.Context, sessionID string, delegate models.Delegate, deliver func(models.DetectorOutput)) (Detector, error)

type SessionOptions struct {
	Source   string // "grpc", "websocket", ...
	Strict   bool   // panic on processing after teardown
	Metrics  *Metrics
	Detector DetectorFactory
}

// Session runs the frame-to-metric pipeline for one detection session:
// extractor -> EAR -> aggregator -> classifier -> publisher.
//
// Lifecycle: NewSession -> Start -> SubmitFrame/Deliver -> Stop.
// A single worker goroutine owns the aggregator; detector completions and
// captured frames reach it through latest-value slots, so stale work is
// dropped instead of queued.
type Session struct {
	id        string
	source    string
	startedAt time.Time
	cfg       config.Pipeline
	strict    bool
	logger    *slog.Logger

	extractor  *geometry.Extractor
	agg        *perclos.Aggregator
	thresholds perclos.Thresholds
	pub        *Publisher
	metrics    *Metrics

	frames   *Slot[models.Frame]
	results  *Slot[models.DetectorOutput]
	factory  DetectorFactory
	detector Detector
	frameSeq atomic.Uint64

	lastSeq uint64 // worker-owned

	started  atomic.Bool
	closing  atomic.Bool
	torndown atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewSession(cfg config.Pipeline, opts SessionOptions) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	extractor, err := geometry.NewExtractor(cfg.Topology)
	if err != nil {
		return nil, err
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		source:     opts.Source,
		startedAt:  time.Now(),
		cfg:        cfg,
		strict:     opts.Strict,
		logger:     log.With("session", id, "source", opts.Source),
		extractor:  extractor,
		agg:        perclos.NewAggregator(cfg),
		thresholds: perclos.ThresholdsFrom(cfg),
		pub:        NewPublisher(),
		metrics:    metrics,
		frames:     NewSlot[models.Frame](),
		results:    NewSlot[models.DetectorOutput](),
		factory:    opts.Detector,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Config() config.Pipeline { return s.cfg }
func (s *Session) Publisher() *Publisher   { return s.pub }

// Info summarizes the session for inspection endpoints.
func (s *Session) Info() models.SessionInfo {
	info := models.SessionInfo{ID: s.id, Source: s.source, StartedAt: s.startedAt}
	if r, _, ok := s.pub.Latest(); ok {
		info.Latest = &r
	}
	return info
}

// Start opens the detector (if any) and spawns the worker.
func (s *Session) Start(ctx context.Context) error {
	if s.closing.Load() {
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if s.factory != nil {
		det, err := s.factory(ctx, s.id, s.cfg.Delegate, func(out models.DetectorOutput) { s.Deliver(out) })
		if err != nil {
			close(s.done)
			return fmt.Errorf("open detector: %w", err)
		}
		s.detector = det
	}

	go s.run(ctx)
	s.logger.Info("session started",
		"window_frames", s.cfg.WindowFrames(), "ear_threshold", s.cfg.EARThreshold, "delegate", s.cfg.Delegate)
	return nil
}

// SubmitFrame hands a captured frame to the worker for detection. If the
// worker has not picked up the previous frame yet, that frame is dropped.
func (s *Session) SubmitFrame(frame models.Frame) error {
	if s.closing.Load() {
		return ErrSessionClosed
	}
	if s.factory == nil {
		return ErrNoDetector
	}
	if frame.Seq == 0 {
		frame.Seq = s.frameSeq.Add(1)
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	if s.frames.Offer(frame) {
		s.metrics.IncrementDroppedFrames()
	}
	return nil
}

// Deliver is the detector completion callback. It never blocks; an
// unprocessed older completion is replaced. Returns false once the session
// is closing.
func (s *Session) Deliver(out models.DetectorOutput) bool {
	if s.closing.Load() {
		s.metrics.AddDiscarded(1)
		return false
	}
	if s.results.Offer(out) {
		s.metrics.IncrementDroppedResults()
	}
	return true
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case frame := <-s.frames.C():
			if s.closing.Load() {
				continue
			}
			if err := s.detector.DetectAsync(ctx, frame); err != nil {
				s.logger.Warn("frame submission failed", "seq", frame.Seq, "error", err)
				s.process(models.DetectorOutput{
					Seq:       frame.Seq,
					Timestamp: frame.Timestamp,
					Err:       &models.DetectorError{Message: err.Error(), Code: models.OtherError},
				})
			}
		case out := <-s.results.C():
			if s.closing.Load() {
				s.metrics.AddDiscarded(1)
				continue
			}
			s.process(out)
		}
	}
}

func (s *Session) process(out models.DetectorOutput) {
	if _, err := s.Process(out); err != nil {
		s.logger.Debug("detector result discarded", "seq", out.Seq, "error", err)
	}
}

// Process runs one pipeline pass and publishes its result. It must not be
// called concurrently; the worker is its only caller once Start was called.
func (s *Session) Process(out models.DetectorOutput) (models.Result, error) {
	if s.torndown.Load() {
		if s.strict {
			panic("services: detector result processed after session teardown")
		}
		s.metrics.AddDiscarded(1)
		return models.Result{}, ErrSessionClosed
	}
	if out.SessionID != "" && out.SessionID != s.id {
		s.metrics.AddDiscarded(1)
		return models.Result{}, fmt.Errorf("%w: %s", ErrForeignSession, out.SessionID)
	}
	if out.Seq != 0 {
		if out.Seq <= s.lastSeq {
			s.metrics.AddDiscarded(1)
			return models.Result{}, fmt.Errorf("%w: seq %d after %d", ErrStaleResult, out.Seq, s.lastSeq)
		}
		s.lastSeq = out.Seq
	}

	start := time.Now()
	ts := out.Timestamp
	if ts.IsZero() {
		ts = start
	}
	res := models.Result{SessionID: s.id, Seq: out.Seq, Kind: models.KindMetric, Timestamp: ts}

	if out.Err != nil {
		// The window receives no sample for a failed frame.
		s.metrics.IncrementDetectorErrors()
		s.logger.Warn("landmark detector error", "seq", out.Seq, "code", out.Err.Code, "message", out.Err.Message)
		res.Kind = models.KindError
		res.Error = out.Err
		s.fill(&res, s.agg.Stats().Perclos)
		s.pub.Publish(res)
		return res, nil
	}

	var p float64
	if len(out.Faces) == 0 {
		s.metrics.IncrementNoFace()
		p = s.agg.IngestNoFace()
	} else {
		left, right, err := s.extractor.Extract(out.Faces[0].Landmarks, out.FrameWidth, out.FrameHeight)
		if err != nil {
			s.metrics.IncrementMalformed()
			s.logger.Warn("skipping malformed landmarks", "seq", out.Seq, "error", err)
			p = s.agg.IngestNoFace()
		} else {
			leftEAR, lerr := geometry.EAR(left)
			rightEAR, rerr := geometry.EAR(right)
			if lerr != nil || rerr != nil {
				s.metrics.IncrementDegenerate()
				s.logger.Debug("degenerate eye geometry", "seq", out.Seq, "left_ear", leftEAR, "right_ear", rightEAR)
			}
			m := s.agg.Measure(leftEAR, rightEAR, ts)
			p = s.agg.Ingest(m)
			res.FacePresent = true
			res.Metrics = &m
			res.Geometry = models.NewEyeGeometry(left, right)
		}
	}

	s.fill(&res, p)
	s.pub.Publish(res)
	s.metrics.RecordFrame(time.Since(start))
	return res, nil
}

func (s *Session) fill(res *models.Result, p float64) {
	st := s.agg.Stats()
	res.Perclos = p
	res.Label = s.thresholds.Classify(p)
	res.WindowLen = st.Len
	res.WindowCap = st.Cap
}

// Stop tears the session down in order: refuse new work, stop the worker,
// release the detector, discard pending work, reset the window and wake
// publisher readers. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.closing.Store(true)
		close(s.stopCh)
		if s.started.Load() {
			<-s.done
		}

		if s.detector != nil {
			if err := s.detector.Close(); err != nil {
				s.logger.Warn("closing detector", "error", err)
			}
		}
		s.metrics.AddDiscarded(s.frames.Drain() + s.results.Drain())

		s.torndown.Store(true)
		s.agg.Reset()
		s.pub.Close()
		s.logger.Info("session stopped")
	})
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
