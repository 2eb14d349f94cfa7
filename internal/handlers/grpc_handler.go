package handlers

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/internal/services"
	"drowsiness-monitor/backend/pkg/rpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DriverIDMetadataKey selects a stored driver profile for an Ingest stream.
const DriverIDMetadataKey = "driver-id"

// After the client half-closes, Ingest waits this long for the result of
// the last frame it received.
const defaultFlushTimeout = time.Second

type GRPCHandler struct {
	rpc.UnimplementedPerclosServiceServer
	pipeline     config.Pipeline
	registry     *services.Registry
	metrics      *services.Metrics
	profiles     ProfileStore
	strict       bool
	flushTimeout time.Duration
}

func NewGRPCHandler(pipeline config.Pipeline, registry *services.Registry, metrics *services.Metrics, profiles ProfileStore, strict bool) *GRPCHandler {
	return &GRPCHandler{
		pipeline:     pipeline,
		registry:     registry,
		metrics:      metrics,
		profiles:     profiles,
		strict:       strict,
		flushTimeout: defaultFlushTimeout,
	}
}

// Ingest runs one session per stream: landmark frames go in, every
// published result comes out. Results a slow client did not pick up in time
// are skipped, never queued.
func (h *GRPCHandler) Ingest(stream rpc.IngestServer) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	cfg := resolvePipeline(ctx, h.pipeline, h.profiles, driverFromMetadata(ctx))
	sess, err := services.NewSession(cfg, services.SessionOptions{Source: "grpc", Strict: h.strict, Metrics: h.metrics})
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := sess.Start(ctx); err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	h.registry.Add(sess)
	defer func() {
		h.registry.Remove(sess.ID())
		sess.Stop()
	}()

	var lastSeq atomic.Uint64
	eof := make(chan struct{})
	errChan := make(chan error, 1)

	// client -> session
	go func() {
		for {
			frame, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				close(eof)
				return
			}
			if err != nil {
				errChan <- err
				return
			}

			out := rpc.ToDetectorOutput(frame)
			if out.Seq == 0 {
				out.Seq = lastSeq.Load() + 1
			}
			if out.Seq > lastSeq.Load() {
				lastSeq.Store(out.Seq)
			}
			sess.Deliver(out)
		}
	}()

	// session -> client
	results := make(chan models.Result)
	go func() {
		var version uint64
		for {
			r, v, err := sess.Publisher().Next(ctx, version)
			if err != nil {
				return
			}
			version = v
			select {
			case results <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		sent  uint64
		eofCh = eof
		flush <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-sess.Done():
			return status.Error(codes.Unavailable, "session stopped")
		case err := <-errChan:
			log.Warn("ingest recv failed", "session", sess.ID(), "error", err)
			return status.Error(codes.Internal, err.Error())
		case <-eofCh:
			eofCh = nil
			if sent >= lastSeq.Load() {
				log.Info("ingest stream completed", "session", sess.ID())
				return nil
			}
			flush = time.After(h.flushTimeout)
		case <-flush:
			log.Info("ingest stream completed", "session", sess.ID(), "unanswered_after", sent)
			return nil
		case r := <-results:
			if err := stream.Send(rpc.FromResult(r)); err != nil {
				return err
			}
			sent = r.Seq
			if eofCh == nil && sent >= lastSeq.Load() {
				log.Info("ingest stream completed", "session", sess.ID())
				return nil
			}
		}
	}
}

func (h *GRPCHandler) Latest(_ context.Context, req *rpc.LatestRequest) (*rpc.ResultMessage, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	sess, ok := h.registry.Get(req.SessionID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %s not found", req.SessionID)
	}
	r, _, ok := sess.Publisher().Latest()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %s has no result yet", req.SessionID)
	}
	return rpc.FromResult(r), nil
}

func driverFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(DriverIDMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// resolvePipeline applies the driver's stored calibration on top of base.
// Lookup failures fall back to base.
func resolvePipeline(ctx context.Context, base config.Pipeline, profiles ProfileStore, driverID string) config.Pipeline {
	if driverID == "" || profiles == nil {
		return base
	}
	p, err := profiles.Get(ctx, driverID)
	if err != nil {
		log.Warn("driver profile not applied", "driver", driverID, "error", err)
		return base
	}
	cfg := base.WithProfile(p)
	if err := cfg.Validate(); err != nil {
		log.Warn("driver profile invalid, using defaults", "driver", driverID, "error", err)
		return base
	}
	return cfg
}
