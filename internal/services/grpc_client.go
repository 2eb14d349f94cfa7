package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/pkg/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// DetectorClient connects sessions to the external landmark detector.
type DetectorClient struct {
	conn   *grpc.ClientConn
	client rpc.LandmarkDetectorClient
	health healthpb.HealthClient
	url    string
}

func NewDetectorClient(url string, extra ...grpc.DialOption) (*DetectorClient, error) {
	log.Info("connecting to landmark detector", "url", url)

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(50*1024*1024),
			grpc.MaxCallSendMsgSize(50*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create detector client for %s: %w", url, err)
	}

	return &DetectorClient{
		conn:   conn,
		client: rpc.NewLandmarkDetectorClient(conn),
		health: healthpb.NewHealthClient(conn),
		url:    url,
	}, nil
}

// Open is a DetectorFactory: it opens one Detect stream for the session and
// forwards every completion to deliver.
func (dc *DetectorClient) Open(ctx context.Context, sessionID string, delegate models.Delegate, deliver func(models.DetectorOutput)) (Detector, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := dc.client.Detect(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not open detect stream: %w", err)
	}

	d := &remoteDetector{
		sessionID: sessionID,
		delegate:  delegate,
		stream:    stream,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go d.recvLoop(deliver)
	return d, nil
}

func (dc *DetectorClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := dc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.LandmarkDetectorName})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (dc *DetectorClient) URL() string { return dc.url }

func (dc *DetectorClient) Close() error {
	if dc.conn != nil {
		return dc.conn.Close()
	}
	return nil
}

type remoteDetector struct {
	sessionID string
	delegate  models.Delegate
	stream    rpc.DetectClient
	cancel    context.CancelFunc

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (d *remoteDetector) DetectAsync(ctx context.Context, frame models.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	select {
	case <-d.done:
		return errors.New("detect stream closed")
	default:
	}
	return d.stream.Send(rpc.ToImageFrame(d.sessionID, frame, d.delegate))
}

func (d *remoteDetector) recvLoop(deliver func(models.DetectorOutput)) {
	defer close(d.done)
	for {
		msg, err := d.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				log.Warn("detect stream failed", "session", d.sessionID, "error", err)
				deliver(models.DetectorOutput{
					SessionID: d.sessionID,
					Timestamp: time.Now(),
					Err:       &models.DetectorError{Message: err.Error(), Code: models.OtherError},
				})
			}
			return
		}
		out := rpc.ToDetectorOutput(msg)
		if out.SessionID == "" {
			out.SessionID = d.sessionID
		}
		deliver(out)
	}
}

// Close half-closes the stream, cancels it and waits for the receiver.
func (d *remoteDetector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.sendMu.Lock()
		err = d.stream.CloseSend()
		d.sendMu.Unlock()
		d.cancel()
		<-d.done
	})
	return err
}
