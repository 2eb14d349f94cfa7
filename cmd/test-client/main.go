package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"drowsiness-monitor/backend/internal/geometry"
	"drowsiness-monitor/backend/pkg/rpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

const (
	frameWidth  = 640
	frameHeight = 480
)

var (
	backendURL = flag.String("http", "http://localhost:8081", "backend HTTP base URL")
	grpcAddr   = flag.String("grpc", "localhost:50051", "backend gRPC address")
	frames     = flag.Int("frames", 90, "number of synthetic frames to stream")
	fps        = flag.Int("fps", 30, "synthetic frame rate")
	driver     = flag.String("driver", "", "driver profile to apply")
)

func testHealth() error {
	fmt.Println("\n[TEST] Testing /api/health...")
	return printGET("/api/health")
}

func testGRPCHealth(conn *grpc.ClientConn) error {
	fmt.Println("\n[TEST] Testing gRPC health...")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.PerclosServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Printf("✓ gRPC health: %s\n", resp.GetStatus())
	return nil
}

// eyeOpenness simulates a blink every second and a long closure in the
// middle of the run.
func eyeOpenness(i, n, fps int) float64 {
	if i > n/3 && i < n/3+fps {
		return 0.08
	}
	if i%fps < 4 {
		return 0.1
	}
	return 0.3
}

// testIngest streams synthetic landmark frames in lock-step and returns the
// session id.
func testIngest(conn *grpc.ClientConn) (string, error) {
	fmt.Printf("\n[TEST] Streaming %d synthetic frames...\n", *frames)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if *driver != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "driver-id", *driver)
	}

	stream, err := rpc.NewPerclosServiceClient(conn).Ingest(ctx)
	if err != nil {
		return "", fmt.Errorf("ingest failed: %w", err)
	}

	var sessionID string
	start := time.Now()
	interval := time.Second / time.Duration(*fps)
	for i := 0; i < *frames; i++ {
		ear := eyeOpenness(i, *frames, *fps)
		pts := geometry.SyntheticFace(geometry.FaceMesh478, frameWidth, frameHeight, ear, ear)
		frame := rpc.FromLandmarks(uint64(i+1), start.Add(time.Duration(i)*interval), frameWidth, frameHeight, pts)

		if err := stream.Send(frame); err != nil {
			return "", fmt.Errorf("send frame %d: %w", i+1, err)
		}
		res, err := stream.Recv()
		if err != nil {
			return "", fmt.Errorf("recv frame %d: %w", i+1, err)
		}
		sessionID = res.SessionID
		if i%(*fps/2+1) == 0 || i == *frames-1 {
			fmt.Printf("  seq=%-4d perclos=%6.2f%% label=%-7s window=%d/%d\n",
				res.Seq, res.Perclos, res.Label, res.WindowLen, res.WindowCap)
		}
	}

	// keep the session alive for the HTTP checks below
	latest, err := rpc.NewPerclosServiceClient(conn).Latest(ctx, &rpc.LatestRequest{SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("latest failed: %w", err)
	}
	fmt.Printf("✓ Latest: seq=%d perclos=%.2f%% label=%s\n", latest.Seq, latest.Perclos, latest.Label)

	if err := testResult(sessionID); err != nil {
		return "", err
	}

	if err := stream.CloseSend(); err != nil {
		return "", err
	}
	if _, err := stream.Recv(); err != io.EOF {
		return "", fmt.Errorf("expected end of stream, got %v", err)
	}
	fmt.Printf("✓ Session %s completed in %v\n", sessionID, time.Since(start).Round(time.Millisecond))
	return sessionID, nil
}

func testResult(sessionID string) error {
	fmt.Println("\n[TEST] Testing /api/result...")
	return printGET("/api/result?session=" + sessionID)
}

func testMetrics() error {
	fmt.Println("\n[TEST] Testing /api/metrics...")
	return printGET("/api/metrics")
}

func printGET(path string) error {
	resp, err := http.Get(*backendURL + path)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	var pretty map[string]interface{}
	if json.Unmarshal(body, &pretty) == nil {
		if out, err := json.MarshalIndent(pretty, "  ", "  "); err == nil {
			body = out
		}
	}
	fmt.Printf("✓ %s: %s\n", path, body)
	return nil
}

func main() {
	flag.Parse()

	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("DROWSINESS MONITOR - Backend Testing Client")
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("\n[INFO] Backend HTTP:", *backendURL, " gRPC:", *grpcAddr)

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("could not create gRPC client: %v", err)
	}
	defer conn.Close()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Health Check", testHealth},
		{"gRPC Health", func() error { return testGRPCHealth(conn) }},
		{"Ingest", func() error { _, err := testIngest(conn); return err }},
		{"Metrics", testMetrics},
	}

	for _, test := range tests {
		if err := test.fn(); err != nil {
			log.Printf("❌ %s failed: %v", test.name, err)
			os.Exit(1)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("✅ All tests completed successfully!")
	fmt.Println("=" + strings.Repeat("=", 60))
}
