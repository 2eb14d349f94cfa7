package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/database"
	"drowsiness-monitor/backend/internal/handlers"
	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/repository"
	"drowsiness-monitor/backend/internal/services"
	"drowsiness-monitor/backend/pkg/rpc"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of an admin token for ADMIN_TOKEN_HASH and exit")
	flag.Parse()

	if *hashToken != "" {
		hash, err := handlers.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)

	log.Info("starting",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"window_frames", cfg.Pipeline.WindowFrames(),
		"ear_threshold", cfg.Pipeline.EARThreshold)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.GetMetrics()
	registry := services.NewRegistry(metrics)
	api := handlers.NewAPI(cfg.Pipeline, registry, metrics)
	api.AdminTokenHash = cfg.AdminTokenHash
	api.CORSOrigins = cfg.CORSOrigins

	var profiles handlers.ProfileStore
	if cfg.DBEnabled {
		db, err := database.Connect(ctx, cfg.DSN(), cfg.DSNForLog())
		if err != nil {
			return err
		}
		defer db.Close()
		repo := repository.NewProfileRepo(db)
		profiles = repo
		api.Profiles = repo
	}

	var detector services.DetectorFactory
	if cfg.DetectorURL != "" {
		dc, err := services.NewDetectorClient(cfg.DetectorURL)
		if err != nil {
			log.Warn("landmark detector unavailable, frames will be rejected", "error", err)
		} else {
			defer dc.Close()
			detector = dc.Open
			api.Detector = dc
		}
	}

	maxMsg := cfg.MaxMessageSizeMB * 1024 * 1024
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
	)
	rpc.RegisterPerclosServiceServer(grpcServer, handlers.NewGRPCHandler(cfg.Pipeline, registry, metrics, profiles, cfg.IsDev()))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(rpc.PerclosServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	hub := handlers.NewWSHub(cfg.Pipeline, registry, metrics, profiles, detector, cfg.CORSOrigins, cfg.IsDev())
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	api.Routes(mux)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", cfg.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gRPC server listening", "port", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", "port", cfg.HTTPPort,
			"websocket", "ws://localhost:"+cfg.HTTPPort+"/ws",
			"api", "http://localhost:"+cfg.HTTPPort+"/api/")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()
		shutdown(grpcServer, httpServer, hub, registry)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	log.Info("goodbye")
	return nil
}

// shutdown ends live sessions first so streaming handlers return, then stops
// the servers.
func shutdown(grpcServer *grpc.Server, httpServer *http.Server, hub *handlers.WSHub, registry *services.Registry) {
	hub.CloseAll()
	registry.StopAll()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		log.Info("gRPC server stopped")
	case <-time.After(10 * time.Second):
		log.Warn("forcing gRPC shutdown")
		grpcServer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("error shutting down HTTP server", "error", err)
	}
}
