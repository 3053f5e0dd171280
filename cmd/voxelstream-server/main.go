package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxelstream/server/internal/api"
	"github.com/voxelstream/server/internal/config"
	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/performance"
	"github.com/voxelstream/server/internal/procedural"
	"github.com/voxelstream/server/internal/scheduler"
	"github.com/voxelstream/server/internal/voxel"
)

// main starts the voxelstream server: the chunk streaming engine plus its
// HTTP inspection API and websocket event feed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	heights, err := procedural.NewHeightField(cfg)
	if err != nil {
		log.Fatalf("Failed to create height field: %v", err)
	}
	if client, ok := heights.(*procedural.Client); ok {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Procedural.Timeout)
		if err := client.HealthCheck(checkCtx); err != nil {
			log.Printf("Warning: terrain service health check failed: %v", err)
		}
		cancel()
	}
	log.Printf("Height field: %s (seed=%d, random=%v)", cfg.Terrain.HeightField, cfg.Engine.Seed, cfg.Engine.RandomSeed)

	profiler := performance.NewProfiler(cfg.Profiling.Enabled)

	// The registry starts empty; tasks submitted before the table loads wait
	// on its readiness.
	registry := materials.NewRegistry()
	go func() {
		if err := materials.LoadInto(ctx, registry, cfg.Materials.Path, cfg.Materials.LoadDelay); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Warning: failed to load materials from %s: %v", cfg.Materials.Path, err)
		}
	}()

	sched := scheduler.New(voxel.NewGenerator(heights, nil), registry, profiler, scheduler.Options{
		Workers:              cfg.Engine.Workers,
		RegistryWaitTimeout:  cfg.Engine.RegistryWaitTimeout,
		DefaultMaterialCount: cfg.Engine.DefaultMaterialCount,
	})

	eng, err := engine.New(sched, profiler, engine.Options{
		Seed:               cfg.Engine.Seed,
		ChunkSize:          cfg.Engine.ChunkSize,
		CacheCapacity:      cfg.Engine.CacheCapacity,
		TouchOnLookup:      cfg.Engine.TouchOnLookup,
		RequestRadius:      cfg.Engine.RequestRadius,
		MaxRequestsPerTick: cfg.Engine.MaxRequestsPerTick,
		SubmitRate:         cfg.Engine.SubmitRate,
		TickInterval:       cfg.Engine.TickInterval,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	hub := api.NewWebSocketHub(eng.Seed())
	eng.AddSink(hub)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(api.Dependencies{
			Config:   cfg,
			Engine:   eng,
			Registry: registry,
			Profiler: profiler,
			Hub:      hub,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Engine stopped: %v", err)
		}
	}()

	go func() {
		log.Printf("voxelstream server starting on %s (%s)", server.Addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	<-engineDone
	stopHub()
	sched.Close()

	profiler.LogReport()
	log.Printf("Shutdown complete (%+v)", eng.Stats())
}
