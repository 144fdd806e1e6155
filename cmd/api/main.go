package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lynxtms.io/internal/audit"
	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/httpapi"
	"lynxtms.io/internal/obs"
	"lynxtms.io/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("LYNX_COMMIT"))

	dsn := os.Getenv("LYNX_PG_DSN")
	if dsn == "" {
		log.Fatal("missing LYNX_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	sink, err := audit.NewSink(store)
	if err != nil {
		log.Fatalf("audit sink: %v", err)
	}

	kill := authz.NewKillSwitch()
	if cause := os.Getenv("LYNX_KILL_SWITCH"); cause != "" {
		kill.Engage(cause)
	}

	evaluator, err := authz.NewEvaluator(store, sink, authz.WithKillSwitch(kill))
	if err != nil {
		log.Fatalf("evaluator: %v", err)
	}
	workflow, err := authz.NewWorkflow(store)
	if err != nil {
		log.Fatalf("workflow: %v", err)
	}
	keys, err := authz.NewKeyService(store)
	if err != nil {
		log.Fatalf("key service: %v", err)
	}

	sweepInterval := 5 * time.Minute
	if raw := os.Getenv("LYNX_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse LYNX_SWEEP_INTERVAL: %v", err)
		}
		sweepInterval = d
	}
	sweeper, err := authz.NewSweeper(store, sweepInterval)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	api := httpapi.New(evaluator, workflow, keys, sweeper, store, sink,
		httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("LYNX_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(ctx),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting lynx-authz %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
