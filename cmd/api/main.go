package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portaria.org/internal/access"
	"portaria.org/internal/auth"
	"portaria.org/internal/credential"
	"portaria.org/internal/httpapi"
	"portaria.org/internal/interlock"
	"portaria.org/internal/obs"
	"portaria.org/internal/store/pg"
	"portaria.org/internal/stream"
	"portaria.org/internal/visit"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PORTARIA_COMMIT"))

	// Postgres when a DSN is set, in-memory stores otherwise. The
	// in-memory mode is what the simulator and local demos run on.
	var (
		creds       credential.Service
		visits      visit.Ledger
		porterStore auth.PorterStore
		pgStore     *pg.Store
	)
	if dsn := os.Getenv("PORTARIA_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		creds = pgStore.Credentials()
		visits = pgStore.Visits()
		porterStore = pgStore.Porters()
	} else {
		creds = credential.NewInMemory()
		visits = visit.NewInMemory()
		porterStore = auth.NewInMemoryPorterStore()
	}

	policy := access.NewStore()
	events := stream.New()

	// Gate topology lives in memory; controllers re-register on boot
	// via /v1/points and /v1/pairs.
	locks := interlock.New(interlock.NewLoopback(), policy.Partner, interlock.Config{})

	eval := access.NewEvaluator(policy, creds, visits, locks, events, 0)

	porters, err := auth.NewPorters(porterStore, 15*time.Minute)
	if err != nil {
		log.Fatalf("porters: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := credential.NewSweeper(creds, time.Hour, obs.Logger())
	sweeper.Start(ctx)
	defer sweeper.Stop()

	rp := httpapi.ReadyProbe{}
	if pgStore != nil {
		rp.DB = pgStore.DB()
	}
	api := httpapi.New(rp, version, httpapi.Deps{
		Evaluator:   eval,
		Policy:      policy,
		Credentials: creds,
		Visits:      visits,
		Interlock:   locks,
		Porters:     porters,
		Events:      events,
	})

	addr := os.Getenv("PORTARIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting portaria-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
