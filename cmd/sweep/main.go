// Command sweep runs one expiry pass and exits, for cron-style scheduling.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/obs"
	"lynxtms.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	obs.Init()

	dsn := os.Getenv("LYNX_PG_DSN")
	if dsn == "" {
		log.Fatal("missing LYNX_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	sweeper, err := authz.NewSweeper(store, time.Minute)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}
	log.Printf("swept %d rows (grants=%d keys=%d requests=%d)",
		res.Total(), res.TemporaryPermissions, res.APIKeys, res.AccessRequests)
}
