package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"studyflow/internal/config"
	"studyflow/internal/localstore"
	"studyflow/internal/progress"
)

// The sweeper keeps the on-disk checkpoint store bounded: one cleanup pass
// at startup, then a recurring sweep on the configured interval.
func main() {
	cfg := config.Load()

	kv, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		log.Fatalf("open local store %s: %v", cfg.LocalStorePath, err)
	}
	defer kv.Close()

	store := progress.NewStore(kv)
	if n, err := store.CleanupOldProgress(); err != nil {
		log.Fatalf("startup sweep: %v", err)
	} else {
		log.Printf("startup sweep removed %d expired checkpoints", n)
	}

	sched := store.StartSweeper(cfg.ProgressSweepInterval)
	defer sched.Stop()

	log.Printf("sweeper running every %s against %s", cfg.ProgressSweepInterval, cfg.LocalStorePath)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
