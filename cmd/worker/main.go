package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"studyflow/internal/config"
	"studyflow/internal/pubsub"
	"studyflow/internal/queue"
	"studyflow/internal/store"
	"studyflow/internal/telemetry"
	workerproc "studyflow/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	pub := pubsub.NewPublisher(q.Client())
	processor := workerproc.NewProcessor(cfg, q, st, pub)

	gen := workerproc.NewGenerateHandler()
	processor.RegisterHandler("flashcards", gen.HandleFlashcards)
	processor.RegisterHandler("test", gen.HandleTest)
	processor.RegisterHandler("chat", workerproc.NewChatHandler().Handle)

	uploadHandler, err := workerproc.NewUploadHandler(ctx, cfg)
	if err != nil {
		log.Fatalf("init upload handler: %v", err)
	}
	processor.RegisterHandler("upload", uploadHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s queues=%v", cfg.VisibilityTimeout, cfg.ProcessQueues)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
