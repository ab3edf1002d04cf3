package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"careline/internal/config"
	queueAdapter "careline/internal/infrastructure/queue/adapter"
	"careline/internal/logger"
	"careline/internal/pkg/messaging/application/notify"
	"careline/internal/pkg/messaging/application/task"
)

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CARELINE_CONFIG"))
	if err != nil {
		panic("load config: " + err.Error())
	}
	if err := config.Validate(cfg); err != nil {
		panic("validate config: " + err.Error())
	}

	log := logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	srv, err := queueAdapter.NewAsynqServer(cfg.Redis.URL, queueAdapter.ServerConfig{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      cfg.Worker.Queues,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("worker: init queue server")
	}

	// Downstream delivery (push, email) plugs in here; until then events are
	// logged so the pipeline is observable end to end.
	task.RegisterNotifyTask(srv, log, func(ctx context.Context, ev notify.Event) error {
		log.Info().
			Str("kind", string(ev.Kind)).
			Str("conversation_id", ev.ConversationID).
			Msg("worker: notification delivered")
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker: starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker: run")
	}
	log.Info().Msg("worker: stopped")
}
