package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
	"github.com/suPer8Hu/galaxy-chat/internal/memory"
	"github.com/suPer8Hu/galaxy-chat/internal/store/rabbitmq"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued memory ingestion and write it to the database",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, &memory.MemoryRecord{}); err != nil {
		return err
	}
	store := memory.NewSQLStore(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = consumer.Run(ctx, func(ctx context.Context, m rabbitmq.IngestMessage) error {
		return store.Ingest(ctx, m.Owner, m.Role, m.Text)
	})
	logger.Info("worker stopped", zap.Error(err))
	return err
}
