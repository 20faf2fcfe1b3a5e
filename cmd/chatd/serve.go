package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi/handlers"
	"go.uber.org/zap"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "run schema migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	gin.SetMode(gin.ReleaseMode)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	if serveMigrate {
		if err := db.Migrate(gdb, migrationModels()...); err != nil {
			return err
		}
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	locker, lc, err := buildLocker(cfg, logger)
	if err != nil {
		return err
	}
	if lc != nil {
		closers = append(closers, lc)
	}
	mem, mc, err := buildMemory(cfg, gdb)
	if err != nil {
		return err
	}
	if mc != nil {
		closers = append(closers, mc)
	}
	blobs, err := buildBlobs(cfg)
	if err != nil {
		return err
	}

	svc := chat.NewService(chat.NewRepo(gdb), reg, chat.Options{
		ContextWindowSize: cfg.ChatContextWindowSize,
		DedupWindow:       cfg.DedupWindow,
		ModelTimeout:      cfg.ModelTimeout,
		TitleTimeout:      cfg.TitleTimeout,
		AssistantName:     cfg.AssistantName,
		Temperature:       cfg.ChatTemperature,
		DefaultProvider:   cfg.AIProvider,
		DefaultModel:      cfg.AIModel,
		Locker:            locker,
		Memory:            mem,
		Blobs:             blobs,
		Logger:            logger,
	})
	h := handlers.NewHandler(svc, blobs, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("provider", cfg.AIProvider),
			zap.String("model", cfg.AIModel),
			zap.String("memory", cfg.MemoryBackend),
			zap.String("lock", cfg.LockBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// titles, memory writes and blob cleanup still in flight
	svc.Wait()
	return nil
}
