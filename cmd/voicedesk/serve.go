package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"voicedesk/internal/api"
	"voicedesk/internal/dedup"
	"voicedesk/internal/ingest"
	"voicedesk/internal/queue"
	"voicedesk/internal/realtime"
	"voicedesk/internal/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	hub := realtime.NewHub()
	ingestSvc := ingest.NewService(a.sessions, a.messages, a.active, a.logger, a.jobs, a.cfg.BasicConfig.CustomProcessors)
	doneFlow := session.NewDoneFlow(a.sessions, a.projects, a.active, a.logger, a.jobs, a.cfg.BasicConfig.SessionLinkBase)
	deduper := dedup.NewEngine(a.messages)
	reviewer := newReviewer(a)

	handler := api.NewHandler(ingestSvc, doneFlow, deduper, reviewer, a.tracker, a.events, hub)
	router := gin.Default()
	handler.RegisterRoutes(router)

	addr := a.cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	// socket events are delivered to the process that owns the rooms,
	// so the events queue is consumed here rather than in the worker
	events := queue.NewServer(a.rdb)
	events.HandleQueue(queue.QueueEvents, concurrencyOr(a.cfg.Queues.Events, queue.DefaultEventsConcurrency), queue.Manifest{
		queue.JobSendToSocket: realtime.SendToSocketHandler(hub),
	})
	go func() {
		if err := events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[voicedesk] events consumer stopped: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[voicedesk] http listening addr=%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Print("[voicedesk] http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
