package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"voicedesk/internal/llm"
	"voicedesk/internal/pipeline"
	"voicedesk/internal/queue"
	"voicedesk/internal/transcribe"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "run the queue consumers and schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var gen llm.Generator
	svc, err := llm.NewService(ctx, a.cfg)
	switch {
	case err == nil:
		gen = svc
	case errors.Is(err, llm.ErrAPIKeyMissing):
		log.Print("[voicedesk] no provider api key, llm stages will record the sentinel")
	default:
		return err
	}

	pl := pipeline.New(pipeline.Deps{
		Sessions:  a.sessions,
		Messages:  a.messages,
		Projects:  a.projects,
		Tasks:     a.tasks,
		Jobs:      a.jobs,
		Generator: gen,
		Mirror:    a.tracker,
		Logger:    a.logger,
		LinkBase:  a.cfg.BasicConfig.SessionLinkBase,
		Grace:     time.Duration(a.cfg.BasicConfig.ProcessingGraceMS) * time.Millisecond,
	})
	transcriber := transcribe.NewHandler(a.sessions, a.messages, a.jobs,
		transcribe.NewOpenAIProvider(a.cfg.OpenAI.BaseURL, a.cfg.OpenAI.APIKey, "", a.cfg.BasicConfig.MediaBaseURL))

	server := queue.NewServer(a.rdb)
	server.HandleQueue(queue.QueueCommon, concurrencyOr(a.cfg.Queues.Common, queue.DefaultCommonConcurrency), queue.Manifest{
		queue.JobProcessing:           pl.Processing,
		queue.JobCleanupEmptySessions: pl.CleanupEmptySessions,
		queue.JobDoneMultiprompt:      pl.DoneMultiprompt,
	})
	server.HandleQueue(queue.QueueVoice, concurrencyOr(a.cfg.Queues.Voice, queue.DefaultVoiceConcurrency), queue.Manifest{
		queue.JobTranscribe: transcriber.Handle,
	})
	server.HandleQueue(queue.QueueProcessors, concurrencyOr(a.cfg.Queues.Processors, queue.DefaultProcessorsConcurrency), queue.Manifest{
		queue.JobCategorize:      pl.Categorize,
		queue.JobSummarize:       pl.Summarize,
		queue.JobOneCustomPrompt: pl.OneCustomPrompt,
	})
	server.HandleQueue(queue.QueuePostprocessors, concurrencyOr(a.cfg.Queues.Postprocessors, queue.DefaultPostprocessorsConcurrency), queue.Manifest{
		queue.JobAllCustomPrompts:  pl.AllCustomPrompts,
		queue.JobFinalCustomPrompt: pl.FinalCustomPrompt,
		queue.JobAudioMerging:      pl.AudioMerging,
		queue.JobCreateTasks:       pl.CreateTasks,
		queue.JobLinkAttachments:   pl.LinkAttachments,
	})
	// the events queue is consumed by the serve process, where the
	// websocket rooms live
	server.HandleQueue(queue.QueueNotifies, concurrencyOr(a.cfg.Queues.Notifies, queue.DefaultNotifiesConcurrency), queue.Manifest{
		queue.JobSessionDone:             pl.Notify,
		queue.JobSessionReadyToSummarize: pl.Notify,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10s", func() {
		if err := a.jobs.Enqueue(ctx, queue.QueueCommon, queue.JobProcessing, map[string]string{
			"reason": "scheduled",
		}, queue.Options{DedupID: "PROCESSING-SCHEDULED"}); err != nil {
			log.Printf("[voicedesk] processing tick enqueue failed: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		if err := a.jobs.Enqueue(ctx, queue.QueueCommon, queue.JobCleanupEmptySessions, map[string]string{
			"reason": "scheduled",
		}, queue.Options{DedupID: "CLEANUP-SCHEDULED"}); err != nil {
			log.Printf("[voicedesk] cleanup tick enqueue failed: %v", err)
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Print("[voicedesk] worker started")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
