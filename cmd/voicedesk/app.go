package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"voicedesk/internal/config"
	"voicedesk/internal/queue"
	"voicedesk/internal/redis"
	"voicedesk/internal/runtimescope"
	"voicedesk/internal/scopedb"
	"voicedesk/internal/session"
	"voicedesk/internal/tasks"
	"voicedesk/internal/tracker"
)

// app holds the shared wiring both commands build on.
type app struct {
	cfg   *config.Config
	scope runtimescope.Scope
	db    *scopedb.Database
	rdb   *redis.Client

	sessions *scopedb.Collection
	messages *scopedb.Collection
	projects *scopedb.Collection
	tasks    *scopedb.Collection
	events   *scopedb.Collection
	activeC  *scopedb.Collection

	active  *session.ActiveSessions
	logger  *session.Logger
	jobs    *queue.Client
	tracker *tracker.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	scope := runtimescope.Resolve(cfg.BasicConfig.Instance, cfg.BasicConfig.BetaTag)
	log.Printf("[voicedesk] runtime scope tag=%s prod_family=%v", scope.Tag, scope.ProdFamily)

	db, err := scopedb.Connect(ctx, cfg, scope)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("create redis client: %w", err)
	}

	a := &app{
		cfg:   cfg,
		scope: scope,
		db:    db,
		rdb:   rdb,

		sessions: db.Collection(runtimescope.CollSessions),
		messages: db.Collection(runtimescope.CollMessages),
		projects: db.Collection(runtimescope.CollProjects),
		tasks:    db.Collection(runtimescope.CollTasks),
		events:   db.Collection(runtimescope.CollSessionLog),
		activeC:  db.Collection(runtimescope.CollActiveSessions),
	}
	a.active = session.NewActiveSessions(a.activeC)
	a.logger = session.NewLogger(a.events)
	a.jobs = queue.NewClient(rdb)
	a.tracker = tracker.NewClient(cfg.Tracker.Binary, time.Duration(cfg.Tracker.TimeoutMS)*time.Millisecond)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.rdb.Close(); err != nil {
		log.Printf("[voicedesk] redis close: %v", err)
	}
	if err := a.db.Close(ctx); err != nil {
		log.Printf("[voicedesk] mongo close: %v", err)
	}
}

func newReviewer(a *app) *tasks.CodexReviewer {
	return tasks.NewCodexReviewer(a.tasks, a.tracker)
}

func concurrencyOr(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}
