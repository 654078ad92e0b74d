package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/enrich"
	"github.com/lumenlead/prospector/internal/exporter"
	"github.com/lumenlead/prospector/internal/importer"
	"github.com/lumenlead/prospector/internal/message"
	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/progress"
	"github.com/lumenlead/prospector/internal/queue"
	"github.com/lumenlead/prospector/internal/store"
	"github.com/lumenlead/prospector/internal/worker"
	"github.com/lumenlead/prospector/pkg/llm/anthropic"
	"github.com/lumenlead/prospector/pkg/llm/openai"
	"github.com/lumenlead/prospector/pkg/profile"
	"github.com/lumenlead/prospector/pkg/techstack"
	"github.com/lumenlead/prospector/pkg/webcrawl"
)

// appEnv holds all initialized clients and services needed by the enrich,
// worker, serve, import and export commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *enrich.Orchestrator
	Generator    *message.Generator
	Importer     *importer.Importer
	Exporter     *exporter.Exporter
	Queue        *queue.Queue
	Broadcaster  *progress.Broadcaster
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Broadcaster != nil {
		e.Broadcaster.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, all source clients, the orchestrator and the
// queue. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	profileClient := profile.NewClient(cfg.Profile.Key,
		profile.WithBaseURL(cfg.Profile.BaseURL),
		profile.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Profile.TimeoutSecs) * time.Second}),
	)
	crawlClient := webcrawl.NewClient(cfg.Webcrawl.Key,
		webcrawl.WithBaseURL(cfg.Webcrawl.BaseURL),
		webcrawl.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Webcrawl.TimeoutSecs) * time.Second}),
	)
	techClient := techstack.NewClient(cfg.TechStack.Key,
		techstack.WithBaseURL(cfg.TechStack.BaseURL),
		techstack.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TechStack.TimeoutSecs) * time.Second}),
	)

	anthropicClient := anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithModel(cfg.Anthropic.Model))
	openaiClient := openai.NewClient(cfg.OpenAI.Key,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModel(cfg.OpenAI.Model),
	)
	providers := enrich.NewProviders(cfg.Enrich.DefaultProvider, anthropicClient, openaiClient)

	templates := enrich.NewRegistry()
	if cfg.Templates.Path != "" {
		if err := templates.LoadFile(cfg.Templates.Path); err != nil {
			_ = st.Close()
			return nil, eris.Wrapf(err, "load templates from %s", cfg.Templates.Path)
		}
		zap.L().Info("loaded prompt templates", zap.String("path", cfg.Templates.Path))
	}

	orch := enrich.New(cfg.Enrich, st, profileClient, crawlClient, techClient, providers,
		enrich.WithTemplates(templates),
	)

	return &appEnv{
		Store:        st,
		Orchestrator: orch,
		Generator:    message.NewGenerator(cfg.Enrich, st, providers, message.WithTemplates(templates)),
		Importer:     importer.New(st),
		Exporter:     exporter.New(st),
		Queue:        queue.New(st, cfg.Queue),
		Broadcaster:  progress.NewBroadcaster(),
	}, nil
}

// buildManager wires one worker pool per job family onto the queue, with
// progress events fanned out through the broadcaster.
func buildManager(env *appEnv) (*worker.Manager, error) {
	deps := worker.Deps{
		Orchestrator: env.Orchestrator,
		Generator:    env.Generator,
		Importer:     env.Importer,
		Exporter:     env.Exporter,
	}
	reporterFor := worker.BroadcastReporter(env.Broadcaster)
	hooks := worker.BroadcastHooks(env.Broadcaster)

	mgr := worker.NewManager(env.Queue)
	for _, family := range model.JobFamilies {
		proc, err := deps.ProcessorFor(family)
		if err != nil {
			return nil, err
		}
		pool := worker.NewPool(worker.PoolConfig{
			Family:       family,
			Queue:        env.Queue,
			Processor:    proc,
			Concurrency:  cfg.Queue.PoolConcurrency(string(family)),
			PollInterval: time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
			Hooks:        hooks,
			ReporterFor:  reporterFor,
		})
		if err := mgr.Register(pool); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}
