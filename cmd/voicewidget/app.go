package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/voicewidget/internal/agentconfig"
	"github.com/ashureev/voicewidget/internal/config"
	"github.com/ashureev/voicewidget/internal/credential"
	"github.com/ashureev/voicewidget/internal/host"
	"github.com/ashureev/voicewidget/internal/knowledge"
	"github.com/ashureev/voicewidget/internal/media"
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/retention"
	"github.com/ashureev/voicewidget/internal/store"
	"github.com/ashureev/voicewidget/internal/summary"
	"github.com/ashureev/voicewidget/internal/transcript"
	"github.com/ashureev/voicewidget/internal/widget"
)

// app holds the wired widget and everything that has to be shut down with it.
type app struct {
	cfg      *config.Config
	repo     store.Repository
	widget   *widget.Widget
	recorder *host.Recorder
	closers  []func()
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.agentID != "" {
		cfg.AgentID = flags.agentID
	}
	if flags.accountID != "" {
		cfg.AccountID = flags.accountID
	}
	return cfg, nil
}

// loadContextFile decodes a YAML or JSON document into plain values.
func loadContextFile(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

func newApp(ctx context.Context, cfg *config.Config, flags *rootFlags, presenter widget.Presenter) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	})
	if err := repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	sink, err := media.OpenSink(cfg.Audio.Sink)
	if err != nil {
		return nil, fmt.Errorf("open audio sink: %w", err)
	}
	a.closers = append(a.closers, func() { _ = sink.Close() })

	var searcher knowledge.Searcher
	switch cfg.Knowledge.Backend {
	case "http":
		searcher = knowledge.NewHTTPSearcher(cfg.Knowledge.BaseURL, cfg.Knowledge.APIKey, &http.Client{}, logger)
	case "grpc":
		gs, err := knowledge.NewGrpcSearcher(knowledge.DefaultGrpcSearcherConfig(cfg.Knowledge.GrpcAddr), logger)
		if err != nil {
			slog.Warn("Knowledge search disabled, gRPC service unreachable", "address", cfg.Knowledge.GrpcAddr, "error", err)
			break
		}
		searcher = gs
		a.closers = append(a.closers, gs.Close)
	}

	httpClient := &http.Client{Timeout: cfg.ConfigFetchTimeout}
	opts := widget.DefaultOptions()
	opts.FetchTimeout = cfg.ConfigFetchTimeout
	opts.GreetingDelay = cfg.Realtime.GreetingDelay
	opts.GreetingText = cfg.Realtime.GreetingText
	opts.DateLayout = cfg.Realtime.DateLayout
	opts.RealtimeURL = cfg.Realtime.URL
	opts.Model = cfg.Realtime.Model
	if cfg.Knowledge.MaxResults > 0 {
		opts.KnowledgeMaxResults = cfg.Knowledge.MaxResults
	}

	el := widget.NewElement(map[string]string{
		widget.AttrAgentID:   cfg.AgentID,
		widget.AttrAccountID: cfg.AccountID,
	})
	for prop, path := range map[string]string{widget.PropData: flags.dataFile, widget.PropHistory: flags.historyFile} {
		if path == "" {
			continue
		}
		v, err := loadContextFile(path)
		if err != nil {
			return nil, err
		}
		el.SetProperty(prop, v)
	}

	w := widget.Upgrade(el, widget.Deps{
		Configs:     agentconfig.NewHTTPFetcher(cfg.AgentConfigBaseURL, httpClient, logger),
		Credentials: credential.NewHTTPFetcher(cfg.AgentTokenURL, httpClient, logger),
		Transport:   realtime.NewWebSocketTransport(&http.Client{}, sink, logger),
		Capture:     media.NewReaderCapture(cfg.Audio.Source),
		Searcher:    searcher,
		Presenter:   presenter,
		Logger:      logger,
		Options:     opts,
	})
	a.widget = w

	convLog, err := transcript.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize conversation logger: %w", err)
	}
	stopLog := transcript.Listen(convLog, w)
	a.closers = append(a.closers, func() {
		stopLog()
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	})

	var summarizer summary.Summarizer
	if cfg.Summary.Enabled {
		summarizer = summary.NewOpenAISummarizer(cfg.Summary.APIKey, cfg.Summary.Model, cfg.Summary.BaseURL, logger)
	}
	a.recorder = host.NewRecorder(repo, summarizer, w, host.RecorderConfig{HistoryLimit: cfg.HistoryLimit}, logger)
	a.closers = append(a.closers, a.recorder.Close)

	if flags.historyFile == "" {
		if err := a.recorder.Refresh(ctx); err != nil {
			slog.Warn("Failed to load conversation history", "error", err)
		}
	}

	retentionCtx, stopRetention := context.WithCancel(ctx)
	retentionDone := retention.StartWorker(retentionCtx, repo, cfg.RetentionTTL, retention.DefaultInterval, func(int64) {
		if flags.historyFile != "" {
			return
		}
		if err := a.recorder.Refresh(context.Background()); err != nil {
			slog.Warn("Failed to refresh history after pruning", "error", err)
		}
	})
	a.closers = append(a.closers, func() {
		stopRetention()
		<-retentionDone
	})

	w.Attach(ctx)
	ok = true
	return a, nil
}

// Close detaches the widget and releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.widget != nil {
		a.widget.Detach()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
