// Command crawlerd runs the trendwatch ingestion daemon. It polls the
// configured news sources on a schedule, persists and filters what they
// return, fetches full article bodies, pushes qualifying items to the
// webhook and the analysis queue, and serves the status API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trendwatch-io/trendwatch/internal/ai"
	"github.com/trendwatch-io/trendwatch/internal/api"
	"github.com/trendwatch-io/trendwatch/internal/archive"
	"github.com/trendwatch-io/trendwatch/internal/config"
	"github.com/trendwatch-io/trendwatch/internal/crawler"
	"github.com/trendwatch-io/trendwatch/internal/db"
	"github.com/trendwatch-io/trendwatch/internal/filter"
	"github.com/trendwatch-io/trendwatch/internal/models"
	"github.com/trendwatch-io/trendwatch/internal/notify"
	"github.com/trendwatch-io/trendwatch/internal/queue"
	"github.com/trendwatch-io/trendwatch/internal/store"
)

// analysisTask is the payload handed to the analysis queue.
type analysisTask struct {
	SourceID string
	Item     *models.NewsItem
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("crawlerd: starting")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("crawlerd: load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database is optional: without a DSN the pipeline runs with in-memory
	// dedup only.
	var dbStore *store.Store
	var managerStore crawler.Store
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MigrationsDir)
		if err != nil {
			slog.Error("crawlerd: database connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		dbStore = store.New(pool)
		managerStore = dbStore
	} else {
		slog.Warn("crawlerd: no database configured, running memory-only")
	}

	manager := crawler.NewManager(managerStore, crawler.Options{
		ContentFetchEnabled: cfg.FullContent.Enabled,
		ContentFetchAsync:   cfg.FullContent.AsyncMode,
		ContentFetchDelay:   cfg.FullContent.FetchDelay.Std(),
	})

	if cfg.Filter.Enabled {
		engine, err := filter.Load(cfg.Filter.Path)
		if err != nil {
			slog.Error("crawlerd: load keyword filter", "err", err)
			os.Exit(1)
		}
		manager.SetFilter(engine)
		slog.Info("crawlerd: keyword filter loaded",
			"path", cfg.Filter.Path, "groups", len(engine.Groups), "global", len(engine.GlobalFilters))
	}

	fetcher := crawler.NewContentFetcher(cfg.FullContent.Timeout.Std(), cfg.FullContent.FetchDelay.Std())
	for _, sc := range cfg.Sources {
		if !sc.IsEnabled() {
			slog.Info("crawlerd: source disabled", "source", sc.ID)
			continue
		}
		src, err := buildSource(sc, fetcher)
		if err != nil {
			slog.Error("crawlerd: bad source config", "source", sc.ID, "err", err)
			os.Exit(1)
		}
		manager.Register(ctx, src)
	}

	archiveClient, err := archive.NewClient(ctx, cfg.Archive)
	if err != nil {
		slog.Error("crawlerd: archive client creation failed", "err", err)
		os.Exit(1)
	}
	if archiveClient.Configured() {
		manager.OnContentFetched(func(sourceID string, item *models.NewsItem) {
			if !item.ContentFetched {
				return
			}
			if err := archiveClient.StoreContent(ctx, item, sourceID); err != nil {
				slog.Warn("crawlerd: archive upload failed",
					"source", sourceID, "seq", item.Seq, "err", err)
			}
		})
	}

	// Analysis queue, fed with items that pass the filter.
	var analysisQueue *queue.Queue
	if cfg.Analyzer.Enabled {
		analyzer := ai.NewAnalyzer(cfg.Analyzer.Host, cfg.Analyzer.Model)
		analysisQueue = queue.New(cfg.Queue.MaxSize, cfg.Queue.Workers,
			cfg.Queue.MaxRetries, cfg.Queue.RetryDelay.Std())

		analysisQueue.SetProcessor(func(data any) (any, error) {
			task, ok := data.(analysisTask)
			if !ok {
				return nil, errors.New("unexpected task payload")
			}
			content := task.Item.FullContent
			if content == "" {
				content = task.Item.Summary
			}
			return analyzer.Analyze(ctx, task.Item.Title, content)
		})

		analysisQueue.SetResultCallback(func(id string, result any, ok bool) {
			t, found := analysisQueue.GetTask(id)
			if !found {
				return
			}
			task, okCast := t.Data.(analysisTask)
			if !okCast {
				return
			}
			if !ok {
				slog.Warn("crawlerd: analysis failed",
					"source", task.SourceID, "seq", task.Item.Seq)
				return
			}
			raw, err := json.Marshal(result)
			if err != nil {
				slog.Warn("crawlerd: encode analysis", "err", err)
				return
			}
			task.Item.AIAnalysis = string(raw)
			task.Item.AIAnalysisTime = time.Now()
			if dbStore != nil {
				if err := dbStore.SaveAnalysis(ctx, task.SourceID, task.Item.Seq, string(raw)); err != nil {
					slog.Warn("crawlerd: save analysis", "err", err)
				}
			}
		})

		analysisQueue.Start()
	}

	webhook := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout.Std())

	// Qualifying new items fan out to the webhook and the analysis queue.
	manager.OnNewItems(func(sourceID string, items []*models.NewsItem) {
		var passed []*models.NewsItem
		for _, item := range items {
			if !item.FilteredOut {
				passed = append(passed, item)
			}
		}
		if len(passed) == 0 {
			return
		}

		if webhook.Enabled() {
			name := passed[0].SourceName
			if err := webhook.PushItems(ctx, sourceID, name, passed); err != nil {
				slog.Warn("crawlerd: webhook push failed", "source", sourceID, "err", err)
			} else if dbStore != nil {
				seqs := make([]string, len(passed))
				for i, item := range passed {
					seqs[i] = item.Seq
				}
				if err := dbStore.MarkPushed(ctx, sourceID, seqs); err != nil {
					slog.Warn("crawlerd: mark pushed", "err", err)
				}
			}
		}

		if analysisQueue != nil {
			for _, item := range passed {
				if _, err := analysisQueue.Enqueue(analysisTask{SourceID: sourceID, Item: item}); err != nil {
					slog.Warn("crawlerd: analysis enqueue failed",
						"source", sourceID, "seq", item.Seq, "err", err)
				}
			}
		}
	})

	// Poll on a fixed interval; a cycle that outlasts the interval skips the
	// next tick instead of piling up.
	c := cron.New()
	var polling atomic.Bool
	_, err = c.AddFunc("@every "+cfg.Poll.Interval.String(), func() {
		if !polling.CompareAndSwap(false, true) {
			slog.Warn("crawlerd: previous poll still running, skipping tick")
			return
		}
		defer polling.Store(false)
		manager.CrawlAll(ctx)
	})
	if err != nil {
		slog.Error("crawlerd: add poll cron", "err", err)
		os.Exit(1)
	}

	// Retention sweep: daily at 3am.
	_, err = c.AddFunc("0 3 * * *", func() {
		jobCtx, jobCancel := context.WithTimeout(ctx, 10*time.Minute)
		defer jobCancel()

		deleted := manager.CleanupOldData(jobCtx, cfg.Retention.MaxItems, cfg.Retention.MaxDays)
		slog.Info("crawlerd: retention sweep complete", "deleted", deleted)
	})
	if err != nil {
		slog.Error("crawlerd: add cleanup cron", "err", err)
		os.Exit(1)
	}

	c.Start()
	slog.Info("crawlerd: scheduler started", "poll_interval", cfg.Poll.Interval.String())

	// First poll immediately rather than one interval from now.
	go func() {
		if polling.CompareAndSwap(false, true) {
			defer polling.Store(false)
			manager.CrawlAll(ctx)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(manager, analysisQueue).Router(),
	}
	go func() {
		slog.Info("crawlerd: status API listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("crawlerd: status API failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	slog.Info("crawlerd: received shutdown signal", "signal", sig.String())

	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("crawlerd: scheduler stop timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("crawlerd: status API shutdown", "err", err)
	}

	if analysisQueue != nil {
		analysisQueue.Stop(true, 10*time.Second)
	}

	cancel()
	manager.Close(30 * time.Second)

	slog.Info("crawlerd: shutdown complete")
}

// buildSource constructs a Source from its configuration entry.
func buildSource(sc config.SourceConfig, fetcher *crawler.ContentFetcher) (crawler.Source, error) {
	switch sc.Type {
	case "ths":
		return crawler.NewTHSSource(sc.ID, sc.Name, sc.Timeout.Std(), fetcher), nil
	case "ths-tapp", "":
		return crawler.NewTHSTappSource(sc.ID, sc.Name, sc.Timeout.Std(), fetcher), nil
	case "rss":
		if sc.URL == "" {
			return nil, errors.New("rss source needs a url")
		}
		return crawler.NewRSSSource(sc.ID, sc.Name, sc.URL, sc.Timeout.Std(), sc.FullText, fetcher), nil
	default:
		return nil, errors.New("unknown source type " + sc.Type)
	}
}
