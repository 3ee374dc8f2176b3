package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/action"
	"github.com/oktriage/first-responder/internal/analyze"
	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/config"
	"github.com/oktriage/first-responder/internal/distribute"
	"github.com/oktriage/first-responder/internal/ingest"
	"github.com/oktriage/first-responder/internal/interaction"
	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/monitor"
	"github.com/oktriage/first-responder/internal/queue"
	"github.com/oktriage/first-responder/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc := connectNATS(cfg, logger)
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Stores shared by the pipeline stages.
	alerts, err := storage.NewAlertStore(logger, cfg.Storage.AlertDBPath)
	if err != nil {
		logger.Fatal("Failed to open alert store", zap.Error(err))
	}
	defer alerts.Close()

	cache, err := storage.NewAnalysisCache(logger, cfg.Storage.CacheDBPath)
	if err != nil {
		logger.Fatal("Failed to open analysis cache", zap.Error(err))
	}
	defer cache.Close()

	if err := cache.StartSweeper(cfg.Storage.SweepSchedule); err != nil {
		logger.Fatal("Failed to start cache sweeper", zap.Error(err))
	}

	// The three logical queues, each with the shared dead-letter stream.
	qcfg := queue.Config{
		DedupWindow: cfg.Queue.DedupWindow,
		AckWait:     cfg.Queue.AckWait,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
	processing := newQueue(js, "processing", qcfg, logger)
	distribution := newQueue(js, "distribution", qcfg, logger)
	actions := newQueue(js, "action", qcfg, logger)

	// External collaborators.
	analyst, err := client.NewGeminiAnalyst(ctx, cfg.Analyze.APIKey, cfg.Analyze.Model)
	if err != nil {
		logger.Fatal("Failed to create AI client", zap.Error(err))
	}
	notifier := client.NewSlackClient(cfg.Slack.BotToken, cfg.Slack.ChannelID, cfg.Slack.CallTimeout)
	if !notifier.IsConfigured() {
		logger.Warn("Slack bot token or channel not configured; notifications will fail")
	}
	ticketer := client.NewJiraClient(cfg.Jira.BaseURL, cfg.Jira.APIToken, cfg.Jira.CallTimeout)

	// Pipeline stages. Each receives only the collaborators it needs.
	ingestor := ingest.New(alerts, processing, ingest.Config{
		PublishRetries: cfg.Ingest.PublishRetries,
		RetryDelay:     cfg.Ingest.RetryDelay,
	}, logger)

	analyzer := analyze.New(alerts, cache, analyst, analyze.NewLocatorGatherer(logger), distribution, analyze.Config{
		MaxInFlight: cfg.Analyze.MaxInFlight,
		CacheTTL:    cfg.Analyze.CacheTTL,
		CallTimeout: cfg.Analyze.CallTimeout,
		ModelName:   cfg.Analyze.Model,
	}, logger)

	distributor := distribute.New(notifier, cfg.Slack.CallTimeout, logger)

	processor := action.New(alerts, ticketer, action.Config{
		ProjectKey:  cfg.Jira.ProjectKey,
		IssueType:   cfg.Jira.IssueType,
		CallTimeout: cfg.Jira.CallTimeout,
	}, logger)

	interactions := interaction.New(alerts, actions, cfg.Slack.SigningSecret, logger)

	// Start the consumers.
	if err := processing.Consume(ctx, analyzer.Handle); err != nil {
		logger.Fatal("Failed to start analyzer consumer", zap.Error(err))
	}
	if err := distribution.Consume(ctx, distributor.Handle); err != nil {
		logger.Fatal("Failed to start distributor consumer", zap.Error(err))
	}
	if err := actions.Consume(ctx, processor.Handle); err != nil {
		logger.Fatal("Failed to start action consumer", zap.Error(err))
	}

	// HTTP surface: ingestion, interaction callbacks, health.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	ingestor.Register(router)
	interactions.Register(router)

	stats := monitor.NewCollector(logger)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"stats":  stats.Snapshot(),
		})
	})

	router.GET("/alerts", func(c *gin.Context) {
		severity := model.ParseSeverity(c.Query("severity"))
		from, _ := strconv.ParseInt(c.Query("from"), 10, 64)
		to, err := strconv.ParseInt(c.Query("to"), 10, 64)
		if err != nil {
			to = time.Now().UnixMilli()
		}
		results, err := alerts.Query(c.Request.Context(), severity, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": results, "count": len(results)})
	})

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	cancel() // drains the queue consumers

	logger.Info("Server shutting down gracefully")
}

func connectNATS(cfg *config.Config, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URLs[0], opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))
	return nc
}

func newQueue(js nats.JetStreamContext, stage string, cfg queue.Config, logger *zap.Logger) *queue.Queue {
	q, err := queue.New(js, stage, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create queue",
			zap.String("stage", stage),
			zap.Error(err))
	}
	return q
}
