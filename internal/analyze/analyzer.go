package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
	"github.com/oktriage/first-responder/internal/storage"
)

// Store is the slice of the alert store the analyzer needs.
type Store interface {
	SetAnalysis(ctx context.Context, alertID, analysis string, infraContext []byte) error
}

// Cache is the analysis cache contract: Get ignores expired entries and
// returns nil when absent, Put upserts with a TTL.
type Cache interface {
	Get(ctx context.Context, signature string) (*storage.CacheEntry, error)
	Put(ctx context.Context, signature, analysis string, ttl time.Duration) error
}

// Publisher enqueues distribution jobs.
type Publisher interface {
	Publish(ctx context.Context, orderingKey, dedupToken string, payload []byte) error
}

// Config tunes the analyzer.
type Config struct {
	// MaxInFlight bounds simultaneously in-flight AI calls. Excess work
	// waits, accumulating at the transport rather than running unbounded.
	MaxInFlight int64
	CacheTTL    time.Duration
	CallTimeout time.Duration
	// ModelName labels outgoing distribution messages.
	ModelName string
}

// Analyzer consumes processing messages, deduplicates expensive AI calls
// through the content-addressed cache, persists results, and enqueues
// distribution jobs.
type Analyzer struct {
	logger       *zap.Logger
	store        Store
	cache        Cache
	analyst      client.Analyst
	gatherer     Gatherer
	distribution Publisher
	cfg          Config
	sem          *semaphore.Weighted
}

// New creates an analyzer.
func New(store Store, cache Cache, analyst client.Analyst, gatherer Gatherer, distribution Publisher, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	return &Analyzer{
		logger:       logger.Named("analyzer"),
		store:        store,
		cache:        cache,
		analyst:      analyst,
		gatherer:     gatherer,
		distribution: distribution,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Handle processes one processing-queue message.
func (a *Analyzer) Handle(ctx context.Context, msg queue.Message) error {
	var alert model.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if alert.AlertID == "" || alert.Message == "" {
		return fmt.Errorf("%w: missing alert_id or message", model.ErrMalformedPayload)
	}

	signature := Signature(alert.Source, alert.Message)

	analysis, infraBlob, modelName, err := a.analyze(ctx, &alert, signature)
	if err != nil {
		return err
	}

	// The cache hit skips the AI call, never the write to this alert's own
	// record.
	if err := a.store.SetAnalysis(ctx, alert.AlertID, analysis, infraBlob); err != nil {
		return err
	}

	dist := model.DistributionMessage{
		AlertID:      alert.AlertID,
		Message:      alert.Message,
		Analysis:     analysis,
		Severity:     alert.Severity,
		Source:       alert.Source,
		Model:        modelName,
		LogGroup:     alert.LogGroup,
		LogStream:    alert.LogStream,
		InfraContext: infraBlob,
	}
	payload, err := json.Marshal(dist)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution message: %w", err)
	}

	if err := a.distribution.Publish(ctx, alert.Source, queue.DedupToken("distribution", payload), payload); err != nil {
		return fmt.Errorf("failed to enqueue distribution: %w", err)
	}

	a.logger.Info("Alert analyzed",
		zap.String("alert_id", alert.AlertID),
		zap.String("model", modelName),
		zap.String("signature", signature[:12]))
	return nil
}

// analyze returns the analysis text for the alert, reusing a live cached
// result when one exists.
func (a *Analyzer) analyze(ctx context.Context, alert *model.Alert, signature string) (analysis string, infraBlob json.RawMessage, modelName string, err error) {
	entry, err := a.cache.Get(ctx, signature)
	if err != nil {
		// A broken cache degrades to a fresh AI call.
		a.logger.Warn("Cache lookup failed", zap.Error(err))
	}
	if entry != nil {
		a.logger.Info("Analysis cache hit", zap.String("alert_id", alert.AlertID))
		return entry.Analysis, nil, "cache", nil
	}

	var contextText string
	if a.gatherer != nil {
		infraBlob, contextText = a.gatherer.Gather(ctx, alert)
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", nil, "", fmt.Errorf("failed to acquire analysis slot: %w", err)
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	analysis, err = a.analyst.Analyze(callCtx, alert.Message, contextText)
	if err != nil {
		return "", nil, "", fmt.Errorf("analysis failed for %s: %w", alert.AlertID, err)
	}

	if err := a.cache.Put(ctx, signature, analysis, a.cfg.CacheTTL); err != nil {
		// The analysis still flows; the next identical alert just pays for
		// another call.
		a.logger.Warn("Failed to cache analysis", zap.Error(err))
	}

	return analysis, infraBlob, a.cfg.ModelName, nil
}
