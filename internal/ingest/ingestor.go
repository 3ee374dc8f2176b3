package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
)

// RawEvent is the ingestion input surface. Only Message is required.
type RawEvent struct {
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Source    string `json:"source,omitempty"`
	LogGroup  string `json:"log_group,omitempty"`
	LogStream string `json:"log_stream,omitempty"`
	AlertID   string `json:"alert_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Store is the slice of the alert store the ingestor needs.
type Store interface {
	Create(ctx context.Context, alert *model.Alert) error
}

// Publisher enqueues a message under an ordering key with a dedup token.
type Publisher interface {
	Publish(ctx context.Context, orderingKey, dedupToken string, payload []byte) error
}

// Config tunes the ingestor's enqueue retry budget.
type Config struct {
	PublishRetries int
	RetryDelay     time.Duration
}

// Ingestor normalizes raw events into alerts, persists them, and enqueues
// them for analysis.
type Ingestor struct {
	logger     *zap.Logger
	store      Store
	processing Publisher
	cfg        Config
	now        func() time.Time
}

// New creates an ingestor.
func New(store Store, processing Publisher, cfg Config, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		logger:     logger.Named("ingestor"),
		store:      store,
		processing: processing,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Ingest normalizes the event, stores the alert, and enqueues it for
// analysis. The alert id is returned synchronously.
//
// A store failure means nothing was enqueued. An enqueue failure after a
// successful store write is retried a bounded number of times, then
// surfaced as model.ErrDegradedIngest: the alert exists but will not be
// analyzed until resubmitted.
func (i *Ingestor) Ingest(ctx context.Context, ev RawEvent) (string, error) {
	alert, err := i.normalize(ev)
	if err != nil {
		return "", err
	}

	if err := i.store.Create(ctx, alert); err != nil {
		return alert.AlertID, err
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return alert.AlertID, fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := queue.DedupToken("processing", payload)
	var publishErr error
	for attempt := 0; attempt <= i.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return alert.AlertID, fmt.Errorf("%w: %v", model.ErrDegradedIngest, ctx.Err())
			case <-time.After(i.cfg.RetryDelay):
			}
		}
		publishErr = i.processing.Publish(ctx, alert.Source, token, payload)
		if publishErr == nil {
			i.logger.Info("Alert ingested",
				zap.String("alert_id", alert.AlertID),
				zap.String("severity", string(alert.Severity)),
				zap.String("source", alert.Source))
			return alert.AlertID, nil
		}
		i.logger.Warn("Failed to enqueue alert, retrying",
			zap.String("alert_id", alert.AlertID),
			zap.Int("attempt", attempt+1),
			zap.Error(publishErr))
	}

	return alert.AlertID, fmt.Errorf("%w: %v", model.ErrDegradedIngest, publishErr)
}

func (i *Ingestor) normalize(ev RawEvent) (*model.Alert, error) {
	if ev.Message == "" {
		return nil, model.ErrEmptyMessage
	}

	alertID := ev.AlertID
	if alertID == "" {
		alertID = uuid.New().String()
	}

	source := ev.Source
	if source == "" {
		source = "unknown"
	}

	timestamp := ev.Timestamp
	if timestamp == 0 {
		timestamp = i.now().UnixMilli()
	}

	return &model.Alert{
		AlertID:   alertID,
		Timestamp: timestamp,
		Severity:  model.ParseSeverity(ev.Severity),
		Source:    source,
		Message:   ev.Message,
		LogGroup:  ev.LogGroup,
		LogStream: ev.LogStream,
	}, nil
}
