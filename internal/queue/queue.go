package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
)

const (
	subjectPrefix     = "triage"
	deadLetterStream  = "TRIAGE_DEADLETTER"
	deadLetterSubject = "triage.dlq"
	streamMaxAge      = 24 * time.Hour
	operationTimeout  = 30 * time.Second
)

// Config tunes a logical queue's transport contract.
type Config struct {
	// DedupWindow is the JetStream duplicate-suppression window keyed by
	// the dedup token. It collapses duplicate sends only; redeliveries
	// after the window still arrive and application-level idempotency must
	// handle them.
	DedupWindow time.Duration
	// AckWait is how long an unacknowledged message stays invisible before
	// redelivery.
	AckWait time.Duration
	// MaxAttempts is the total delivery budget before dead-lettering.
	MaxAttempts int
}

// Message is what a consumer handler receives.
type Message struct {
	OrderingKey string
	Payload     []byte
	// Attempt is 1 on first delivery.
	Attempt int
}

// Handler processes one message. A nil return acknowledges the message. An
// error classified permanent by model.IsPermanent dead-letters it
// immediately; a transient error lets the transport redeliver until the
// attempt budget is spent, then dead-letters.
type Handler func(ctx context.Context, msg Message) error

// Queue is an ordered, at-least-once logical queue over JetStream. Messages
// sharing an ordering key are handled serially in submission order; distinct
// keys are handled concurrently.
type Queue struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	stage  string
	cfg    Config

	mu      sync.Mutex
	workers map[string]chan *nats.Msg
	sub     *nats.Subscription
}

// New creates the queue for a pipeline stage ("processing", "distribution",
// "action") and ensures its stream and the shared dead-letter stream exist.
func New(js nats.JetStreamContext, stage string, cfg Config, logger *zap.Logger) (*Queue, error) {
	q := &Queue{
		js:      js,
		logger:  logger.Named(stage + "-queue"),
		stage:   stage,
		cfg:     cfg,
		workers: make(map[string]chan *nats.Msg),
	}

	if err := q.setupStreams(); err != nil {
		return nil, fmt.Errorf("failed to setup streams: %w", err)
	}
	return q, nil
}

func (q *Queue) setupStreams() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:       q.streamName(),
		Subjects:   []string{q.subjectBase() + ".*"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     streamMaxAge,
		MaxMsgs:    -1,
		Duplicates: q.cfg.DedupWindow,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return err
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:     deadLetterStream,
		Subjects: []string{deadLetterSubject + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return err
	}
	return nil
}

// Publish sends payload under the given ordering key. The dedup token is
// handed to the transport as the message id for duplicate suppression.
func (q *Queue) Publish(ctx context.Context, orderingKey, dedupToken string, payload []byte) error {
	subject := q.subjectBase() + "." + sanitizeKey(orderingKey)
	_, err := q.js.Publish(subject, payload, nats.MsgId(dedupToken), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Consume subscribes the handler to the queue until ctx is done. Messages
// fan out to one worker goroutine per ordering key, which preserves per-key
// order while letting keys interleave.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	sub, err := q.js.QueueSubscribe(
		q.subjectBase()+".*",
		q.stage+"_workers",
		func(msg *nats.Msg) {
			q.dispatch(ctx, msg, handler)
		},
		nats.ManualAck(),
		nats.AckWait(q.cfg.AckWait),
		nats.MaxDeliver(q.cfg.MaxAttempts),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.stage, err)
	}
	q.sub = sub

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			q.logger.Warn("Failed to drain subscription", zap.Error(err))
		}
	}()

	q.logger.Info("Consumer started", zap.String("stage", q.stage))
	return nil
}

func (q *Queue) dispatch(ctx context.Context, msg *nats.Msg, handler Handler) {
	q.mu.Lock()
	ch, ok := q.workers[msg.Subject]
	if !ok {
		ch = make(chan *nats.Msg, 64)
		q.workers[msg.Subject] = ch
		go q.worker(ctx, ch, handler)
	}
	q.mu.Unlock()

	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}

func (q *Queue) worker(ctx context.Context, ch <-chan *nats.Msg, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			q.process(ctx, msg, handler)
		}
	}
}

func (q *Queue) process(ctx context.Context, msg *nats.Msg, handler Handler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	err := handler(ctx, Message{
		OrderingKey: lastToken(msg.Subject),
		Payload:     msg.Data,
		Attempt:     attempt,
	})
	if err == nil {
		if err := msg.Ack(); err != nil {
			q.logger.Error("Failed to acknowledge message", zap.Error(err))
		}
		return
	}

	permanent := model.IsPermanent(err)
	if permanent || attempt >= q.cfg.MaxAttempts {
		q.logger.Warn("Dead-lettering message",
			zap.String("stage", q.stage),
			zap.Int("attempt", attempt),
			zap.Bool("permanent", permanent),
			zap.Error(err))
		if dlErr := q.deadLetter(msg, err); dlErr != nil {
			q.logger.Error("Failed to publish to dead letter queue", zap.Error(dlErr))
			// Keep the message redeliverable rather than dropping it.
			if nakErr := msg.Nak(); nakErr != nil {
				q.logger.Error("Failed to nak message", zap.Error(nakErr))
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Error("Failed to acknowledge message", zap.Error(ackErr))
		}
		return
	}

	q.logger.Info("Message failed, leaving for redelivery",
		zap.String("stage", q.stage),
		zap.Int("attempt", attempt),
		zap.Error(err))
	if nakErr := msg.Nak(); nakErr != nil {
		q.logger.Error("Failed to nak message", zap.Error(nakErr))
	}
}

// deadLetter moves the payload verbatim to the stage's dead-letter subject,
// where it stays inspectable for manual reprocessing.
func (q *Queue) deadLetter(msg *nats.Msg, cause error) error {
	dl := nats.NewMsg(deadLetterSubject + "." + q.stage)
	dl.Data = msg.Data
	dl.Header.Set("Origin-Subject", msg.Subject)
	dl.Header.Set("Failure", cause.Error())

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	_, err := q.js.PublishMsg(dl, nats.Context(ctx))
	return err
}

func (q *Queue) streamName() string {
	return "TRIAGE_" + strings.ToUpper(q.stage)
}

func (q *Queue) subjectBase() string {
	return subjectPrefix + "." + q.stage
}

// sanitizeKey maps an ordering key onto a single NATS subject token.
func sanitizeKey(key string) string {
	if key == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, key)
}

func lastToken(subject string) string {
	parts := strings.Split(subject, ".")
	return parts[len(parts)-1]
}
