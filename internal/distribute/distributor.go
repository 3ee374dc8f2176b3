package distribute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
)

// Distributor consumes distribution jobs and posts notifications with
// actionable controls to the chat collaborator. It never mutates the alert
// record.
type Distributor struct {
	logger      *zap.Logger
	notifier    client.Notifier
	callTimeout time.Duration
	now         func() time.Time
}

// New creates a distributor.
func New(notifier client.Notifier, callTimeout time.Duration, logger *zap.Logger) *Distributor {
	return &Distributor{
		logger:      logger.Named("distributor"),
		notifier:    notifier,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Handle processes one distribution-queue message.
func (d *Distributor) Handle(ctx context.Context, msg queue.Message) error {
	var dist model.DistributionMessage
	if err := json.Unmarshal(msg.Payload, &dist); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if dist.AlertID == "" {
		return fmt.Errorf("%w: missing alert_id", model.ErrMalformedPayload)
	}

	chatMsg := client.ChatMessage{
		Color:  SeverityColor(dist.Severity),
		Blocks: BuildBlocks(&dist, d.now().UTC()),
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	if err := d.notifier.Post(callCtx, chatMsg); err != nil {
		return fmt.Errorf("failed to post notification for %s: %w", dist.AlertID, err)
	}

	d.logger.Info("Notification posted",
		zap.String("alert_id", dist.AlertID),
		zap.String("severity", string(dist.Severity)))
	return nil
}
