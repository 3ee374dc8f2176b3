package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
)

// Store is the slice of the alert store the processor needs.
type Store interface {
	Get(ctx context.Context, alertID string) (*model.Alert, error)
	ClaimTicket(ctx context.Context, alertID string) error
	ReleaseTicketClaim(ctx context.Context, alertID string) error
	SetTicket(ctx context.Context, alertID, ticketRef, ticketURL string) error
}

// Config identifies the ticketing project.
type Config struct {
	ProjectKey  string
	IssueType   string
	CallTimeout time.Duration
}

// Processor consumes action messages and creates tracking tickets. Duplicate
// messages (rapid double clicks, at-least-once redelivery) collapse to a
// single ticket: the store's conditional claim admits exactly one creation
// attempt at a time, and an existing ticket reference ends processing before
// any external call.
type Processor struct {
	logger   *zap.Logger
	store    Store
	ticketer client.Ticketer
	cfg      Config
}

// New creates an action processor.
func New(store Store, ticketer client.Ticketer, cfg Config, logger *zap.Logger) *Processor {
	return &Processor{
		logger:   logger.Named("action-processor"),
		store:    store,
		ticketer: ticketer,
		cfg:      cfg,
	}
}

// Handle processes one action-queue message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	var action model.ActionMessage
	if err := json.Unmarshal(msg.Payload, &action); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if action.Action != model.ActionCreateTicket {
		return fmt.Errorf("%w: unknown action %q", model.ErrMalformedPayload, action.Action)
	}

	alert, err := p.store.Get(ctx, action.AlertID)
	if err != nil {
		return err
	}

	if alert.TicketRef != "" {
		p.logger.Info("Ticket already exists, skipping duplicate",
			zap.String("alert_id", alert.AlertID),
			zap.String("ticket", alert.TicketRef))
		return nil
	}

	if err := p.store.ClaimTicket(ctx, action.AlertID); err != nil {
		if errors.Is(err, model.ErrTicketClaimed) {
			p.logger.Info("Ticket creation claimed elsewhere, skipping duplicate",
				zap.String("alert_id", alert.AlertID))
			return nil
		}
		return err
	}

	ref, err := p.createTicket(ctx, alert)
	if err != nil {
		// Release so a redelivery can retry; the claim must not outlive a
		// failed attempt.
		if relErr := p.store.ReleaseTicketClaim(ctx, action.AlertID); relErr != nil {
			p.logger.Error("Failed to release ticket claim",
				zap.String("alert_id", alert.AlertID),
				zap.Error(relErr))
		}
		return err
	}

	if err := p.store.SetTicket(ctx, action.AlertID, ref.Key, ref.URL); err != nil {
		// The ticket exists externally but the reference write failed; a
		// redelivery would create a second ticket, so this is logged and
		// accepted rather than retried.
		p.logger.Error("Ticket created but reference not stored",
			zap.String("alert_id", alert.AlertID),
			zap.String("ticket", ref.Key),
			zap.Error(err))
		return nil
	}

	p.logger.Info("Ticket created",
		zap.String("alert_id", alert.AlertID),
		zap.String("ticket", ref.Key),
		zap.String("url", ref.URL),
		zap.String("requested_by", action.RequestedBy))
	return nil
}

func (p *Processor) createTicket(ctx context.Context, alert *model.Alert) (*client.TicketRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	fields := client.TicketFields{
		ProjectKey:  p.cfg.ProjectKey,
		IssueType:   p.cfg.IssueType,
		Summary:     Summary(alert),
		Description: Description(alert),
		Priority:    PriorityForSeverity(alert.Severity),
		Labels:      Labels(alert),
	}

	ref, err := p.ticketer.CreateTicket(callCtx, fields)
	if err != nil {
		return nil, fmt.Errorf("ticket creation failed for %s: %w", alert.AlertID, err)
	}
	return ref, nil
}
