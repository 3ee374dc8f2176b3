package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
)

// Callback headers.
const (
	HeaderSignature = "X-Triage-Signature"
	HeaderTimestamp = "X-Triage-Request-Timestamp"
)

// Control ids the chat notification attaches to its buttons.
const (
	controlAcknowledge  = "acknowledge_alert"
	controlCreateTicket = "create_ticket"
)

// Store is the slice of the alert store the handler needs.
type Store interface {
	Get(ctx context.Context, alertID string) (*model.Alert, error)
	Acknowledge(ctx context.Context, alertID, user string, atMillis int64) error
}

// Publisher enqueues action jobs.
type Publisher interface {
	Publish(ctx context.Context, orderingKey, dedupToken string, payload []byte) error
}

// Handler receives signed interaction callbacks: it verifies authenticity,
// acknowledges alerts synchronously, and turns create-ticket clicks into
// durable action messages. It returns fast; the ticket itself is created
// asynchronously by the action processor.
type Handler struct {
	logger  *zap.Logger
	store   Store
	actions Publisher
	secret  string
	now     func() time.Time
}

// New creates an interaction handler.
func New(store Store, actions Publisher, signingSecret string, logger *zap.Logger) *Handler {
	return &Handler{
		logger:  logger.Named("interactions"),
		store:   store,
		actions: actions,
		secret:  signingSecret,
		now:     time.Now,
	}
}

// Register mounts the interaction endpoint on the router.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/interactions", h.handleInteraction)
}

// callbackPayload is the parsed interaction body.
type callbackPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (h *Handler) handleInteraction(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// The signature covers the raw body exactly as received.
	if err := Verify(body, c.GetHeader(HeaderSignature), c.GetHeader(HeaderTimestamp), h.secret, h.now()); err != nil {
		h.logger.Warn("Rejected interaction callback", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid request signature"})
		return
	}

	payload, err := parsePayload(body, c.ContentType())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	switch payload.Type {
	case "url_verification":
		// Endpoint handshake: echo the challenge.
		c.JSON(http.StatusOK, gin.H{"challenge": payload.Challenge})

	case "block_actions":
		h.handleBlockAction(c, payload)

	default:
		h.logger.Warn("Unknown interaction type", zap.String("type", payload.Type))
		c.Status(http.StatusOK)
	}
}

func (h *Handler) handleBlockAction(c *gin.Context, payload *callbackPayload) {
	if len(payload.Actions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no action in payload"})
		return
	}

	action := payload.Actions[0]
	alertID := action.Value
	user := payload.User.Name
	if user == "" {
		user = "someone"
	}

	switch action.ActionID {
	case controlCreateTicket:
		h.handleCreateTicket(c, alertID, user)

	case controlAcknowledge:
		h.handleAcknowledge(c, alertID, user)

	default:
		h.logger.Warn("Unknown action", zap.String("action_id", action.ActionID))
		c.Status(http.StatusOK)
	}
}

// handleCreateTicket accepts the request durably and returns immediately;
// every click enqueues a fresh action message and the action processor owns
// idempotency.
func (h *Handler) handleCreateTicket(c *gin.Context, alertID, user string) {
	ctx := c.Request.Context()

	if _, err := h.store.Get(ctx, alertID); err != nil {
		if errors.Is(err, model.ErrAlertNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"text": "❌ Error: Alert not found. Please try again or contact support.",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	msg := model.ActionMessage{
		AlertID:     alertID,
		Action:      model.ActionCreateTicket,
		RequestedBy: user,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.actions.Publish(ctx, alertID, queue.DedupToken("action", payload), payload); err != nil {
		h.logger.Error("Failed to enqueue action",
			zap.String("alert_id", alertID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept request"})
		return
	}

	h.logger.Info("Ticket creation requested",
		zap.String("alert_id", alertID),
		zap.String("user", user))
	c.JSON(http.StatusOK, gin.H{
		"text": fmt.Sprintf("🎫 Ticket is being created by %s...", user),
	})
}

func (h *Handler) handleAcknowledge(c *gin.Context, alertID, user string) {
	ctx := c.Request.Context()

	if err := h.store.Acknowledge(ctx, alertID, user, h.now().UnixMilli()); err != nil {
		if errors.Is(err, model.ErrAlertNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"text": "❌ Error: Alert not found. Please try again or contact support.",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("user", user))
	c.JSON(http.StatusOK, gin.H{
		"text": fmt.Sprintf("✅ Alert acknowledged by %s", user),
	})
}

// parsePayload handles both form-encoded callbacks (payload=<json>) and raw
// JSON bodies.
func parsePayload(body []byte, contentType string) (*callbackPayload, error) {
	raw := body
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		raw = []byte(values.Get("payload"))
	}

	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
