package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/model"
	"github.com/oktriage/first-responder/internal/queue"
)

type claimStore struct {
	alerts     map[string]*model.Alert
	claimed    map[string]bool
	setErr     error
	setTickets []string
}

func newClaimStore(alerts ...*model.Alert) *claimStore {
	s := &claimStore{
		alerts:  make(map[string]*model.Alert),
		claimed: make(map[string]bool),
	}
	for _, a := range alerts {
		s.alerts[a.AlertID] = a
	}
	return s
}

func (s *claimStore) Get(_ context.Context, alertID string) (*model.Alert, error) {
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, model.ErrAlertNotFound
	}
	return alert, nil
}

func (s *claimStore) ClaimTicket(_ context.Context, alertID string) error {
	alert, ok := s.alerts[alertID]
	if !ok {
		return model.ErrAlertNotFound
	}
	if s.claimed[alertID] || alert.TicketRef != "" {
		return model.ErrTicketClaimed
	}
	s.claimed[alertID] = true
	return nil
}

func (s *claimStore) ReleaseTicketClaim(_ context.Context, alertID string) error {
	s.claimed[alertID] = false
	return nil
}

func (s *claimStore) SetTicket(_ context.Context, alertID, ticketRef, ticketURL string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.alerts[alertID].TicketRef = ticketRef
	s.alerts[alertID].TicketURL = ticketURL
	s.setTickets = append(s.setTickets, ticketRef)
	return nil
}

type fakeTicketer struct {
	ref   *client.TicketRef
	err   error
	calls int
	last  client.TicketFields
}

func (f *fakeTicketer) CreateTicket(_ context.Context, fields client.TicketFields) (*client.TicketRef, error) {
	f.calls++
	f.last = fields
	if f.err != nil {
		return nil, f.err
	}
	return f.ref, nil
}

func testProcessorConfig() Config {
	return Config{ProjectKey: "OPS", IssueType: "Task", CallTimeout: time.Second}
}

func actionPayload(t *testing.T, alertID string) queue.Message {
	t.Helper()
	payload, err := json.Marshal(model.ActionMessage{
		AlertID:     alertID,
		Action:      model.ActionCreateTicket,
		RequestedBy: "casey",
	})
	require.NoError(t, err)
	return queue.Message{OrderingKey: alertID, Payload: payload, Attempt: 1}
}

func highAlert(id string) *model.Alert {
	return &model.Alert{
		AlertID:   id,
		Timestamp: time.Now().UnixMilli(),
		Severity:  model.SeverityHigh,
		Source:    "web-service",
		Message:   "Database connection timeout",
		Analysis:  "Root cause: pool exhausted",
	}
}

func TestProcessorCreatesTicket(t *testing.T) {
	store := newClaimStore(highAlert("a-1"))
	ticketer := &fakeTicketer{ref: &client.TicketRef{Key: "OPS-42", URL: "https://example.atlassian.net/browse/OPS-42"}}
	p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

	require.NoError(t, p.Handle(context.Background(), actionPayload(t, "a-1")))

	assert.Equal(t, 1, ticketer.calls)
	assert.Equal(t, "OPS", ticketer.last.ProjectKey)
	assert.Equal(t, "High", ticketer.last.Priority)
	assert.Contains(t, ticketer.last.Summary, "[HIGH]")
	assert.Equal(t, "OPS-42", store.alerts["a-1"].TicketRef)
	assert.Equal(t, "https://example.atlassian.net/browse/OPS-42", store.alerts["a-1"].TicketURL)
}

func TestProcessorIdempotency(t *testing.T) {
	t.Run("existing ticket short-circuits", func(t *testing.T) {
		alert := highAlert("a-2")
		alert.TicketRef = "OPS-1"
		store := newClaimStore(alert)
		ticketer := &fakeTicketer{ref: &client.TicketRef{Key: "OPS-99"}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		require.NoError(t, p.Handle(context.Background(), actionPayload(t, "a-2")))
		assert.Zero(t, ticketer.calls, "no external call for an already-ticketed alert")
	})

	t.Run("lost claim is a clean no-op", func(t *testing.T) {
		store := newClaimStore(highAlert("a-3"))
		store.claimed["a-3"] = true
		ticketer := &fakeTicketer{ref: &client.TicketRef{Key: "OPS-99"}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		require.NoError(t, p.Handle(context.Background(), actionPayload(t, "a-3")))
		assert.Zero(t, ticketer.calls)
	})

	t.Run("redelivery after success creates nothing", func(t *testing.T) {
		store := newClaimStore(highAlert("a-4"))
		ticketer := &fakeTicketer{ref: &client.TicketRef{Key: "OPS-7"}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		msg := actionPayload(t, "a-4")
		require.NoError(t, p.Handle(context.Background(), msg))
		require.NoError(t, p.Handle(context.Background(), msg))

		assert.Equal(t, 1, ticketer.calls)
		assert.Equal(t, []string{"OPS-7"}, store.setTickets)
	})
}

func TestProcessorFailures(t *testing.T) {
	t.Run("transient ticketing failure releases the claim", func(t *testing.T) {
		store := newClaimStore(highAlert("a-5"))
		ticketer := &fakeTicketer{err: &model.StatusError{Service: "jira", Status: 503}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		err := p.Handle(context.Background(), actionPayload(t, "a-5"))
		require.Error(t, err)
		assert.False(t, model.IsPermanent(err))
		assert.False(t, store.claimed["a-5"], "claim released so redelivery can retry")

		// Retry succeeds once the collaborator recovers.
		ticketer.err = nil
		ticketer.ref = &client.TicketRef{Key: "OPS-8"}
		require.NoError(t, p.Handle(context.Background(), actionPayload(t, "a-5")))
		assert.Equal(t, "OPS-8", store.alerts["a-5"].TicketRef)
	})

	t.Run("auth failure is permanent", func(t *testing.T) {
		store := newClaimStore(highAlert("a-6"))
		ticketer := &fakeTicketer{err: &model.StatusError{Service: "jira", Status: 401}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		err := p.Handle(context.Background(), actionPayload(t, "a-6"))
		require.Error(t, err)
		assert.True(t, model.IsPermanent(err))
	})

	t.Run("missing alert is permanent", func(t *testing.T) {
		p := New(newClaimStore(), &fakeTicketer{}, testProcessorConfig(), zap.NewNop())

		err := p.Handle(context.Background(), actionPayload(t, "no-such"))
		require.Error(t, err)
		assert.True(t, model.IsPermanent(err))
	})

	t.Run("reference write failure does not retry the ticket", func(t *testing.T) {
		store := newClaimStore(highAlert("a-7"))
		store.setErr = errors.New("disk io")
		ticketer := &fakeTicketer{ref: &client.TicketRef{Key: "OPS-9"}}
		p := New(store, ticketer, testProcessorConfig(), zap.NewNop())

		// The ticket exists externally; retrying would duplicate it.
		require.NoError(t, p.Handle(context.Background(), actionPayload(t, "a-7")))
		assert.Equal(t, 1, ticketer.calls)
	})

	t.Run("malformed payloads are permanent", func(t *testing.T) {
		p := New(newClaimStore(), &fakeTicketer{}, testProcessorConfig(), zap.NewNop())

		err := p.Handle(context.Background(), queue.Message{Payload: []byte("not json")})
		require.Error(t, err)
		assert.True(t, model.IsPermanent(err))

		err = p.Handle(context.Background(), queue.Message{Payload: []byte(`{"alert_id":"a","action":"delete_everything"}`)})
		require.Error(t, err)
		assert.True(t, model.IsPermanent(err), "unknown actions are not retried")
	})
}
