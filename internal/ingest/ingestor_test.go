package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oktriage/first-responder/internal/model"
)

type memoryStore struct {
	alerts map[string]*model.Alert
	err    error
}

func (s *memoryStore) Create(_ context.Context, alert *model.Alert) error {
	if s.err != nil {
		return s.err
	}
	if s.alerts == nil {
		s.alerts = make(map[string]*model.Alert)
	}
	if _, ok := s.alerts[alert.AlertID]; ok {
		return model.ErrAlertExists
	}
	s.alerts[alert.AlertID] = alert
	return nil
}

type flakyPublisher struct {
	failures int
	calls    int
	tokens   []string
	keys     []string
}

func (p *flakyPublisher) Publish(_ context.Context, orderingKey, dedupToken string, _ []byte) error {
	p.calls++
	p.keys = append(p.keys, orderingKey)
	p.tokens = append(p.tokens, dedupToken)
	if p.calls <= p.failures {
		return errors.New("nats: no responders")
	}
	return nil
}

func newTestIngestor(store *memoryStore, pub *flakyPublisher) *Ingestor {
	return New(store, pub, Config{PublishRetries: 2, RetryDelay: time.Millisecond}, zap.NewNop())
}

func TestIngestNormalization(t *testing.T) {
	store := &memoryStore{}
	pub := &flakyPublisher{}
	ing := newTestIngestor(store, pub)

	t.Run("defaults fill missing fields", func(t *testing.T) {
		id, err := ing.Ingest(context.Background(), RawEvent{Message: "disk full"})
		require.NoError(t, err)

		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr, "generated id is a uuid")

		alert := store.alerts[id]
		require.NotNil(t, alert)
		assert.Equal(t, "unknown", alert.Source)
		assert.Equal(t, model.SeverityUnknown, alert.Severity)
		assert.NotZero(t, alert.Timestamp)
	})

	t.Run("provided fields survive", func(t *testing.T) {
		id, err := ing.Ingest(context.Background(), RawEvent{
			Message:   "OOM killed",
			Severity:  "critical",
			Source:    "worker",
			AlertID:   "alert-42",
			Timestamp: 1756600000000,
			LogGroup:  "/ecs/worker",
		})
		require.NoError(t, err)
		assert.Equal(t, "alert-42", id)

		alert := store.alerts[id]
		assert.Equal(t, model.SeverityCritical, alert.Severity)
		assert.Equal(t, "worker", alert.Source)
		assert.Equal(t, int64(1756600000000), alert.Timestamp)
		assert.Equal(t, "/ecs/worker", alert.LogGroup)
	})

	t.Run("severity parsing is case insensitive", func(t *testing.T) {
		id, err := ing.Ingest(context.Background(), RawEvent{Message: "x", Severity: "HiGh"})
		require.NoError(t, err)
		assert.Equal(t, model.SeverityHigh, store.alerts[id].Severity)
	})

	t.Run("empty message rejected", func(t *testing.T) {
		_, err := ing.Ingest(context.Background(), RawEvent{Severity: "high"})
		assert.ErrorIs(t, err, model.ErrEmptyMessage)
	})
}

func TestIngestOrderingAndDedup(t *testing.T) {
	store := &memoryStore{}
	pub := &flakyPublisher{}
	ing := newTestIngestor(store, pub)

	_, err := ing.Ingest(context.Background(), RawEvent{Message: "x", Source: "web-service"})
	require.NoError(t, err)

	require.Len(t, pub.keys, 1)
	assert.Equal(t, "web-service", pub.keys[0], "ordering key is the alert source")
	assert.Len(t, pub.tokens[0], 64, "dedup token is a content hash")
}

func TestIngestDuplicateAlert(t *testing.T) {
	store := &memoryStore{}
	pub := &flakyPublisher{}
	ing := newTestIngestor(store, pub)

	_, err := ing.Ingest(context.Background(), RawEvent{Message: "x", AlertID: "dup-1"})
	require.NoError(t, err)

	id, err := ing.Ingest(context.Background(), RawEvent{Message: "x", AlertID: "dup-1"})
	assert.ErrorIs(t, err, model.ErrAlertExists)
	assert.Equal(t, "dup-1", id)
	assert.Equal(t, 1, pub.calls, "duplicates are not re-enqueued")
}

func TestIngestPublishRetry(t *testing.T) {
	t.Run("transient failures retried", func(t *testing.T) {
		store := &memoryStore{}
		pub := &flakyPublisher{failures: 2}
		ing := newTestIngestor(store, pub)

		_, err := ing.Ingest(context.Background(), RawEvent{Message: "x"})
		require.NoError(t, err)
		assert.Equal(t, 3, pub.calls)
	})

	t.Run("exhausted retries degrade", func(t *testing.T) {
		store := &memoryStore{}
		pub := &flakyPublisher{failures: 10}
		ing := newTestIngestor(store, pub)

		id, err := ing.Ingest(context.Background(), RawEvent{Message: "x"})
		assert.ErrorIs(t, err, model.ErrDegradedIngest)
		assert.NotEmpty(t, id, "the stored alert id is still reported")
		assert.NotNil(t, store.alerts[id], "the alert stays stored")
	})
}

func postIngest(t *testing.T, ing *Ingestor, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	ing.Register(router)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestHTTP(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ing := newTestIngestor(&memoryStore{}, &flakyPublisher{})
		w := postIngest(t, ing, []byte(`{"message":"disk full","severity":"high"}`))

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["alert_id"])
	})

	t.Run("duplicate returns existing id", func(t *testing.T) {
		ing := newTestIngestor(&memoryStore{}, &flakyPublisher{})
		body := []byte(`{"message":"disk full","alert_id":"dup-http"}`)

		require.Equal(t, http.StatusOK, postIngest(t, ing, body).Code)

		w := postIngest(t, ing, body)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "dup-http", resp["alert_id"])
		assert.Equal(t, "already_ingested", resp["status"])
	})

	t.Run("empty message is a client error", func(t *testing.T) {
		ing := newTestIngestor(&memoryStore{}, &flakyPublisher{})
		w := postIngest(t, ing, []byte(`{"severity":"high"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body is a client error", func(t *testing.T) {
		ing := newTestIngestor(&memoryStore{}, &flakyPublisher{})
		w := postIngest(t, ing, []byte(`{`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("degraded ingest reports upstream failure", func(t *testing.T) {
		ing := newTestIngestor(&memoryStore{}, &flakyPublisher{failures: 10})
		w := postIngest(t, ing, []byte(`{"message":"disk full"}`))

		require.Equal(t, http.StatusBadGateway, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["alert_id"])
	})
}
