package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantline/internal/config"
	"plantline/internal/db"
	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/migrate"
)

type delivery struct {
	Header http.Header
	Body   webhookEvent
}

type receiver struct {
	mu         sync.Mutex
	deliveries []delivery
	failures   int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(req.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	r.deliveries = append(r.deliveries, delivery{Header: req.Header.Clone(), Body: evt})
	w.WriteHeader(http.StatusNoContent)
}

func (r *receiver) received() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func newWebhookEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return engine.New(conn, nil, nil)
}

func webhookProduction() domain.ProductionEvent {
	return domain.ProductionEvent{
		ProductionCode: "PC-200",
		Machine:        "IMM-02",
		Product:        "Housing",
		Shift:          "B",
		Date:           "2024-03-04",
		Operator:       "op-2",
		Supervisor:     "sup-2",
		Status:         "completed",
		RejectionEntries: []domain.RejectionEntry{{
			RejectionType: "Flash",
			Quantity:      12,
			Reason:        "mould wear",
			AssignToTeam:  domain.TeamList{"Maintenance", "Quality"},
		}},
	}
}

func TestWebhookDeliversMatchingTeamEvents(t *testing.T) {
	ctx := context.Background()
	e := newWebhookEngine(t)
	rcv := &receiver{}
	ts := httptest.NewServer(rcv)
	defer ts.Close()

	cfg := config.Default("plant-7")
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    ts.URL,
		Events: []string{"task.derived"},
		Teams:  []string{"Quality"},
		Secret: "s3cret",
	}}
	d := NewWebhookDispatcher(e.Store, cfg, nil)
	require.True(t, d.Enabled())

	// Hooks start after the latest event present on the first poll.
	d.DispatchAll(ctx)
	_, err := e.SubmitProduction(ctx, webhookProduction(), "op-2")
	require.NoError(t, err)
	d.DispatchAll(ctx)

	got := rcv.received()
	require.Len(t, got, 1)
	assert.Equal(t, "task.derived", got[0].Header.Get("X-Plantline-Event"))
	assert.Equal(t, "plant-7", got[0].Header.Get("X-Plantline-Plant"))
	assert.Equal(t, "s3cret", got[0].Header.Get("X-Plantline-Secret"))
	assert.Equal(t, "task", got[0].Body.EntityKind)
	assert.Equal(t, "op-2", got[0].Body.ActorID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].Body.Payload, &payload))
	assert.Equal(t, "Quality", payload["assigned_team"])

	d.DispatchAll(ctx)
	assert.Len(t, rcv.received(), 1)
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	e := newWebhookEngine(t)
	rcv := &receiver{failures: 1}
	ts := httptest.NewServer(rcv)
	defer ts.Close()

	cfg := config.Default("plant-7")
	cfg.Webhooks = []config.WebhookConfig{{URL: ts.URL, Events: []string{"production.recorded"}}}
	d := NewWebhookDispatcher(e.Store, cfg, nil)

	d.DispatchAll(ctx)
	sub, err := e.SubmitProduction(ctx, webhookProduction(), "op-2")
	require.NoError(t, err)

	d.DispatchAll(ctx)
	assert.Empty(t, rcv.received())

	d.DispatchAll(ctx)
	got := rcv.received()
	require.Len(t, got, 1)
	assert.Equal(t, sub.SourceID, got[0].Body.EntityID)
}

func TestWebhookDisabledHooksAreSkipped(t *testing.T) {
	off := false
	cfg := config.Default("plant-7")
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &off}}
	d := NewWebhookDispatcher(nil, cfg, nil)
	assert.False(t, d.Enabled())
	d.Run(context.Background())
}

func TestEventFilter(t *testing.T) {
	evt := domain.Event{Type: "task.derived", Payload: `{"assigned_team":"Maintenance"}`}
	assert.True(t, newEventFilter(nil, nil).match(evt))
	assert.True(t, newEventFilter([]string{"task.derived"}, []string{" Maintenance "}).match(evt))
	assert.False(t, newEventFilter([]string{"task.deleted"}, nil).match(evt))
	assert.False(t, newEventFilter(nil, []string{"Quality"}).match(evt))
	assert.False(t, newEventFilter(nil, []string{"Quality"}).match(domain.Event{Type: "task.derived", Payload: "not json"}))
}
