package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantline/internal/db"
	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/engine/auth"
	"plantline/internal/metrics"
	"plantline/internal/migrate"
	"plantline/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	apiKey string
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	e := engine.New(conn, metrics.New(reg), nil)
	r := repo.Repo{DB: conn}
	const terminalKey = "terminal-key-3"
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{
		ID:        "key-1",
		ActorID:   "terminal-3",
		Name:      "line 3 terminal",
		Roles:     []string{"operator"},
		KeyHash:   repo.HashAPIKey(terminalKey),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}))

	handler, err := New(Config{
		Engine:   e,
		Repo:     r,
		BasePath: "/v0",
		Gatherer: reg,
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			Policy: auth.Policy{Roles: map[string][]string{
				"supervisor": {auth.Wildcard},
				"operator":   {auth.PermProductionSubmit, auth.PermProductionRead, auth.PermTaskRead},
				"viewer":     {auth.PermTaskRead},
			}},
		},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		apiKey: terminalKey,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actorID string, roles ...string) map[string]string {
	t.Helper()
	token, err := IssueToken(testSecret, actorID, roles, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func productionBody() map[string]any {
	return map[string]any{
		"production_code": "PC-100",
		"machine":         "IMM-07",
		"product":         "Bezel",
		"shift":           "A",
		"date":            "2024-03-04",
		"operator":        "op-1",
		"supervisor":      "sup-1",
		"status":          "completed",
		"rejection_entries": []map[string]any{{
			"rejection_type": "Short shot",
			"quantity":       60,
			"reason":         "machine breakdown",
			"assign_to_team": "Maintenance, Quality",
			"corrective_actions": []map[string]any{
				{"action": "Check heater bands", "responsible": "Maint"},
			},
		}},
		"downtime_entries": []map[string]any{{
			"downtime_type":    "changeover",
			"downtime_minutes": 20,
			"assign_to_team":   []string{"Production"},
		}},
	}
}

func submitProduction(t *testing.T, srv *testServer) SubmissionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", productionBody(), bearer(t, "sup-1", "supervisor"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var sub SubmissionResponse
	require.NoError(t, json.Unmarshal(data, &sub))
	return sub
}

func TestSubmitProductionDerivesTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	sub := submitProduction(t, srv)
	require.NotEmpty(t, sub.SourceID)
	require.Len(t, sub.Tasks, 3)
	teams := []string{}
	for _, task := range sub.Tasks {
		require.NotNil(t, task.AssignedTeam)
		teams = append(teams, *task.AssignedTeam)
		assert.Equal(t, domain.StatusPending, task.Status)
		assert.Equal(t, sub.SourceID, *task.SourceID)
	}
	assert.Equal(t, []string{"Maintenance", "Quality", "Production"}, teams)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/production-records/"+sub.SourceID, nil, bearer(t, "sup-1", "supervisor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rec domain.ProductionEvent
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Len(t, rec.RejectionEntries, 1)
	assert.Equal(t, domain.TeamList{"Maintenance", "Quality"}, rec.RejectionEntries[0].AssignToTeam)
	require.Len(t, rec.RejectionEntries[0].CorrectiveActions, 1)
	require.Len(t, rec.DowntimeEntries, 1)
	assert.Equal(t, "sup-1", rec.CreatedBy)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?source_id="+sub.SourceID, nil, bearer(t, "sup-1", "supervisor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedTasks
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Len(t, page.Items, 3)
	assert.Empty(t, page.NextCursor)
}

func TestSubmitPDIRecord(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/pdi-records", map[string]any{
		"production_code": "PC-100",
		"product":         "Bezel",
		"date":            "2024-03-05",
		"defect_name":     "Scratch on lens",
		"severity":        "high",
		"quantity":        4,
	}, bearer(t, "insp-1", "supervisor"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var sub SubmissionResponse
	require.NoError(t, json.Unmarshal(data, &sub))
	require.Len(t, sub.Tasks, 1)
	assert.Equal(t, domain.TaskTypePDIDefect, sub.Tasks[0].TaskType)
	assert.Equal(t, domain.PriorityHigh, sub.Tasks[0].Priority)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pdi-records/"+sub.SourceID, nil, bearer(t, "insp-1", "supervisor"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/pdi-records", map[string]any{
		"date":         "2024-03-05",
		"inspector_id": "not-a-uuid",
	}, bearer(t, "insp-1", "supervisor"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", decodeError(t, data).Error.Code)
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "sup-1", "supervisor")

	body := productionBody()
	body["machine"] = "   "
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", body, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "bad_request", env.Error.Code)
	assert.Equal(t, "machine", env.Error.Details["field"])

	body = productionBody()
	body["rejection_entries"].([]map[string]any)[0]["quantity"] = -1
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", body, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "rejection_entries[0].quantity", decodeError(t, data).Error.Details["field"])

	body = productionBody()
	body["downtime_entries"].([]map[string]any)[0]["assign_to_team"] = []any{"Production", 7}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", body, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "downtime_entries[0].assign_to_team", decodeError(t, data).Error.Details["field"])

	// Nothing from the rejected submissions was stored.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/summary", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var summary TaskSummaryResponse
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 0, summary.Total)
}

func TestReusedRecordIDIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "sup-1", "supervisor")

	body := productionBody()
	body["record_id"] = "rec-100"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", body, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/production-records", body, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "bad_request", env.Error.Code)
	assert.Equal(t, "record_id", env.Error.Details["field"])
}

func TestHandlersKeepTheirOwnLogger(t *testing.T) {
	newHandler := func(buf *bytes.Buffer) (http.Handler, func()) {
		conn, err := db.Open(db.Config{Workspace: t.TempDir()})
		require.NoError(t, err)
		_, err = migrate.Migrate(context.Background(), conn)
		require.NoError(t, err)
		h, err := New(Config{
			Engine: engine.New(conn, nil, nil),
			Repo:   repo.Repo{DB: conn},
			Logger: slog.New(slog.NewTextHandler(buf, nil)),
			Auth:   AuthConfig{AllowLegacyActorHeader: true},
		})
		require.NoError(t, err)
		return h, func() { conn.Close() }
	}
	var first, second bytes.Buffer
	h1, closeFirst := newHandler(&first)
	_, closeSecond := newHandler(&second)
	defer closeSecond()

	// A closed database turns the next read into an internal error.
	closeFirst()
	req := httptest.NewRequest(http.MethodGet, "/v0/tasks/any", nil)
	req.Header.Set("X-Actor-Id", "sup-1")
	rec := httptest.NewRecorder()
	h1.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	assert.Contains(t, first.String(), "request failed")
	assert.Empty(t, second.String())
}

func TestTaskLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "sup-1", "supervisor")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":         "Replace worn guide pins",
		"priority":      "high",
		"assigned_team": "Maintenance",
		"due_date":      "2024-03-10",
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created domain.Task
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, domain.TaskTypeManual, created.TaskType)
	assert.Equal(t, domain.FromManual, created.CreatedFrom)
	assert.Equal(t, []domain.Action{}, created.PreventiveActions)
	taskURL := srv.URL + "/v0/tasks/" + created.ID

	res, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL+"/status", map[string]any{
		"status":     "in-progress",
		"progress":   40,
		"root_cause": "pins past service life",
		"preventive_actions": []map[string]any{
			{"action": "Add pins to PM checklist", "responsible": "Maint", "due_date": "2024-03-20"},
		},
	}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var updated domain.Task
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, domain.StatusInProgress, updated.Status)
	assert.Equal(t, 40, updated.Progress)
	require.Len(t, updated.PreventiveActions, 1)

	res, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL+"/status", map[string]any{"status": "completed"}, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, 100, updated.Progress)
	assert.NotNil(t, updated.CompletedAt)
	assert.Len(t, updated.PreventiveActions, 1)

	res, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL+"/status", map[string]any{"status": "done"}, headers)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, taskURL, nil, headers)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodDelete, taskURL, nil, headers)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, taskURL, nil, headers)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"X-Api-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production-records", productionBody(), bearer(t, "viewer-1", "viewer"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, auth.PermProductionSubmit, env.Error.Details["permission"])

	apiKey := map[string]string{"X-Api-Key": srv.apiKey}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/production-records", productionBody(), apiKey)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var sub SubmissionResponse
	require.NoError(t, json.Unmarshal(data, &sub))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/production-records/"+sub.SourceID, nil, apiKey)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rec domain.ProductionEvent
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "terminal-3", rec.CreatedBy)

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+sub.Tasks[0].ID, nil, apiKey)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Actor-Id":    "legacy-1",
		"X-Actor-Roles": "viewer",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "legacy-1", me.ActorID)
	assert.Equal(t, "legacy_header", me.Source)
	assert.Equal(t, []string{auth.PermTaskRead}, me.Permissions)
}

func TestListTasksAndEventsPaginate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "sup-1", "supervisor")
	submitProduction(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?limit=2", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedTasks
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	seen := map[string]bool{page.Items[0].ID: true, page.Items[1].ID: true}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?limit=2&cursor="+page.NextCursor, nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = paginatedTasks{}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.False(t, seen[page.Items[0].ID])
	assert.Empty(t, page.NextCursor)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?cursor=garbage", nil, headers)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?team=Production", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = paginatedTasks{}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, domain.TaskTypeDowntime, page.Items[0].TaskType)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2", nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var events paginatedEvents
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events.Items, 2)
	require.NotEmpty(t, events.NextCursor)
	assert.Greater(t, events.Items[0].ID, events.Items[1].ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+events.NextCursor, nil, headers)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	events = paginatedEvents{}
	require.NoError(t, json.Unmarshal(data, &events))
	require.Len(t, events.Items, 2)
	assert.Empty(t, events.NextCursor)
	assert.Equal(t, "production.recorded", events.Items[1].Type)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	submitProduction(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := string(data)
	assert.Contains(t, body, `plantline_submissions_total{result="committed",source="production"} 1`)
	assert.Contains(t, body, `plantline_tasks{status="pending"} 3`)
	assert.True(t, strings.Contains(body, "plantline_tasks_derived_total"))
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/production-records")
	assert.Contains(t, paths, "/v0/tasks/{id}/status")
}
