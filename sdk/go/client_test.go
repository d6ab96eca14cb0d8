package plantlinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantline/internal/db"
	"plantline/internal/engine"
	"plantline/internal/migrate"
	"plantline/internal/repo"
	"plantline/internal/server"
	plantlinesdk "plantline/sdk/go"
)

func newClient(t *testing.T) *plantlinesdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	handler, err := server.New(server.Config{
		Engine: engine.New(conn, nil, nil),
		Repo:   repo.Repo{DB: conn},
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret"},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	token, err := server.IssueToken("sdk-secret", "sup-9", []string{"supervisor"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	c := plantlinesdk.New(ts.URL)
	c.BearerToken = token
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	sub, err := c.SubmitProduction(ctx, plantlinesdk.ProductionRecord{
		ProductionCode: "PC-9",
		Machine:        "IMM-09",
		Product:        "Cover",
		Shift:          "C",
		Date:           "2024-03-04",
		Operator:       "op-9",
		Supervisor:     "sup-9",
		Status:         "completed",
		DowntimeEntries: []plantlinesdk.DowntimeEntry{{
			DowntimeType:    "material shortage",
			DowntimeMinutes: 45,
			AssignToTeam:    []string{"Logistics"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, sub.Tasks, 1)
	task := sub.Tasks[0]
	assert.Equal(t, "Logistics", task.AssignedTeam)
	assert.Equal(t, "downtime", task.TaskType)

	progress := 30
	updated, err := c.UpdateTaskStatus(ctx, task.ID, plantlinesdk.StatusUpdate{
		Status:   "in-progress",
		Progress: &progress,
		PreventiveActions: []plantlinesdk.Action{
			{Action: "Raise buffer stock", Responsible: "Logistics", DueDate: "2024-03-15"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.Progress)
	require.Len(t, updated.PreventiveActions, 1)

	page, err := c.ListTasks(ctx, plantlinesdk.TaskQuery{Team: "Logistics", Status: "in-progress"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, task.ID, page.Items[0].ID)

	manual, err := c.CreateTask(ctx, plantlinesdk.NewTask{Title: "Audit feeder", Priority: "low"})
	require.NoError(t, err)
	assert.Equal(t, "manual", manual.CreatedFrom)

	require.NoError(t, c.DeleteTask(ctx, manual.ID))
	_, err = c.GetTask(ctx, manual.ID)
	var apiErr *plantlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	events, err := c.Events(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "task.deleted", events[0].Type)
}

func TestClientValidationError(t *testing.T) {
	c := newClient(t)
	_, err := c.SubmitPDI(context.Background(), plantlinesdk.PDIRecord{Date: "05/03/2024", DefectName: "Dent"})
	var apiErr *plantlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad_request", apiErr.Code)
	assert.Equal(t, "date", apiErr.Field)
}
