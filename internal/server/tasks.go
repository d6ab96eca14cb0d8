package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/engine/auth"
	"plantline/internal/repo"
)

type taskOutput struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine, policy auth.Policy) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a manual task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := requirePermission(ctx, policy, auth.PermTaskCreate)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProductionCode:    in.ProductionCode,
			TaskType:          domain.TaskType(in.TaskType),
			Title:             in.Title,
			Description:       in.Description,
			Priority:          domain.Priority(in.Priority),
			AssignedTo:        in.AssignedTo,
			AssignedTeam:      in.AssignedTeam,
			DueDate:           in.DueDate,
			Equipment:         in.Equipment,
			Quantity:          in.Quantity,
			PreventiveActions: toActions(in.PreventiveActions),
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status" enum:"pending,in-progress,completed"`
		Team           string `query:"team"`
		AssignedTo     string `query:"assigned_to"`
		TaskType       string `query:"task_type" enum:"rejection,downtime,pdi-defect,maintenance,manual"`
		ProductionCode string `query:"production_code"`
		CreatedFrom    string `query:"created_from" enum:"production,pdi,manual"`
		SourceID       string `query:"source_id"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermTaskRead); authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListTasks(ctx, repo.TaskFilters{
			Status:          input.Status,
			Team:            input.Team,
			AssignedTo:      input.AssignedTo,
			TaskType:        input.TaskType,
			ProductionCode:  input.ProductionCode,
			CreatedFrom:     input.CreatedFrom,
			SourceID:        input.SourceID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedTasks{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = nonNilTasks(items)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-summary",
		Method:      http.MethodGet,
		Path:        "/tasks/summary",
		Summary:     "Count tasks by status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskSummaryResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermTaskRead); authErr != nil {
			return nil, authErr
		}
		counts, err := e.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := TaskSummaryResponse{ByStatus: map[string]int{}}
		for _, s := range []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted} {
			resp.ByStatus[string(s)] = counts[string(s)]
			resp.Total += counts[string(s)]
		}
		return &struct {
			Body TaskSummaryResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermTaskRead); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Update task status, progress and follow-up notes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateTaskStatusRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := requirePermission(ctx, policy, auth.PermTaskUpdate)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		t, err := e.UpdateTaskStatus(ctx, engine.StatusUpdate{
			TaskID:            input.ID,
			Status:            domain.Status(in.Status),
			Progress:          in.Progress,
			StatusComments:    in.StatusComments,
			RootCause:         in.RootCause,
			ImpactAssessment:  in.ImpactAssessment,
			RecurrenceRisk:    in.RecurrenceRisk,
			LessonsLearned:    in.LessonsLearned,
			PreventiveActions: toActions(in.PreventiveActions),
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task and its preventive actions",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := requirePermission(ctx, policy, auth.PermTaskDelete)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return nil, nil
	})
}

func registerEvents(api huma.API, e engine.Engine, policy auth.Policy) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"production_record,pdi_record,task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermEventsRead); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Store.LatestEvents(ctx, repo.EventFilters{
			Limit:      limit + 1,
			Cursor:     input.Cursor,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = formatCursor(items[limit-1].ID)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
