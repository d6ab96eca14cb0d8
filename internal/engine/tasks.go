package engine

import (
	"context"
	"fmt"
	"strings"

	"plantline/internal/domain"
	"plantline/internal/engine/derive"
	"plantline/internal/events"
)

// StatusUpdate carries a lifecycle change. Nil pointer fields are left
// unchanged; a nil PreventiveActions keeps the stored list and a non-nil one
// (even empty) replaces it.
type StatusUpdate struct {
	TaskID            string
	Status            domain.Status
	Progress          *int
	StatusComments    *string
	RootCause         *string
	ImpactAssessment  *string
	RecurrenceRisk    *string
	LessonsLearned    *string
	PreventiveActions []domain.Action
	ActorID           string
}

// checkStatusTransition is the single place where status transitions are
// judged. Every pair of known statuses is currently allowed, including moving
// back from completed.
func checkStatusTransition(from, to domain.Status) error {
	if !to.Valid() {
		return domain.Invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	return nil
}

func (e Engine) UpdateTaskStatus(ctx context.Context, u StatusUpdate) (domain.Task, error) {
	if !u.Status.Valid() {
		return domain.Task{}, domain.Invalid("status", fmt.Sprintf("unknown status %q", u.Status))
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return domain.Task{}, domain.Invalid("progress", "must be between 0 and 100")
	}
	var actions []domain.Action
	if u.PreventiveActions != nil {
		var err error
		if actions, err = derive.CleanActions("preventive_actions", u.PreventiveActions); err != nil {
			return domain.Task{}, err
		}
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := tx.GetTask(ctx, u.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	from := t.Status
	if err := checkStatusTransition(from, u.Status); err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	t.Status = u.Status
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	switch u.Status {
	case domain.StatusCompleted:
		t.Progress = 100
		if from != domain.StatusCompleted || t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	case domain.StatusPending:
		t.Progress = 0
		t.CompletedAt = nil
	case domain.StatusInProgress:
		t.CompletedAt = nil
	}
	assign := func(dst **string, src *string) {
		if src != nil {
			*dst = optionalString(strings.TrimSpace(*src))
		}
	}
	assign(&t.StatusComments, u.StatusComments)
	assign(&t.RootCause, u.RootCause)
	assign(&t.ImpactAssessment, u.ImpactAssessment)
	assign(&t.RecurrenceRisk, u.RecurrenceRisk)
	assign(&t.LessonsLearned, u.LessonsLearned)
	t.UpdatedAt = now

	if err := tx.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if actions != nil {
		if err := tx.DeletePreventiveActions(ctx, t.ID); err != nil {
			return domain.Task{}, err
		}
		for i, a := range actions {
			if err := tx.InsertPreventiveAction(ctx, t.ID, i, a); err != nil {
				return domain.Task{}, err
			}
		}
		t.PreventiveActions = actions
	}
	payload := taskPayload(t)
	payload["from"] = from
	payload["progress"] = t.Progress
	if actions != nil {
		payload["preventive_actions"] = len(actions)
	}
	if err := e.events().Append(ctx, tx, events.TaskStatusUpdated, "task", t.ID, u.ActorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes the task's preventive actions and then the task. Deleting
// an unknown or already deleted id reports not found.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := tx.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := tx.DeletePreventiveActions(ctx, id); err != nil {
		return err
	}
	if err := tx.DeleteTask(ctx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TaskDeleted, "task", id, actorID, taskPayload(t)); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a manual task.
type TaskCreateOptions struct {
	ProductionCode    string
	TaskType          domain.TaskType
	Title             string
	Description       string
	Priority          domain.Priority
	AssignedTo        string
	AssignedTeam      string
	DueDate           string
	Equipment         string
	Quantity          *int
	PreventiveActions []domain.Action
	ActorID           string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, domain.Invalid("title", "is required")
	}
	if opts.TaskType == "" {
		opts.TaskType = domain.TaskTypeManual
	}
	if !opts.TaskType.Valid() {
		return domain.Task{}, domain.Invalid("task_type", fmt.Sprintf("unknown task type %q", opts.TaskType))
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, domain.Invalid("priority", fmt.Sprintf("unknown priority %q", opts.Priority))
	}
	if opts.Quantity != nil && *opts.Quantity < 0 {
		return domain.Task{}, domain.Invalid("quantity", "must not be negative")
	}
	dueDate := strings.TrimSpace(opts.DueDate)
	if dueDate != "" {
		if err := derive.ValidateDate("due_date", dueDate); err != nil {
			return domain.Task{}, err
		}
	}
	actions, err := derive.CleanActions("preventive_actions", opts.PreventiveActions)
	if err != nil {
		return domain.Task{}, err
	}
	if actions == nil {
		actions = []domain.Action{}
	}

	now := e.timestamp()
	t := domain.Task{
		ID:                e.newID(),
		ProductionCode:    strings.TrimSpace(opts.ProductionCode),
		TaskType:          opts.TaskType,
		Title:             opts.Title,
		Description:       opts.Description,
		Priority:          opts.Priority,
		AssignedTo:        optionalString(strings.TrimSpace(opts.AssignedTo)),
		AssignedTeam:      optionalString(strings.TrimSpace(opts.AssignedTeam)),
		DueDate:           optionalString(dueDate),
		Status:            domain.StatusPending,
		CreatedFrom:       domain.FromManual,
		Quantity:          opts.Quantity,
		Equipment:         optionalString(strings.TrimSpace(opts.Equipment)),
		PreventiveActions: actions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := tx.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	for i, a := range actions {
		if err := tx.InsertPreventiveAction(ctx, t.ID, i, a); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.TaskCreated, "task", t.ID, opts.ActorID, taskPayload(t)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
