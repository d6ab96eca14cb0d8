package engine

import (
	"context"
	"errors"
	"fmt"

	"plantline/internal/domain"
	"plantline/internal/engine/derive"
	"plantline/internal/events"
	"plantline/internal/metrics"
	"plantline/internal/repo"
)

// CommitError reports a persistence failure after the transaction was rolled
// back. Nothing from the failed call is stored.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Submission is the outcome of a committed production or PDI submission.
type Submission struct {
	SourceID string        `json:"source_id"`
	Tasks    []domain.Task `json:"tasks"`
}

// SubmitProduction derives tasks from ev and stores the record, its entries,
// their corrective actions, the tasks and the audit events in one transaction.
func (e Engine) SubmitProduction(ctx context.Context, ev domain.ProductionEvent, actorID string) (Submission, error) {
	res, err := derive.Production(ev)
	if err != nil {
		e.Metrics.ObserveSubmission(string(domain.FromProduction), metrics.ResultInvalid)
		return Submission{}, err
	}
	return e.commit(ctx, res, actorID)
}

// SubmitPDI derives at most one pdi-defect task from ev and stores it with the
// inspection record.
func (e Engine) SubmitPDI(ctx context.Context, ev domain.PDIEvent, actorID string) (Submission, error) {
	res, err := derive.PDI(ev)
	if err != nil {
		e.Metrics.ObserveSubmission(string(domain.FromPDI), metrics.ResultInvalid)
		return Submission{}, err
	}
	return e.commit(ctx, res, actorID)
}

// Submit dispatches on the concrete source event.
func (e Engine) Submit(ctx context.Context, ev domain.SourceEvent, actorID string) (Submission, error) {
	res, err := derive.Event(ev)
	if err != nil {
		return Submission{}, err
	}
	return e.commit(ctx, res, actorID)
}

func (e Engine) commit(ctx context.Context, res derive.Result, actorID string) (Submission, error) {
	source := string(domain.FromProduction)
	if res.PDI != nil {
		source = string(domain.FromPDI)
	}
	sub, err := e.persist(ctx, res, actorID)
	if err != nil {
		result := metrics.ResultFailed
		var ve domain.ValidationError
		if errors.As(err, &ve) {
			result = metrics.ResultInvalid
		}
		e.Metrics.ObserveSubmission(source, result)
		return Submission{}, err
	}
	e.Metrics.ObserveSubmission(source, metrics.ResultCommitted)
	for _, t := range sub.Tasks {
		e.Metrics.ObserveTask(string(t.TaskType), string(t.Priority))
	}
	e.logger().Info("submission committed", "source", source, "source_id", sub.SourceID, "tasks", len(sub.Tasks))
	return sub, nil
}

func (e Engine) persist(ctx context.Context, res derive.Result, actorID string) (Submission, error) {
	now := e.timestamp()
	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return Submission{}, &CommitError{Op: "begin", Err: err}
	}
	// Reused client ids surface as validation errors, everything else as
	// a CommitError.
	fail := func(op string, err error) (Submission, error) {
		e.rollback(tx, op)
		var ve domain.ValidationError
		if errors.As(err, &ve) {
			return Submission{}, err
		}
		return Submission{}, &CommitError{Op: op, Err: err}
	}

	var sourceID, sourceKind, sourceEvent, productionCode string
	var eventPayload events.EventPayload
	switch {
	case res.Production != nil:
		ev := *res.Production
		if ev.RecordID == "" {
			ev.RecordID = e.newID()
		}
		ev.CreatedBy = actorID
		ev.CreatedAt = now
		if err := tx.InsertProductionRecord(ctx, ev); err != nil {
			return fail("insert production record", conflictField("record_id", err))
		}
		if err := e.insertEntries(ctx, tx, &ev); err != nil {
			return fail("insert production entries", err)
		}
		sourceID, sourceKind, sourceEvent, productionCode = ev.RecordID, "production_record", events.ProductionRecorded, ev.ProductionCode
		eventPayload = events.EventPayload{
			"machine":           ev.Machine,
			"date":              ev.Date,
			"shift":             ev.Shift,
			"rejection_entries": len(ev.RejectionEntries),
			"downtime_entries":  len(ev.DowntimeEntries),
		}
	case res.PDI != nil:
		ev := *res.PDI
		if ev.PDIID == "" {
			ev.PDIID = e.newID()
		}
		ev.CreatedBy = actorID
		ev.CreatedAt = now
		if err := tx.InsertPDIRecord(ctx, ev); err != nil {
			return fail("insert pdi record", conflictField("pdi_id", err))
		}
		sourceID, sourceKind, sourceEvent, productionCode = ev.PDIID, "pdi_record", events.PDIRecorded, ev.ProductionCode
		eventPayload = events.EventPayload{"defect_name": ev.DefectName, "severity": ev.Severity, "quantity": ev.Quantity}
	default:
		e.rollback(tx, "submit")
		return Submission{}, domain.Invalid("event", "missing")
	}

	tasks := make([]domain.Task, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		t.ID = e.newID()
		t.SourceID = &sourceID
		if t.ProductionCode == "" {
			t.ProductionCode = productionCode
		}
		t.PreventiveActions = []domain.Action{}
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := tx.InsertTask(ctx, t); err != nil {
			return fail("insert task", err)
		}
		tasks = append(tasks, t)
	}

	w := e.events()
	eventPayload["tasks"] = len(tasks)
	if err := w.Append(ctx, tx, sourceEvent, sourceKind, sourceID, actorID, eventPayload); err != nil {
		return fail("append event", err)
	}
	for _, t := range tasks {
		if err := w.Append(ctx, tx, events.TaskDerived, "task", t.ID, actorID, taskPayload(t)); err != nil {
			return fail("append event", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail("commit", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return Submission{SourceID: sourceID, Tasks: tasks}, nil
}

func (e Engine) insertEntries(ctx context.Context, tx repo.Tx, ev *domain.ProductionEvent) error {
	for i := range ev.RejectionEntries {
		entry := &ev.RejectionEntries[i]
		if entry.EntryID == "" {
			entry.EntryID = e.newID()
		}
		if err := tx.InsertRejectionEntry(ctx, ev.RecordID, i, *entry); err != nil {
			return conflictField(fmt.Sprintf("rejection_entries[%d].entry_id", i), err)
		}
		for j, a := range entry.CorrectiveActions {
			if err := tx.InsertCorrectiveAction(ctx, repo.EntryRef{Kind: repo.RejectionEntryKind, ID: entry.EntryID}, j, a); err != nil {
				return err
			}
		}
	}
	for i := range ev.DowntimeEntries {
		entry := &ev.DowntimeEntries[i]
		if entry.EntryID == "" {
			entry.EntryID = e.newID()
		}
		if err := tx.InsertDowntimeEntry(ctx, ev.RecordID, i, *entry); err != nil {
			return conflictField(fmt.Sprintf("downtime_entries[%d].entry_id", i), err)
		}
		for j, a := range entry.CorrectiveActions {
			if err := tx.InsertCorrectiveAction(ctx, repo.EntryRef{Kind: repo.DowntimeEntryKind, ID: entry.EntryID}, j, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func taskPayload(t domain.Task) events.EventPayload {
	p := events.EventPayload{
		"task_type": t.TaskType,
		"priority":  t.Priority,
		"status":    t.Status,
		"title":     t.Title,
	}
	if t.AssignedTeam != nil {
		p["assigned_team"] = *t.AssignedTeam
	}
	if t.AssignedTo != nil {
		p["assigned_to"] = *t.AssignedTo
	}
	if t.SourceID != nil {
		p["source_id"] = *t.SourceID
	}
	return p
}

// IsCommitError reports whether err is a rolled-back persistence failure.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}

func conflictField(field string, err error) error {
	if errors.Is(err, repo.ErrConflict) {
		return domain.Invalid(field, "already exists")
	}
	return err
}
