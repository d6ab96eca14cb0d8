package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"plantline/internal/domain"
)

// Repo implements Store on SQLite.
type Repo struct {
	DB *sql.DB
}

var _ Store = Repo{}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

// conflict wraps key violations in ErrConflict.
func conflict(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
	}
	return err
}

func (t sqlTx) Commit() error   { return t.tx.Commit() }
func (t sqlTx) Rollback() error { return t.tx.Rollback() }

func (t sqlTx) InsertProductionRecord(ctx context.Context, ev domain.ProductionEvent) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO production_records(id,production_code,machine,product,shift,date,operator,supervisor,status,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ev.RecordID, nullable(ev.ProductionCode), ev.Machine, ev.Product, ev.Shift, ev.Date, ev.Operator, ev.Supervisor, ev.Status,
		nullable(ev.CreatedBy), ev.CreatedAt)
	return conflict(err)
}

func (t sqlTx) InsertRejectionEntry(ctx context.Context, recordID string, position int, e domain.RejectionEntry) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO rejection_entries(id,record_id,position,rejection_type,quantity,reason,assign_to_team) VALUES (?,?,?,?,?,?,?)`,
		e.EntryID, recordID, position, e.RejectionType, e.Quantity, nullable(e.Reason), nullable(e.AssignToTeam.String()))
	return conflict(err)
}

func (t sqlTx) InsertDowntimeEntry(ctx context.Context, recordID string, position int, e domain.DowntimeEntry) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO downtime_entries(id,record_id,position,downtime_type,custom_type,downtime_minutes,assign_to_team) VALUES (?,?,?,?,?,?,?)`,
		e.EntryID, recordID, position, e.DowntimeType, nullable(e.CustomType), e.DowntimeMinutes, nullable(e.AssignToTeam.String()))
	return conflict(err)
}

func (t sqlTx) InsertCorrectiveAction(ctx context.Context, entry EntryRef, position int, a domain.Action) error {
	var rejectionID, downtimeID any
	switch entry.Kind {
	case RejectionEntryKind:
		rejectionID = entry.ID
	case DowntimeEntryKind:
		downtimeID = entry.ID
	default:
		return fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO corrective_actions(rejection_entry_id,downtime_entry_id,position,action,responsible,due_date) VALUES (?,?,?,?,?,?)`,
		rejectionID, downtimeID, position, a.Action, nullable(a.Responsible), nullableStringPtr(a.DueDate))
	return err
}

func (t sqlTx) InsertPDIRecord(ctx context.Context, ev domain.PDIEvent) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO pdi_records(id,production_code,product,shift,date,defect_name,severity,quantity,inspector_id,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ev.PDIID, nullable(ev.ProductionCode), nullable(ev.Product), nullable(ev.Shift), ev.Date, nullable(ev.DefectName), nullable(ev.Severity),
		ev.Quantity, nullable(ev.InspectorID), nullable(ev.CreatedBy), ev.CreatedAt)
	return conflict(err)
}

func (t sqlTx) InsertTask(ctx context.Context, task domain.Task) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO tasks(id,production_code,task_type,title,description,priority,assigned_to,assigned_team,due_date,status,created_from,source_id,rejection_reason,quantity,equipment,progress,category,suggested_role,status_comments,root_cause,impact_assessment,recurrence_risk,lessons_learned,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID, nullable(task.ProductionCode), string(task.TaskType), task.Title, nullable(task.Description), string(task.Priority),
		nullableStringPtr(task.AssignedTo), nullableStringPtr(task.AssignedTeam), nullableStringPtr(task.DueDate), string(task.Status),
		string(task.CreatedFrom), nullableStringPtr(task.SourceID), nullableStringPtr(task.RejectionReason), nullableIntPtr(task.Quantity),
		nullableStringPtr(task.Equipment), task.Progress, nullable(task.Category), nullable(task.SuggestedRole),
		nullableStringPtr(task.StatusComments), nullableStringPtr(task.RootCause), nullableStringPtr(task.ImpactAssessment),
		nullableStringPtr(task.RecurrenceRisk), nullableStringPtr(task.LessonsLearned),
		task.CreatedAt, task.UpdatedAt, nullableStringPtr(task.CompletedAt))
	return err
}

func (t sqlTx) InsertPreventiveAction(ctx context.Context, taskID string, position int, a domain.Action) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO preventive_actions(task_id,position,action,responsible,due_date) VALUES (?,?,?,?,?)`,
		taskID, position, a.Action, nullable(a.Responsible), nullableStringPtr(a.DueDate))
	return err
}

func (t sqlTx) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, t.tx, id)
}

func (t sqlTx) UpdateTask(ctx context.Context, task domain.Task) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE tasks SET status=?, progress=?, status_comments=?, root_cause=?, impact_assessment=?, recurrence_risk=?, lessons_learned=?, updated_at=?, completed_at=? WHERE id=?`,
		string(task.Status), task.Progress, nullableStringPtr(task.StatusComments), nullableStringPtr(task.RootCause),
		nullableStringPtr(task.ImpactAssessment), nullableStringPtr(task.RecurrenceRisk), nullableStringPtr(task.LessonsLearned),
		task.UpdatedAt, nullableStringPtr(task.CompletedAt), task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError{Entity: "task", ID: task.ID}
	}
	return nil
}

func (t sqlTx) DeletePreventiveActions(ctx context.Context, taskID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM preventive_actions WHERE task_id=?`, taskID)
	return err
}

func (t sqlTx) DeleteTask(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError{Entity: "task", ID: id}
	}
	return nil
}

func (t sqlTx) AppendEvent(ctx context.Context, e domain.Event) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		e.TS, e.Type, e.EntityKind, nullable(e.EntityID), e.ActorID, nullable(e.Payload))
	return err
}

const taskColumns = `id,production_code,task_type,title,description,priority,assigned_to,assigned_team,due_date,status,created_from,source_id,rejection_reason,quantity,equipment,progress,category,suggested_role,status_comments,root_cause,impact_assessment,recurrence_risk,lessons_learned,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var productionCode, description, assignedTo, assignedTeam, dueDate, sourceID, reason, equipment, category, role sql.NullString
	var comments, rootCause, impact, risk, lessons, completedAt sql.NullString
	var taskType, priority, status, createdFrom string
	var quantity sql.NullInt64
	err := row.Scan(&t.ID, &productionCode, &taskType, &t.Title, &description, &priority, &assignedTo, &assignedTeam, &dueDate, &status,
		&createdFrom, &sourceID, &reason, &quantity, &equipment, &t.Progress, &category, &role, &comments, &rootCause, &impact, &risk,
		&lessons, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return t, err
	}
	t.TaskType = domain.TaskType(taskType)
	t.Priority = domain.Priority(priority)
	t.Status = domain.Status(status)
	t.CreatedFrom = domain.CreatedFrom(createdFrom)
	t.ProductionCode = productionCode.String
	t.Description = description.String
	t.Category = category.String
	t.SuggestedRole = role.String
	t.AssignedTo = stringPtr(assignedTo)
	t.AssignedTeam = stringPtr(assignedTeam)
	t.DueDate = stringPtr(dueDate)
	t.SourceID = stringPtr(sourceID)
	t.RejectionReason = stringPtr(reason)
	t.Equipment = stringPtr(equipment)
	t.StatusComments = stringPtr(comments)
	t.RootCause = stringPtr(rootCause)
	t.ImpactAssessment = stringPtr(impact)
	t.RecurrenceRisk = stringPtr(risk)
	t.LessonsLearned = stringPtr(lessons)
	t.CompletedAt = stringPtr(completedAt)
	if quantity.Valid {
		q := int(quantity.Int64)
		t.Quantity = &q
	}
	return t, nil
}

func getTask(ctx context.Context, q queryer, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, domain.NotFoundError{Entity: "task", ID: id}
	}
	if err != nil {
		return t, err
	}
	t.PreventiveActions, err = listPreventiveActions(ctx, q, id)
	return t, err
}

func listPreventiveActions(ctx context.Context, q queryer, taskID string) ([]domain.Action, error) {
	rows, err := q.QueryContext(ctx, `SELECT action,responsible,due_date FROM preventive_actions WHERE task_id=? ORDER BY position ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]domain.Action, error) {
	res := []domain.Action{}
	for rows.Next() {
		var a domain.Action
		var responsible, due sql.NullString
		if err := rows.Scan(&a.Action, &responsible, &due); err != nil {
			return nil, err
		}
		a.Responsible = responsible.String
		a.DueDate = stringPtr(due)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

type TaskFilters struct {
	Status         string
	Team           string
	AssignedTo     string
	TaskType       string
	ProductionCode string
	CreatedFrom    string
	SourceID       string
	Limit          int
	// Cursor pagination on (created_at, id), newest first.
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	add := func(clause, value string) {
		if value != "" {
			clauses = append(clauses, clause)
			args = append(args, value)
		}
	}
	add("status=?", f.Status)
	add("assigned_team=?", f.Team)
	add("assigned_to=?", f.AssignedTo)
	add("task_type=?", f.TaskType)
	add("production_code=?", f.ProductionCode)
	add("created_from=?", f.CreatedFrom)
	add("source_id=?", f.SourceID)
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].PreventiveActions, err = listPreventiveActions(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListTasksBySource returns tasks derived from one source record in insertion order.
func (r Repo) ListTasksBySource(ctx context.Context, sourceID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE source_id=? ORDER BY rowid ASC`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		t.PreventiveActions = []domain.Action{}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
