package repo

import (
	"context"
	"database/sql"
	"errors"

	"plantline/internal/domain"
)

// GetProductionRecord loads a production record with its entries and their
// corrective actions in submission order.
func (r Repo) GetProductionRecord(ctx context.Context, id string) (domain.ProductionEvent, error) {
	var ev domain.ProductionEvent
	var code, createdBy sql.NullString
	row := r.DB.QueryRowContext(ctx, `SELECT id,production_code,machine,product,shift,date,operator,supervisor,status,created_by,created_at FROM production_records WHERE id=?`, id)
	err := row.Scan(&ev.RecordID, &code, &ev.Machine, &ev.Product, &ev.Shift, &ev.Date, &ev.Operator, &ev.Supervisor, &ev.Status, &createdBy, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, domain.NotFoundError{Entity: "production record", ID: id}
	}
	if err != nil {
		return ev, err
	}
	ev.ProductionCode = code.String
	ev.CreatedBy = createdBy.String

	if ev.RejectionEntries, err = r.listRejectionEntries(ctx, id); err != nil {
		return ev, err
	}
	if ev.DowntimeEntries, err = r.listDowntimeEntries(ctx, id); err != nil {
		return ev, err
	}
	return ev, nil
}

func (r Repo) listRejectionEntries(ctx context.Context, recordID string) ([]domain.RejectionEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,rejection_type,quantity,reason,assign_to_team FROM rejection_entries WHERE record_id=? ORDER BY position ASC`, recordID)
	if err != nil {
		return nil, err
	}
	var res []domain.RejectionEntry
	for rows.Next() {
		var e domain.RejectionEntry
		var reason, teams sql.NullString
		if err := rows.Scan(&e.EntryID, &e.RejectionType, &e.Quantity, &reason, &teams); err != nil {
			rows.Close()
			return nil, err
		}
		e.Reason = reason.String
		e.AssignToTeam = domain.ParseTeams(teams.String)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].CorrectiveActions, err = r.listCorrectiveActions(ctx, EntryRef{Kind: RejectionEntryKind, ID: res[i].EntryID}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) listDowntimeEntries(ctx context.Context, recordID string) ([]domain.DowntimeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,downtime_type,custom_type,downtime_minutes,assign_to_team FROM downtime_entries WHERE record_id=? ORDER BY position ASC`, recordID)
	if err != nil {
		return nil, err
	}
	var res []domain.DowntimeEntry
	for rows.Next() {
		var e domain.DowntimeEntry
		var custom, teams sql.NullString
		if err := rows.Scan(&e.EntryID, &e.DowntimeType, &custom, &e.DowntimeMinutes, &teams); err != nil {
			rows.Close()
			return nil, err
		}
		e.CustomType = custom.String
		e.AssignToTeam = domain.ParseTeams(teams.String)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].CorrectiveActions, err = r.listCorrectiveActions(ctx, EntryRef{Kind: DowntimeEntryKind, ID: res[i].EntryID}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) listCorrectiveActions(ctx context.Context, entry EntryRef) ([]domain.Action, error) {
	column := "rejection_entry_id"
	if entry.Kind == DowntimeEntryKind {
		column = "downtime_entry_id"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT action,responsible,due_date FROM corrective_actions WHERE `+column+`=? ORDER BY position ASC, id ASC`, entry.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func (r Repo) GetPDIRecord(ctx context.Context, id string) (domain.PDIEvent, error) {
	var ev domain.PDIEvent
	var code, product, shift, defect, severity, inspector, createdBy sql.NullString
	row := r.DB.QueryRowContext(ctx, `SELECT id,production_code,product,shift,date,defect_name,severity,quantity,inspector_id,created_by,created_at FROM pdi_records WHERE id=?`, id)
	err := row.Scan(&ev.PDIID, &code, &product, &shift, &ev.Date, &defect, &severity, &ev.Quantity, &inspector, &createdBy, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, domain.NotFoundError{Entity: "pdi record", ID: id}
	}
	if err != nil {
		return ev, err
	}
	ev.ProductionCode = code.String
	ev.Product = product.String
	ev.Shift = shift.String
	ev.DefectName = defect.String
	ev.Severity = severity.String
	ev.InspectorID = inspector.String
	ev.CreatedBy = createdBy.String
	return ev, nil
}

// ListProductionRecords returns record headers, newest first. Entries are not loaded.
func (r Repo) ListProductionRecords(ctx context.Context, limit int) ([]domain.ProductionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,production_code,machine,product,shift,date,operator,supervisor,status,created_by,created_at FROM production_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionEvent
	for rows.Next() {
		var ev domain.ProductionEvent
		var code, createdBy sql.NullString
		if err := rows.Scan(&ev.RecordID, &code, &ev.Machine, &ev.Product, &ev.Shift, &ev.Date, &ev.Operator, &ev.Supervisor, &ev.Status, &createdBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ProductionCode = code.String
		ev.CreatedBy = createdBy.String
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) ListPDIRecords(ctx context.Context, limit int) ([]domain.PDIEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,production_code,product,shift,date,defect_name,severity,quantity,inspector_id,created_by,created_at FROM pdi_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PDIEvent
	for rows.Next() {
		var ev domain.PDIEvent
		var code, product, shift, defect, severity, inspector, createdBy sql.NullString
		if err := rows.Scan(&ev.PDIID, &code, &product, &shift, &ev.Date, &defect, &severity, &ev.Quantity, &inspector, &createdBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ProductionCode = code.String
		ev.Product = product.String
		ev.Shift = shift.String
		ev.DefectName = defect.String
		ev.Severity = severity.String
		ev.InspectorID = inspector.String
		ev.CreatedBy = createdBy.String
		res = append(res, ev)
	}
	return res, rows.Err()
}
