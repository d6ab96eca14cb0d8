// Package derive turns production and PDI submissions into candidate tasks.
//
// Derivation is pure: it validates and normalizes the event and returns the
// tasks it implies without ids or timestamps. It never touches storage.
package derive

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"plantline/internal/domain"
	"plantline/internal/engine/rules"
)

// Result is a normalized event with the tasks derived from it, in emission
// order.
type Result struct {
	Production *domain.ProductionEvent
	PDI        *domain.PDIEvent
	Tasks      []domain.Task
}

// Event dispatches on the concrete source event type.
func Event(ev domain.SourceEvent) (Result, error) {
	switch e := ev.(type) {
	case *domain.ProductionEvent:
		return Production(*e)
	case *domain.PDIEvent:
		return PDI(*e)
	case nil:
		return Result{}, domain.Invalid("event", "missing")
	default:
		return Result{}, domain.Invalid("event", fmt.Sprintf("unsupported source event %T", ev))
	}
}

// Production validates ev and emits one task per (rejection entry, team)
// followed by one task per (downtime entry, team). Entries without teams are
// kept in the normalized event but produce no tasks.
func Production(ev domain.ProductionEvent) (Result, error) {
	if err := validateProduction(ev); err != nil {
		return Result{}, err
	}
	norm := ev
	norm.RejectionEntries = make([]domain.RejectionEntry, len(ev.RejectionEntries))
	norm.DowntimeEntries = make([]domain.DowntimeEntry, len(ev.DowntimeEntries))

	var tasks []domain.Task
	for i, entry := range ev.RejectionEntries {
		field := fmt.Sprintf("rejection_entries[%d]", i)
		if entry.Quantity < 0 {
			return Result{}, domain.Invalid(field+".quantity", "must not be negative")
		}
		actions, err := cleanActions(field+".corrective_actions", entry.CorrectiveActions)
		if err != nil {
			return Result{}, err
		}
		entry.AssignToTeam = entry.AssignToTeam.Normalize()
		entry.CorrectiveActions = actions
		norm.RejectionEntries[i] = entry
		tasks = append(tasks, rejectionTasks(ev, entry)...)
	}
	for i, entry := range ev.DowntimeEntries {
		field := fmt.Sprintf("downtime_entries[%d]", i)
		if entry.DowntimeMinutes < 0 {
			return Result{}, domain.Invalid(field+".downtime_minutes", "must not be negative")
		}
		actions, err := cleanActions(field+".corrective_actions", entry.CorrectiveActions)
		if err != nil {
			return Result{}, err
		}
		entry.AssignToTeam = entry.AssignToTeam.Normalize()
		entry.CorrectiveActions = actions
		norm.DowntimeEntries[i] = entry
		tasks = append(tasks, downtimeTasks(ev, entry)...)
	}
	return Result{Production: &norm, Tasks: tasks}, nil
}

func rejectionTasks(ev domain.ProductionEvent, entry domain.RejectionEntry) []domain.Task {
	if len(entry.AssignToTeam) == 0 {
		return nil
	}
	reason := strings.TrimSpace(entry.Reason)
	if reason == "" {
		reason = strings.TrimSpace(entry.RejectionType)
	}
	arch := rules.Classify(rules.KindRejection, reason, entry.Quantity)
	tasks := make([]domain.Task, 0, len(entry.AssignToTeam))
	for _, team := range entry.AssignToTeam {
		t := baseTask(ev, arch, domain.TaskTypeRejection, team, entry.Quantity)
		t.Title = arch.Title(entry.RejectionType)
		t.Description = fmt.Sprintf(arch.DescriptionTemplate, entry.Quantity, entry.RejectionType, reason)
		t.RejectionReason = optionalString(reason)
		tasks = append(tasks, t)
	}
	return tasks
}

func downtimeTasks(ev domain.ProductionEvent, entry domain.DowntimeEntry) []domain.Task {
	kind := entry.EffectiveType()
	if kind == "" || strings.EqualFold(kind, "none") || len(entry.AssignToTeam) == 0 {
		return nil
	}
	arch := rules.Classify(rules.KindDowntime, kind, entry.DowntimeMinutes)
	tasks := make([]domain.Task, 0, len(entry.AssignToTeam))
	for _, team := range entry.AssignToTeam {
		t := baseTask(ev, arch, domain.TaskTypeDowntime, team, entry.DowntimeMinutes)
		t.Title = arch.Title(kind)
		t.Description = fmt.Sprintf(arch.DescriptionTemplate, entry.DowntimeMinutes, kind, ev.Machine)
		tasks = append(tasks, t)
	}
	return tasks
}

func baseTask(ev domain.ProductionEvent, arch rules.Archetype, tt domain.TaskType, team string, qty int) domain.Task {
	team = strings.TrimSpace(team)
	return domain.Task{
		ProductionCode: ev.ProductionCode,
		TaskType:       tt,
		Priority:       arch.Priority,
		AssignedTeam:   &team,
		Status:         domain.StatusPending,
		CreatedFrom:    domain.FromProduction,
		Quantity:       &qty,
		Equipment:      optionalString(ev.Machine),
		Category:       string(arch.Category),
		SuggestedRole:  arch.DefaultRole,
	}
}

// PDI validates ev and emits exactly one pdi-defect task when the defect name
// is non-blank, otherwise none.
func PDI(ev domain.PDIEvent) (Result, error) {
	if err := validatePDI(ev); err != nil {
		return Result{}, err
	}
	norm := ev
	norm.DefectName = strings.TrimSpace(ev.DefectName)
	norm.InspectorID = strings.TrimSpace(ev.InspectorID)
	res := Result{PDI: &norm}
	if norm.DefectName == "" {
		return res, nil
	}
	priority, ok := domain.ParsePriority(ev.Severity)
	if !ok {
		priority = domain.PriorityMedium
	}
	arch := rules.Classify(rules.KindPDI, norm.DefectName, ev.Quantity)
	qty := ev.Quantity
	date := ev.Date
	t := domain.Task{
		ProductionCode: ev.ProductionCode,
		TaskType:       domain.TaskTypePDIDefect,
		Title:          arch.Title(norm.DefectName),
		Description:    fmt.Sprintf(arch.DescriptionTemplate, norm.DefectName, ev.Product, ev.Quantity, ev.Severity),
		Priority:       priority,
		AssignedTo:     optionalString(norm.InspectorID),
		DueDate:        &date,
		Status:         domain.StatusPending,
		CreatedFrom:    domain.FromPDI,
		Quantity:       &qty,
		Category:       string(arch.Category),
		SuggestedRole:  arch.DefaultRole,
	}
	res.Tasks = []domain.Task{t}
	return res, nil
}

func validateProduction(ev domain.ProductionEvent) error {
	required := []struct{ field, value string }{
		{"machine", ev.Machine},
		{"shift", ev.Shift},
		{"date", ev.Date},
		{"product", ev.Product},
		{"operator", ev.Operator},
		{"supervisor", ev.Supervisor},
		{"status", ev.Status},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return domain.Invalid(r.field, "is required")
		}
	}
	return validateDate("date", ev.Date)
}

func validatePDI(ev domain.PDIEvent) error {
	if strings.TrimSpace(ev.Date) == "" {
		return domain.Invalid("date", "is required")
	}
	if err := validateDate("date", ev.Date); err != nil {
		return err
	}
	if ev.Quantity < 0 {
		return domain.Invalid("quantity", "must not be negative")
	}
	if id := strings.TrimSpace(ev.InspectorID); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return domain.Invalid("inspector_id", "must be a UUID")
		}
	}
	return nil
}

// cleanActions drops fully blank rows and rejects rows that have details but
// no action text.
func cleanActions(field string, in []domain.Action) ([]domain.Action, error) {
	var out []domain.Action
	for i, a := range in {
		a.Action = strings.TrimSpace(a.Action)
		a.Responsible = strings.TrimSpace(a.Responsible)
		if a.DueDate != nil {
			d := strings.TrimSpace(*a.DueDate)
			if d == "" {
				a.DueDate = nil
			} else {
				if err := validateDate(fmt.Sprintf("%s[%d].due_date", field, i), d); err != nil {
					return nil, err
				}
				a.DueDate = &d
			}
		}
		if a.Action == "" {
			if a.Responsible == "" && a.DueDate == nil {
				continue
			}
			return nil, domain.Invalid(fmt.Sprintf("%s[%d].action", field, i), "is required")
		}
		out = append(out, a)
	}
	return out, nil
}

// CleanActions applies the corrective action rules to a preventive action list.
func CleanActions(field string, in []domain.Action) ([]domain.Action, error) {
	out, err := cleanActions(field, in)
	if err != nil {
		return nil, err
	}
	if out == nil && in != nil {
		out = []domain.Action{}
	}
	return out, nil
}

func validateDate(field, value string) error {
	if _, err := time.Parse(domain.DateLayout, strings.TrimSpace(value)); err != nil {
		return domain.Invalid(field, "must be a YYYY-MM-DD date")
	}
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ValidateDate checks that value is a YYYY-MM-DD date.
func ValidateDate(field, value string) error {
	return validateDate(field, value)
}
