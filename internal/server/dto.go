package server

import (
	"fmt"
	"strings"

	"plantline/internal/domain"
	"plantline/internal/engine"
)

// Request payloads

type ActionRequest struct {
	Action      string  `json:"action,omitempty"`
	Responsible string  `json:"responsible,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// RejectionEntryRequest accepts assign_to_team as a comma separated string or
// an array of team names.
type RejectionEntryRequest struct {
	EntryID           string          `json:"entry_id,omitempty"`
	RejectionType     string          `json:"rejection_type"`
	Quantity          int             `json:"quantity"`
	Reason            string          `json:"reason,omitempty"`
	AssignToTeam      any             `json:"assign_to_team,omitempty"`
	CorrectiveActions []ActionRequest `json:"corrective_actions,omitempty"`
}

type DowntimeEntryRequest struct {
	EntryID           string          `json:"entry_id,omitempty"`
	DowntimeType      string          `json:"downtime_type"`
	CustomType        string          `json:"custom_type,omitempty"`
	DowntimeMinutes   int             `json:"downtime_minutes"`
	AssignToTeam      any             `json:"assign_to_team,omitempty"`
	CorrectiveActions []ActionRequest `json:"corrective_actions,omitempty"`
}

type ProductionRecordRequest struct {
	RecordID         string                  `json:"record_id,omitempty"`
	ProductionCode   string                  `json:"production_code,omitempty"`
	Machine          string                  `json:"machine"`
	Product          string                  `json:"product"`
	Shift            string                  `json:"shift"`
	Date             string                  `json:"date" example:"2024-03-04"`
	Operator         string                  `json:"operator"`
	Supervisor       string                  `json:"supervisor"`
	Status           string                  `json:"status"`
	RejectionEntries []RejectionEntryRequest `json:"rejection_entries,omitempty"`
	DowntimeEntries  []DowntimeEntryRequest  `json:"downtime_entries,omitempty"`
}

type PDIRecordRequest struct {
	PDIID          string `json:"pdi_id,omitempty"`
	ProductionCode string `json:"production_code,omitempty"`
	Product        string `json:"product,omitempty"`
	Shift          string `json:"shift,omitempty"`
	Date           string `json:"date" example:"2024-03-05"`
	DefectName     string `json:"defect_name,omitempty"`
	Severity       string `json:"severity,omitempty" example:"high"`
	Quantity       int    `json:"quantity,omitempty"`
	InspectorID    string `json:"inspector_id,omitempty" format:"uuid"`
}

type CreateTaskRequest struct {
	ProductionCode    string          `json:"production_code,omitempty"`
	TaskType          string          `json:"task_type,omitempty" example:"manual"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Priority          string          `json:"priority,omitempty" example:"medium"`
	AssignedTo        string          `json:"assigned_to,omitempty"`
	AssignedTeam      string          `json:"assigned_team,omitempty"`
	DueDate           string          `json:"due_date,omitempty"`
	Equipment         string          `json:"equipment,omitempty"`
	Quantity          *int            `json:"quantity,omitempty"`
	PreventiveActions []ActionRequest `json:"preventive_actions,omitempty"`
}

// UpdateTaskStatusRequest replaces the preventive action list when
// preventive_actions is present, even as an empty array.
type UpdateTaskStatusRequest struct {
	Status            string          `json:"status" example:"in-progress"`
	Progress          *int            `json:"progress,omitempty"`
	StatusComments    *string         `json:"status_comments,omitempty"`
	RootCause         *string         `json:"root_cause,omitempty"`
	ImpactAssessment  *string         `json:"impact_assessment,omitempty"`
	RecurrenceRisk    *string         `json:"recurrence_risk,omitempty"`
	LessonsLearned    *string         `json:"lessons_learned,omitempty"`
	PreventiveActions []ActionRequest `json:"preventive_actions,omitempty"`
}

// Response payloads

type SubmissionResponse struct {
	SourceID string        `json:"source_id"`
	Tasks    []domain.Task `json:"tasks"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type TaskSummaryResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func submissionResponse(sub engine.Submission) SubmissionResponse {
	tasks := sub.Tasks
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return SubmissionResponse{SourceID: sub.SourceID, Tasks: tasks}
}

func (r ProductionRecordRequest) toDomain() (domain.ProductionEvent, error) {
	ev := domain.ProductionEvent{
		RecordID:       strings.TrimSpace(r.RecordID),
		ProductionCode: strings.TrimSpace(r.ProductionCode),
		Machine:        strings.TrimSpace(r.Machine),
		Product:        strings.TrimSpace(r.Product),
		Shift:          strings.TrimSpace(r.Shift),
		Date:           strings.TrimSpace(r.Date),
		Operator:       strings.TrimSpace(r.Operator),
		Supervisor:     strings.TrimSpace(r.Supervisor),
		Status:         strings.TrimSpace(r.Status),
	}
	for i, in := range r.RejectionEntries {
		teams, err := teamsFromAny(fmt.Sprintf("rejection_entries[%d].assign_to_team", i), in.AssignToTeam)
		if err != nil {
			return ev, err
		}
		ev.RejectionEntries = append(ev.RejectionEntries, domain.RejectionEntry{
			EntryID:           strings.TrimSpace(in.EntryID),
			RejectionType:     strings.TrimSpace(in.RejectionType),
			Quantity:          in.Quantity,
			Reason:            in.Reason,
			AssignToTeam:      teams,
			CorrectiveActions: toActions(in.CorrectiveActions),
		})
	}
	for i, in := range r.DowntimeEntries {
		teams, err := teamsFromAny(fmt.Sprintf("downtime_entries[%d].assign_to_team", i), in.AssignToTeam)
		if err != nil {
			return ev, err
		}
		ev.DowntimeEntries = append(ev.DowntimeEntries, domain.DowntimeEntry{
			EntryID:           strings.TrimSpace(in.EntryID),
			DowntimeType:      strings.TrimSpace(in.DowntimeType),
			CustomType:        in.CustomType,
			DowntimeMinutes:   in.DowntimeMinutes,
			AssignToTeam:      teams,
			CorrectiveActions: toActions(in.CorrectiveActions),
		})
	}
	return ev, nil
}

func (r PDIRecordRequest) toDomain() domain.PDIEvent {
	return domain.PDIEvent{
		PDIID:          strings.TrimSpace(r.PDIID),
		ProductionCode: strings.TrimSpace(r.ProductionCode),
		Product:        strings.TrimSpace(r.Product),
		Shift:          strings.TrimSpace(r.Shift),
		Date:           strings.TrimSpace(r.Date),
		DefectName:     r.DefectName,
		Severity:       strings.TrimSpace(r.Severity),
		Quantity:       r.Quantity,
		InspectorID:    strings.TrimSpace(r.InspectorID),
	}
}

// teamsFromAny accepts the two wire shapes of a team list.
func teamsFromAny(field string, v any) (domain.TeamList, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return domain.ParseTeams(t), nil
	case []any:
		teams := make(domain.TeamList, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, domain.Invalid(field, "must be a string or an array of strings")
			}
			teams = append(teams, s)
		}
		return teams.Normalize(), nil
	case []string:
		return domain.TeamList(t).Normalize(), nil
	default:
		return nil, domain.Invalid(field, "must be a string or an array of strings")
	}
}

func toActions(in []ActionRequest) []domain.Action {
	if in == nil {
		return nil
	}
	out := make([]domain.Action, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Action{Action: a.Action, Responsible: a.Responsible, DueDate: a.DueDate})
	}
	return out
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
