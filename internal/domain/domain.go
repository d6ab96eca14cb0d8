package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

type TaskType string

const (
	TaskTypeRejection   TaskType = "rejection"
	TaskTypeDowntime    TaskType = "downtime"
	TaskTypePDIDefect   TaskType = "pdi-defect"
	TaskTypeMaintenance TaskType = "maintenance"
	TaskTypeManual      TaskType = "manual"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeRejection, TaskTypeDowntime, TaskTypePDIDefect, TaskTypeMaintenance, TaskTypeManual:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ParsePriority accepts any casing and surrounding whitespace.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted
}

type CreatedFrom string

const (
	FromProduction CreatedFrom = "production"
	FromPDI        CreatedFrom = "pdi"
	FromManual     CreatedFrom = "manual"
)

// TeamList is the normalized list of teams an entry is routed to. On the wire
// it is either a comma-separated string or an array of strings.
type TeamList []string

// ParseTeams splits a comma-separated team string, trimming names and dropping
// empties. Duplicates are kept in order.
func ParseTeams(raw string) TeamList {
	var out TeamList
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Normalize re-applies ParseTeams to every element, so an array element that
// itself holds "A, B" expands to two teams.
func (l TeamList) Normalize() TeamList {
	var out TeamList
	for _, item := range l {
		out = append(out, ParseTeams(item)...)
	}
	return out
}

// String joins the list the way it is persisted.
func (l TeamList) String() string {
	return strings.Join(l, ", ")
}

func (l *TeamList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("assign_to_team: %w", err)
		}
		*l = TeamList(items).Normalize()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("assign_to_team must be a string or array of strings")
	}
	*l = ParseTeams(raw)
	return nil
}

// Action is a planned corrective or preventive step.
type Action struct {
	Action      string  `json:"action" yaml:"action"`
	Responsible string  `json:"responsible,omitempty" yaml:"responsible"`
	DueDate     *string `json:"due_date,omitempty" yaml:"due_date"`
}

type RejectionEntry struct {
	EntryID           string   `json:"entry_id,omitempty" yaml:"entry_id"`
	RejectionType     string   `json:"rejection_type" yaml:"rejection_type"`
	Quantity          int      `json:"quantity" yaml:"quantity"`
	Reason            string   `json:"reason" yaml:"reason"`
	AssignToTeam      TeamList `json:"assign_to_team,omitempty" yaml:"assign_to_team"`
	CorrectiveActions []Action `json:"corrective_actions,omitempty" yaml:"corrective_actions"`
}

type DowntimeEntry struct {
	EntryID           string   `json:"entry_id,omitempty" yaml:"entry_id"`
	DowntimeType      string   `json:"downtime_type" yaml:"downtime_type"`
	CustomType        string   `json:"custom_type,omitempty" yaml:"custom_type"`
	DowntimeMinutes   int      `json:"downtime_minutes" yaml:"downtime_minutes"`
	AssignToTeam      TeamList `json:"assign_to_team,omitempty" yaml:"assign_to_team"`
	CorrectiveActions []Action `json:"corrective_actions,omitempty" yaml:"corrective_actions"`
}

// EffectiveType is the downtime type, or the custom type when the type is "other".
func (d DowntimeEntry) EffectiveType() string {
	t := strings.TrimSpace(d.DowntimeType)
	if strings.EqualFold(t, "other") {
		if custom := strings.TrimSpace(d.CustomType); custom != "" {
			return custom
		}
	}
	return t
}

// SourceEvent is either a *ProductionEvent or a *PDIEvent.
type SourceEvent interface {
	SourceKind() CreatedFrom
	SourceID() string
}

type ProductionEvent struct {
	RecordID         string           `json:"record_id,omitempty" yaml:"record_id"`
	ProductionCode   string           `json:"production_code" yaml:"production_code"`
	Machine          string           `json:"machine" yaml:"machine"`
	Product          string           `json:"product" yaml:"product"`
	Shift            string           `json:"shift" yaml:"shift"`
	Date             string           `json:"date" yaml:"date"`
	Operator         string           `json:"operator" yaml:"operator"`
	Supervisor       string           `json:"supervisor" yaml:"supervisor"`
	Status           string           `json:"status" yaml:"status"`
	CreatedBy        string           `json:"created_by,omitempty" yaml:"-"`
	CreatedAt        string           `json:"created_at,omitempty" yaml:"-" format:"date-time"`
	RejectionEntries []RejectionEntry `json:"rejection_entries,omitempty" yaml:"rejection_entries"`
	DowntimeEntries  []DowntimeEntry  `json:"downtime_entries,omitempty" yaml:"downtime_entries"`
}

func (*ProductionEvent) SourceKind() CreatedFrom { return FromProduction }
func (e *ProductionEvent) SourceID() string     { return e.RecordID }

type PDIEvent struct {
	PDIID          string `json:"pdi_id,omitempty" yaml:"pdi_id"`
	ProductionCode string `json:"production_code" yaml:"production_code"`
	Product        string `json:"product" yaml:"product"`
	Shift          string `json:"shift" yaml:"shift"`
	Date           string `json:"date" yaml:"date"`
	DefectName     string `json:"defect_name" yaml:"defect_name"`
	Severity       string `json:"severity" yaml:"severity"`
	Quantity       int    `json:"quantity" yaml:"quantity"`
	InspectorID    string `json:"inspector_id,omitempty" yaml:"inspector_id"`
	CreatedBy      string `json:"created_by,omitempty" yaml:"-"`
	CreatedAt      string `json:"created_at,omitempty" yaml:"-" format:"date-time"`
}

func (*PDIEvent) SourceKind() CreatedFrom { return FromPDI }
func (e *PDIEvent) SourceID() string     { return e.PDIID }

// Task is a unit of follow-up work, derived or manual.
type Task struct {
	ID                string      `json:"id"`
	ProductionCode    string      `json:"production_code,omitempty"`
	TaskType          TaskType    `json:"task_type" enum:"rejection,downtime,pdi-defect,maintenance,manual"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	Priority          Priority    `json:"priority" enum:"low,medium,high"`
	AssignedTo        *string     `json:"assigned_to,omitempty"`
	AssignedTeam      *string     `json:"assigned_team,omitempty"`
	DueDate           *string     `json:"due_date,omitempty"`
	Status            Status      `json:"status" enum:"pending,in-progress,completed"`
	CreatedFrom       CreatedFrom `json:"created_from" enum:"production,pdi,manual"`
	SourceID          *string     `json:"source_id,omitempty"`
	RejectionReason   *string     `json:"rejection_reason,omitempty"`
	Quantity          *int        `json:"quantity,omitempty"`
	Equipment         *string     `json:"equipment,omitempty"`
	Progress          int         `json:"progress"`
	Category          string      `json:"category,omitempty"`
	SuggestedRole     string      `json:"suggested_role,omitempty"`
	StatusComments    *string     `json:"status_comments,omitempty"`
	RootCause         *string     `json:"root_cause,omitempty"`
	ImpactAssessment  *string     `json:"impact_assessment,omitempty"`
	RecurrenceRisk    *string     `json:"recurrence_risk,omitempty"`
	LessonsLearned    *string     `json:"lessons_learned,omitempty"`
	PreventiveActions []Action    `json:"preventive_actions"`
	CreatedAt         string      `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt         string      `json:"updated_at,omitempty" format:"date-time"`
	CompletedAt       *string     `json:"completed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates a shop-floor terminal or integration as an actor.
// Only the hash of the key is stored.
type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	KeyHash   string   `json:"-"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
