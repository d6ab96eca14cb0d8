package derive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantline/internal/domain"
)

func productionEvent() domain.ProductionEvent {
	return domain.ProductionEvent{
		RecordID:       "rec-1",
		ProductionCode: "PC-100",
		Machine:        "IMM-07",
		Product:        "Bezel",
		Shift:          "A",
		Date:           "2024-03-04",
		Operator:       "op-1",
		Supervisor:     "sup-1",
		Status:         "completed",
	}
}

func TestRejectionFanOutKeepsDuplicates(t *testing.T) {
	ev := productionEvent()
	ev.RejectionEntries = []domain.RejectionEntry{{
		RejectionType: "Short shot",
		Quantity:      12,
		Reason:        "machine breakdown",
		AssignToTeam:  domain.ParseTeams("Team A, Team B, Team B"),
	}}
	res, err := Production(ev)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 3)

	teams := []string{"Team A", "Team B", "Team B"}
	for i, task := range res.Tasks {
		require.NotNil(t, task.AssignedTeam)
		assert.Equal(t, teams[i], *task.AssignedTeam)
		assert.Nil(t, task.AssignedTo)
		assert.Nil(t, task.DueDate)
		assert.Equal(t, domain.TaskTypeRejection, task.TaskType)
		assert.Equal(t, "Rejection: Short shot", task.Title)
		assert.Equal(t, domain.PriorityMedium, task.Priority)
		assert.Equal(t, domain.StatusPending, task.Status)
		assert.Equal(t, domain.FromProduction, task.CreatedFrom)
		assert.Equal(t, 12, *task.Quantity)
		assert.Equal(t, "IMM-07", *task.Equipment)
		assert.Equal(t, "machine breakdown", *task.RejectionReason)
		assert.Contains(t, task.Description, "12")
		assert.Contains(t, task.Description, "machine breakdown")
	}
	first, second := res.Tasks[0], res.Tasks[1]
	first.AssignedTeam, second.AssignedTeam = nil, nil
	first.Quantity, second.Quantity = nil, nil
	assert.Equal(t, first, second)
}

func TestEmptyTeamListYieldsNoTask(t *testing.T) {
	for _, raw := range []string{"", "  ", " , ,"} {
		ev := productionEvent()
		ev.RejectionEntries = []domain.RejectionEntry{{
			RejectionType:     "Flash",
			Quantity:          3,
			Reason:            "flash",
			AssignToTeam:      domain.ParseTeams(raw),
			CorrectiveActions: []domain.Action{{Action: "Clean mould", Responsible: "Tooling"}},
		}}
		res, err := Production(ev)
		require.NoError(t, err)
		assert.Empty(t, res.Tasks, "teams %q", raw)
		require.Len(t, res.Production.RejectionEntries, 1)
		assert.Len(t, res.Production.RejectionEntries[0].CorrectiveActions, 1)
	}
}

func TestReasonFallsBackToRejectionType(t *testing.T) {
	ev := productionEvent()
	ev.RejectionEntries = []domain.RejectionEntry{{
		RejectionType: "Power dip",
		Quantity:      80,
		AssignToTeam:  domain.TeamList{"Facilities"},
	}}
	res, err := Production(ev)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, domain.PriorityHigh, res.Tasks[0].Priority)
	assert.Equal(t, "Facilities Team", res.Tasks[0].SuggestedRole)
}

func TestDowntimeNoneSuppressed(t *testing.T) {
	ev := productionEvent()
	ev.DowntimeEntries = []domain.DowntimeEntry{
		{DowntimeType: "none", DowntimeMinutes: 90, AssignToTeam: domain.TeamList{"Maint", "Facilities"}},
		{DowntimeType: "other", CustomType: "None", DowntimeMinutes: 10, AssignToTeam: domain.TeamList{"Maint"}},
	}
	res, err := Production(ev)
	require.NoError(t, err)
	assert.Empty(t, res.Tasks)
	assert.Len(t, res.Production.DowntimeEntries, 2)
}

func TestDowntimeUsesCustomTypeAndMinutes(t *testing.T) {
	ev := productionEvent()
	ev.DowntimeEntries = []domain.DowntimeEntry{{
		DowntimeType:    "other",
		CustomType:      "Power outage",
		DowntimeMinutes: 76,
		AssignToTeam:    domain.ParseTeams("Facilities, Maintenance"),
	}}
	res, err := Production(ev)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	for _, task := range res.Tasks {
		assert.Equal(t, domain.TaskTypeDowntime, task.TaskType)
		assert.Equal(t, "Downtime: Power outage", task.Title)
		assert.Equal(t, domain.PriorityHigh, task.Priority)
		assert.Equal(t, 76, *task.Quantity)
		assert.Nil(t, task.RejectionReason)
	}
}

func TestProductionOrdering(t *testing.T) {
	ev := productionEvent()
	ev.DowntimeEntries = []domain.DowntimeEntry{{DowntimeType: "maintenance", DowntimeMinutes: 5, AssignToTeam: domain.TeamList{"D1"}}}
	ev.RejectionEntries = []domain.RejectionEntry{
		{RejectionType: "R1", Quantity: 1, Reason: "x", AssignToTeam: domain.TeamList{"T1", "T2"}},
		{RejectionType: "R2", Quantity: 1, Reason: "y", AssignToTeam: domain.TeamList{"T3"}},
	}
	res, err := Production(ev)
	require.NoError(t, err)
	var got []string
	for _, task := range res.Tasks {
		got = append(got, task.Title+"/"+*task.AssignedTeam)
	}
	assert.Equal(t, []string{"Rejection: R1/T1", "Rejection: R1/T2", "Rejection: R2/T3", "Downtime: maintenance/D1"}, got)
}

func TestProductionValidation(t *testing.T) {
	cases := map[string]func(*domain.ProductionEvent){
		"machine":    func(e *domain.ProductionEvent) { e.Machine = " " },
		"shift":      func(e *domain.ProductionEvent) { e.Shift = "" },
		"operator":   func(e *domain.ProductionEvent) { e.Operator = "" },
		"supervisor": func(e *domain.ProductionEvent) { e.Supervisor = "" },
		"status":     func(e *domain.ProductionEvent) { e.Status = "" },
		"date":       func(e *domain.ProductionEvent) { e.Date = "04/03/2024" },
		"rejection_entries[0].quantity": func(e *domain.ProductionEvent) {
			e.RejectionEntries = []domain.RejectionEntry{{RejectionType: "x", Quantity: -1}}
		},
		"downtime_entries[0].downtime_minutes": func(e *domain.ProductionEvent) {
			e.DowntimeEntries = []domain.DowntimeEntry{{DowntimeType: "power", DowntimeMinutes: -5}}
		},
		"rejection_entries[0].corrective_actions[0].action": func(e *domain.ProductionEvent) {
			e.RejectionEntries = []domain.RejectionEntry{{RejectionType: "x", CorrectiveActions: []domain.Action{{Responsible: "Bob"}}}}
		},
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			ev := productionEvent()
			mutate(&ev)
			_, err := Production(ev)
			var ve domain.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestBlankCorrectiveActionsDropped(t *testing.T) {
	ev := productionEvent()
	blank := " "
	ev.RejectionEntries = []domain.RejectionEntry{{
		RejectionType: "x",
		CorrectiveActions: []domain.Action{
			{Action: " ", Responsible: "", DueDate: &blank},
			{Action: "Replace heater band", Responsible: "Maint"},
		},
	}}
	res, err := Production(ev)
	require.NoError(t, err)
	actions := res.Production.RejectionEntries[0].CorrectiveActions
	require.Len(t, actions, 1)
	assert.Equal(t, "Replace heater band", actions[0].Action)
}

func TestPDISingleTask(t *testing.T) {
	inspector := "3f1c1f7e-6a58-4c36-9c1e-8f3f6f5a2b10"
	res, err := PDI(domain.PDIEvent{
		PDIID:          "pdi-1",
		ProductionCode: "PC-100",
		Product:        "Bezel",
		Shift:          "B",
		Date:           "2024-03-05",
		DefectName:     "Short shot",
		Severity:       "High",
		Quantity:       4,
		InspectorID:    inspector,
	})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	task := res.Tasks[0]
	assert.Equal(t, domain.TaskTypePDIDefect, task.TaskType)
	assert.Equal(t, domain.PriorityHigh, task.Priority)
	assert.Equal(t, "PDI Defect: Short shot", task.Title)
	assert.Equal(t, inspector, *task.AssignedTo)
	assert.Nil(t, task.AssignedTeam)
	assert.Equal(t, "2024-03-05", *task.DueDate)
	assert.Equal(t, 4, *task.Quantity)
	assert.Equal(t, domain.FromPDI, task.CreatedFrom)
	assert.Equal(t, domain.StatusPending, task.Status)
}

func TestPDISeverityFallback(t *testing.T) {
	res, err := PDI(domain.PDIEvent{Date: "2024-03-05", DefectName: "Burr", Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, domain.PriorityMedium, res.Tasks[0].Priority)
	assert.Nil(t, res.Tasks[0].AssignedTo)
}

func TestPDIBlankDefectYieldsNothing(t *testing.T) {
	res, err := PDI(domain.PDIEvent{Date: "2024-03-05", DefectName: "   ", Severity: "high"})
	require.NoError(t, err)
	assert.Empty(t, res.Tasks)
	require.NotNil(t, res.PDI)
}

func TestPDIValidation(t *testing.T) {
	_, err := PDI(domain.PDIEvent{Date: "2024-03-05", DefectName: "x", InspectorID: "not-a-uuid"})
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "inspector_id", ve.Field)

	_, err = PDI(domain.PDIEvent{Date: "2024-03-05", DefectName: "x", Quantity: -2})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "quantity", ve.Field)
}

func TestEventDispatch(t *testing.T) {
	ev := productionEvent()
	res, err := Event(&ev)
	require.NoError(t, err)
	assert.NotNil(t, res.Production)

	_, err = Event(nil)
	require.Error(t, err)
}
