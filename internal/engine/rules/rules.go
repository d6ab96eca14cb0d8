// Package rules maps free-text issue descriptions to task archetypes.
//
// The table is evaluated top to bottom and the first matching rule wins. Every
// function here is pure: the same input always yields the same Archetype.
package rules

import (
	"fmt"
	"strings"

	"plantline/internal/domain"
)

// SourceKind selects the title and description templates.
type SourceKind string

const (
	KindRejection SourceKind = "rejection"
	KindDowntime  SourceKind = "downtime"
	KindPDI       SourceKind = "pdi"
)

// Category is the archetype's issue category. It is not the task type.
type Category string

const (
	CategoryDowntime    Category = "downtime"
	CategoryQuality     Category = "quality"
	CategoryPDI         Category = "pdi"
	CategoryMaintenance Category = "maintenance"
)

// Escalation raises the priority when the quantity is strictly greater than Over.
type Escalation struct {
	Over int
	To   domain.Priority
}

type Rule struct {
	Name     string
	Keywords []string
	Excludes []string
	Category Category
	Base     domain.Priority
	Escalate *Escalation
	Role     string
}

func (r Rule) matches(reason string) bool {
	for _, ex := range r.Excludes {
		if strings.Contains(reason, ex) {
			return false
		}
	}
	for _, kw := range r.Keywords {
		if strings.Contains(reason, kw) {
			return true
		}
	}
	return false
}

// Priority applies the rule's escalation to qty.
func (r Rule) Priority(qty int) domain.Priority {
	if r.Escalate != nil && qty > r.Escalate.Over {
		return r.Escalate.To
	}
	return r.Base
}

// DefaultRuleName identifies the fallback row.
const DefaultRuleName = "default"

// table is the ordered rule list. New rules are added here, not in code paths.
var table = []Rule{
	{
		Name:     "equipment",
		Keywords: []string{"machine", "breakdown", "malfunction"},
		Category: CategoryDowntime,
		Base:     domain.PriorityMedium,
		Escalate: &Escalation{Over: 50, To: domain.PriorityHigh},
		Role:     "Maintenance Team",
	},
	{
		Name:     "material",
		Keywords: []string{"material"},
		Excludes: []string{"quality", "process"},
		Category: CategoryQuality,
		Base:     domain.PriorityMedium,
		Escalate: &Escalation{Over: 100, To: domain.PriorityHigh},
		Role:     "Production Team",
	},
	{
		Name:     "quality",
		Keywords: []string{"quality", "defect", "flash", "sink"},
		Category: CategoryPDI,
		Base:     domain.PriorityMedium,
		Escalate: &Escalation{Over: 30, To: domain.PriorityHigh},
		Role:     "Quality Team",
	},
	{
		Name:     "process",
		Keywords: []string{"process"},
		Category: CategoryQuality,
		Base:     domain.PriorityMedium,
		Escalate: &Escalation{Over: 40, To: domain.PriorityHigh},
		Role:     "Process Engineer",
	},
	{
		Name:     "power",
		Keywords: []string{"power"},
		Category: CategoryDowntime,
		Base:     domain.PriorityMedium,
		Escalate: &Escalation{Over: 75, To: domain.PriorityHigh},
		Role:     "Facilities Team",
	},
	{
		Name:     "changeover",
		Keywords: []string{"changeover"},
		Category: CategoryQuality,
		Base:     domain.PriorityLow,
		Role:     "Production Team",
	},
	{
		Name:     "maintenance",
		Keywords: []string{"maintenance"},
		Category: CategoryMaintenance,
		Base:     domain.PriorityMedium,
		Role:     "Maintenance Team",
	},
}

// defaultRule is used when nothing in table matches.
var defaultRule = Rule{
	Name:     DefaultRuleName,
	Category: CategoryQuality,
	Base:     domain.PriorityLow,
	Escalate: &Escalation{Over: 25, To: domain.PriorityMedium},
	Role:     "Production Supervisor",
}

// Archetype is the classification result before team and quantity are applied
// to a concrete task.
type Archetype struct {
	Rule                string
	Category            Category
	TitleTemplate       string
	DescriptionTemplate string
	Priority            domain.Priority
	DefaultRole         string
}

// Fallthrough reports whether no rule matched.
func (a Archetype) Fallthrough() bool {
	return a.Rule == DefaultRuleName
}

// Normalize lower-cases and trims a reason before matching.
func Normalize(reason string) string {
	return strings.ToLower(strings.TrimSpace(reason))
}

// Rules returns a copy of the ordered rule list.
func Rules() []Rule {
	out := make([]Rule, len(table))
	for i, r := range table {
		out[i] = r.clone()
	}
	return out
}

// Default returns a copy of the fallback rule.
func Default() Rule {
	return defaultRule.clone()
}

func (r Rule) clone() Rule {
	r.Keywords = append([]string(nil), r.Keywords...)
	r.Excludes = append([]string(nil), r.Excludes...)
	if r.Escalate != nil {
		esc := *r.Escalate
		r.Escalate = &esc
	}
	return r
}

// Match returns a copy of the first rule matching reason, or of the fallback.
func Match(reason string) Rule {
	normalized := Normalize(reason)
	for _, r := range table {
		if r.matches(normalized) {
			return r.clone()
		}
	}
	return defaultRule.clone()
}

// Classify maps a reason and quantity to an archetype. For rejections the
// quantity is the rejected count; for downtime it is the minutes lost.
func Classify(kind SourceKind, reason string, qty int) Archetype {
	r := Match(reason)
	title, desc := templates(kind)
	return Archetype{
		Rule:                r.Name,
		Category:            r.Category,
		TitleTemplate:       title,
		DescriptionTemplate: desc,
		Priority:            r.Priority(qty),
		DefaultRole:         r.Role,
	}
}

func templates(kind SourceKind) (string, string) {
	switch kind {
	case KindRejection:
		return "Rejection: %s", "%d units rejected (%s): %s"
	case KindDowntime:
		return "Downtime: %s", "%d minutes of %s downtime on %s"
	case KindPDI:
		return "PDI Defect: %s", "%s found during PDI of %s: %d units, severity %s"
	}
	return "%s", "%s"
}

// Title renders the archetype's title template.
func (a Archetype) Title(subject string) string {
	return fmt.Sprintf(a.TitleTemplate, subject)
}
