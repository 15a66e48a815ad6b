package types

import (
	"fmt"
	"strings"
	"time"
)

// Phase is an ordered lifecycle stage of a task.
type Phase string

const (
	PhaseIdeation       Phase = "ideation"
	PhaseDesign         Phase = "design"
	PhaseMVP            Phase = "mvp"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
)

var phaseOrder = []Phase{PhaseIdeation, PhaseDesign, PhaseMVP, PhaseImplementation, PhaseTesting}

// Phases returns all phases in lifecycle order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Ordinal returns the position of the phase in the lifecycle, or -1 if unknown.
func (p Phase) Ordinal() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Ordinal() >= 0
}

// ParsePhase parses a phase label case-insensitively.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", Errorf(ErrInvalidRequest, "unknown phase %q", s)
	}
	return p, nil
}

// MaxRelatedProjects is the maximum number of related project associations per task.
const MaxRelatedProjects = 3

// Task is a node of the dependency graph.
type Task struct {
	ID              string   `json:"id"`
	Phase           Phase    `json:"phase"`
	Version         uint64   `json:"version"`
	PrimaryProject  string   `json:"primary_project,omitempty"`
	RelatedProjects []string `json:"related_projects,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	if t.RelatedProjects != nil {
		related := make([]string, len(t.RelatedProjects))
		copy(related, t.RelatedProjects)
		t.RelatedProjects = related
	}
	return t
}

// HasRelatedProject reports whether project is one of the task's related projects.
func (t Task) HasRelatedProject(project string) bool {
	for _, p := range t.RelatedProjects {
		if p == project {
			return true
		}
	}
	return false
}

// DependencyType is the temporal constraint an edge encodes between two tasks.
type DependencyType string

const (
	// FinishToStart: target cannot start until source finishes.
	FinishToStart DependencyType = "finish_to_start"
	// StartToStart: target cannot start until source starts.
	StartToStart DependencyType = "start_to_start"
	// FinishToFinish: target cannot finish until source finishes.
	FinishToFinish DependencyType = "finish_to_finish"
	// StartToFinish: target cannot finish until source starts.
	StartToFinish DependencyType = "start_to_finish"
)

// Valid reports whether d is one of the four dependency types.
func (d DependencyType) Valid() bool {
	switch d {
	case FinishToStart, StartToStart, FinishToFinish, StartToFinish:
		return true
	}
	return false
}

// ParseDependencyType accepts the canonical names as well as the FS/SS/FF/SF abbreviations.
func ParseDependencyType(s string) (DependencyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "finish_to_start", "fs":
		return FinishToStart, nil
	case "start_to_start", "ss":
		return StartToStart, nil
	case "finish_to_finish", "ff":
		return FinishToFinish, nil
	case "start_to_finish", "sf":
		return StartToFinish, nil
	}
	return "", Errorf(ErrInvalidRequest, "unknown dependency type %q", s)
}

// Edge is a directed dependency from Source to Target.
type Edge struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Type      DependencyType `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
}

// String returns "source -> target".
func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.Source, e.Target)
}

// OverrideAction describes what an emergency override did to the graph.
type OverrideAction string

const (
	// OverrideRemoved means an existing blocking edge was force-deleted.
	OverrideRemoved OverrideAction = "removed"
	// OverrideForced means an edge was committed without the acyclicity check.
	OverrideForced OverrideAction = "forced"
)

// OverrideRecord is the immutable audit trail entry of an emergency override.
type OverrideRecord struct {
	ID              string         `json:"id"`
	Edge            Edge           `json:"edge"`
	Action          OverrideAction `json:"action"`
	RequestedBy     string         `json:"requested_by"`
	Justification   string         `json:"justification"`
	CycleIntroduced bool           `json:"cycle_introduced"`
	CreatedAt       time.Time      `json:"created_at"`
}
