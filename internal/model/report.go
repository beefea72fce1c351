package model

import "time"

// Report is the structured result of a full-corpus consistency sweep
// It describes violations only; nothing in it is ever applied automatically.
type Report struct {
	ID         string      `json:"id" yaml:"id"`                   // Cited by repair mutations
	SnapshotAt time.Time   `json:"snapshot_at" yaml:"snapshot_at"` // When the point-in-time view was taken
	FinishedAt time.Time   `json:"finished_at" yaml:"finished_at"`
	Claims     int         `json:"claims" yaml:"claims"`
	Edges      int         `json:"edges" yaml:"edges"`
	Complete   bool        `json:"complete" yaml:"complete"` // False when the sweep was interrupted
	Violations []Violation `json:"violations" yaml:"violations"`
}

// Clean reports whether a complete sweep found nothing
func (r *Report) Clean() bool {
	return r.Complete && len(r.Violations) == 0
}

// CountByKind tallies violations per kind
func (r *Report) CountByKind() map[ViolationKind]int {
	counts := make(map[ViolationKind]int)
	for _, v := range r.Violations {
		counts[v.Kind]++
	}
	return counts
}

// Violation is a single consistency finding with transparent data
type Violation struct {
	Kind        ViolationKind          `json:"kind" yaml:"kind"`
	Severity    Severity               `json:"severity" yaml:"severity"`
	Claims      []ClaimID              `json:"claims" yaml:"claims"`
	Edge        *Relation              `json:"edge,omitempty" yaml:"edge,omitempty"`
	Description string                 `json:"description" yaml:"description"`
	Suggestion  string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"` // Repair mutation a human may apply
	Data        map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// ViolationKind classifies a consistency finding
type ViolationKind string

const (
	ViolationContradiction       ViolationKind = "contradiction"         // Two active claims joined by contradicts
	ViolationOrphanEdge          ViolationKind = "orphan_edge"           // Target missing or superseded
	ViolationStaleTier           ViolationKind = "stale_tier"            // Dependent outranks its foundation
	ViolationSupersessionCycle   ViolationKind = "supersession_cycle"    // supersedes edges loop
	ViolationSupersessionFanIn   ViolationKind = "supersession_fan_in"   // Several claims supersede one predecessor
	ViolationStopConditionBreach ViolationKind = "stop_condition_breach" // Tier rose without external validation
	ViolationFrozenTier          ViolationKind = "frozen_tier"           // FROZEN claim outside tier 0
)

// Severity indicates the importance of a violation
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)
