package model

import (
	"fmt"
	"time"
)

// ClaimID is the stable, immutable identifier of a claim
type ClaimID string

// Tier is the ordered confidence level of a claim (0 = frozen/foundational, 4 = speculative)
type Tier int

const (
	TierFoundational Tier = 0
	TierSpeculative  Tier = 4

	MinTier = TierFoundational
	MaxTier = TierSpeculative
)

// Valid reports whether the tier is inside the closed 0-4 range
func (t Tier) Valid() bool {
	return t >= MinTier && t <= MaxTier
}

func (t Tier) String() string {
	return fmt.Sprintf("tier-%d", int(t))
}

// Status is the lifecycle state of a claim
type Status string

const (
	StatusOpen       Status = "OPEN"       // Freshly ingested, under evaluation
	StatusValidated  Status = "VALIDATED"  // Backed by evidence
	StatusClosed     Status = "CLOSED"     // Settled, no open contradictions
	StatusFrozen     Status = "FROZEN"     // Foundational, tier 0 only
	StatusSuperseded Status = "SUPERSEDED" // Replaced by a newer revision
	StatusRefuted    Status = "REFUTED"    // Terminal, kept for audit
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusOpen,
	StatusValidated,
	StatusClosed,
	StatusFrozen,
	StatusSuperseded,
	StatusRefuted,
}

// ParseStatus converts a case-sensitive status name into a Status
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", Errorf(ErrValidation, "unknown status %q", s)
}

// IsActive reports whether the status counts as asserted for contradiction rules
func (s Status) IsActive() bool {
	return s == StatusValidated || s == StatusFrozen
}

// IsLive reports whether a claim in this status can still be canonical
func (s Status) IsLive() bool {
	return s != StatusSuperseded && s != StatusRefuted
}

// AcceptsEvidence reports whether new evidence may be appended in this status
func (s Status) AcceptsEvidence() bool {
	switch s {
	case StatusFrozen, StatusSuperseded, StatusRefuted:
		return false
	default:
		return true
	}
}

// Claim is an atomic, identified assertion with tier, status and evidence
type Claim struct {
	ID            ClaimID        `json:"id" yaml:"id"`
	Tier          Tier           `json:"tier" yaml:"tier"`
	Status        Status         `json:"status" yaml:"status"`
	Scope         string         `json:"scope" yaml:"scope"`                       // Free-form domain partition (the "topic")
	Statement     string         `json:"statement" yaml:"statement"`
	Evidence      []EvidenceItem `json:"evidence" yaml:"evidence"`                 // Ordered, append-only
	Relations     []RelationRef  `json:"relations" yaml:"relations"`               // Outgoing typed edges
	StopCondition bool           `json:"stop_condition" yaml:"stop_condition"`     // Permanent once set
	SupersededBy  ClaimID        `json:"superseded_by,omitempty" yaml:"superseded_by,omitempty"`
	RefutedBy     ClaimID        `json:"refuted_by,omitempty" yaml:"refuted_by,omitempty"`
	Revision      uint64         `json:"revision" yaml:"revision"`
	History       []HistoryEntry `json:"history" yaml:"history"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
	RevisedAt     time.Time      `json:"revised_at" yaml:"revised_at"`
}

// HistoryEntry records the lifecycle position of a claim at one revision
type HistoryEntry struct {
	Revision      uint64    `json:"revision" yaml:"revision"`
	Status        Status    `json:"status" yaml:"status"`
	Tier          Tier      `json:"tier" yaml:"tier"`
	StopCondition bool      `json:"stop_condition,omitempty" yaml:"stop_condition,omitempty"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// IsCanonicalCandidate reports whether the claim may be returned as canonical
func (c *Claim) IsCanonicalCandidate() bool {
	return c.Status.IsLive() && c.SupersededBy == ""
}

// HasExternalValidation reports whether any evidence item was sourced externally
func (c *Claim) HasExternalValidation() bool {
	for _, ev := range c.Evidence {
		if ev.Kind == EvidenceExternalValidation {
			return true
		}
	}
	return false
}

// HasRelation reports whether the claim already records the outgoing edge
func (c *Claim) HasRelation(target ClaimID, typ RelationType) bool {
	for _, r := range c.Relations {
		if r.Target == target && r.Type == typ {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.Evidence = make([]EvidenceItem, len(c.Evidence))
	for i, ev := range c.Evidence {
		out.Evidence[i] = ev.Clone()
	}
	out.Relations = append([]RelationRef(nil), c.Relations...)
	out.History = append([]HistoryEntry(nil), c.History...)
	return &out
}
