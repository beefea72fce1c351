package model

import (
	"maps"
	"time"
)

// EvidenceItem is an opaque, producer-defined piece of support attached to a claim
type EvidenceItem struct {
	Kind         EvidenceKind   `json:"kind" yaml:"kind"`
	Payload      map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`           // Never interpreted by the ledger
	Significance *Significance  `json:"significance,omitempty" yaml:"significance,omitempty"` // Read only by promotion thresholds
	Citation     ClaimID        `json:"citation,omitempty" yaml:"citation,omitempty"`         // Target of a cross-claim citation
	Source       string         `json:"source,omitempty" yaml:"source,omitempty"`             // Producer of record
	AddedAt      time.Time      `json:"added_at" yaml:"added_at"`
}

// EvidenceKind classifies the type of evidence
type EvidenceKind string

const (
	EvidenceStatistic          EvidenceKind = "statistic"           // Output of a statistical procedure
	EvidenceDatasetReference   EvidenceKind = "dataset_reference"   // Pointer to a dataset or corpus slice
	EvidenceCitation           EvidenceKind = "citation"            // Cross-claim citation
	EvidenceExternalValidation EvidenceKind = "external_validation" // Externally sourced; lifts stop conditions
)

// Valid reports whether the kind is one of the known evidence kinds
func (k EvidenceKind) Valid() bool {
	switch k {
	case EvidenceStatistic, EvidenceDatasetReference, EvidenceCitation, EvidenceExternalValidation:
		return true
	default:
		return false
	}
}

// Significance holds optional statistical fields used by promotion thresholds
type Significance struct {
	PValue     *float64 `json:"p_value,omitempty" yaml:"p_value,omitempty"`
	EffectSize *float64 `json:"effect_size,omitempty" yaml:"effect_size,omitempty"`
	SampleSize int      `json:"sample_size,omitempty" yaml:"sample_size,omitempty"`
}

// Clone returns a copy that shares no mutable state with the receiver
func (e EvidenceItem) Clone() EvidenceItem {
	out := e
	if e.Payload != nil {
		out.Payload = maps.Clone(e.Payload)
	}
	if e.Significance != nil {
		sig := *e.Significance
		out.Significance = &sig
	}
	return out
}
