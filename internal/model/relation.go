package model

import "fmt"

// RelationType is the type of a directed edge between two claims
type RelationType string

const (
	RelationExtends     RelationType = "extends"
	RelationRefines     RelationType = "refines"
	RelationSupersedes  RelationType = "supersedes"  // Source replaces target; at most one each way
	RelationContradicts RelationType = "contradicts" // Symmetric
	RelationDependsOn   RelationType = "depends_on"
	RelationConfirms    RelationType = "confirms"
)

// AllRelationTypes lists every relation type
var AllRelationTypes = []RelationType{
	RelationExtends,
	RelationRefines,
	RelationSupersedes,
	RelationContradicts,
	RelationDependsOn,
	RelationConfirms,
}

// Valid reports whether the relation type is known
func (t RelationType) Valid() bool {
	for _, rt := range AllRelationTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Symmetric reports whether (a,b) and (b,a) denote the same edge
func (t RelationType) Symmetric() bool {
	return t == RelationContradicts
}

// Supporting reports whether an incoming edge of this type supports its target
func (t RelationType) Supporting() bool {
	switch t {
	case RelationConfirms, RelationExtends, RelationRefines:
		return true
	default:
		return false
	}
}

// ParseRelationType converts a relation name into a RelationType
func ParseRelationType(s string) (RelationType, error) {
	rt := RelationType(s)
	if !rt.Valid() {
		return "", Errorf(ErrValidation, "unknown relation type %q", s)
	}
	return rt, nil
}

// RelationRef is an outgoing edge as persisted on its source claim
type RelationRef struct {
	Target ClaimID      `json:"target" yaml:"target"`
	Type   RelationType `json:"type" yaml:"type"`
}

// Relation is a directed, typed edge between two claims
type Relation struct {
	Source ClaimID      `json:"source"`
	Target ClaimID      `json:"target"`
	Type   RelationType `json:"type"`
}

func (r Relation) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", r.Source, r.Type, r.Target)
}

// Other returns the endpoint of the edge that is not id
func (r Relation) Other(id ClaimID) ClaimID {
	if r.Source == id {
		return r.Target
	}
	return r.Source
}
