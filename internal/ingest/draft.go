// Package ingest turns claim draft files into claims ready for the ledger.
//
// A draft file is YAML (JSON is accepted as YAML). Each document holds one
// claim or a sequence of claims, and a file may carry several documents.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/model"
	"gopkg.in/yaml.v3"
)

var draftValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Draft is a claim as written by a producer
type Draft struct {
	ID            string          `yaml:"id" validate:"required,max=200,excludesall=/\\"`
	Tier          *int            `yaml:"tier" validate:"required,min=0,max=4"`
	Scope         string          `yaml:"scope" validate:"required,max=200,excludesall=/\\"`
	Statement     string          `yaml:"statement" validate:"required"`
	StopCondition bool            `yaml:"stop_condition"`
	Evidence      []EvidenceDraft `yaml:"evidence" validate:"dive"`
	Relations     []RelationDraft `yaml:"relations" validate:"dive"`
	Refs          []string        `yaml:"refs"` // Short "type:target" form of relations
	Producer      string          `yaml:"producer"`
}

// EvidenceDraft is one evidence item of a draft
type EvidenceDraft struct {
	Kind       string         `yaml:"kind" validate:"required,oneof=statistic dataset_reference citation external_validation"`
	Source     string         `yaml:"source"`
	Citation   string         `yaml:"citation" validate:"required_if=Kind citation"`
	PValue     *float64       `yaml:"p_value" validate:"omitempty,gte=0,lte=1"`
	EffectSize *float64       `yaml:"effect_size"`
	SampleSize int            `yaml:"sample_size" validate:"gte=0"`
	Payload    map[string]any `yaml:"payload"`
}

// RelationDraft is one outgoing edge of a draft
type RelationDraft struct {
	Type   string `yaml:"type" validate:"required,oneof=extends refines supersedes contradicts depends_on confirms"`
	Target string `yaml:"target" validate:"required"`
}

// Validate checks the draft's struct rules and returns an ErrValidation error
func (d *Draft) Validate() error {
	err := draftValidate.Struct(d)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.Errorf(model.ErrValidation, "draft %q: %v", d.ID, err)
	}
	return model.Errorf(model.ErrValidation, "draft %q: %s", d.ID, describeAll(verrs))
}

func describeAll(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return strings.Join(msgs, "; ")
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "excludesall":
		return field + " must not contain path separators"
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// ToClaim validates the draft and converts it into a claim
func (d *Draft) ToClaim() (*model.Claim, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c := &model.Claim{
		ID:            model.ClaimID(strings.TrimSpace(d.ID)),
		Tier:          model.Tier(*d.Tier),
		Status:        model.StatusOpen,
		Scope:         strings.TrimSpace(d.Scope),
		Statement:     strings.TrimSpace(d.Statement),
		StopCondition: d.StopCondition,
	}

	for _, ev := range d.Evidence {
		c.Evidence = append(c.Evidence, ev.toItem(d.Producer))
	}

	for _, r := range d.Relations {
		c.Relations = append(c.Relations, model.RelationRef{
			Target: model.ClaimID(strings.TrimSpace(r.Target)),
			Type:   model.RelationType(r.Type),
		})
	}
	for _, s := range d.Refs {
		ref, err := graph.ParseRef(s)
		if err != nil {
			return nil, fmt.Errorf("draft %q: %w", d.ID, err)
		}
		c.Relations = append(c.Relations, ref)
	}

	return c, nil
}

func (e EvidenceDraft) toItem(producer string) model.EvidenceItem {
	item := model.EvidenceItem{
		Kind:     model.EvidenceKind(e.Kind),
		Source:   e.Source,
		Citation: model.ClaimID(e.Citation),
		Payload:  e.Payload,
	}
	if item.Source == "" {
		item.Source = producer
	}
	if e.PValue != nil || e.EffectSize != nil || e.SampleSize > 0 {
		item.Significance = &model.Significance{
			PValue:     e.PValue,
			EffectSize: e.EffectSize,
			SampleSize: e.SampleSize,
		}
	}
	return item
}

// References returns the ids of the claims the draft points at
func (d *Draft) References() []string {
	var out []string
	for _, r := range d.Relations {
		out = append(out, strings.TrimSpace(r.Target))
	}
	for _, s := range d.Refs {
		if _, target, ok := strings.Cut(s, ":"); ok {
			out = append(out, strings.TrimSpace(target))
		}
	}
	for _, ev := range d.Evidence {
		if ev.Citation != "" {
			out = append(out, ev.Citation)
		}
	}
	return out
}

// Decode reads every draft from a YAML stream
func Decode(r io.Reader) ([]Draft, error) {
	dec := yaml.NewDecoder(r)

	var drafts []Draft
	for doc := 0; ; doc++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return drafts, nil
		}
		if err != nil {
			return nil, model.Errorf(model.ErrValidation, "document %d: %v", doc, err)
		}
		if len(node.Content) == 0 {
			continue
		}

		body := node.Content[0]
		switch body.Kind {
		case yaml.SequenceNode:
			var batch []Draft
			if err := body.Decode(&batch); err != nil {
				return nil, model.Errorf(model.ErrValidation, "document %d: %v", doc, err)
			}
			drafts = append(drafts, batch...)
		case yaml.MappingNode:
			var d Draft
			if err := body.Decode(&d); err != nil {
				return nil, model.Errorf(model.ErrValidation, "document %d: %v", doc, err)
			}
			drafts = append(drafts, d)
		default:
			return nil, model.Errorf(model.ErrValidation, "document %d: want a claim or a list of claims", doc)
		}
	}
}
