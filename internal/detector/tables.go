package detector

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// Classification holds the static field classification tables. The defaults
// match the fields tracked on model.Bill; operators can reclassify fields by
// loading an override file without a redeploy.
type Classification struct {
	// Significance maps field name to change significance. Unlisted fields
	// default to minor.
	Significance map[string]model.ChangeSignificance `yaml:"significance"`

	// ChangeTypes maps change type to the set of field names it covers.
	// Fields matched by no type classify as data corrections.
	ChangeTypes map[model.ChangeType][]string `yaml:"change_types"`

	// SignificantFields lists fields whose changes earn a confidence boost.
	SignificantFields []string `yaml:"significant_fields"`

	// ExactFields lists fields holding dates or numbers. They compare by
	// equality: a vote date moving one day is a change, no matter how
	// similar the two strings look.
	ExactFields []string `yaml:"exact_fields"`
}

// DefaultClassification returns the built-in tables.
func DefaultClassification() *Classification {
	return &Classification{
		Significance: map[string]model.ChangeSignificance{
			"status":              model.SignificanceCritical,
			"stage":               model.SignificanceCritical,
			"vote_date":           model.SignificanceCritical,
			"promulgation_date":   model.SignificanceCritical,
			"implementation_date": model.SignificanceCritical,
			"vote_results":        model.SignificanceMajor,
			"committee":           model.SignificanceMajor,
			"outline":             model.SignificanceMajor,
			"background":          model.SignificanceMinor,
			"effects":             model.SignificanceMinor,
			"title":               model.SignificanceMinor,
			"submitter":           model.SignificanceMinor,
			"submission_date":     model.SignificanceMinor,
			"quality_score":       model.SignificanceTrivial,
		},
		ChangeTypes: map[model.ChangeType][]string{
			model.ChangeStatus:         {"status"},
			model.ChangeStage:          {"stage"},
			model.ChangeCommittee:      {"committee"},
			model.ChangeVote:           {"vote_date", "vote_results"},
			model.ChangeDocument:       {"outline", "background", "effects"},
			model.ChangeMetadata:       {"title", "submitter", "submission_date"},
			model.ChangeImplementation: {"promulgation_date", "implementation_date"},
		},
		SignificantFields: []string{
			"status",
			"stage",
			"vote_date",
			"vote_results",
			"promulgation_date",
			"implementation_date",
		},
		ExactFields: []string{
			"submission_date",
			"vote_date",
			"promulgation_date",
			"implementation_date",
			"quality_score",
		},
	}
}

// LoadClassification reads classification tables from a YAML file. Sections
// missing from the file keep their defaults.
func LoadClassification(path string) (*Classification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "detector: read classification %s", path)
	}

	c := DefaultClassification()
	var override Classification
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrapf(err, "detector: parse classification %s", path)
	}

	if len(override.Significance) > 0 {
		c.Significance = override.Significance
	}
	if len(override.ChangeTypes) > 0 {
		c.ChangeTypes = override.ChangeTypes
	}
	if len(override.SignificantFields) > 0 {
		c.SignificantFields = override.SignificantFields
	}
	if len(override.ExactFields) > 0 {
		c.ExactFields = override.ExactFields
	}
	return c, nil
}

// SignificanceFor returns the significance for a field, defaulting to minor.
func (c *Classification) SignificanceFor(field string) model.ChangeSignificance {
	if s, ok := c.Significance[field]; ok {
		return s
	}
	return model.SignificanceMinor
}

// ChangeTypeFor returns the change type whose field set contains the field,
// defaulting to data correction.
func (c *Classification) ChangeTypeFor(field string) model.ChangeType {
	for ct, fields := range c.ChangeTypes {
		for _, f := range fields {
			if f == field {
				return ct
			}
		}
	}
	return model.ChangeCorrection
}

// IsSignificantField reports whether the field is on the confidence-boost
// allow list.
func (c *Classification) IsSignificantField(field string) bool {
	for _, f := range c.SignificantFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsExactField reports whether the field compares by equality rather than
// string similarity.
func (c *Classification) IsExactField(field string) bool {
	for _, f := range c.ExactFields {
		if f == field {
			return true
		}
	}
	return false
}
