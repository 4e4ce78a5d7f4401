// Package metadata extracts structured eligibility metadata from notice bodies
// with a language model and batches extraction under a request gate.
package metadata

import "context"

// Metadata is the structured description of one notice. Nil pointers mean the
// model found no value for that field.
type Metadata struct {
	Summary           *string `json:"summary"`
	Region            *string `json:"region"`
	BizAge            *string `json:"biz_age"`
	Industry          *string `json:"industry"`
	TargetGroup       *string `json:"target_group"`
	SupportType       *string `json:"support_type"`
	Amount            *string `json:"amount"`
	Agency            *string `json:"agency"`
	ApplicationPeriod *string `json:"application_period"`
	ApplicationMethod *string `json:"application_method"`
	Inquiry           *string `json:"inquiry"`

	RoadmapStage           []string `json:"roadmap_stage"`
	RequiredDocumentsCount int      `json:"required_documents_count"`
	RequiredDocumentsList  []string `json:"required_documents_list"`
}

// EmptyMetadata is the value used when extraction fails or is skipped.
func EmptyMetadata() Metadata {
	return Metadata{
		RoadmapStage:          []string{},
		RequiredDocumentsList: []string{},
	}
}

// IsEmpty reports whether no field was extracted.
func (m Metadata) IsEmpty() bool {
	for _, f := range m.scalars() {
		if *f != nil {
			return false
		}
	}
	return len(m.RoadmapStage) == 0 && len(m.RequiredDocumentsList) == 0
}

func (m *Metadata) scalars() map[string]**string {
	return map[string]**string{
		"summary":            &m.Summary,
		"region":             &m.Region,
		"biz_age":            &m.BizAge,
		"industry":           &m.Industry,
		"target_group":       &m.TargetGroup,
		"support_type":       &m.SupportType,
		"amount":             &m.Amount,
		"agency":             &m.Agency,
		"application_period": &m.ApplicationPeriod,
		"application_method": &m.ApplicationMethod,
		"inquiry":            &m.Inquiry,
	}
}

// Analyzer turns a notice title and body into Metadata.
type Analyzer interface {
	Analyze(ctx context.Context, title, body string) (Metadata, error)
}
