package model

// Suggestion is a candidate new column proposed by the term-extraction
// collaborator. It references its origin document by id only; the document
// may no longer exist when the suggestion is resolved.
type Suggestion struct {
	CandidateID      string `json:"candidate_id"`
	Label            string `json:"label"`
	Description      string `json:"description"`
	OriginDocumentID string `json:"origin_document_id"`
	OriginDocument   string `json:"origin_document,omitempty"`
	SampleValue      string `json:"sample_value"`
	Excerpt          string `json:"excerpt,omitempty"`
}

// ColumnDef converts the suggestion into the definition of the column it
// proposes.
func (s Suggestion) ColumnDef() ColumnDef {
	def := ColumnDef{ID: s.CandidateID, Label: s.Label}
	if s.Description != "" {
		def.Description = StringPtr(s.Description)
	}
	return def
}
