package view

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
)

// Detail is the excerpt view of one term.
type Detail struct {
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	ColumnID     string   `json:"column_id"`
	Label        string   `json:"label"`
	Value        string   `json:"value"`
	Excerpt      string   `json:"excerpt"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// ErrNoExcerpt is returned by DrillDown for a term without source excerpt.
var ErrNoExcerpt = eris.New("view: no excerpt")

// DrillDown returns the excerpt behind a term. It is available whenever the
// term has an excerpt, including terms with a null value.
func (e *Engine) DrillDown(documentID, columnID string) (Detail, error) {
	col, ok := e.reg.Get(columnID)
	if !ok {
		return Detail{}, eris.Wrapf(model.ErrUnknownColumn, "view: drill-down %s", columnID)
	}
	doc, ok := e.docs.Get(documentID)
	if !ok {
		return Detail{}, eris.Wrapf(model.ErrUnknownDocument, "view: drill-down %s", documentID)
	}
	t, ok := doc.Terms[columnID]
	if !ok || !t.HasExcerpt() {
		return Detail{}, eris.Wrapf(ErrNoExcerpt, "%s/%s", documentID, columnID)
	}

	value := NotAvailable
	if t.HasValue() {
		value = *t.Value
	}
	return Detail{
		DocumentID:   doc.ID,
		DocumentName: doc.DisplayName,
		ColumnID:     col.ID,
		Label:        col.Label,
		Value:        value,
		Excerpt:      *t.Excerpt,
		Confidence:   t.Confidence,
	}, nil
}
