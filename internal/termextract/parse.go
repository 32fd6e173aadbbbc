package termextract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
)

type rawTerm struct {
	Value      json.RawMessage `json:"value"`
	Excerpt    *string         `json:"excerpt"`
	Confidence *float64        `json:"confidence"`
}

type rawSuggestion struct {
	TermID      string          `json:"termId"`
	TermLabel   string          `json:"termLabel"`
	Description string          `json:"description"`
	SampleValue json.RawMessage `json:"sampleValue"`
	Excerpt     string          `json:"excerpt"`
}

type rawDocument struct {
	Terms             map[string]rawTerm `json:"terms"`
	SuggestedNewTerms []rawSuggestion    `json:"suggestedNewTerms"`
}

// cleanJSON strips markdown code fences and surrounding prose from a model
// response.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseDocument decodes a full-document response. Only ids in columns are
// kept; every column receives an entry, null when the model omitted it.
func parseDocument(text string, columns []model.Column) (Result, error) {
	var raw rawDocument
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return Result{}, eris.Wrap(err, "termextract: decode response")
	}
	if raw.Terms == nil {
		return Result{}, eris.New("termextract: response has no terms object")
	}

	res := Result{Terms: make(model.Terms, len(columns))}
	for _, c := range columns {
		rt, ok := raw.Terms[c.ID]
		if !ok {
			res.Terms[c.ID] = model.Term{}
			continue
		}
		res.Terms[c.ID] = rt.normalize()
	}

	for _, s := range raw.SuggestedNewTerms {
		id := strings.TrimSpace(s.TermID)
		if id == "" {
			continue
		}
		label := strings.TrimSpace(s.TermLabel)
		if label == "" {
			label = id
		}
		res.Suggestions = append(res.Suggestions, model.Suggestion{
			CandidateID: id,
			Label:       label,
			Description: strings.TrimSpace(s.Description),
			SampleValue: valueString(s.SampleValue),
			Excerpt:     strings.TrimSpace(s.Excerpt),
		})
	}
	return res, nil
}

// parseColumn decodes a single-term response.
func parseColumn(text string) (model.Term, error) {
	var rt rawTerm
	if err := json.Unmarshal([]byte(cleanJSON(text)), &rt); err != nil {
		return model.Term{}, eris.Wrap(err, "termextract: decode response")
	}
	return rt.normalize(), nil
}

func (rt rawTerm) normalize() model.Term {
	var t model.Term
	if v := valueString(rt.Value); v != "" {
		t.Value = model.StringPtr(v)
	}
	if rt.Excerpt != nil {
		if e := strings.TrimSpace(*rt.Excerpt); e != "" {
			t.Excerpt = model.StringPtr(e)
		}
	}
	if rt.Confidence != nil {
		c := min(max(*rt.Confidence, 0), 1)
		t.Confidence = &c
	}
	return t
}

// valueString renders a JSON scalar as text. Null and empty strings become "".
func valueString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
