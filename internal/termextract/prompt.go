package termextract

import (
	"fmt"
	"strings"

	"github.com/sells-group/contract-cli/internal/model"
)

const systemPrompt = `You are an expert employment contract analyst. Your task is to extract key terms from employment contracts with high accuracy.

For each term you extract:
1. Provide the actual value found in the contract.
2. Include the exact excerpt from the contract that contains this information.
3. Rate your confidence (0-1) based on how clearly the term is stated.

Pay special attention to:
- TERMINATION PROVISIONS: all termination-related clauses.
- TERMINATION FOR CAUSE: definitions of "cause" such as misconduct, breach of duty, criminal acts or policy violations.
- TERMINATION WITHOUT CAUSE: at-will provisions, notice requirements, severance.
- SEVERANCE: severance packages, continuation of benefits, garden leave.

If a term is not found or not applicable, return null for the value and a confidence of 0.

Respond with a single JSON object and nothing else.`

const documentFormat = `Return JSON of this shape:
{
  "terms": {
    "<column id>": {"value": string or null, "excerpt": string or null, "confidence": number}
  },
  "suggestedNewTerms": [
    {"termId": "camelCaseId", "termLabel": "Human label", "description": "What this term represents", "sampleValue": "Value in this contract", "excerpt": "Relevant contract text"}
  ]
}
Include every column id listed above in "terms". In "suggestedNewTerms", list significant terms found that are not in the column list (e.g. signing bonus, equity grants, relocation assistance, probation period), or an empty array.`

const columnFormat = `Return JSON of this shape:
{"value": string or null, "excerpt": string or null, "confidence": number}`

func writeColumn(sb *strings.Builder, c model.Column) {
	fmt.Fprintf(sb, "- %s (%s)", c.ID, c.Label)
	if d := c.DescriptionText(); d != "" {
		fmt.Fprintf(sb, ": %s", d)
	}
	sb.WriteByte('\n')
}

func writeContract(sb *strings.Builder, req Request) {
	fmt.Fprintf(sb, "Contract file: %s\n---\n%s\n---\n\n", req.FileName, req.Text)
}

// buildDocumentPrompt asks for every column plus new-term suggestions.
func buildDocumentPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Analyze this employment contract and extract all key terms.\n\n")
	writeContract(&sb, req)
	sb.WriteString("Columns being tracked:\n")
	for _, c := range req.Columns {
		writeColumn(&sb, c)
	}
	sb.WriteByte('\n')
	sb.WriteString(documentFormat)
	return sb.String()
}

// buildColumnPrompt asks for a single column only.
func buildColumnPrompt(req Request, col model.Column) string {
	var sb strings.Builder
	sb.WriteString("Extract one term from this employment contract.\n\n")
	writeContract(&sb, req)
	sb.WriteString("Term:\n")
	writeColumn(&sb, col)
	sb.WriteByte('\n')
	sb.WriteString(columnFormat)
	return sb.String()
}
