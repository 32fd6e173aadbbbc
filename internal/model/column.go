package model

// Column is one entry of the table schema: a named, ordered slot for an
// extractable term type. ID is stable and never reused; Order is only used
// for relative comparison and need not be contiguous.
type Column struct {
	ID          string  `json:"id" yaml:"id"`
	Label       string  `json:"label" yaml:"label"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Visible     bool    `json:"visible" yaml:"visible"`
	Order       int     `json:"order" yaml:"order"`
}

// ColumnDef is the caller-supplied definition for a new column. A nil Order
// appends after the current maximum; a nil Visible defaults to true.
type ColumnDef struct {
	ID          string  `json:"id" yaml:"id"`
	Label       string  `json:"label" yaml:"label"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Visible     *bool   `json:"visible,omitempty" yaml:"visible,omitempty"`
	Order       *int    `json:"order,omitempty" yaml:"order,omitempty"`
}

// DescriptionText returns the description or "" when unset.
func (c Column) DescriptionText() string {
	if c.Description == nil {
		return ""
	}
	return *c.Description
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// DefaultColumns returns the employment-contract column set seeded at
// session start.
func DefaultColumns() []Column {
	defs := []struct {
		id, label, desc string
	}{
		{"employeeName", "Employee Name", "Full name of the employee"},
		{"position", "Position/Title", "Job title or position"},
		{"startDate", "Start Date", "Employment start date"},
		{"employmentType", "Employment Type", "Full-time, Part-time, Contractor, etc."},
		{"salary", "Salary", "Base salary/compensation amount"},
		{"paymentFrequency", "Payment Frequency", "How often payment is made (weekly, bi-weekly, monthly)"},
		{"benefits", "Benefits", "List of benefits (health insurance, 401k, etc.)"},
		{"ptoDays", "PTO Days", "Number of PTO/vacation days"},
		{"noticePeriod", "Notice Period", "Required notice period for resignation/termination"},
		{"nonCompete", "Non-Compete", "Non-compete clause duration and terms, or null if none"},
		{"confidentiality", "Confidentiality", "Whether confidentiality/NDA clause exists and key terms"},
		{"workLocation", "Work Location", "Remote, Hybrid, On-site, or specific location"},
		{"reportingTo", "Reports To", "Who the employee reports to"},
		{"terminationProvisions", "Termination Provisions", "General termination terms and procedures"},
		{"terminationForCause", "Termination for Cause", "What qualifies as termination for cause"},
		{"terminationWithoutCause", "Termination w/o Cause", "At-will and without cause termination terms"},
		{"severancePay", "Severance Pay", "Severance package upon termination"},
	}
	cols := make([]Column, len(defs))
	for i, d := range defs {
		cols[i] = Column{
			ID:          d.id,
			Label:       d.label,
			Description: StringPtr(d.desc),
			Visible:     true,
			Order:       i,
		}
	}
	return cols
}
