package analyze

import "encoding/json"

// Report is the ordered result of one analysis. The zero value is an empty
// report. It is immutable: accessors return copies.
type Report struct {
	issues   []Issue
	warnings []string
}

func newReport(issues []Issue, warnings []string) Report {
	return Report{
		issues:   append([]Issue(nil), issues...),
		warnings: append([]string(nil), warnings...),
	}
}

// NewReport builds a report from already computed issues, e.g. when
// reloading a stored result.
func NewReport(issues []Issue, warnings []string) Report {
	return newReport(issues, warnings)
}

// Issues returns the findings in detection order.
func (r Report) Issues() []Issue { return append([]Issue(nil), r.issues...) }

// Warnings returns the extraction warnings carried over to the report.
func (r Report) Warnings() []string { return append([]string(nil), r.warnings...) }

// Empty reports whether no issue was found.
func (r Report) Empty() bool { return len(r.issues) == 0 }

// Len returns the number of issues.
func (r Report) Len() int { return len(r.issues) }

// Categories returns the distinct categories in first-seen order.
func (r Report) Categories() []Category {
	seen := make(map[Category]bool, len(Categories))
	var out []Category
	for _, is := range r.issues {
		if !seen[is.Category] {
			seen[is.Category] = true
			out = append(out, is.Category)
		}
	}
	return out
}

// Pages returns the pages named by issues of category c, in order. It is
// empty for document-level categories.
func (r Report) Pages(c Category) []int {
	var out []int
	for _, is := range r.issues {
		if is.Category == c && is.Page > 0 {
			out = append(out, is.Page)
		}
	}
	return out
}

// Messages returns the issue messages in order.
func (r Report) Messages() []string {
	out := make([]string, len(r.issues))
	for i, is := range r.issues {
		out[i] = is.Message
	}
	return out
}

type reportJSON struct {
	Issues   []Issue  `json:"issues"`
	Warnings []string `json:"warnings,omitempty"`
}

// MarshalJSON encodes the report as {"issues": [...], "warnings": [...]}.
func (r Report) MarshalJSON() ([]byte, error) {
	issues := r.issues
	if issues == nil {
		issues = []Issue{}
	}
	return json.Marshal(reportJSON{Issues: issues, Warnings: r.warnings})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *Report) UnmarshalJSON(data []byte) error {
	var v reportJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = newReport(v.Issues, v.Warnings)
	return nil
}
