package tender

import "strings"

// Filter is a conjunction of optional predicates over stored records.
// Zero-valued fields do not constrain the result.
type Filter struct {
	Countries       []string
	States          []string
	TenderID        string
	IncludeKeywords []string
	ExcludeKeywords []string
	MinValue        *float64
	MaxValue        *float64
	Currency        string
}

// Empty reports whether the filter matches every record.
func (f Filter) Empty() bool {
	return len(f.Countries) == 0 && len(f.States) == 0 && f.TenderID == "" &&
		len(f.IncludeKeywords) == 0 && len(f.ExcludeKeywords) == 0 &&
		f.MinValue == nil && f.MaxValue == nil && f.Currency == ""
}

// Match evaluates the filter in memory. Storage backends that translate the
// filter into a native query must agree with this function.
func (f Filter) Match(r Record) bool {
	if len(f.Countries) > 0 && !containsFold(f.Countries, r.Country) {
		return false
	}
	if len(f.States) > 0 && (r.State == nil || !containsFold(f.States, *r.State)) {
		return false
	}
	if f.TenderID != "" && f.TenderID != r.TenderID {
		return false
	}
	if f.Currency != "" && !strings.EqualFold(f.Currency, Deref(r.Details.Currency)) {
		return false
	}
	if f.MinValue != nil || f.MaxValue != nil {
		v := r.Details.TenderValue
		if v == nil {
			return false
		}
		if f.MinValue != nil && *v < *f.MinValue {
			return false
		}
		if f.MaxValue != nil && *v > *f.MaxValue {
			return false
		}
	}

	title := strings.ToLower(r.Details.Title)
	summary := strings.ToLower(Deref(r.Details.ProcurementSummary))
	hit := func(term string) bool {
		t := strings.ToLower(term)
		return strings.Contains(title, t) || strings.Contains(summary, t)
	}

	include := Terms(f.IncludeKeywords)
	if len(include) > 0 {
		matched := false
		for _, term := range include {
			if hit(term) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, term := range Terms(f.ExcludeKeywords) {
		if hit(term) {
			return false
		}
	}
	return true
}

// Terms trims the given keywords and drops blanks.
func Terms(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// SplitKeywords turns a comma separated query value into terms.
func SplitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return Terms(strings.Split(raw, ","))
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
