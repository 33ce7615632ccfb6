// Package tender defines the canonical tender record and the storage contract
// shared by the crawl pipeline and the query API.
package tender

// Record is the normalized unit persisted and served. JSON field names are
// part of the storage schema and must not change.
type Record struct {
	TenderID                string                   `json:"tenderId"`
	SourceURL               string                   `json:"sourceUrl"`
	ScrapedTimestamp        string                   `json:"scrapedTimestamp"`
	Country                 string                   `json:"country"`
	State                   *string                  `json:"state"`
	Region                  *string                  `json:"region"`
	Details                 Details                  `json:"details"`
	EligibilityRequirements []EligibilityRequirement `json:"eligibilityRequirements"`
	ProposalFormat          []ProposalFormatItem     `json:"proposalFormat"`
	UnstructuredData        map[string]string        `json:"unstructuredData"`
	VectorEmbedding         []float32                `json:"vectorEmbedding"`
}

// Details holds the descriptive part of a tender.
type Details struct {
	ReferenceNumber    *string  `json:"referenceNumber"`
	Title              string   `json:"title"`
	IssuingAuthority   *string  `json:"issuingAuthority"`
	ProcurementSummary *string  `json:"procurementSummary"`
	Category           []string `json:"category"`
	TenderValue        *float64 `json:"tenderValue"`
	Currency           *string  `json:"currency"`
	Dates              Dates    `json:"dates"`
}

// Dates are RFC 3339 strings or nil; never raw source text.
type Dates struct {
	PublishedDate        *string `json:"publishedDate"`
	ClarificationEndDate *string `json:"clarificationEndDate"`
	ClosingDate          *string `json:"closingDate"`
	OpeningDate          *string `json:"openingDate"`
}

// EligibilityRequirement is one bidder qualification line.
type EligibilityRequirement struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ProposalFormatItem describes one question of the expected proposal.
type ProposalFormatItem struct {
	Section      string `json:"section"`
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText"`
	ResponseType string `json:"responseType"`
	IsRequired   bool   `json:"isRequired"`
}

// Normalize replaces nil collections with empty ones so the persisted and
// served JSON always carries arrays and objects instead of nulls.
func (r *Record) Normalize() {
	if r.Details.Category == nil {
		r.Details.Category = []string{}
	}
	if r.EligibilityRequirements == nil {
		r.EligibilityRequirements = []EligibilityRequirement{}
	}
	if r.ProposalFormat == nil {
		r.ProposalFormat = []ProposalFormatItem{}
	}
	if r.UnstructuredData == nil {
		r.UnstructuredData = map[string]string{}
	}
}

// Keyed reports whether the record can participate in an upsert.
func (r Record) Keyed() bool {
	return r.TenderID != ""
}

// StringPtr returns nil for an empty string so optional fields stay absent.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
