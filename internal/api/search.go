package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// SearchRequest is the body of POST /v1/tenders/search.
type SearchRequest struct {
	Filters    SearchFilters `json:"filters"`
	Pagination struct {
		Page  *int `json:"page"`
		Limit *int `json:"limit"`
	} `json:"pagination"`
}

// SearchFilters groups the structured search predicates.
type SearchFilters struct {
	Location struct {
		Country StringList `json:"country"`
		State   StringList `json:"state"`
	} `json:"location"`
	Keywords struct {
		Include []string `json:"include"`
		Exclude []string `json:"exclude"`
	} `json:"keywords"`
	ValueRange struct {
		Min      *float64 `json:"min"`
		Max      *float64 `json:"max"`
		Currency string   `json:"currency"`
	} `json:"valueRange"`
	TenderID string `json:"tenderId"`
}

// Filter converts the request into a storage filter.
func (r SearchRequest) Filter() (tender.Filter, error) {
	vr := r.Filters.ValueRange
	if vr.Min != nil && vr.Max != nil && *vr.Min > *vr.Max {
		return tender.Filter{}, fmt.Errorf("valueRange.min %v exceeds valueRange.max %v", *vr.Min, *vr.Max)
	}
	return tender.Filter{
		Countries:       tender.Terms(r.Filters.Location.Country),
		States:          tender.Terms(r.Filters.Location.State),
		TenderID:        r.Filters.TenderID,
		IncludeKeywords: tender.Terms(r.Filters.Keywords.Include),
		ExcludeKeywords: tender.Terms(r.Filters.Keywords.Exclude),
		MinValue:        vr.Min,
		MaxValue:        vr.Max,
		Currency:        vr.Currency,
	}, nil
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("expected a string or an array of strings")
	}
	*l = many
	return nil
}
