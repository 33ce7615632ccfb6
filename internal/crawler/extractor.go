package crawler

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// DefaultRowSelector selects listing rows of the CPPP active tenders table.
const DefaultRowSelector = "table.table > tbody > tr"

// Layout maps record fields to 1-based cell positions within a row.
type Layout struct {
	Published     int
	Title         int
	Authority     int
	Closing       int
	Opening       int
	TitleFallback int
}

// DefaultLayout is the CPPP listing layout. Closing and opening dates share a column.
func DefaultLayout() Layout {
	return Layout{
		Published:     4,
		Title:         5,
		Authority:     6,
		Closing:       7,
		Opening:       7,
		TitleFallback: 1,
	}
}

// Validate checks that every position is usable.
func (l Layout) Validate() error {
	for name, pos := range map[string]int{
		"published": l.Published, "title": l.Title, "authority": l.Authority,
		"closing": l.Closing, "opening": l.Opening, "title_fallback": l.TitleFallback,
	} {
		if pos < 1 {
			return fmt.Errorf("layout column %s must be >= 1, got %d", name, pos)
		}
	}
	return nil
}

func (l Layout) modeled() map[int]struct{} {
	return map[int]struct{}{
		l.Published: {}, l.Title: {}, l.Authority: {}, l.Closing: {}, l.Opening: {},
	}
}

// ListingExtractor extracts tender records from a server-rendered listing table.
type ListingExtractor struct {
	selector cascadia.Selector
	layout   Layout
	dates    DateNormalizer
	policy   *bluemonday.Policy
}

// NewListingExtractor compiles the row selector and validates the layout.
func NewListingExtractor(rowSelector string, layout Layout, dates DateNormalizer) (*ListingExtractor, error) {
	if strings.TrimSpace(rowSelector) == "" {
		rowSelector = DefaultRowSelector
	}
	sel, err := cascadia.Compile(rowSelector)
	if err != nil {
		return nil, fmt.Errorf("compile row selector %q: %w", rowSelector, err)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &ListingExtractor{
		selector: sel,
		layout:   layout,
		dates:    dates,
		policy:   bluemonday.StrictPolicy(),
	}, nil
}

// Rows parses the page and returns the listing rows in document order.
func (e *ListingExtractor) Rows(page Page) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", page.URL, err)
	}
	var rows []Row
	doc.FindMatcher(e.selector).Each(func(i int, s *goquery.Selection) {
		rows = append(rows, Row{Index: i, Cells: s.ChildrenFiltered("td")})
	})
	return rows, nil
}

// Extract builds a record from one row. Missing fields become warnings; a row
// without any non-blank cell is skipped.
func (e *ListingExtractor) Extract(row Row, rc RowContext) Extraction {
	cells := row.Cells
	if cells == nil || cells.Length() == 0 || e.blank(cells) {
		return Extraction{Skip: true}
	}

	var warnings []FieldWarning
	warn := func(field, format string, args ...any) {
		warnings = append(warnings, FieldWarning{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	titleCell, ok := cell(cells, e.layout.Title)
	if !ok {
		warn("tenderId", "column %d missing", e.layout.Title)
	}
	tenderID := firstDirectText(titleCell)
	if ok && tenderID == "" {
		warn("tenderId", "empty")
	}

	title := ""
	if ok {
		title = e.clean(titleCell.Find("a").First().Text())
	}
	if title == "" {
		if fb, fbOK := cell(cells, e.layout.TitleFallback); fbOK {
			title = e.clean(fb.Text())
		}
	}
	if title == "" {
		warn("title", "no anchor text in column %d and no fallback text in column %d", e.layout.Title, e.layout.TitleFallback)
	}

	authority := ""
	if c, aOK := cell(cells, e.layout.Authority); aOK {
		authority = e.clean(c.Text())
	}
	if authority == "" {
		warn("issuingAuthority", "empty")
	}

	date := func(field string, pos int) *string {
		c, dOK := cell(cells, pos)
		if !dOK {
			warn(field, "column %d missing", pos)
			return nil
		}
		raw := e.clean(c.Text())
		v := e.dates.Normalize(raw)
		if v == nil && raw != "" && raw != "--" {
			warn(field, "unrecognized date %q", raw)
		}
		return v
	}

	unstructured := map[string]string{}
	modeled := e.layout.modeled()
	cells.Each(func(i int, s *goquery.Selection) {
		pos := i + 1
		if _, skip := modeled[pos]; skip {
			return
		}
		if text := e.clean(s.Text()); text != "" {
			unstructured["col"+strconv.Itoa(pos)] = text
		}
	})

	p := rc.Profile
	rec := tender.Record{
		TenderID:         tenderID,
		SourceURL:        rc.SourceURL,
		ScrapedTimestamp: rc.ScrapedAt.UTC().Format(time.RFC3339),
		Country:          p.Country,
		State:            tender.StringPtr(p.State),
		Region:           tender.StringPtr(p.Region),
		Details: tender.Details{
			ReferenceNumber:    tender.StringPtr(tenderID),
			Title:              title,
			IssuingAuthority:   tender.StringPtr(authority),
			ProcurementSummary: tender.StringPtr(title),
			Currency:           tender.StringPtr(p.Currency),
			Dates: tender.Dates{
				PublishedDate: date("publishedDate", e.layout.Published),
				ClosingDate:   date("closingDate", e.layout.Closing),
				OpeningDate:   date("openingDate", e.layout.Opening),
			},
		},
		UnstructuredData: unstructured,
	}
	rec.Normalize()
	return Extraction{Record: rec, Warnings: warnings}
}

func (e *ListingExtractor) blank(cells *goquery.Selection) bool {
	empty := true
	cells.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if e.clean(s.Text()) != "" {
			empty = false
			return false
		}
		return true
	})
	return empty
}

// clean strips any markup smuggled into cell text, decodes entities and
// collapses whitespace.
func (e *ListingExtractor) clean(s string) string {
	s = html.UnescapeString(e.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func cell(cells *goquery.Selection, pos int) (*goquery.Selection, bool) {
	if pos < 1 || pos > cells.Length() {
		return nil, false
	}
	return cells.Eq(pos - 1), true
}

// firstDirectText returns the first non-blank text node that is a direct
// child of s, trimmed.
func firstDirectText(s *goquery.Selection) string {
	if s == nil {
		return ""
	}
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xhtml.TextNode {
				continue
			}
			if t := strings.Join(strings.Fields(c.Data), " "); t != "" {
				return t
			}
		}
	}
	return ""
}
