package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/tender"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
	queryTimeout = 10 * time.Second
	maxBodyBytes = 1 << 20
)

// TenderHandler serves filtered, paginated tender listings.
type TenderHandler struct {
	store   tender.Reader
	timeout time.Duration
	logger  *zap.Logger
}

// NewTenderHandler wires the reader and logger. A non-positive timeout uses
// the package default.
func NewTenderHandler(store tender.Reader, timeout time.Duration, logger *zap.Logger) *TenderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = queryTimeout
	}
	return &TenderHandler{store: store, timeout: timeout, logger: logger}
}

// Envelope is the response body of every listing endpoint.
type Envelope struct {
	Status     string          `json:"status"`
	Results    int             `json:"results"`
	Pagination Pagination      `json:"pagination"`
	Data       []tender.Record `json:"data"`
}

// Pagination describes the page returned in an Envelope.
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int64 `json:"totalPages"`
	TotalResults int64 `json:"totalResults"`
	Limit        int   `json:"limit"`
}

// List handles GET /v1/tenders?country&state&keywords&tenderId&min_value&max_value&currency&page&limit.
func (h *TenderHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, page, limit, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, filter, page, limit)
}

// Search handles POST /v1/tenders/search.
func (h *TenderHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	filter, err := req.Filter()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit, err := normalizePaging(req.Pagination.Page, req.Pagination.Limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, filter, page, limit)
}

func (h *TenderHandler) respond(w http.ResponseWriter, r *http.Request, f tender.Filter, page, limit int) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	total, err := h.store.Count(ctx, f)
	if err != nil {
		h.fail(w, r, "count tenders", err)
		return
	}
	records := []tender.Record{}
	skip := (page - 1) * limit
	if int64(skip) < total {
		records, err = h.store.Find(ctx, f, skip, limit)
		if err != nil {
			h.fail(w, r, "find tenders", err)
			return
		}
	}
	for i := range records {
		records[i].Normalize()
	}
	writeJSON(w, http.StatusOK, Envelope{
		Status:  "success",
		Results: len(records),
		Pagination: Pagination{
			CurrentPage:  page,
			TotalPages:   totalPages(total, limit),
			TotalResults: total,
			Limit:        limit,
		},
		Data: records,
	})
}

// fail logs the storage error and returns a generic 500 without its details.
func (h *TenderHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("tender query failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("op", op),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, internalErrorMessage)
}

func totalPages(total int64, limit int) int64 {
	if total <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

// normalizePaging applies the defaults: page starts at 1 and limit is
// clamped to [1, maxLimit]. A page whose offset does not fit in an int is
// rejected.
func normalizePaging(page, limit *int) (int, int, error) {
	p, l := defaultPage, defaultLimit
	if page != nil {
		p = *page
	}
	if limit != nil {
		l = *limit
	}
	if p < 1 {
		p = 1
	}
	if l < 1 {
		l = 1
	}
	if l > maxLimit {
		l = maxLimit
	}
	if p-1 > math.MaxInt/l {
		return 0, 0, fmt.Errorf("page %d is out of range", p)
	}
	return p, l, nil
}

func parseListQuery(q url.Values) (tender.Filter, int, int, error) {
	f := tender.Filter{
		Countries:       splitValues(q["country"]),
		States:          splitValues(q["state"]),
		TenderID:        strings.TrimSpace(q.Get("tenderId")),
		IncludeKeywords: tender.SplitKeywords(q.Get("keywords")),
		ExcludeKeywords: tender.SplitKeywords(q.Get("exclude")),
		Currency:        strings.TrimSpace(q.Get("currency")),
	}
	var err error
	if f.MinValue, err = parseFloatParam(q, "min_value"); err != nil {
		return tender.Filter{}, 0, 0, err
	}
	if f.MaxValue, err = parseFloatParam(q, "max_value"); err != nil {
		return tender.Filter{}, 0, 0, err
	}
	page, err := parseIntParam(q, "page")
	if err != nil {
		return tender.Filter{}, 0, 0, err
	}
	limit, err := parseIntParam(q, "limit")
	if err != nil {
		return tender.Filter{}, 0, 0, err
	}
	p, l, err := normalizePaging(page, limit)
	if err != nil {
		return tender.Filter{}, 0, 0, err
	}
	return f, p, l, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, tender.SplitKeywords(v)...)
	}
	return out
}

func parseFloatParam(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}

func parseIntParam(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}
