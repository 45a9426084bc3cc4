package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
)

// Filterable record fields.
const (
	FilterModality   = "modality"
	FilterOwnerID    = "owner_id"
	FilterDocumentID = "document_id"
	FilterSource     = "source"
	FilterPage       = "page"
)

var filterFields = map[string]bool{
	FilterModality:   true,
	FilterOwnerID:    true,
	FilterDocumentID: true,
	FilterSource:     true,
	FilterPage:       true,
}

// Filters restricts results by record field. One value means equality,
// several mean membership. All fields must match.
type Filters map[string][]string

// UnmarshalJSON accepts a scalar (string or number) as a one-value filter
// and an array of scalars as a membership filter:
//
//	{"modality": "text", "page": 2, "source": ["a.pdf", "b.pdf"]}
func (f *Filters) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	out := make(Filters, len(raw))
	for field, value := range raw {
		values, err := filterValues(value)
		if err != nil {
			return ragerr.Wrapf(err, ragerr.CodeSearchQueryInvalid, "filter %q", field)
		}
		out[field] = values
	}
	*f = out
	return nil
}

func filterValues(data json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if list, ok := v.([]interface{}); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, err := filterScalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := filterScalar(v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

func filterScalar(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		// 2 and 2.0 both match page 2.
		if f, err := x.Float64(); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return x.String(), nil
	default:
		return "", ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "filter values must be strings or numbers, got %T", v)
	}
}

// Validate rejects unknown fields and empty value lists.
func (f Filters) Validate() error {
	for field, values := range f {
		if !filterFields[field] {
			return ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "unknown filter field %q", field)
		}
		if len(values) == 0 {
			return ragerr.Errorf(ragerr.CodeSearchQueryInvalid, "filter %q has no values", field)
		}
	}
	return nil
}

// Match reports whether r satisfies every filter. A filter on a field the
// record does not carry (page on a text record) is ignored.
func (f Filters) Match(r Record) bool {
	for field, values := range f {
		got, ok := r.Field(field)
		if !ok {
			continue
		}
		found := false
		for _, v := range values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// String renders filters deterministically, for logs.
func (f Filters) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(f[k], "|"))
	}
	return strings.Join(parts, ",")
}

// QueryRequest is a retrieval (and optional answer) request.
type QueryRequest struct {
	Query         string  `json:"query"`
	K             int     `json:"k,omitempty"`
	Filters       Filters `json:"filters,omitempty"`
	IncludeAnswer *bool   `json:"include_answer,omitempty"`
}

// WantsAnswer reports whether an answer should be generated; defaults to true.
func (q *QueryRequest) WantsAnswer() bool {
	return q.IncludeAnswer == nil || *q.IncludeAnswer
}

// BatchQueryRequest runs several queries with shared options.
type BatchQueryRequest struct {
	Queries       []string `json:"queries"`
	K             int      `json:"k,omitempty"`
	Filters       Filters  `json:"filters,omitempty"`
	IncludeAnswer *bool    `json:"include_answer,omitempty"`
}
