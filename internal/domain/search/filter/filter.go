// Package filter defines conjunctive metadata filters applied before
// candidate scoring. Filters are hard constraints: a record matches the
// filter only when every clause matches.
package filter

import (
	"fmt"
	"sort"
)

// MaxClauses is the maximum number of clauses in one filter.
const MaxClauses = 32

// Filter is a validated conjunction of equality and range clauses.
// Clauses are kept sorted by key so identical filters compare and hash
// identically regardless of construction order.
type Filter struct {
	clauses []Clause
}

// New validates and creates a Filter from clauses.
func New(clauses ...Clause) (Filter, error) {
	if len(clauses) > MaxClauses {
		return Filter{}, fmt.Errorf("too many filter clauses (max %d)", MaxClauses)
	}
	sorted := make([]Clause, len(clauses))
	copy(sorted, clauses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })
	return Filter{clauses: sorted}, nil
}

// Clauses returns the clauses in key order.
func (f Filter) Clauses() []Clause { return f.clauses }

// IsEmpty reports whether the filter has no clauses.
func (f Filter) IsEmpty() bool { return len(f.clauses) == 0 }

// Len returns the number of clauses.
func (f Filter) Len() int { return len(f.clauses) }

// Keys returns the referenced metadata keys in order.
func (f Filter) Keys() []string {
	keys := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		keys[i] = c.key
	}
	return keys
}

// Matches reports whether a record projection satisfies every clause.
func (f Filter) Matches(tags map[string][]string, numerics map[string]float64) bool {
	for _, c := range f.clauses {
		if !c.matches(tags, numerics) {
			return false
		}
	}
	return true
}

// Clause is a single filter constraint: either an equality match against one
// of the accepted values, or a numeric range.
type Clause struct {
	key       string
	values    []string
	rangeExpr *Range
}

// NewMatch creates an equality clause. The clause matches when any record
// value for the key equals any of the accepted values.
func NewMatch(key string, values ...string) (Clause, error) {
	if key == "" {
		return Clause{}, fmt.Errorf("filter key is required")
	}
	if len(values) == 0 {
		return Clause{}, fmt.Errorf("at least one value is required for key %q", key)
	}
	for _, v := range values {
		if v == "" {
			return Clause{}, fmt.Errorf("empty match value for key %q", key)
		}
	}
	return Clause{key: key, values: values}, nil
}

// NewRange creates a numeric range clause.
func NewRange(key string, r Range) (Clause, error) {
	if key == "" {
		return Clause{}, fmt.Errorf("filter key is required")
	}
	return Clause{key: key, rangeExpr: &r}, nil
}

// Key returns the metadata key.
func (c Clause) Key() string { return c.key }

// Values returns the accepted equality values.
func (c Clause) Values() []string { return c.values }

// Range returns the numeric range, or nil for equality clauses.
func (c Clause) Range() *Range { return c.rangeExpr }

// IsRange reports whether this is a range clause.
func (c Clause) IsRange() bool { return c.rangeExpr != nil }

func (c Clause) matches(tags map[string][]string, numerics map[string]float64) bool {
	if c.rangeExpr != nil {
		n, ok := numerics[c.key]
		return ok && c.rangeExpr.contains(n)
	}
	recordValues, ok := tags[c.key]
	if !ok {
		return false
	}
	for _, accepted := range c.values {
		for _, have := range recordValues {
			if accepted == have {
				return true
			}
		}
	}
	return false
}

// Range is a numeric range with gt/gte/lt/lte boundaries.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeBounds validates and creates a Range.
// At least one boundary required. gt/gte and lt/lte are mutually exclusive.
func NewRangeBounds(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range boundary is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the lower exclusive bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the lower inclusive bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the upper exclusive bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the upper inclusive bound.
func (r Range) LTE() *float64 { return r.lte }

func (r Range) contains(n float64) bool {
	if r.gt != nil && n <= *r.gt {
		return false
	}
	if r.gte != nil && n < *r.gte {
		return false
	}
	if r.lt != nil && n >= *r.lt {
		return false
	}
	if r.lte != nil && n > *r.lte {
		return false
	}
	return true
}
