// Package request defines the validated search query aggregate.
package request

import (
	"fmt"

	"github.com/lodestone-search/lodestone/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 20
	MaxLimit       = 100
	MaxSeedRecords = 16
)

// SortField selects the result ordering criterion.
type SortField string

// Supported sort fields.
const (
	SortRelevance SortField = "relevance"
	SortTimestamp SortField = "timestamp"
	SortTitle     SortField = "title"
)

// SortOrder selects ascending or descending ordering.
type SortOrder string

// Supported sort orders.
const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Personalization carries the querying context's preference signal: either an
// explicit preference vector or seed record ids whose stored embeddings are
// averaged into one.
type Personalization struct {
	PreferenceVector []float32
	SeedRecordIDs    []string
}

// IsZero reports whether no personalization signal is present.
func (p *Personalization) IsZero() bool {
	return p == nil || (len(p.PreferenceVector) == 0 && len(p.SeedRecordIDs) == 0)
}

// Request is a validated search query. Empty text is valid and degrades to
// metadata-only filtering with stable id ordering.
type Request struct {
	text            string
	filters         filter.Filter
	sortBy          SortField
	sortOrder       SortOrder
	limit           int
	offset          int
	personalization *Personalization
}

// New validates and normalizes search parameters.
// Defaults: sortBy=relevance, sortOrder=desc, limit=20 (max 100).
func New(
	text string,
	filters filter.Filter,
	sortBy SortField,
	sortOrder SortOrder,
	limit, offset int,
	personalization *Personalization,
) (Request, error) {
	if len(text) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if sortBy == "" {
		sortBy = SortRelevance
	}
	switch sortBy {
	case SortRelevance, SortTimestamp, SortTitle:
	default:
		return Request{}, fmt.Errorf("invalid sort_by: %q", sortBy)
	}
	if sortOrder == "" {
		sortOrder = OrderDesc
	}
	switch sortOrder {
	case OrderAsc, OrderDesc:
	default:
		return Request{}, fmt.Errorf("invalid sort_order: %q", sortOrder)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		return Request{}, fmt.Errorf("offset must not be negative")
	}
	if personalization != nil && len(personalization.SeedRecordIDs) > MaxSeedRecords {
		return Request{}, fmt.Errorf("too many seed records (max %d)", MaxSeedRecords)
	}

	return Request{
		text:            text,
		filters:         filters,
		sortBy:          sortBy,
		sortOrder:       sortOrder,
		limit:           limit,
		offset:          offset,
		personalization: personalization,
	}, nil
}

// Text returns the query text (may be empty).
func (r *Request) Text() string { return r.text }

// Filters returns the conjunctive filter.
func (r *Request) Filters() filter.Filter { return r.filters }

// SortBy returns the ordering criterion.
func (r *Request) SortBy() SortField { return r.sortBy }

// SortOrder returns the ordering direction.
func (r *Request) SortOrder() SortOrder { return r.sortOrder }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// Offset returns the number of ranked results to skip.
func (r *Request) Offset() int { return r.offset }

// Personalization returns the preference context (nil when absent).
func (r *Request) Personalization() *Personalization { return r.personalization }
