package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known record sources. The set is open: upstream collaborators may
// introduce new source tags without code changes here.
const (
	SourceDocuments = "document-system"
	SourcePhotos    = "photo-system"
)

// Reserved filter keys always available in addition to metadata keys.
const (
	FilterKeySource = "source"
	FilterKeyType   = "type"
)

// embeddedMetadataKeys are the metadata fields folded into the embedding
// input alongside title and content.
var embeddedMetadataKeys = []string{"tags", "correspondent", "camera", "location", "album"}

// Record is one normalized document or photo item. The record store owns its
// lifecycle; the vector index and discovery artifacts are derived from it.
type Record struct {
	ID        string
	Source    string
	Type      string
	Title     string
	Content   string
	Metadata  map[string]any
	Timestamp time.Time
	Embedding []float32
}

// Validate checks structural requirements for an ingested record.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.Source == "" {
		return fmt.Errorf("%w: source is required for record %q", ErrInvalidRecord, r.ID)
	}
	return nil
}

// HasEmbedding reports whether the record carries a computed embedding.
// Records without one stay in the record store but are excluded from the
// vector index (lexical/metadata-only searchable).
func (r *Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// EmbeddingText builds the text the embedding is computed from:
// title, content, and the selected metadata fields, in a stable order.
func (r *Record) EmbeddingText() string {
	var b strings.Builder
	if r.Title != "" {
		b.WriteString(r.Title)
		b.WriteString("\n")
	}
	b.WriteString(r.Content)
	for _, key := range embeddedMetadataKeys {
		v, ok := r.Metadata[key]
		if !ok {
			continue
		}
		for _, s := range stringValues(v) {
			b.WriteString("\n")
			b.WriteString(s)
		}
	}
	return b.String()
}

// FilterTags returns the string-valued metadata projection used for
// conjunctive equality filtering, including the reserved source/type keys.
func (r *Record) FilterTags() map[string][]string {
	tags := map[string][]string{
		FilterKeySource: {r.Source},
		FilterKeyType:   {r.Type},
	}
	for key, v := range r.Metadata {
		if vals := stringValues(v); len(vals) > 0 {
			tags[key] = vals
		}
	}
	return tags
}

// FilterNumerics returns the numeric metadata projection used for range
// filtering.
func (r *Record) FilterNumerics() map[string]float64 {
	nums := make(map[string]float64)
	for key, v := range r.Metadata {
		switch n := v.(type) {
		case float64:
			nums[key] = n
		case int:
			nums[key] = float64(n)
		case int64:
			nums[key] = float64(n)
		}
	}
	return nums
}

// FilterKeys returns all filterable keys this record contributes, sorted.
func (r *Record) FilterKeys() []string {
	seen := map[string]struct{}{
		FilterKeySource: {},
		FilterKeyType:   {},
	}
	for key := range r.Metadata {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stringValues flattens a metadata value into its string representations.
// Non-string scalars are excluded; they surface through FilterNumerics.
func stringValues(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case bool:
		if t {
			return []string{"true"}
		}
		return []string{"false"}
	default:
		return nil
	}
}
