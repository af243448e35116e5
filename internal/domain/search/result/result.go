// Package result defines search result and response aggregates.
package result

// Result is a single ranked search hit.
type Result struct {
	id           string
	score        float64
	titleSnippet string
	highlights   []string
	metadata     map[string]any
	source       string
	contentType  string
}

// New creates a search result.
func New(
	id string, score float64, titleSnippet string,
	highlights []string, metadata map[string]any,
	source, contentType string,
) Result {
	return Result{
		id: id, score: score, titleSnippet: titleSnippet,
		highlights: highlights, metadata: metadata,
		source: source, contentType: contentType,
	}
}

// ID returns the record identifier.
func (r *Result) ID() string { return r.id }

// Score returns the composite relevance score.
func (r *Result) Score() float64 { return r.score }

// TitleSnippet returns the display title.
func (r *Result) TitleSnippet() string { return r.titleSnippet }

// Highlights returns the best-effort matched excerpts.
func (r *Result) Highlights() []string { return r.highlights }

// Metadata returns the record metadata.
func (r *Result) Metadata() map[string]any { return r.metadata }

// Source returns the originating system tag.
func (r *Result) Source() string { return r.source }

// ContentType returns the content category.
func (r *Result) ContentType() string { return r.contentType }

// Analytics is the per-query observability snapshot returned with results.
type Analytics struct {
	QueryTimeMs     float64
	TotalCandidates int
	ResultCount     int
}

// Response is a complete search response. Degraded marks searches served
// without semantic ranking (embedding provider unavailable), so consumers can
// decide whether to retry or accept lexical/metadata-only results.
type Response struct {
	Results   []Result
	Analytics Analytics
	Degraded  bool
}
