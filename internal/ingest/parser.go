package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 4 << 20

// reserved top-level NDJSON fields. Everything else folds into metadata so
// upstream collectors can attach extra attributes without schema changes.
var reservedFields = map[string]struct{}{
	"id": {}, "source": {}, "type": {}, "title": {},
	"content": {}, "metadata": {}, "extracted_at": {},
}

// LineError is a parse failure bound to its 1-based input line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// ParseNDJSON reads newline-delimited JSON records. Blank lines are skipped.
// A malformed line is reported and does not stop the parse.
func ParseNDJSON(r io.Reader) ([]domain.Record, []LineError) {
	var recs []domain.Record
	var errs []LineError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		rec, err := parseLine([]byte(raw))
		if err != nil {
			errs = append(errs, LineError{Line: line, Err: err})
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, LineError{Line: line + 1, Err: fmt.Errorf("read input: %w", err)})
	}
	return recs, errs
}

func parseLine(raw []byte) (domain.Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Record{}, fmt.Errorf("decode json: %w", err)
	}

	var rec domain.Record
	if err := unmarshalString(fields, "id", &rec.ID); err != nil {
		return domain.Record{}, err
	}
	if err := unmarshalString(fields, "source", &rec.Source); err != nil {
		return domain.Record{}, err
	}
	if err := unmarshalString(fields, "type", &rec.Type); err != nil {
		return domain.Record{}, err
	}
	if err := unmarshalString(fields, "title", &rec.Title); err != nil {
		return domain.Record{}, err
	}
	if err := unmarshalString(fields, "content", &rec.Content); err != nil {
		return domain.Record{}, err
	}

	if raw, ok := fields["metadata"]; ok {
		if err := json.Unmarshal(raw, &rec.Metadata); err != nil {
			return domain.Record{}, fmt.Errorf("field metadata: %w", err)
		}
	}
	if raw, ok := fields["extracted_at"]; ok {
		var ts string
		if err := json.Unmarshal(raw, &ts); err != nil {
			return domain.Record{}, fmt.Errorf("field extracted_at: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return domain.Record{}, fmt.Errorf("field extracted_at: %w", err)
		}
		rec.Timestamp = parsed.UTC()
	}

	// Unknown top-level fields are preserved as metadata.
	for key, raw := range fields {
		if _, known := reservedFields[key]; known {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return domain.Record{}, fmt.Errorf("field %s: %w", key, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		if _, taken := rec.Metadata[key]; !taken {
			rec.Metadata[key] = v
		}
	}

	if err := rec.Validate(); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func unmarshalString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}
