package record

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
)

// buildHashFields converts a domain Record into a flat map[string]string for HSET.
func buildHashFields(rec *domain.Record) map[string]string {
	m := map[string]string{
		"id":      rec.ID,
		"source":  rec.Source,
		"type":    rec.Type,
		"title":   rec.Title,
		"content": rec.Content,
	}
	if !rec.Timestamp.IsZero() {
		m["timestamp"] = rec.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(rec.Metadata) > 0 {
		if data, err := json.Marshal(rec.Metadata); err == nil {
			m["metadata"] = string(data)
		}
	}
	if len(rec.Embedding) > 0 {
		m["embedding"] = vectorToBytes(rec.Embedding)
	}
	return m
}

// parseHashFields converts a flat hash map back into a domain Record.
func parseHashFields(id string, m map[string]string) domain.Record {
	rec := domain.Record{
		ID:      id,
		Source:  m["source"],
		Type:    m["type"],
		Title:   m["title"],
		Content: m["content"],
	}
	if ts := m["timestamp"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = parsed
		}
	}
	if raw := m["metadata"]; raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			rec.Metadata = meta
		}
	}
	if raw := m["embedding"]; raw != "" {
		rec.Embedding = bytesToVector(raw)
	}
	return rec
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
