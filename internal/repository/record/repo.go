// Package record persists corpus records as one hash per record and keeps
// an in-memory registry of observed metadata filter keys.
package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lodestone-search/lodestone/internal/db"
	"github.com/lodestone-search/lodestone/internal/domain"
)

// store is the consumer interface for records (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements the record repository over a hash store.
type Repo struct {
	store     store
	keyPrefix string

	mu         sync.RWMutex
	filterKeys map[string]struct{}
}

// New creates a record repository. keyPrefix namespaces all storage keys.
func New(s store, keyPrefix string) *Repo {
	return &Repo{
		store:      s,
		keyPrefix:  keyPrefix,
		filterKeys: make(map[string]struct{}),
	}
}

// Save persists one record, replacing any previous version.
func (r *Repo) Save(ctx context.Context, rec *domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := r.recordKey(rec.ID)

	// Delete first so stale fields from a previous version cannot linger.
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	if err := r.store.HSet(ctx, key, buildHashFields(rec)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}

	r.registerFilterKeys(rec)
	return nil
}

// SaveMulti persists a batch of records in one pipelined round-trip.
func (r *Repo) SaveMulti(ctx context.Context, recs []*domain.Record) error {
	if len(recs) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, 0, len(recs))
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		items = append(items, db.HashSetItem{
			Key:    r.recordKey(rec.ID),
			Fields: buildHashFields(rec),
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset multi: %w", err)
	}

	for _, rec := range recs {
		r.registerFilterKeys(rec)
	}
	return nil
}

// Get returns a record by id.
func (r *Repo) Get(ctx context.Context, id string) (domain.Record, error) {
	key := r.recordKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Record{}, domain.ErrRecordNotFound
		}
		return domain.Record{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return parseHashFields(id, m), nil
}

// Delete removes a record. Returns domain.ErrRecordNotFound for absent ids.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.recordKey(id)

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return domain.ErrRecordNotFound
	}

	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// All returns every stored record ordered by id and rebuilds the filter-key
// registry from what it reads. Used at warm load and by discovery runs.
func (r *Repo) All(ctx context.Context) ([]domain.Record, error) {
	keys, err := r.store.Scan(ctx, r.recordKey("*"))
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall multi: %w", err)
	}

	recs := make([]domain.Record, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		recs = append(recs, parseHashFields(r.extractID(keys[i]), m))
	}

	r.rebuildFilterKeys(recs)
	return recs, nil
}

// HasFilterKey reports whether any stored record has exposed the metadata key.
func (r *Repo) HasFilterKey(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.filterKeys[key]
	return ok
}

// FilterKeys returns the known filter keys sorted.
func (r *Repo) FilterKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.filterKeys))
	for k := range r.filterKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Repo) registerFilterKeys(rec *domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range rec.FilterKeys() {
		r.filterKeys[k] = struct{}{}
	}
}

func (r *Repo) rebuildFilterKeys(recs []domain.Record) {
	keys := make(map[string]struct{})
	for i := range recs {
		for _, k := range recs[i].FilterKeys() {
			keys[k] = struct{}{}
		}
	}

	r.mu.Lock()
	r.filterKeys = keys
	r.mu.Unlock()
}

func (r *Repo) recordKey(id string) string {
	return r.keyPrefix + "record:" + id
}

func (r *Repo) extractID(key string) string {
	return strings.TrimPrefix(key, r.keyPrefix+"record:")
}
