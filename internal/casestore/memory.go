package casestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	order   map[string][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]Record),
		order:   make(map[string][]string),
	}
}

// Authenticate always succeeds.
func (m *MemoryStore) Authenticate(context.Context) error { return nil }

// Put inserts or replaces a record with a known id.
func (m *MemoryStore) Put(entity string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(entity, rec.ID(), rec)
}

func (m *MemoryStore) Retrieve(_ context.Context, entity, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[entity][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return clone(rec), nil
}

func (m *MemoryStore) Create(_ context.Context, entity string, fields Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
	rec := clone(fields)
	rec[FieldID] = id
	m.put(entity, id, rec)
	return id, nil
}

func (m *MemoryStore) Update(_ context.Context, entity, id string, fields Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[entity][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parents := m.selectRecords(q.Entity, q.Fields, q.Where, q.OrderBy, q.Limit)
	if q.Include != nil {
		inc := q.Include
		for _, parent := range parents {
			where := append([]Condition{Eq(inc.ForeignKey, parent.ID())}, inc.Where...)
			parent[inc.Relationship] = m.selectRecords(inc.Entity, inc.Fields, where, inc.OrderBy, inc.Limit)
		}
	}
	return parents, nil
}

func (m *MemoryStore) put(entity, id string, rec Record) {
	if m.records[entity] == nil {
		m.records[entity] = make(map[string]Record)
	}
	if _, exists := m.records[entity][id]; !exists {
		m.order[entity] = append(m.order[entity], id)
	}
	m.records[entity][id] = clone(rec)
}

func (m *MemoryStore) selectRecords(entity string, fields []string, where []Condition, order *Order, limit int) []Record {
	var out []Record
	for _, id := range m.order[entity] {
		rec := m.records[entity][id]
		if !matches(rec, where) {
			continue
		}
		out = append(out, project(rec, fields))
	}
	if order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][order.Field]), fmt.Sprint(out[j][order.Field])
			if order.Desc {
				return a > b
			}
			return a < b
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matches(rec Record, where []Condition) bool {
	for _, cond := range where {
		raw, present := rec[cond.Field]
		got := ""
		if present && raw != nil {
			got = fmt.Sprint(raw)
		}
		want := fmt.Sprint(cond.Value)
		var ok bool
		switch cond.Op {
		case OpEq:
			ok = got == want
		case OpNe:
			ok = got != want
		case OpGt:
			ok = present && got > want
		case OpLt:
			ok = present && got < want
		case OpGte:
			ok = present && got >= want
		case OpLte:
			ok = present && got <= want
		}
		if !ok {
			return false
		}
	}
	return true
}

func project(rec Record, fields []string) Record {
	if len(fields) == 0 {
		return clone(rec)
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

func clone(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
