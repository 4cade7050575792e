// Package casestore is the adapter to the case-management system. Store is
// the generic record API every backend implements; CRM layers the account,
// case and opportunity operations the conversation needs on top of it.
package casestore

import (
	"context"
	"errors"
)

var (
	// ErrAuthentication is returned when the backend rejects the credentials.
	ErrAuthentication = errors.New("casestore: authentication failed")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("casestore: record not found")
)

// Record is a flat set of CRM fields. Included child relationships are stored
// under the relationship name as []Record.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	return r.String("Id")
}

// String returns field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	if r == nil {
		return ""
	}
	s, _ := r[field].(string)
	return s
}

// Children returns the records of an included relationship.
func (r Record) Children(relationship string) []Record {
	if r == nil {
		return nil
	}
	switch v := r[relationship].(type) {
	case []Record:
		return v
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			switch rec := item.(type) {
			case Record:
				out = append(out, rec)
			case map[string]any:
				out = append(out, Record(rec))
			}
		}
		return out
	default:
		return nil
	}
}

// Op is a comparison operator in a query condition.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGte Op = ">="
	OpLte Op = "<="
)

// Condition compares a field with a literal value. Conditions in a list are
// combined with AND.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Eq is shorthand for an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Order sorts query results.
type Order struct {
	Field string
	Desc  bool
}

// Include fetches child records of each parent through a relationship.
type Include struct {
	// Relationship is the name results are exposed under (e.g. "Cases").
	Relationship string
	// Entity and ForeignKey describe the child side for backends that have
	// no native relationship metadata.
	Entity     string
	ForeignKey string
	Fields     []string
	Where      []Condition
	OrderBy    *Order
	Limit      int
}

// Query selects records of one entity.
type Query struct {
	Entity  string
	Fields  []string
	Where   []Condition
	Include *Include
	OrderBy *Order
	Limit   int
}

// Store is the record-level API of a case-management backend.
type Store interface {
	Authenticate(ctx context.Context) error
	Retrieve(ctx context.Context, entity, id string) (Record, error)
	Create(ctx context.Context, entity string, fields Record) (string, error)
	Update(ctx context.Context, entity, id string, fields Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
}
