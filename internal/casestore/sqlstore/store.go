// Package sqlstore implements casestore.Store on a Postgres table of JSON
// documents. It backs local and staging environments that have no CRM org.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store keeps CRM records in the crm_records table.
type Store struct {
	db *sql.DB
}

var _ casestore.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	if db == nil {
		panic("sqlstore: db cannot be nil")
	}
	return &Store{db: db}
}

// Authenticate checks the connection is usable.
func (s *Store) Authenticate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: ping: %w: %w", casestore.ErrAuthentication, err)
	}
	return nil
}

func (s *Store) Retrieve(ctx context.Context, entity, id string) (casestore.Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM crm_records WHERE entity = $1 AND id = $2`, entity, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlstore: %s %s: %w", entity, id, casestore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: retrieve %s: %w", entity, err)
	}
	return decode(id, raw)
}

func (s *Store) Create(ctx context.Context, entity string, fields casestore.Record) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:18]
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("sqlstore: marshal %s: %w", entity, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crm_records (entity, id, fields) VALUES ($1, $2, $3::jsonb)`, entity, id, string(body)); err != nil {
		return "", fmt.Errorf("sqlstore: create %s: %w", entity, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, entity, id string, fields casestore.Record) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal %s: %w", entity, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE crm_records SET fields = fields || $3::jsonb, updated_at = now() WHERE entity = $1 AND id = $2`,
		entity, id, string(body))
	if err != nil {
		return fmt.Errorf("sqlstore: update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update %s rows affected: %w", entity, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlstore: %s %s: %w", entity, id, casestore.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q casestore.Query) ([]casestore.Record, error) {
	parents, err := s.selectRecords(ctx, q.Entity, q.Fields, q.Where, q.OrderBy, q.Limit, nil)
	if err != nil {
		return nil, err
	}
	if q.Include == nil || len(parents) == 0 {
		return parents, nil
	}
	inc := q.Include
	ids := make([]string, len(parents))
	for i, p := range parents {
		ids[i] = p.ID()
	}
	fields := inc.Fields
	if len(fields) > 0 {
		fields = append(append([]string{}, fields...), inc.ForeignKey)
	}
	children, err := s.selectRecords(ctx, inc.Entity, fields, inc.Where, inc.OrderBy, 0, &anyOf{field: inc.ForeignKey, values: ids})
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]casestore.Record, len(parents))
	for _, child := range children {
		parentID := child.String(inc.ForeignKey)
		if inc.Limit > 0 && len(grouped[parentID]) >= inc.Limit {
			continue
		}
		grouped[parentID] = append(grouped[parentID], child)
	}
	for _, p := range parents {
		p[inc.Relationship] = grouped[p.ID()]
	}
	return parents, nil
}

type anyOf struct {
	field  string
	values []string
}

func (s *Store) selectRecords(ctx context.Context, entity string, fields []string, where []casestore.Condition, order *casestore.Order, limit int, in *anyOf) ([]casestore.Record, error) {
	query, args, err := buildSelect(entity, where, order, limit, in)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", entity, err)
	}
	defer rows.Close()

	var out []casestore.Record
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %s: %w", entity, err)
		}
		rec, err := decode(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, project(rec, fields))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate %s: %w", entity, err)
	}
	return out, nil
}

func buildSelect(entity string, where []casestore.Condition, order *casestore.Order, limit int, in *anyOf) (string, []any, error) {
	var b strings.Builder
	args := []any{entity}
	b.WriteString(`SELECT id, fields FROM crm_records WHERE entity = $1`)
	for _, cond := range where {
		expr, err := column(cond.Field)
		if err != nil {
			return "", nil, err
		}
		switch cond.Op {
		case casestore.OpEq, casestore.OpNe, casestore.OpGt, casestore.OpLt, casestore.OpGte, casestore.OpLte:
		default:
			return "", nil, fmt.Errorf("sqlstore: unsupported operator %q", cond.Op)
		}
		args = append(args, fmt.Sprint(cond.Value))
		op := string(cond.Op)
		if cond.Op == casestore.OpNe {
			op = "IS DISTINCT FROM"
		}
		fmt.Fprintf(&b, " AND %s %s $%d", expr, op, len(args))
	}
	if in != nil {
		expr, err := column(in.field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, pq.Array(in.values))
		fmt.Fprintf(&b, " AND %s = ANY($%d)", expr, len(args))
	}
	if order != nil {
		expr, err := column(order.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", expr, dir)
	} else {
		b.WriteString(" ORDER BY created_at ASC")
	}
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), args, nil
}

func column(field string) (string, error) {
	if field == casestore.FieldID {
		return "id", nil
	}
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("sqlstore: invalid field %q", field)
	}
	return "fields->>'" + field + "'", nil
}

func decode(id string, raw []byte) (casestore.Record, error) {
	rec := casestore.Record{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("sqlstore: decode record %s: %w", id, err)
		}
	}
	rec[casestore.FieldID] = id
	return rec, nil
}

func project(rec casestore.Record, fields []string) casestore.Record {
	if len(fields) == 0 {
		return rec
	}
	keep := append([]string{casestore.FieldID}, fields...)
	sort.Strings(keep)
	out := make(casestore.Record, len(keep))
	for _, f := range keep {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
