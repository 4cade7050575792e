package turnlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is a Store on the turn_log table.
type PostgresStore struct {
	db     pgxQuerier
	tracer trace.Tracer
}

// NewPostgresStore wraps a pgx pool or connection.
func NewPostgresStore(db pgxQuerier) *PostgresStore {
	if db == nil {
		panic("turnlog: postgres pool cannot be nil")
	}
	return &PostgresStore{db: db, tracer: otel.Tracer("claims.internal.turnlog.postgres")}
}

const insertTurnSQL = `INSERT INTO turn_log (session_id, turn_id, ts, customer, bot)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, turn_id) DO NOTHING`

const listTurnsSQL = `SELECT turn_id, ts, customer, bot
FROM turn_log
WHERE session_id = $1
ORDER BY ts ASC, turn_id ASC`

func (s *PostgresStore) Append(ctx context.Context, sessionID, turnID string, turn Turn) error {
	if err := validate(sessionID, turnID); err != nil {
		return err
	}
	turn = normalize(sessionID, turnID, turn)

	ctx, span := s.tracer.Start(ctx, "turnlog.postgres.append")
	defer span.End()

	if _, err := s.db.Exec(ctx, insertTurnSQL, sessionID, turnID, turn.Timestamp, nonNil(turn.Customer), nonNil(turn.Bot)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("turnlog: insert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrdered(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "turnlog.postgres.list")
	defer span.End()

	rows, err := s.db.Query(ctx, listTurnsSQL, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("turnlog: query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			turn Turn
			ts   time.Time
		)
		if err := rows.Scan(&turn.ID, &ts, &turn.Customer, &turn.Bot); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("turnlog: scan turn: %w", err)
		}
		turn.SessionID = sessionID
		turn.Timestamp = ts.UTC()
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("turnlog: iterate turns: %w", err)
	}
	return out, nil
}
