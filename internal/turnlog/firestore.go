package turnlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreTurn is the document layout: one collection per session, one
// document per turn id.
type firestoreTurn struct {
	Timestamp int64    `firestore:"timestamp"`
	Customer  []string `firestore:"customer"`
	Bot       []string `firestore:"bot"`
}

// FirestoreStore is a Store on Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	tracer trace.Tracer
}

// FirestoreConfig selects the project and credentials.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirestoreStore opens a Firestore client.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("turnlog: firestore project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("turnlog: create firestore client: %w", err)
	}
	return &FirestoreStore{client: client, tracer: otel.Tracer("claims.internal.turnlog.firestore")}, nil
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Append(ctx context.Context, sessionID, turnID string, turn Turn) error {
	if err := validate(sessionID, turnID); err != nil {
		return err
	}
	turn = normalize(sessionID, turnID, turn)

	ctx, span := s.tracer.Start(ctx, "turnlog.firestore.append")
	defer span.End()

	_, err := s.client.Collection(sessionID).Doc(turnID).Create(ctx, toFirestore(turn))
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("turnlog: create firestore turn: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListOrdered(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "turnlog.firestore.list")
	defer span.End()

	iter := s.client.Collection(sessionID).OrderBy("timestamp", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []Turn
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("turnlog: list firestore turns: %w", err)
		}
		var ft firestoreTurn
		if err := doc.DataTo(&ft); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("turnlog: decode firestore turn %s: %w", doc.Ref.ID, err)
		}
		out = append(out, fromFirestore(sessionID, doc.Ref.ID, ft))
	}
	sortTurns(out)
	return out, nil
}

func toFirestore(t Turn) firestoreTurn {
	return firestoreTurn{
		Timestamp: t.Timestamp.UnixMilli(),
		Customer:  nonNil(t.Customer),
		Bot:       nonNil(t.Bot),
	}
}

func fromFirestore(sessionID, turnID string, ft firestoreTurn) Turn {
	return Turn{
		ID:        turnID,
		SessionID: sessionID,
		Timestamp: time.UnixMilli(ft.Timestamp).UTC(),
		Customer:  ft.Customer,
		Bot:       ft.Bot,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
