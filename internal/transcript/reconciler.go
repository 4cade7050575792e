// Package transcript renders the conversation log and merges it with the
// transcript already stored on a case.
package transcript

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// RemoteSource reads the transcript stored on a case.
type RemoteSource interface {
	CaseTranscript(ctx context.Context, caseID string) (string, error)
}

// Reconciler merges the remote case transcript with the local turn log.
type Reconciler struct {
	remote RemoteSource
	turns  turnlog.Store
	logger *logging.Logger
	tracer trace.Tracer
	loc    *time.Location
	now    func() time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLocation sets the timezone of the update separator date.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides the clock used for the update separator.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler wires the two transcript sources.
func NewReconciler(remote RemoteSource, turns turnlog.Store, logger *logging.Logger, opts ...Option) *Reconciler {
	if remote == nil {
		panic("transcript: remote source cannot be nil")
	}
	if turns == nil {
		panic("transcript: turn store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reconciler{
		remote: remote,
		turns:  turns,
		logger: logger,
		tracer: otel.Tracer("claims.internal.transcript"),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Merge renders the session's turns followed by current. When remoteCaseID is
// set and that case already carries a transcript, the result is the remote
// transcript, a dated separator, then the local rendering. A failed remote
// read degrades to an empty remote transcript; a failed local read is an error.
func (r *Reconciler) Merge(ctx context.Context, sessionID, remoteCaseID string, current turnlog.Turn) (string, error) {
	ctx, span := r.tracer.Start(ctx, "transcript.merge")
	defer span.End()

	var (
		remote string
		local  []turnlog.Turn
	)
	g, gctx := errgroup.WithContext(ctx)
	if remoteCaseID != "" {
		g.Go(func() error {
			text, err := r.remote.CaseTranscript(gctx, remoteCaseID)
			if err != nil {
				r.logger.Warn("remote transcript unavailable", "case_id", remoteCaseID, "error", err)
				return nil
			}
			remote = text
			return nil
		})
	}
	g.Go(func() error {
		turns, err := r.turns.ListOrdered(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("transcript: list turns for %s: %w", sessionID, err)
		}
		local = turns
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return "", err
	}

	if current.ID == "" || !contains(local, current.ID) {
		local = append(local, current)
	}
	rendered := Render(local)
	if remoteCaseID == "" || remote == "" {
		return rendered, nil
	}
	return remote + Separator(r.now().In(r.loc)) + rendered, nil
}

// Render writes each turn's customer lines then bot lines, oldest turn first.
func Render(turns []turnlog.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		for _, line := range t.Customer {
			b.WriteString("<p>Customer: ")
			b.WriteString(html.EscapeString(line))
			b.WriteString("</p>")
		}
		for _, line := range t.Bot {
			b.WriteString("<p>Bot: ")
			b.WriteString(html.EscapeString(line))
			b.WriteString("</p>")
		}
	}
	return b.String()
}

// Separator marks where a later conversation was appended to a transcript.
func Separator(day time.Time) string {
	return `<p style="text-align: center;"><b><u>---- Update on ` + day.Format("Jan 02, 2006") + ` ----</u></b></p>`
}

func contains(turns []turnlog.Turn, id string) bool {
	for _, t := range turns {
		if t.ID == id {
			return true
		}
	}
	return false
}
