package transcript

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
)

type stubRemote struct {
	text  string
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (s *stubRemote) CaseTranscript(ctx context.Context, _ string) (string, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

type blockingTurns struct {
	turnlog.Store
	release chan struct{}
}

func (b blockingTurns) ListOrdered(ctx context.Context, sessionID string) ([]turnlog.Turn, error) {
	close(b.release)
	return b.Store.ListOrdered(ctx, sessionID)
}

type brokenTurns struct{ turnlog.Store }

func (brokenTurns) ListOrdered(context.Context, string) ([]turnlog.Turn, error) {
	return nil, errors.New("log store down")
}

var (
	day     = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	current = turnlog.Turn{ID: "r3", SessionID: "s1", Timestamp: day.Add(2 * time.Minute), Customer: []string{"no"}, Bot: []string{"Goodbye"}}
)

func seeded(t *testing.T) *turnlog.MemoryStore {
	t.Helper()
	store := turnlog.NewMemoryStore()
	ctx := context.Background()
	if err := store.Append(ctx, "s1", "r2", turnlog.Turn{Timestamp: day.Add(time.Minute), Customer: []string{"yes"}, Bot: []string{"Thanks", "Anything else?"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "s1", "r1", turnlog.Turn{Timestamp: day, Customer: []string{"water <damage>"}, Bot: []string{"Is that right?"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	return store
}

func newReconciler(remote RemoteSource, store turnlog.Store) *Reconciler {
	return NewReconciler(remote, store, nil, WithClock(func() time.Time { return day }))
}

func TestMergeWithoutRemoteCase(t *testing.T) {
	remote := &stubRemote{text: "<p>old</p>"}
	r := newReconciler(remote, seeded(t))

	got, err := r.Merge(context.Background(), "s1", "", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := "<p>Customer: water &lt;damage&gt;</p><p>Bot: Is that right?</p>" +
		"<p>Customer: yes</p><p>Bot: Thanks</p><p>Bot: Anything else?</p>" +
		"<p>Customer: no</p><p>Bot: Goodbye</p>"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(got, "Update on") {
		t.Fatalf("separator must not appear for a new case")
	}
	if remote.calls.Load() != 0 {
		t.Fatalf("remote transcript should not be fetched without a case id")
	}
}

func TestMergeAppendsAfterRemote(t *testing.T) {
	r := newReconciler(&stubRemote{text: "<p>Customer: earlier</p>"}, seeded(t))

	got, err := r.Merge(context.Background(), "s1", "500X", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	sep := Separator(day)
	if !strings.HasPrefix(got, "<p>Customer: earlier</p>"+sep+"<p>Customer: water") {
		t.Fatalf("expected remote, separator, local order, got %s", got)
	}
	if strings.Count(got, sep) != 1 {
		t.Fatalf("expected exactly one separator")
	}
	if !strings.Contains(sep, "Update on Mar 04, 2024") {
		t.Fatalf("unexpected separator %s", sep)
	}
}

func TestMergeEmptyRemoteHasNoSeparator(t *testing.T) {
	r := newReconciler(&stubRemote{}, seeded(t))
	got, err := r.Merge(context.Background(), "s1", "500X", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if strings.Contains(got, "Update on") {
		t.Fatalf("separator must not appear when the case has no transcript")
	}
}

func TestMergeRemoteFailureIsNotFatal(t *testing.T) {
	r := newReconciler(&stubRemote{err: errors.New("crm down")}, seeded(t))
	got, err := r.Merge(context.Background(), "s1", "500X", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !strings.HasPrefix(got, "<p>Customer: water") {
		t.Fatalf("expected local rendering only, got %s", got)
	}
}

func TestMergeLocalFailureIsReturned(t *testing.T) {
	r := newReconciler(&stubRemote{text: "x"}, brokenTurns{})
	if _, err := r.Merge(context.Background(), "s1", "500X", current); err == nil {
		t.Fatalf("expected error when the turn log cannot be read")
	}
}

func TestMergeSkipsCurrentWhenAlreadyLogged(t *testing.T) {
	store := seeded(t)
	if err := store.Append(context.Background(), "s1", current.ID, current); err != nil {
		t.Fatalf("append: %v", err)
	}
	r := newReconciler(&stubRemote{}, store)
	got, err := r.Merge(context.Background(), "s1", "", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if strings.Count(got, "Goodbye") != 1 {
		t.Fatalf("current turn rendered twice: %s", got)
	}
}

func TestMergeReadsConcurrently(t *testing.T) {
	release := make(chan struct{})
	remote := &stubRemote{text: "<p>old</p>", block: release}
	r := newReconciler(remote, blockingTurns{Store: seeded(t), release: release})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := r.Merge(ctx, "s1", "500X", current)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !strings.HasPrefix(got, "<p>old</p>") {
		t.Fatalf("unexpected transcript %s", got)
	}
}
