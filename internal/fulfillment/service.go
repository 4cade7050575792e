// Package fulfillment routes webhook turns to intent handlers and carries out
// the side effects that follow a reply.
package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/archive"
	"github.com/wolfman30/claims-fulfillment/internal/casestore"
	"github.com/wolfman30/claims-fulfillment/internal/claims"
	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/notify"
	"github.com/wolfman30/claims-fulfillment/internal/observability/metrics"
	"github.com/wolfman30/claims-fulfillment/internal/transcript"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("claims.internal.fulfillment")

const defaultBackgroundTimeout = 30 * time.Second

// CRM is the case-management surface the handlers use.
type CRM interface {
	FindCustomer(ctx context.Context, accountNumber string) (*casestore.Customer, error)
	SetCaseTranscript(ctx context.Context, caseID, transcript string) error
	FindDependentNearingAdulthood(ctx context.Context, accountID string) (*casestore.Dependent, error)
	ScheduleCallback(ctx context.Context, cb casestore.Callback) (string, error)
}

// Recorder persists a turn to the conversation log.
type Recorder interface {
	Record(ctx context.Context, turn turnlog.Turn) error
}

// Notifier tells the claims desk about filed claims.
type Notifier interface {
	NotifyClaimFiled(ctx context.Context, evt notify.ClaimFiled) error
}

// Archiver keeps a copy of uploaded transcripts.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, record archive.TranscriptRecord) error
}

// Service fulfills webhook turns.
type Service struct {
	crm        CRM
	engine     *claims.Engine
	reconciler *transcript.Reconciler
	recorder   Recorder
	catalog    *dialog.Catalog
	logger     *logging.Logger

	notifier Notifier
	archiver Archiver
	metrics  *metrics.FulfillmentMetrics
	loc      *time.Location
	now      func() time.Time
	timeout  time.Duration

	wg sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocation sets the timezone dates are shown to the customer in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackgroundTimeout bounds the work done after a reply is returned.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService wires the handlers to their collaborators.
func NewService(crm CRM, engine *claims.Engine, reconciler *transcript.Reconciler, recorder Recorder, catalog *dialog.Catalog, logger *logging.Logger, opts ...Option) *Service {
	if crm == nil {
		panic("fulfillment: crm cannot be nil")
	}
	if engine == nil {
		panic("fulfillment: claim engine cannot be nil")
	}
	if reconciler == nil {
		panic("fulfillment: reconciler cannot be nil")
	}
	if recorder == nil {
		panic("fulfillment: recorder cannot be nil")
	}
	if catalog == nil {
		panic("fulfillment: catalog cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		crm:        crm,
		engine:     engine,
		reconciler: reconciler,
		recorder:   recorder,
		catalog:    catalog,
		logger:     logger,
		loc:        time.UTC,
		now:        time.Now,
		timeout:    defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle fulfills one turn. A *dialog.ProtocolError is returned for turns
// that cannot be fulfilled at all; any other error is an internal failure.
// Persistence of the turn continues after Handle returns.
func (s *Service) Handle(ctx context.Context, req *dialog.WebhookRequest) (*dialog.WebhookResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := s.now()
	displayName := req.QueryResult.Intent.DisplayName
	intent := ParseIntent(displayName)
	logger := s.logger.ForTurn(req.SessionID(), req.ResponseID, displayName)

	ctx, span := tracer.Start(ctx, "fulfillment.handle", trace.WithAttributes(
		attribute.String("dialog.intent", displayName),
		attribute.String("dialog.language", req.QueryResult.LanguageCode),
	))
	defer span.End()

	resp, t, err := s.dispatch(ctx, req, intent, logger)
	s.metrics.ObserveTurnLatency(intent.String(), s.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
		status := "error"
		if _, ok := dialog.AsProtocolError(err); ok {
			status = "protocol_error"
			logger.Warn("turn rejected", "error", err)
		} else {
			logger.Error("turn failed", "error", err)
		}
		s.metrics.ObserveTurn(intent.String(), status)
		return nil, err
	}
	s.metrics.ObserveTurn(intent.String(), "ok")

	s.afterReply(ctx, t, logger)
	return resp, nil
}

func (s *Service) dispatch(ctx context.Context, req *dialog.WebhookRequest, intent Intent, logger *logging.Logger) (*dialog.WebhookResponse, *turn, error) {
	if intent == IntentUnknown {
		return nil, nil, dialog.UnknownIntent(req.QueryResult.Intent.DisplayName)
	}
	lang := req.QueryResult.LanguageCode
	resolved, ok := s.catalog.Resolve(lang)
	if !ok {
		return nil, nil, dialog.UnsupportedLanguage(lang)
	}
	if resolved != lang {
		logger.Debug("language served by base language", "language", lang, "resolved", resolved)
	}
	t := newTurn(req, intent, s.catalog, logger)
	if err := s.route(ctx, t); err != nil {
		return nil, nil, err
	}
	return t.response(), t, nil
}

func (s *Service) route(ctx context.Context, t *turn) error {
	switch t.intent {
	case IntentWaterClaim:
		return s.claimIntro(t, dialog.MsgWaterConfirm, dialog.CtxWaterClaimConfirmation)
	case IntentWaterClaimConfirmed:
		return s.claimConfirmed(t, dialog.CtxWaterClaim)
	case IntentWaterClaimNotConfirmed, IntentElectricClaimNotConfirmed:
		return t.say(dialog.MsgHowCanIHelp, nil)
	case IntentWaterClaimFallback:
		return s.fallback(t, dialog.MsgWaterFallback)
	case IntentElectricClaim:
		return s.claimIntro(t, dialog.MsgElectricConfirm, dialog.CtxElectricClaimConfirmation)
	case IntentElectricClaimConfirmed:
		return s.claimConfirmed(t, dialog.CtxElectricClaim)
	case IntentElectricClaimFallback:
		return s.fallback(t, dialog.MsgElectricFallback)
	case IntentCustomerAuthentication:
		return s.authenticateCustomer(ctx, t)
	case IntentCustomerVerification:
		return s.verifyCustomer(t)
	case IntentFollowupConfirmed:
		return s.followupConfirmed(t)
	case IntentFollowupNotConfirmed:
		return s.followupDeclined(t)
	case IntentDamageAddressVerification:
		return s.verifyDamageAddress(t)
	case IntentDamageAddressConfirmed:
		t.setEvent(EventClaimReady)
		return nil
	case IntentDamageAddressNotConfirmed:
		return t.say(dialog.MsgAddressOtherProperty, nil)
	case IntentClaimReady:
		return s.claimReady(ctx, t)
	case IntentClaimCreated:
		t.hideCustomerUtterance()
		return t.say(dialog.MsgClaimCreated, nil)
	case IntentListConfirmed:
		return s.professionalsList(ctx, t, true)
	case IntentListNotConfirmed:
		return s.professionalsList(ctx, t, false)
	case IntentCallbackConfirmed:
		return s.askCallbackTime(t)
	case IntentCallbackNotConfirmed:
		t.setEvent(EventAddAnything)
		return nil
	case IntentCallbackDatetime:
		return s.scheduleCallback(ctx, t)
	case IntentAnythingToAdd:
		t.hideCustomerUtterance()
		if err := t.say(dialog.MsgAnythingElse, nil); err != nil {
			return err
		}
		t.contexts.Set(dialog.CtxAddAnythingConfirmation, 1)
		return nil
	case IntentAnythingToAddConfirmed, IntentAnythingToAddNotConfirmed:
		return nil
	case IntentDefaultFallback:
		return s.fallback(t, dialog.MsgFallback)
	default:
		return dialog.UnknownIntent(t.req.QueryResult.Intent.DisplayName)
	}
}

// afterReply runs the side effects that do not shape the reply: transcript
// upload at interaction end, then the turn log write.
func (s *Service) afterReply(ctx context.Context, t *turn, logger *logging.Logger) {
	rec := t.record(s.now().UTC())
	var caseID, remoteCaseID string
	if t.req.QueryResult.Intent.EndInteraction {
		caseID = t.contexts.Claim().CaseID
		if caseID != "" && t.contexts.IsSet(dialog.CtxUseExistingCase) {
			remoteCaseID = caseID
		}
	}

	s.goBackground(ctx, func(ctx context.Context) {
		if caseID != "" {
			s.uploadTranscript(ctx, rec, caseID, remoteCaseID, logger)
		}
		if err := s.recorder.Record(ctx, rec); err != nil {
			s.metrics.ObserveExternalFailure("turnlog", "record")
			logger.Error("failed to record turn", "error", err)
		}
	})
}

func (s *Service) uploadTranscript(ctx context.Context, rec turnlog.Turn, caseID, remoteCaseID string, logger *logging.Logger) {
	html, err := s.reconciler.Merge(ctx, rec.SessionID, remoteCaseID, rec)
	if err != nil {
		s.metrics.ObserveExternalFailure("turnlog", "list")
		logger.Error("failed to reconcile transcript", "error", err, "case_id", caseID)
		return
	}
	if err := s.crm.SetCaseTranscript(ctx, caseID, html); err != nil {
		s.metrics.ObserveExternalFailure("crm", "set_transcript")
		logger.Error("failed to upload transcript", "error", err, "case_id", caseID)
		return
	}
	logger.Info("transcript uploaded", "case_id", caseID)
	if s.archiver == nil {
		return
	}
	err = s.archiver.ArchiveTranscript(ctx, archive.TranscriptRecord{
		CaseID:     caseID,
		SessionID:  rec.SessionID,
		HTML:       html,
		ArchivedAt: rec.Timestamp,
	})
	if err != nil {
		s.metrics.ObserveExternalFailure("archive", "put")
		logger.Error("failed to archive transcript", "error", err, "case_id", caseID)
	}
}

func (s *Service) notifyClaim(ctx context.Context, t *turn, out claims.Outcome) {
	if s.notifier == nil {
		return
	}
	evt := notify.ClaimFiled{
		SessionID:   t.req.SessionID(),
		CustomerID:  out.CustomerID,
		CaseID:      out.CaseID,
		Action:      out.Action.String(),
		Kind:        string(out.Kind),
		Description: out.Description,
		Language:    t.lang,
		At:          s.now().UTC(),
	}
	s.goBackground(ctx, func(ctx context.Context) {
		if err := s.notifier.NotifyClaimFiled(ctx, evt); err != nil {
			s.metrics.ObserveExternalFailure("notify", "claim_filed")
			t.logger.Error("failed to notify claims desk", "error", err, "case_id", evt.CaseID)
		}
	})
}

// goBackground runs fn detached from the request's cancellation but bounded
// by the background timeout. Wait drains these goroutines.
func (s *Service) goBackground(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background work started by Handle has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func isAuthFailure(err error) bool {
	return errors.Is(err, casestore.ErrAuthentication)
}
