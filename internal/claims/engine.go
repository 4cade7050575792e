// Package claims decides whether a completed claim creates a new case or
// updates the customer's open one, and carries out that single CRM write.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

var (
	// ErrMissingCaseData means the update path lacks the existing case or customer.
	ErrMissingCaseData = errors.New("claims: missing required parameters from the initial case")
	// ErrMissingClaimKind means neither claim kind context is set.
	ErrMissingClaimKind = errors.New("claims: claim kind is not resolved")
	// ErrMissingCustomerData means the create path lacks the customer or address.
	ErrMissingCustomerData = errors.New("claims: missing customer or residence parameters")
)

const defaultOrigin = "Dialogflow"

const priorityMedium = "Medium"

// Action is the CRM write a plan performs.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Request is the claim state gathered over the conversation.
type Request struct {
	Language        string
	Kind            dialog.ClaimKind
	Customer        dialog.CustomerParams
	Residence       dialog.ResidenceParams
	ExistingCase    dialog.ExistingCaseParams
	UseExistingCase bool
}

// Plan is a decided, not yet executed, CRM write. Description is the text
// written to the case; PriorDescription is the open case's text before an
// update.
type Plan struct {
	Action           Action
	CustomerID       string
	CaseID           string
	Description      string
	PriorDescription string
	NewCase          casestore.NewCase
}

// Outcome is the result of an executed plan.
type Outcome struct {
	Action           Action
	CustomerID       string
	CaseID           string
	Description      string
	PriorDescription string
	Kind             dialog.ClaimKind
}

// ClaimParams is the claim context staged for later turns. After an update it
// carries the case description as the customer was shown it, not the text
// just appended.
func (o Outcome) ClaimParams() dialog.ClaimParams {
	description := o.Description
	if o.Action == ActionUpdate {
		description = o.PriorDescription
	}
	return dialog.ClaimParams{CustomerID: o.CustomerID, CaseID: o.CaseID, CaseDescription: description}
}

// CaseWriter is the CRM surface the engine writes through.
type CaseWriter interface {
	CreateCase(ctx context.Context, nc casestore.NewCase) (string, error)
	UpdateCaseDescription(ctx context.Context, caseID, description string) error
}

// Engine decides and executes claim writes.
type Engine struct {
	cases   CaseWriter
	catalog *dialog.Catalog
	logger  *logging.Logger
	origin  string
	loc     *time.Location
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithOrigin sets the Origin recorded on created cases.
func WithOrigin(origin string) Option {
	return func(e *Engine) {
		if origin != "" {
			e.origin = origin
		}
	}
}

// WithLocation sets the timezone of update lines.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides the clock used for update lines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the engine to the CRM.
func NewEngine(cases CaseWriter, catalog *dialog.Catalog, logger *logging.Logger, opts ...Option) *Engine {
	if cases == nil {
		panic("claims: case writer cannot be nil")
	}
	if catalog == nil {
		panic("claims: catalog cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		cases:   cases,
		catalog: catalog,
		logger:  logger,
		origin:  defaultOrigin,
		loc:     time.UTC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide picks the update path when the customer chose to follow up on their
// open case, otherwise the create path. It performs no I/O.
func (e *Engine) Decide(req Request) (Plan, error) {
	if req.UseExistingCase {
		return e.decideUpdate(req)
	}
	return e.decideCreate(req)
}

func (e *Engine) decideUpdate(req Request) (Plan, error) {
	existing := req.ExistingCase
	if existing.CaseID == "" || existing.CaseDescription == "" || req.Customer.CustomerID == "" || req.Kind == dialog.ClaimKindNone {
		return Plan{}, ErrMissingCaseData
	}
	line, err := e.catalog.Render(dialog.MsgCaseUpdateLine, req.Language, map[string]string{
		"Date": dialog.ShortDate(e.now().In(e.loc)),
	})
	if err != nil {
		return Plan{}, err
	}
	kindKey := dialog.MsgCaseUpdateKindWater
	if req.Kind == dialog.ClaimKindElectric {
		kindKey = dialog.MsgCaseUpdateKindElectric
	}
	label, err := e.catalog.Render(kindKey, req.Language, nil)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Action:           ActionUpdate,
		CustomerID:       req.Customer.CustomerID,
		CaseID:           existing.CaseID,
		Description:      existing.CaseDescription + "\r\n" + line + label,
		PriorDescription: existing.CaseDescription,
	}, nil
}

func (e *Engine) decideCreate(req Request) (Plan, error) {
	if req.Customer.CustomerID == "" || !req.Residence.Covered() {
		return Plan{}, ErrMissingCustomerData
	}
	var subjectKey dialog.Key
	switch req.Kind {
	case dialog.ClaimKindWater:
		subjectKey = dialog.MsgCaseSubjectWater
	case dialog.ClaimKindElectric:
		subjectKey = dialog.MsgCaseSubjectElectric
	default:
		return Plan{}, ErrMissingClaimKind
	}
	subject, err := e.catalog.Render(subjectKey, req.Language, nil)
	if err != nil {
		return Plan{}, err
	}
	description, err := e.catalog.Render(dialog.MsgCaseDescription, req.Language, map[string]string{
		"Subject": subject,
		"Street":  req.Residence.Street,
		"City":    req.Residence.City,
	})
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Action:      ActionCreate,
		CustomerID:  req.Customer.CustomerID,
		Description: description,
		NewCase: casestore.NewCase{
			AccountID:   req.Customer.CustomerID,
			Origin:      e.origin,
			Subject:     subject,
			Priority:    priorityMedium,
			Description: description,
		},
	}, nil
}

// Execute performs exactly one create or update call.
func (e *Engine) Execute(ctx context.Context, plan Plan) (Outcome, error) {
	out := Outcome{
		Action:           plan.Action,
		CustomerID:       plan.CustomerID,
		Description:      plan.Description,
		PriorDescription: plan.PriorDescription,
	}
	switch plan.Action {
	case ActionUpdate:
		if err := e.cases.UpdateCaseDescription(ctx, plan.CaseID, plan.Description); err != nil {
			return Outcome{}, fmt.Errorf("claims: update case %s: %w", plan.CaseID, err)
		}
		out.CaseID = plan.CaseID
		e.logger.Info("case updated", "case_id", plan.CaseID, "customer_id", plan.CustomerID)
	case ActionCreate:
		id, err := e.cases.CreateCase(ctx, plan.NewCase)
		if err != nil {
			return Outcome{}, fmt.Errorf("claims: create case: %w", err)
		}
		out.CaseID = id
		e.logger.Info("case created", "case_id", id, "customer_id", plan.CustomerID)
	default:
		return Outcome{}, fmt.Errorf("claims: unknown action %d", plan.Action)
	}
	return out, nil
}

// Process decides then executes.
func (e *Engine) Process(ctx context.Context, req Request) (Outcome, error) {
	plan, err := e.Decide(req)
	if err != nil {
		return Outcome{}, err
	}
	out, err := e.Execute(ctx, plan)
	if err != nil {
		return Outcome{}, err
	}
	out.Kind = req.Kind
	return out, nil
}
