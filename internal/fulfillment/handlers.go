package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
	"github.com/wolfman30/claims-fulfillment/internal/claims"
	"github.com/wolfman30/claims-fulfillment/internal/dialog"
)

const (
	lifespanTurn    = 1
	lifespanSession = 10
)

func (s *Service) claimIntro(t *turn, key dialog.Key, confirmation string) error {
	if err := t.say(key, nil); err != nil {
		return err
	}
	t.contexts.Set(confirmation, lifespanTurn)
	return nil
}

func (s *Service) claimConfirmed(t *turn, claimContext string) error {
	if err := t.say(dialog.MsgAskCustomerID, nil); err != nil {
		return err
	}
	t.contexts.Set(claimContext, lifespanSession)
	t.contexts.Set(dialog.CtxCustomerAuthentication, lifespanTurn)
	return nil
}

func (s *Service) fallback(t *turn, key dialog.Key) error {
	t.contexts.KeepAlive()
	return t.say(key, nil)
}

func (s *Service) authenticateCustomer(ctx context.Context, t *turn) error {
	customerID := stripSpaces(t.req.Param("customerId"))
	if customerID == "" {
		if err := t.say(dialog.MsgAuthAskCustomerID, nil); err != nil {
			return err
		}
		t.contexts.Set(dialog.CtxCustomerAuthentication, lifespanTurn)
		return nil
	}

	customer, err := s.crm.FindCustomer(ctx, customerID)
	switch {
	case errors.Is(err, casestore.ErrNotFound):
		t.logger.Info("no account for insurance number")
		if err := t.say(dialog.MsgAuthNotFound, map[string]string{"CustomerID": customerID}); err != nil {
			return err
		}
		t.contexts.Set(dialog.CtxCustomerAuthentication, lifespanTurn)
		return nil
	case err != nil:
		s.metrics.ObserveExternalFailure("crm", "find_customer")
		t.logger.Error("customer lookup failed", "error", err)
		if err := t.say(dialog.MsgAuthCRMError, nil); err != nil {
			return err
		}
		t.contexts.Set(dialog.CtxCustomerAuthentication, lifespanTurn)
		return nil
	}

	if open := customer.OpenCase; open != nil {
		t.logger.Info("found open case", "case_id", open.ID)
		t.contexts.SetParameters(dialog.CtxExistingCase, dialog.ExistingCaseParams{
			CaseID:          open.ID,
			CaseDate:        open.CreatedDate,
			CaseDescription: open.Description,
		}.Params(), lifespanSession)
	}
	t.contexts.SetParameters(dialog.CtxCustomer, dialog.CustomerParams{CustomerID: customer.AccountID}.Params(), lifespanSession)
	t.contexts.SetParameters(dialog.CtxCustomerVerification, dialog.VerificationParams{
		CustomerBirthDate: customer.BirthDate,
		CustomerBirthCity: customer.BirthCity,
	}.Params(), lifespanTurn)
	t.contexts.SetParameters(dialog.CtxInsuredResidence, dialog.ResidenceParams{
		Street: customer.ResidenceStreet,
		City:   customer.ResidenceCity,
	}.Params(), lifespanSession)
	return t.say(dialog.MsgAuthAskBirth, nil)
}

func (s *Service) verifyCustomer(t *turn) error {
	v := t.contexts.Verification()
	if !v.Answered() {
		// The platform prompts for the missing slot.
		return nil
	}
	if !v.HasRecord() {
		t.logger.Error("verification record missing from context")
		return t.say(dialog.MsgVerifyError, nil)
	}

	if !identityMatches(v) {
		t.logger.Info("customer not verified")
		if err := t.say(dialog.MsgVerifyMismatch, nil); err != nil {
			return err
		}
		t.contexts.SetParameters(dialog.CtxCustomerVerification, v.Params(), lifespanTurn)
		return nil
	}
	t.logger.Info("customer verified")

	if t.contexts.ClaimKind() == dialog.ClaimKindNone {
		t.logger.Error("no claim kind context after verification")
		return t.say(dialog.MsgVerifyKindMissing, nil)
	}
	if !t.contexts.Residence().Covered() {
		return t.say(dialog.MsgVerifyNotCovered, nil)
	}

	existing := t.contexts.ExistingCase()
	if existing.CaseDescription == "" || existing.CaseDate == "" {
		t.setEvent(EventDamageAddressVerification)
		return nil
	}
	dates := s.caseDate(t, existing.CaseDate)
	msg, err := s.catalog.MessageEach(dialog.MsgVerifyExistingCase, func(lang string) any {
		return map[string]string{"Description": existing.CaseDescription, "Date": dates[lang]}
	})
	if err != nil {
		return err
	}
	if err := t.sayMessage(msg); err != nil {
		return err
	}
	t.contexts.Set(dialog.CtxFollowupOnExistingCase, lifespanTurn)
	return nil
}

// caseDate localizes the open case creation date. An unparseable value is
// shown as sent by the CRM.
func (s *Service) caseDate(t *turn, value string) dialog.Message {
	created, err := dialog.ParseDate(value)
	if err != nil {
		t.logger.Warn("unparseable case date", "value", value)
		out := dialog.Message{}
		for _, lang := range s.catalog.Languages() {
			out[lang] = value
		}
		return out
	}
	return dialog.LongDate(created.In(s.loc))
}

func identityMatches(v dialog.VerificationParams) bool {
	return dialog.SameCalendarDate(v.CustomerBirthDate, v.VerificationBirthDate) &&
		strings.EqualFold(strings.TrimSpace(v.CustomerBirthCity), strings.TrimSpace(v.VerificationBirthCity))
}

func (s *Service) followupConfirmed(t *turn) error {
	if err := t.say(dialog.MsgAlright, nil); err != nil {
		return err
	}
	t.contexts.Set(dialog.CtxUseExistingCase, lifespanSession)
	t.setEvent(EventClaimReady)
	return nil
}

func (s *Service) followupDeclined(t *turn) error {
	if err := t.say(dialog.MsgAlright, nil); err != nil {
		return err
	}
	t.setEvent(EventDamageAddressVerification)
	return nil
}

func (s *Service) verifyDamageAddress(t *turn) error {
	t.hideCustomerUtterance()
	residence := t.contexts.Residence()
	if !residence.Covered() {
		t.logger.Warn("insured residence missing")
		return t.say(dialog.MsgAddressMissing, nil)
	}
	if err := t.say(dialog.MsgAddressConfirm, map[string]string{"Street": residence.Street, "City": residence.City}); err != nil {
		return err
	}
	t.contexts.Set(dialog.CtxDamageAddressVerification, lifespanTurn)
	return nil
}

func (s *Service) claimReady(ctx context.Context, t *turn) error {
	t.hideCustomerUtterance()
	c := t.contexts
	req := claims.Request{
		Language:        t.lang,
		Kind:            c.ClaimKind(),
		Customer:        c.Customer(),
		Residence:       c.Residence(),
		ExistingCase:    c.ExistingCase(),
		UseExistingCase: c.IsSet(dialog.CtxUseExistingCase) && c.IsSet(dialog.CtxExistingCase) && c.IsSet(dialog.CtxCustomer),
	}

	plan, err := s.engine.Decide(req)
	switch {
	case errors.Is(err, claims.ErrMissingCaseData):
		t.logger.Error("missing contexts to update existing case")
		return t.say(dialog.MsgClaimMissingCaseData, nil)
	case errors.Is(err, claims.ErrMissingClaimKind):
		t.logger.Error("claim kind context not found")
		return t.say(dialog.MsgClaimMissingKind, nil)
	case errors.Is(err, claims.ErrMissingCustomerData):
		t.logger.Error("missing customer or residence parameters")
		return t.say(dialog.MsgClaimCreateError, nil)
	case err != nil:
		return err
	}

	out, err := s.engine.Execute(ctx, plan)
	if err != nil {
		s.metrics.ObserveExternalFailure("crm", plan.Action.String()+"_case")
		t.logger.Error("claim write failed", "error", err, "action", plan.Action.String())
		switch {
		case isAuthFailure(err):
			return t.say(dialog.MsgClaimCRMConnectError, nil)
		case plan.Action == claims.ActionUpdate:
			return t.say(dialog.MsgClaimUpdateError, nil)
		default:
			return t.say(dialog.MsgClaimCreateError, nil)
		}
	}
	out.Kind = req.Kind

	c.SetParameters(dialog.CtxClaim, out.ClaimParams().Params(), lifespanSession)
	s.notifyClaim(ctx, t, out)
	if out.Action == claims.ActionCreate {
		t.setEvent(EventClaimCreated)
		return nil
	}
	if err := t.say(dialog.MsgProfessionalsOffer, nil); err != nil {
		return err
	}
	c.Set(dialog.CtxProfessionalsList, lifespanTurn)
	return nil
}

func (s *Service) professionalsList(ctx context.Context, t *turn, send bool) error {
	key := dialog.MsgListDeclined
	if send {
		key = dialog.MsgListConfirmed
	}
	if err := t.say(key, nil); err != nil {
		return err
	}
	t.contexts.SetParameters(dialog.CtxSendList, dialog.SendListParams{SendList: send}.Params(), lifespanSession)
	return s.wrapUp(ctx, t)
}

// wrapUp offers a callback for a dependent about to lose family coverage,
// otherwise moves on to the closing question.
func (s *Service) wrapUp(ctx context.Context, t *turn) error {
	accountID := t.contexts.Customer().CustomerID
	if accountID == "" {
		t.logger.Warn("no customer context at wrap-up")
		t.setEvent(EventAddAnything)
		return nil
	}
	dep, err := s.crm.FindDependentNearingAdulthood(ctx, accountID)
	if err != nil {
		s.metrics.ObserveExternalFailure("crm", "find_dependent")
		t.logger.Error("dependent lookup failed", "error", err)
		t.setEvent(EventAddAnything)
		return nil
	}
	if dep == nil {
		t.setEvent(EventAddAnything)
		return nil
	}

	t.contexts.SetParameters(dialog.CtxChild, dialog.ChildParams{
		ID:        dep.ContactID,
		FirstName: dep.FirstName,
		LastName:  dep.LastName,
		Phone:     dep.Phone,
	}.Params(), lifespanSession)
	if err := t.say(dialog.MsgChildOffer, map[string]string{"FirstName": dep.FirstName, "LastName": dep.LastName}); err != nil {
		return err
	}
	t.contexts.Set(dialog.CtxCallbackConfirmation, lifespanTurn)
	return nil
}

func (s *Service) askCallbackTime(t *turn) error {
	if err := t.say(dialog.MsgCallbackAskDateTime, nil); err != nil {
		return err
	}
	t.contexts.Set(dialog.CtxGetCallbackParameters, lifespanTurn)
	return nil
}

func (s *Service) scheduleCallback(ctx context.Context, t *turn) error {
	date, clock := t.req.Param("date"), t.req.Param("time")
	if date == "" || clock == "" {
		return s.askCallbackTime(t)
	}
	child := t.contexts.Child()
	if child.Phone == "" {
		t.logger.Error("missing phone number in child context")
		return nil
	}
	at, err := callbackTime(date, clock)
	if err != nil {
		t.logger.Warn("unparseable callback date or time", "date", date, "time", clock)
		return s.askCallbackTime(t)
	}

	var opportunityID string
	if accountID := t.contexts.Customer().CustomerID; accountID == "" {
		t.logger.Warn("no customer context, opportunity not created")
	} else {
		id, err := s.crm.ScheduleCallback(ctx, casestore.Callback{AccountID: accountID, ContactID: child.ID, At: at})
		if err != nil {
			s.metrics.ObserveExternalFailure("crm", "schedule_callback")
			t.logger.Error("opportunity not created", "error", err)
		} else {
			opportunityID = id
		}
	}

	if err := t.say(dialog.MsgCallbackThanks, map[string]string{"FirstName": child.FirstName}); err != nil {
		return err
	}
	t.contexts.SetParameters(dialog.CtxCallback, dialog.CallbackParams{
		DateTime:    at.Format(time.RFC3339),
		Name:        child.FullName(),
		Number:      child.Phone,
		Opportunity: opportunityID,
	}.Params(), lifespanSession)
	t.setEvent(EventAddAnything)
	return nil
}

// callbackTime joins the calendar day of date with the clock time and offset
// of clock. Both arrive as full timestamps from the platform.
func callbackTime(date, clock string) (time.Time, error) {
	day, _, _ := strings.Cut(date, "T")
	_, hour, found := strings.Cut(clock, "T")
	if !found {
		hour = clock
	}
	return time.Parse(time.RFC3339, day+"T"+hour)
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
