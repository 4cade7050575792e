package casestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// CRM field and entity names.
const (
	EntityAccount         = "Account"
	EntityCase            = "Case"
	EntityContact         = "Contact"
	EntityOpportunity     = "Opportunity"
	EntityOpportunityRole = "OpportunityContactRole"

	FieldID              = "Id"
	FieldAccountID       = "AccountId"
	FieldAccountNumber   = "AccountNumber"
	FieldBirthCity       = "Birth_City__c"
	FieldBirthDate       = "Birth_Date__c"
	FieldResidenceStreet = "Residence_1_street__c"
	FieldResidenceCity   = "Residence_1_city__c"
	FieldTranscript      = "Transcript__c"
	FieldDescription     = "Description"
	FieldCreatedDate     = "CreatedDate"
	FieldStatus          = "Status"
)

const (
	opportunityName       = "Personnal Liability Lead"
	opportunityStage      = "Prospecting"
	opportunityType       = "New Customer"
	opportunityLeadSource = "Phone Inquiry"
	contactRoleDecision   = "Decision Maker"
)

// OpenCase is the most recent non-closed case of an account.
type OpenCase struct {
	ID          string
	CreatedDate string
	Description string
}

// Customer is the account matched by insurance number.
type Customer struct {
	AccountID       string
	AccountNumber   string
	BirthDate       string
	BirthCity       string
	ResidenceStreet string
	ResidenceCity   string
	OpenCase        *OpenCase
}

// NewCase holds the fields of a case to create.
type NewCase struct {
	AccountID   string
	Origin      string
	Subject     string
	Priority    string
	Description string
}

// Dependent is a contact on the account who is about to come of age.
type Dependent struct {
	ContactID string
	FirstName string
	LastName  string
	BirthDate string
	Phone     string
}

// Callback is a sales callback to schedule for a dependent.
type Callback struct {
	AccountID string
	ContactID string
	At        time.Time
}

// CRM is the typed view of the case-management system used by the
// conversation. Every operation authenticates first.
type CRM struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewCRM wraps a record store.
func NewCRM(store Store, logger *logging.Logger) *CRM {
	if store == nil {
		panic("casestore: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CRM{store: store, logger: logger, now: time.Now}
}

// FindCustomer looks up an account by insurance number together with its
// latest open case. ErrNotFound is returned when no account matches.
func (c *CRM) FindCustomer(ctx context.Context, accountNumber string) (*Customer, error) {
	if err := c.store.Authenticate(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.Query(ctx, Query{
		Entity: EntityAccount,
		Fields: []string{FieldID, FieldBirthCity, FieldBirthDate, FieldAccountNumber, FieldResidenceStreet, FieldResidenceCity},
		Where:  []Condition{Eq(FieldAccountNumber, accountNumber)},
		Include: &Include{
			Relationship: "Cases",
			Entity:       EntityCase,
			ForeignKey:   FieldAccountID,
			Fields:       []string{FieldID, FieldCreatedDate, FieldDescription},
			Where:        []Condition{{Field: FieldStatus, Op: OpNe, Value: "Closed"}},
			OrderBy:      &Order{Field: FieldCreatedDate, Desc: true},
			Limit:        1,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("casestore: find customer: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	rec := records[0]
	customer := &Customer{
		AccountID:       rec.ID(),
		AccountNumber:   rec.String(FieldAccountNumber),
		BirthDate:       rec.String(FieldBirthDate),
		BirthCity:       rec.String(FieldBirthCity),
		ResidenceStreet: rec.String(FieldResidenceStreet),
		ResidenceCity:   rec.String(FieldResidenceCity),
	}
	if cases := rec.Children("Cases"); len(cases) > 0 {
		customer.OpenCase = &OpenCase{
			ID:          cases[0].ID(),
			CreatedDate: cases[0].String(FieldCreatedDate),
			Description: cases[0].String(FieldDescription),
		}
	}
	return customer, nil
}

// CreateCase creates a case and returns its id.
func (c *CRM) CreateCase(ctx context.Context, nc NewCase) (string, error) {
	if err := c.store.Authenticate(ctx); err != nil {
		return "", err
	}
	id, err := c.store.Create(ctx, EntityCase, Record{
		FieldAccountID:   nc.AccountID,
		"Origin":         nc.Origin,
		"Subject":        nc.Subject,
		"Priority":       nc.Priority,
		FieldDescription: nc.Description,
	})
	if err != nil {
		return "", fmt.Errorf("casestore: create case: %w", err)
	}
	if id == "" {
		return "", errors.New("casestore: create case: no id returned")
	}
	return id, nil
}

// UpdateCaseDescription replaces the description of a case.
func (c *CRM) UpdateCaseDescription(ctx context.Context, caseID, description string) error {
	if err := c.store.Authenticate(ctx); err != nil {
		return err
	}
	if err := c.store.Update(ctx, EntityCase, caseID, Record{FieldDescription: description}); err != nil {
		return fmt.Errorf("casestore: update case %s: %w", caseID, err)
	}
	return nil
}

// CaseTranscript returns the transcript stored on a case, "" when unset.
func (c *CRM) CaseTranscript(ctx context.Context, caseID string) (string, error) {
	if err := c.store.Authenticate(ctx); err != nil {
		return "", err
	}
	rec, err := c.store.Retrieve(ctx, EntityCase, caseID)
	if err != nil {
		return "", fmt.Errorf("casestore: retrieve case %s: %w", caseID, err)
	}
	return rec.String(FieldTranscript), nil
}

// SetCaseTranscript stores the rendered transcript on a case.
func (c *CRM) SetCaseTranscript(ctx context.Context, caseID, transcript string) error {
	if err := c.store.Authenticate(ctx); err != nil {
		return err
	}
	if err := c.store.Update(ctx, EntityCase, caseID, Record{FieldTranscript: transcript}); err != nil {
		return fmt.Errorf("casestore: set transcript on case %s: %w", caseID, err)
	}
	return nil
}

// FindDependentNearingAdulthood returns a contact of the account who turns 18
// within the next six months, or nil when there is none.
func (c *CRM) FindDependentNearingAdulthood(ctx context.Context, accountID string) (*Dependent, error) {
	if err := c.store.Authenticate(ctx); err != nil {
		return nil, err
	}
	start := c.now().UTC().AddDate(-18, 0, 0)
	end := start.AddDate(0, 6, 0)
	records, err := c.store.Query(ctx, Query{
		Entity: EntityContact,
		Fields: []string{FieldID, "LastName", "FirstName", "Birthdate", "Phone", "MobilePhone", "HomePhone", "OtherPhone"},
		Where: []Condition{
			Eq(FieldAccountID, accountID),
			{Field: "Birthdate", Op: OpGt, Value: DateValue(start)},
			{Field: "Birthdate", Op: OpLt, Value: DateValue(end)},
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("casestore: find dependent: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]
	return &Dependent{
		ContactID: rec.ID(),
		FirstName: rec.String("FirstName"),
		LastName:  rec.String("LastName"),
		BirthDate: rec.String("Birthdate"),
		Phone:     preferredPhone(rec),
	}, nil
}

// ScheduleCallback records a sales opportunity for the callback and links the
// dependent to it as primary decision maker. It returns the opportunity id,
// or "" with an error when either record could not be created.
func (c *CRM) ScheduleCallback(ctx context.Context, cb Callback) (string, error) {
	if err := c.store.Authenticate(ctx); err != nil {
		return "", err
	}
	at := cb.At.UTC()
	closeDate := at.Format("2006-01-02")
	oppID, err := c.store.Create(ctx, EntityOpportunity, Record{
		FieldAccountID: cb.AccountID,
		"Name":         opportunityName,
		"StageName":    opportunityStage,
		"CloseDate":    closeDate,
		"Type":         opportunityType,
		"NextStep":     fmt.Sprintf("Callback on %s at %s", closeDate, at.Format("15:04")),
		"LeadSource":   opportunityLeadSource,
	})
	if err != nil {
		return "", fmt.Errorf("casestore: create opportunity: %w", err)
	}
	if oppID == "" {
		return "", errors.New("casestore: create opportunity: no id returned")
	}
	roleID, err := c.store.Create(ctx, EntityOpportunityRole, Record{
		"OpportunityId": oppID,
		"ContactId":     cb.ContactID,
		"Role":          contactRoleDecision,
		"IsPrimary":     true,
	})
	if err != nil {
		// The opportunity stays without a decision maker; sales picks it up
		// from the CRM by account.
		c.logger.Warn("callback opportunity left without contact role", "opportunity_id", oppID, "error", err)
		return "", fmt.Errorf("casestore: create contact role for opportunity %s: %w", oppID, err)
	}
	c.logger.Info("callback opportunity created", "opportunity_id", oppID, "contact_role_id", roleID)
	return oppID, nil
}

// DateValue marks a value to be compared as a calendar date.
type DateValue time.Time

// String renders the date as yyyy-mm-dd.
func (d DateValue) String() string {
	return time.Time(d).Format("2006-01-02")
}

func preferredPhone(rec Record) string {
	for _, field := range []string{"MobilePhone", "HomePhone", "Phone", "OtherPhone"} {
		if phone := strings.TrimSpace(rec.String(field)); phone != "" {
			return phone
		}
	}
	return ""
}
