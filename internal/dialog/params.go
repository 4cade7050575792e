package dialog

import "strconv"

// Context names exchanged with the agent definition.
const (
	CtxWaterClaimConfirmation    = "waterdamageclaimconfirmation"
	CtxWaterClaim                = "waterdamageclaim"
	CtxElectricClaimConfirmation = "electricdamageclaimconfirmation"
	CtxElectricClaim             = "electricdamageclaim"
	CtxCustomerAuthentication    = "customerauthentication"
	CtxCustomer                  = "customer"
	CtxCustomerVerification      = "customerverification"
	CtxInsuredResidence          = "insuredresidence"
	CtxExistingCase              = "existingcase"
	CtxFollowupOnExistingCase    = "followuponexistingcase"
	CtxUseExistingCase           = "useexistingcase"
	CtxDamageAddressVerification = "damageaddressverification"
	CtxClaim                     = "claim"
	CtxProfessionalsList         = "professionalslist"
	CtxSendList                  = "sendlist"
	CtxChild                     = "child"
	CtxCallbackConfirmation      = "callbackconfirmation"
	CtxGetCallbackParameters     = "getcallbackparameters"
	CtxCallback                  = "callback"
	CtxAddAnythingConfirmation   = "addanythingconfirmation"
	CtxFollowupMessage           = "followupmessage"
)

// ClaimKind is the kind of damage being declared.
type ClaimKind string

const (
	ClaimKindNone     ClaimKind = ""
	ClaimKindWater    ClaimKind = "water"
	ClaimKindElectric ClaimKind = "electric"
)

// ClaimKind resolves the claim kind from the claim contexts. Water wins when
// both are somehow set, matching the order the agent asks about them.
func (c *Contexts) ClaimKind() ClaimKind {
	switch {
	case c.IsSet(CtxWaterClaim):
		return ClaimKindWater
	case c.IsSet(CtxElectricClaim):
		return ClaimKindElectric
	default:
		return ClaimKindNone
	}
}

// CustomerParams identifies the verified CRM account.
type CustomerParams struct {
	CustomerID string
}

func ParseCustomer(p map[string]string) CustomerParams {
	return CustomerParams{CustomerID: p["customerId"]}
}

func (p CustomerParams) Params() map[string]string {
	return compact(map[string]string{"customerId": p.CustomerID})
}

func (c *Contexts) Customer() CustomerParams {
	return ParseCustomer(c.Parameters(CtxCustomer))
}

// VerificationParams pairs the CRM identity record with the customer's answers.
type VerificationParams struct {
	CustomerBirthDate     string
	CustomerBirthCity     string
	VerificationBirthDate string
	VerificationBirthCity string
}

func ParseVerification(p map[string]string) VerificationParams {
	return VerificationParams{
		CustomerBirthDate:     p["customerBirthDate"],
		CustomerBirthCity:     p["customerBirthCity"],
		VerificationBirthDate: p["verificationBirthDate"],
		VerificationBirthCity: p["verificationBirthCity"],
	}
}

// Params serializes only the CRM half; the answers are collected by the platform.
func (p VerificationParams) Params() map[string]string {
	return compact(map[string]string{
		"customerBirthDate": p.CustomerBirthDate,
		"customerBirthCity": p.CustomerBirthCity,
	})
}

// Answered reports whether both slots have been collected.
func (p VerificationParams) Answered() bool {
	return p.VerificationBirthDate != "" && p.VerificationBirthCity != ""
}

// HasRecord reports whether the CRM values to compare against are present.
func (p VerificationParams) HasRecord() bool {
	return p.CustomerBirthDate != "" && p.CustomerBirthCity != ""
}

func (c *Contexts) Verification() VerificationParams {
	return ParseVerification(c.Parameters(CtxCustomerVerification))
}

// ResidenceParams is the insured residence on the customer's policy.
type ResidenceParams struct {
	Street string
	City   string
}

func ParseResidence(p map[string]string) ResidenceParams {
	return ResidenceParams{Street: p["addressStreet"], City: p["addressCity"]}
}

func (p ResidenceParams) Params() map[string]string {
	return compact(map[string]string{"addressStreet": p.Street, "addressCity": p.City})
}

// Covered reports whether the policy carries a complete insured address.
func (p ResidenceParams) Covered() bool {
	return p.Street != "" && p.City != ""
}

func (c *Contexts) Residence() ResidenceParams {
	return ParseResidence(c.Parameters(CtxInsuredResidence))
}

// ExistingCaseParams is the customer's most recent open case.
type ExistingCaseParams struct {
	CaseID          string
	CaseDate        string
	CaseDescription string
}

func ParseExistingCase(p map[string]string) ExistingCaseParams {
	return ExistingCaseParams{
		CaseID:          p["caseId"],
		CaseDate:        p["caseDate"],
		CaseDescription: p["caseDescription"],
	}
}

func (p ExistingCaseParams) Params() map[string]string {
	return compact(map[string]string{
		"caseId":          p.CaseID,
		"caseDate":        p.CaseDate,
		"caseDescription": p.CaseDescription,
	})
}

func (c *Contexts) ExistingCase() ExistingCaseParams {
	return ParseExistingCase(c.Parameters(CtxExistingCase))
}

// ClaimParams links the conversation to the case it created or updated.
type ClaimParams struct {
	CustomerID      string
	CaseID          string
	CaseDescription string
}

func ParseClaim(p map[string]string) ClaimParams {
	return ClaimParams{
		CustomerID:      p["customerId"],
		CaseID:          p["caseId"],
		CaseDescription: p["caseDescription"],
	}
}

func (p ClaimParams) Params() map[string]string {
	return compact(map[string]string{
		"customerId":      p.CustomerID,
		"caseId":          p.CaseID,
		"caseDescription": p.CaseDescription,
	})
}

func (c *Contexts) Claim() ClaimParams {
	return ParseClaim(c.Parameters(CtxClaim))
}

// ChildParams is a dependent found during wrap-up.
type ChildParams struct {
	ID        string
	FirstName string
	LastName  string
	Phone     string
}

func ParseChild(p map[string]string) ChildParams {
	return ChildParams{
		ID:        p["id"],
		FirstName: p["firstName"],
		LastName:  p["lastName"],
		Phone:     p["phone"],
	}
}

func (p ChildParams) Params() map[string]string {
	return compact(map[string]string{
		"id":        p.ID,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"phone":     p.Phone,
	})
}

// FullName joins first and last name when both are known.
func (p ChildParams) FullName() string {
	if p.FirstName == "" || p.LastName == "" {
		return ""
	}
	return p.FirstName + " " + p.LastName
}

func (c *Contexts) Child() ChildParams {
	return ParseChild(c.Parameters(CtxChild))
}

// CallbackParams is a scheduled callback handed to the telephony platform.
type CallbackParams struct {
	DateTime    string
	Name        string
	Number      string
	Opportunity string
}

func (p CallbackParams) Params() map[string]string {
	return compact(map[string]string{
		"datetime":    p.DateTime,
		"name":        p.Name,
		"number":      p.Number,
		"opportunity": p.Opportunity,
	})
}

// SendListParams tells the telephony platform whether to text the list of
// licensed professionals.
type SendListParams struct {
	SendList bool
}

func (p SendListParams) Params() map[string]string {
	return map[string]string{"sendlist": strconv.FormatBool(p.SendList)}
}

func compact(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
