package fulfillment

// Intent is one of the agent intents this service fulfills.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentWaterClaim
	IntentWaterClaimConfirmed
	IntentWaterClaimNotConfirmed
	IntentWaterClaimFallback
	IntentElectricClaim
	IntentElectricClaimConfirmed
	IntentElectricClaimNotConfirmed
	IntentElectricClaimFallback
	IntentCustomerAuthentication
	IntentCustomerVerification
	IntentFollowupConfirmed
	IntentFollowupNotConfirmed
	IntentDamageAddressVerification
	IntentDamageAddressConfirmed
	IntentDamageAddressNotConfirmed
	IntentClaimReady
	IntentClaimCreated
	IntentListConfirmed
	IntentListNotConfirmed
	IntentCallbackConfirmed
	IntentCallbackNotConfirmed
	IntentCallbackDatetime
	IntentAnythingToAdd
	IntentAnythingToAddConfirmed
	IntentAnythingToAddNotConfirmed
	IntentDefaultFallback
)

// Display names as defined in the agent.
var intentNames = map[Intent]string{
	IntentWaterClaim:                "Water Damage Claim",
	IntentWaterClaimConfirmed:       "Water Damage Claim - Confirmed",
	IntentWaterClaimNotConfirmed:    "Water Damage Claim - Not Confirmed",
	IntentWaterClaimFallback:        "Water Damage Claim - Fallback",
	IntentElectricClaim:             "Electric Damage Claim",
	IntentElectricClaimConfirmed:    "Electric Damage Claim - Confirmed",
	IntentElectricClaimNotConfirmed: "Electric Damage Claim - Not Confirmed",
	IntentElectricClaimFallback:     "Electric Damage Claim - Fallback",
	IntentCustomerAuthentication:    "Customer Authentication",
	IntentCustomerVerification:      "Customer Verification",
	IntentFollowupConfirmed:         "Followup On Existing Case - Confirmed",
	IntentFollowupNotConfirmed:      "Followup On Existing Case - Not Confirmed",
	IntentDamageAddressVerification: "Damage Address Verification",
	IntentDamageAddressConfirmed:    "Damage Address Verification - Confirmed",
	IntentDamageAddressNotConfirmed: "Damage Address Verification - Not Confirmed",
	IntentClaimReady:                "Claim Ready",
	IntentClaimCreated:              "Claim Created",
	IntentListConfirmed:             "Professionals List - Confirmed",
	IntentListNotConfirmed:          "Professionals List - Not Confirmed",
	IntentCallbackConfirmed:         "Child Callback - Confirmed",
	IntentCallbackNotConfirmed:      "Child Callback - Not Confirmed",
	IntentCallbackDatetime:          "Child Callback - Confirmed - Datetime",
	IntentAnythingToAdd:             "Claim Updated - Anything To Add",
	IntentAnythingToAddConfirmed:    "Claim Updated - Anything To Add - Confirmed",
	IntentAnythingToAddNotConfirmed: "Claim Updated - Anything To Add - Not Confirmed",
	IntentDefaultFallback:           "Default Fallback Intent",
}

var intentsByName = func() map[string]Intent {
	out := make(map[string]Intent, len(intentNames))
	for intent, name := range intentNames {
		out[name] = intent
	}
	return out
}()

// ParseIntent maps a display name to its Intent. Unmatched names yield
// IntentUnknown; matching is exact.
func ParseIntent(displayName string) Intent {
	return intentsByName[displayName]
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unknown"
}

// Events re-enter the agent without a customer utterance.
const (
	EventDamageAddressVerification = "DamageAddressVerification"
	EventClaimReady                = "ClaimReady"
	EventClaimCreated              = "ClaimCreated"
	EventAddAnything               = "AddAnything"
)
