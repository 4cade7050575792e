package dialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WebhookRequest is the fulfillment request posted by the conversational platform.
type WebhookRequest struct {
	Session     string      `json:"session"`
	ResponseID  string      `json:"responseId"`
	QueryResult QueryResult `json:"queryResult"`
}

// QueryResult carries the resolved intent, slots and contexts of one turn.
type QueryResult struct {
	QueryText       string         `json:"queryText"`
	LanguageCode    string         `json:"languageCode"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	FulfillmentText string         `json:"fulfillmentText,omitempty"`
	Intent          IntentInfo     `json:"intent"`
	OutputContexts  []Context      `json:"outputContexts,omitempty"`
}

// IntentInfo names the matched intent.
type IntentInfo struct {
	DisplayName    string `json:"displayName"`
	EndInteraction bool   `json:"endInteraction,omitempty"`
}

// Context is a named, lifespan-bounded parameter bag. A nil LifespanCount means
// the platform did not send one.
type Context struct {
	Name          string         `json:"name"`
	LifespanCount *int           `json:"lifespanCount,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// WebhookResponse is returned to the platform.
type WebhookResponse struct {
	FulfillmentMessages []FulfillmentMessage `json:"fulfillmentMessages"`
	OutputContexts      []Context            `json:"outputContexts"`
	FollowupEventInput  *EventInput          `json:"followupEventInput,omitempty"`
}

// FulfillmentMessage wraps a single text message.
type FulfillmentMessage struct {
	Text TextMessage `json:"text"`
}

// TextMessage holds the text variants of a message.
type TextMessage struct {
	Text []string `json:"text"`
}

// EventInput asks the platform to re-enter the agent with a synthetic intent.
type EventInput struct {
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// ErrInvalidRequest marks a webhook body that cannot be routed at all.
var ErrInvalidRequest = errors.New("dialog: invalid webhook request")

var (
	errMissingSession  = fmt.Errorf("%w: session is required", ErrInvalidRequest)
	errMissingIntent   = fmt.Errorf("%w: queryResult.intent.displayName is required", ErrInvalidRequest)
	errMissingLanguage = fmt.Errorf("%w: queryResult.languageCode is required", ErrInvalidRequest)
)

// Validate rejects requests that cannot be routed at all.
func (r *WebhookRequest) Validate() error {
	if r.SessionID() == "" {
		return errMissingSession
	}
	if strings.TrimSpace(r.QueryResult.Intent.DisplayName) == "" {
		return errMissingIntent
	}
	if strings.TrimSpace(r.QueryResult.LanguageCode) == "" {
		return errMissingLanguage
	}
	return nil
}

// SessionID returns the final path segment of the session path.
func (r *WebhookRequest) SessionID() string {
	session := strings.TrimRight(strings.TrimSpace(r.Session), "/")
	if idx := strings.LastIndex(session, "/"); idx >= 0 {
		return session[idx+1:]
	}
	return session
}

// Param returns a top-level query parameter as a string; empty means absent.
func (r *WebhookRequest) Param(name string) string {
	return stringValue(r.QueryResult.Parameters[name])
}

// Lifespan returns a pointer for Context.LifespanCount.
func Lifespan(n int) *int {
	return &n
}

// TextMessages builds fulfillment messages from plain strings.
func TextMessages(texts ...string) []FulfillmentMessage {
	out := make([]FulfillmentMessage, 0, len(texts))
	for _, text := range texts {
		out = append(out, FulfillmentMessage{Text: TextMessage{Text: []string{text}}})
	}
	return out
}

// stringValue renders a JSON-decoded parameter value. nil and "" are absent.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
