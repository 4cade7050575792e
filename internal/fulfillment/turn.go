package fulfillment

import (
	"strings"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// turn accumulates the reply to one webhook request.
type turn struct {
	req      *dialog.WebhookRequest
	intent   Intent
	lang     string
	contexts *dialog.Contexts
	catalog  *dialog.Catalog
	logger   *logging.Logger

	texts        []string
	bot          []string
	event        string
	hideCustomer bool
}

func newTurn(req *dialog.WebhookRequest, intent Intent, catalog *dialog.Catalog, logger *logging.Logger) *turn {
	t := &turn{
		req:      req,
		intent:   intent,
		lang:     req.QueryResult.LanguageCode,
		contexts: dialog.NewContexts(req.Session, req.QueryResult.OutputContexts),
		catalog:  catalog,
		logger:   logger,
	}
	t.replayFollowup()
	return t
}

// replayFollowup shows the messages a previous event turn could not display.
// They were logged with that turn, so they are not logged again.
func (t *turn) replayFollowup() {
	params := t.contexts.Parameters(dialog.CtxFollowupMessage)
	if len(params) == 0 {
		return
	}
	text, err := dialog.Message(params).Select(t.lang)
	if err != nil {
		t.logger.Warn("follow-up message not available in turn language", "language", t.lang)
		return
	}
	t.texts = append(t.texts, text)
}

// say renders key in the turn language and queues it.
func (t *turn) say(key dialog.Key, data any) error {
	msg, err := t.catalog.Message(key, data)
	if err != nil {
		return err
	}
	return t.sayMessage(msg)
}

func (t *turn) sayMessage(msg dialog.Message) error {
	text, err := msg.Select(t.lang)
	if err != nil {
		return dialog.UnsupportedLanguage(t.lang)
	}
	t.texts = append(t.texts, text)
	t.bot = append(t.bot, text)
	return nil
}

// setEvent requests a follow-up event. Only one event is sent per turn; the
// latest wins.
func (t *turn) setEvent(name string) {
	if t.event != "" && t.event != name {
		t.logger.Warn("follow-up event replaced", "previous", t.event, "event", name)
	}
	t.event = name
}

// hideCustomerUtterance drops the query text from the log, for turns entered
// through an event where the query text is the event name.
func (t *turn) hideCustomerUtterance() {
	t.hideCustomer = true
}

// response builds the webhook reply. When an event is sent the platform drops
// the messages, so they are carried to the next turn in a short-lived context.
func (t *turn) response() *dialog.WebhookResponse {
	texts := t.texts
	if t.event != "" && len(texts) > 0 {
		t.contexts.SetParameters(dialog.CtxFollowupMessage, map[string]string{
			t.lang: strings.Join(texts, "\n"),
		}, 1)
		texts = nil
	}
	resp := &dialog.WebhookResponse{
		FulfillmentMessages: dialog.TextMessages(texts...),
		OutputContexts:      t.contexts.Outbound(),
	}
	if t.event != "" {
		resp.FollowupEventInput = &dialog.EventInput{Name: t.event, LanguageCode: t.lang}
	}
	return resp
}

// record is the log entry for this turn.
func (t *turn) record(now time.Time) turnlog.Turn {
	rec := turnlog.Turn{
		ID:        t.req.ResponseID,
		SessionID: t.req.SessionID(),
		Timestamp: now,
		Customer:  []string{},
		Bot:       []string{},
	}
	if q := t.req.QueryResult.QueryText; q != "" && !t.hideCustomer {
		rec.Customer = append(rec.Customer, q)
	}
	if f := t.req.QueryResult.FulfillmentText; f != "" {
		rec.Bot = append(rec.Bot, f)
	}
	rec.Bot = append(rec.Bot, t.bot...)
	return rec
}
