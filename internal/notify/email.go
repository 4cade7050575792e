package notify

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// DeskEmail is one message to the claims desk about a filed case.
// CaseID and Kind travel with the message so providers can tag it for
// desk-side filtering.
type DeskEmail struct {
	To      string
	Subject string
	Text    string
	HTML    string
	CaseID  string
	Kind    string
	Action  string
}

// Sender delivers desk emails.
type Sender interface {
	Send(ctx context.Context, e DeskEmail) error
}

// Mailbox is the assistant's sending identity.
type Mailbox struct {
	Address string
	Name    string
}

const (
	assistantName = "Claims Assistant"
	deskName      = "Claims desk"
	deskCategory  = "claims-desk"
)

func (m Mailbox) withDefaults() Mailbox {
	if m.Name == "" {
		m.Name = assistantName
	}
	return m
}

// String renders the mailbox as an RFC 5322 address.
func (m Mailbox) String() string {
	return (&mail.Address{Name: m.Name, Address: m.Address}).String()
}

func claimLabel(kind string) string {
	if kind == "" {
		return "claim-unknown"
	}
	return "claim-" + kind
}

// SendGridSender posts desk emails through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   Mailbox
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(apiKey string, from Mailbox, logger *logging.Logger) *SendGridSender {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   from.withDefaults(),
		logger: logger,
	}
}

// message addresses the desk, tags the case and kind, and carries both
// bodies. HTML falls back to the text body.
func (s *SendGridSender) message(e DeskEmail) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(s.from.Name, s.from.Address))
	m.Subject = e.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(deskName, e.To))
	if e.CaseID != "" {
		p.SetCustomArg("case_id", e.CaseID)
	}
	if e.Action != "" {
		p.SetCustomArg("claim_action", e.Action)
	}
	m.AddPersonalizations(p)

	body := e.HTML
	if body == "" {
		body = e.Text
	}
	m.AddContent(sgmail.NewContent("text/plain", e.Text), sgmail.NewContent("text/html", body))
	m.AddCategories(deskCategory, claimLabel(e.Kind))
	return m
}

func (s *SendGridSender) Send(ctx context.Context, e DeskEmail) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	resp, err := s.client.SendWithContext(ctx, s.message(e))
	if err != nil {
		return fmt.Errorf("notify: sendgrid case %s: %w", e.CaseID, err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected desk email", "status", resp.StatusCode, "body", resp.Body, "case_id", e.CaseID)
		return fmt.Errorf("notify: sendgrid case %s: status %d", e.CaseID, resp.StatusCode)
	}
	s.logger.Info("desk email sent", "provider", "sendgrid", "case_id", e.CaseID, "status", resp.StatusCode)
	return nil
}

// LogSender writes desk emails to the log. Used for local runs.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, e DeskEmail) error {
	s.logger.Info("desk email (not sent)", "to", e.To, "case_id", e.CaseID, "kind", e.Kind, "subject", e.Subject)
	return nil
}

var (
	_ Sender = (*SendGridSender)(nil)
	_ Sender = (*LogSender)(nil)
)
