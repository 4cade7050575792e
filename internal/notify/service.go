package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// ClaimFiled describes a case the assistant created or updated.
type ClaimFiled struct {
	SessionID   string
	CustomerID  string
	CaseID      string
	Action      string
	Kind        string
	Description string
	Language    string
	At          time.Time
}

// Service tells the claims desk about claims filed by the assistant so an
// advisor can pick up the call.
type Service struct {
	email  Sender
	to     string
	logger *logging.Logger
}

// NewService creates a notification service. A nil sender or empty
// recipient disables notifications.
func NewService(email Sender, to string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, to: strings.TrimSpace(to), logger: logger}
}

// NotifyClaimFiled emails the claims desk.
func (s *Service) NotifyClaimFiled(ctx context.Context, evt ClaimFiled) error {
	if s == nil || s.email == nil || s.to == "" {
		return nil
	}
	if evt.CaseID == "" {
		return fmt.Errorf("notify: claim event has no case id")
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	e := DeskEmail{
		To:      s.to,
		Subject: claimSubject(evt),
		Text:    claimBody(evt),
		HTML:    claimHTML(evt),
		CaseID:  evt.CaseID,
		Kind:    evt.Kind,
		Action:  evt.Action,
	}
	if err := s.email.Send(ctx, e); err != nil {
		return fmt.Errorf("notify: claim %s: %w", evt.CaseID, err)
	}
	s.logger.Info("claims desk notified", "case_id", evt.CaseID, "action", evt.Action)
	return nil
}

func claimSubject(evt ClaimFiled) string {
	verb := "New"
	if evt.Action == "update" {
		verb = "Updated"
	}
	kind := evt.Kind
	if kind == "" {
		kind = "damage"
	}
	return fmt.Sprintf("%s %s claim: case %s", verb, kind, evt.CaseID)
}

func claimFields(evt ClaimFiled) [][2]string {
	return [][2]string{
		{"Case", evt.CaseID},
		{"Account", evt.CustomerID},
		{"Action", evt.Action},
		{"Kind", evt.Kind},
		{"Language", evt.Language},
		{"Session", evt.SessionID},
		{"Filed at", evt.At.Format(time.RFC3339)},
		{"Description", evt.Description},
	}
}

func claimBody(evt ClaimFiled) string {
	var b strings.Builder
	for _, f := range claimFields(evt) {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f[0], f[1])
	}
	return b.String()
}

func claimHTML(evt ClaimFiled) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, f := range claimFields(evt) {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", f[0], html.EscapeString(f[1]))
	}
	b.WriteString("</table>")
	return b.String()
}
