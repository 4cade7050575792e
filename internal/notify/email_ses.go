package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers desk emails through SES, tagging each send with the
// case and claim kind so desk rules and event destinations can route on them.
type SESSender struct {
	client sesAPI
	from   Mailbox
	logger *logging.Logger
}

// NewSESSender returns nil when client is nil.
func NewSESSender(client sesAPI, from Mailbox, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: from.withDefaults(), logger: logger}
}

func (s *SESSender) input(e DeskEmail) *sesv2.SendEmailInput {
	body := &types.Body{}
	if e.Text != "" {
		body.Text = sesContent(e.Text)
	}
	if e.HTML != "" {
		body.Html = sesContent(e.HTML)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: sesContent(e.Subject), Body: body},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("claim_kind"), Value: aws.String(tagValue(claimLabel(e.Kind)))},
		},
	}
	if e.CaseID != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("case_id"), Value: aws.String(tagValue(e.CaseID))})
	}
	return in
}

func (s *SESSender) Send(ctx context.Context, e DeskEmail) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	out, err := s.client.SendEmail(ctx, s.input(e))
	if err != nil {
		return fmt.Errorf("notify: SES case %s: %w", e.CaseID, err)
	}
	s.logger.Info("desk email sent", "provider", "ses", "case_id", e.CaseID, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesContent(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// tagValue maps a value onto the SES tag alphabet: ASCII letters, digits,
// underscore and dash.
func tagValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, v)
}

var _ Sender = (*SESSender)(nil)
