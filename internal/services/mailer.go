package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/BradenHooton/dealerdesk/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/sethvargo/go-retry"
)

// TemplateOTP is the mail template carrying a one-time code
const TemplateOTP = "mfa_otp"

// Mailer sends templated mail
type Mailer interface {
	Deliver(ctx context.Context, template, recipient string, payload map[string]any) error
}

type mailTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var mailTemplates = map[string]mailTemplate{
	TemplateOTP: {
		subject: texttemplate.Must(texttemplate.New("subject").Parse(
			`Your DealerDesk verification code{{if .ActionText}} for {{.ActionText}}{{end}}`)),
		text: texttemplate.Must(texttemplate.New("text").Parse(`Your verification code is {{.Code}}

{{if .ActionText}}You asked to perform: {{.ActionText}}
{{end}}The code expires at {{.ExpiresAt}}. It can be used once.

If you did not request this code, contact your dealership administrator.
`)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>Verification code</h1>
    {{if .ActionText}}<p>You asked to perform: <strong>{{.ActionText}}</strong></p>{{end}}
    <p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
    <p>The code expires at {{.ExpiresAt}}. It can be used once.</p>
    <p style="color: #666; font-size: 12px;">If you did not request this code, contact your dealership administrator.</p>
  </div>
</body>
</html>
`)),
	},
}

type renderedMail struct {
	subject string
	text    string
	html    string
}

func renderMail(name string, payload map[string]any) (*renderedMail, error) {
	tmpl, ok := mailTemplates[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail template %q", name)
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, payload); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := tmpl.text.Execute(&text, payload); err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := tmpl.html.Execute(&html, payload); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}

	return &renderedMail{subject: subject.String(), text: text.String(), html: html.String()}, nil
}

// SESSender is the slice of the SES client the mailer uses
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends mail through AWS SES, retrying transient failures with
// bounded exponential backoff.
type SESMailer struct {
	client      SESSender
	fromAddress string
	maxRetries  uint64
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewSESMailer loads the default AWS config for region and builds a mailer
func NewSESMailer(ctx context.Context, region, fromAddress string, maxRetries uint64, baseDelay time.Duration, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, maxRetries, baseDelay, logger), nil
}

// NewSESMailerWithClient builds a mailer around an existing SES client
func NewSESMailerWithClient(client SESSender, fromAddress string, maxRetries uint64, baseDelay time.Duration, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		fromAddress: fromAddress,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		logger:      logger,
	}
}

func (m *SESMailer) Deliver(ctx context.Context, template, recipient string, payload map[string]any) error {
	mail, err := renderMail(template, payload)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(mail.subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(mail.html)},
				Text: &types.Content{Data: aws.String(mail.text)},
			},
		},
	}

	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(m.baseDelay))
	backoff = retry.WithCappedDuration(5*time.Second, backoff)

	var messageID string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := m.client.SendEmail(ctx, input)
		if err != nil {
			m.logger.Warn("SES send attempt failed",
				slog.String("email", logger.SanitizedEmail(recipient)),
				slog.Any("error", err))
			return retry.RetryableError(err)
		}
		if result.MessageId != nil {
			messageID = *result.MessageId
		}
		return nil
	})
	if err != nil {
		m.logger.Error("failed to send mail via SES",
			slog.String("template", template),
			slog.String("email", logger.SanitizedEmail(recipient)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("mail sent",
		slog.String("template", template),
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("message_id", messageID))

	return nil
}

// LogMailer writes mail to the log instead of sending it. The code is only
// shown outside production.
type LogMailer struct {
	env    string
	logger *slog.Logger
}

func NewLogMailer(env string, logger *slog.Logger) *LogMailer {
	return &LogMailer{env: env, logger: logger}
}

func (m *LogMailer) Deliver(ctx context.Context, template, recipient string, payload map[string]any) error {
	mail, err := renderMail(template, payload)
	if err != nil {
		return err
	}

	code, _ := payload["Code"].(string)
	m.logger.InfoContext(ctx, "mail captured",
		slog.String("template", template),
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("subject", mail.subject),
		logger.RedactedAttr("code", code, m.env),
	)
	return nil
}
