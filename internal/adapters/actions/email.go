package actions

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// EmailExecutor renders a letter and sends it through SES.
//
// Params: template (billing_dispute | admin_escalation), recipient (billing | admin).
type EmailExecutor struct {
	settings Settings
	sender   EmailSender
}

func NewEmailExecutor(s Settings, sender EmailSender) *EmailExecutor {
	return &EmailExecutor{settings: s, sender: sender}
}

func (e *EmailExecutor) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	name := step.Params.Get("template", "billing_dispute")
	if !hasTemplate(name) || !hasTemplate(name+"_subject") {
		return nil, fmt.Errorf("%w: unknown email template %q", domain.ErrInvalidInput, name)
	}

	var to string
	switch who := step.Params.Get("recipient", "billing"); who {
	case "billing":
		to = c.BillingEmail()
	case "admin":
		to = c.AdminEmail()
	default:
		return nil, fmt.Errorf("%w: unknown recipient %q", domain.ErrInvalidInput, who)
	}

	data := newLetter(c)
	subject, err := render(name+"_subject", data)
	if err != nil {
		return nil, err
	}
	body, err := render(name, data)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"subject":   subject,
		"recipient": to,
		"body":      body,
	}

	if e.settings.DemoMode || e.sender == nil {
		if err := pause(ctx, e.settings.DemoDelay); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Message:  "Email sent to " + to,
			DemoMode: true,
			Data:     payload,
		}, nil
	}

	out, err := e.sender.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.settings.SenderEmail),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		ReplyToAddresses: []string{c.Facts.PatientEmail},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ses send to %s: %w", to, err)
	}

	payload["message_id"] = strOrEmpty(out.MessageId)
	return &domain.StepResult{
		Message: "Email sent successfully to " + to,
		Data:    payload,
	}, nil
}
