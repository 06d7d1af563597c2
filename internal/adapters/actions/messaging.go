package actions

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// MessagingExecutor sends a short case notification by SMS. Messages always
// go to the configured test number, never to the patient's phone.
type MessagingExecutor struct {
	settings  Settings
	publisher SMSPublisher
}

func NewMessagingExecutor(s Settings, publisher SMSPublisher) *MessagingExecutor {
	return &MessagingExecutor{settings: s, publisher: publisher}
}

func (m *MessagingExecutor) Execute(ctx context.Context, c domain.CaseFile, step domain.EscalationStep) (*domain.StepResult, error) {
	name := step.Params.Get("template", "case_opened")
	if !hasTemplate(name) {
		return nil, fmt.Errorf("%w: unknown message template %q", domain.ErrInvalidInput, name)
	}
	text, err := render(name, newLetter(c))
	if err != nil {
		return nil, err
	}

	phone := m.settings.TestPhoneNumber
	payload := map[string]any{"phone": phone, "text": text}

	if m.settings.DemoMode || m.publisher == nil || phone == "" {
		if err := pause(ctx, m.settings.DemoDelay); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Message:  "SMS notification simulated",
			DemoMode: true,
			Data:     payload,
		}, nil
	}

	out, err := m.publisher.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("sns publish: %w", err)
	}

	payload["message_id"] = strOrEmpty(out.MessageId)
	return &domain.StepResult{
		Message: "SMS sent to " + phone,
		Data:    payload,
	}, nil
}
