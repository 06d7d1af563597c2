package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// EmailSender is the part of the SES v2 client the email executor needs.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SMSPublisher is the part of the SNS client the messaging executor needs.
type SMSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewAWSClients loads the default credential chain for region.
func NewAWSClients(ctx context.Context, region string) (*sesv2.Client, *sns.Client, error) {
	if strings.TrimSpace(region) == "" {
		return nil, nil, fmt.Errorf("missing region")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), sns.NewFromConfig(cfg), nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
