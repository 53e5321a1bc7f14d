// Package ses implements a Provider that sends messages via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-send-lite/internal/compose"
	"github.com/shineum/smtp-send-lite/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Compose controls rendering of the raw message.
	Compose compose.Options
}

// Provider sends messages as raw MIME through the SES v2 API, so SES
// delivers exactly the message an SMTP relay would have received.
type Provider struct {
	client  SendEmailAPI
	compose compose.Options
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Provider. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg.Compose), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, opts compose.Options) *Provider {
	return &Provider{client: client, compose: opts}
}

// Send renders msg and submits it as a raw message. Bcc recipients are
// passed in the destination only.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	rendered, err := compose.Render(msg, p.compose)
	if err != nil {
		return err
	}

	input := buildRawInput(msg, rendered.Bytes())

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}

	var sesID string
	if out != nil {
		sesID = aws.ToString(out.MessageId)
	}
	slog.Info("message sent",
		"provider", p.Name(),
		"ses_message_id", sesID,
		"message_id", rendered.MessageID,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

func buildRawInput(msg *email.Message, raw []byte) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.Email),
		Destination: &types.Destination{
			ToAddresses:  email.Emails(msg.To),
			CcAddresses:  email.Emails(msg.Cc),
			BccAddresses: email.Emails(msg.Bcc),
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
}
