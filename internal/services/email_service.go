package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// EmailSender delivers verification emails
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SESAPI is the subset of the SES client used for sending
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func verificationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/auth/verify-email?token=%s", baseURL, url.QueryEscape(token))
}

// SESEmailService sends emails using AWS SES
type SESEmailService struct {
	client      SESAPI
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewSESEmailService loads the default AWS config for region and creates the SES client
func NewSESEmailService(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*SESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, baseURL, logger), nil
}

// NewSESEmailServiceWithClient wraps an existing SES client
func NewSESEmailServiceWithClient(client SESAPI, fromAddress, baseURL string, logger *slog.Logger) *SESEmailService {
	return &SESEmailService{
		client:      client,
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}
}

const verificationHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h1>Verify your email address</h1>
  <p>To finish creating your account, confirm your email address:</p>
  <p><a href="%s">Verify email address</a></p>
  <p>This link expires at %s.</p>
  <p>If you did not create this account you can ignore this message.</p>
</body>
</html>
`

const verificationText = `Verify your email address

To finish creating your account, open this link:

%s

This link expires at %s.
If you did not create this account you can ignore this message.
`

// SendVerificationEmail sends a verification email to the user
func (s *SESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := verificationLink(s.baseURL, token)
	expires := expiresAt.UTC().Format(time.RFC1123)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Verify your email address")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(fmt.Sprintf(verificationHTML, link, expires))},
				Text: &types.Content{Data: aws.String(fmt.Sprintf(verificationText, link, expires))},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService writes the verification link to the log. Development only.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

// NewLogEmailService creates a new LogEmailService
func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "verification email (not sent)",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("link", verificationLink(s.baseURL, token)),
		slog.Time("expires_at", expiresAt))
	return nil
}
