package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/bastionauth/bastion/internal/models"
	pkglogger "github.com/bastionauth/bastion/pkg/logger"
)

// SMSSender delivers one-time codes to a phone number. The concrete gateway
// lives outside this module; deployments plug in their provider here.
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSMSSender is the development stand-in: it logs instead of sending.
type LogSMSSender struct {
	Logger *slog.Logger
}

// SendCode logs the delivery request without exposing the code itself.
func (s *LogSMSSender) SendCode(ctx context.Context, phone, code string) error {
	s.Logger.InfoContext(ctx, "sms code delivery requested",
		slog.String("phone", pkglogger.SanitizedPhone(phone)),
		slog.Int("code_length", len(code)))
	return nil
}

// SESNotifier sends security alert emails to the operations address using
// AWS SES.
type SESNotifier struct {
	sesClient    *ses.Client
	fromAddress  string
	adminAddress string
	logger       *slog.Logger
}

// NewSESNotifier creates a new SES-backed notifier
func NewSESNotifier(region, fromAddress, adminAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:    ses.NewFromConfig(cfg),
		fromAddress:  fromAddress,
		adminAddress: adminAddress,
		logger:       logger,
	}, nil
}

// SendSecurityAlert emails a classified security event to the admin address.
func (n *SESNotifier) SendSecurityAlert(ctx context.Context, event models.SecurityEvent) error {
	subject := fmt.Sprintf("[%s] Security alert: %s", strings.ToUpper(string(event.Severity)), event.Type)

	var body strings.Builder
	fmt.Fprintf(&body, "A security event was recorded at %s.\n\n", event.OccurredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Event:    %s\n", event.Type)
	fmt.Fprintf(&body, "Severity: %s\n", event.Severity)
	if event.SubjectUserID != "" {
		fmt.Fprintf(&body, "User:     %s\n", event.SubjectUserID)
	}
	if event.IPAddress != "" {
		fmt.Fprintf(&body, "Source:   %s\n", event.IPAddress)
	}
	if len(event.Metadata) > 0 {
		body.WriteString("\nDetails:\n")
		for k, v := range event.Metadata {
			fmt.Fprintf(&body, "  %s: %s\n", k, v)
		}
	}
	body.WriteString("\nReview the audit trail for surrounding activity.\n")

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.adminAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body.String()),
				},
			},
		},
	}

	if _, err := n.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send security alert: %w", err)
	}

	n.logger.InfoContext(ctx, "security alert sent",
		slog.String("event_type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("recipient", pkglogger.SanitizedEmail(n.adminAddress)))
	return nil
}

// LogNotifier logs alerts instead of sending them. Used when outbound email
// is disabled.
type LogNotifier struct {
	Logger *slog.Logger
}

// SendSecurityAlert logs the alert at warn level.
func (n *LogNotifier) SendSecurityAlert(ctx context.Context, event models.SecurityEvent) error {
	n.Logger.WarnContext(ctx, "security alert (delivery disabled)",
		slog.String("event_type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("subject_user_id", event.SubjectUserID),
		slog.String("ip_address", event.IPAddress))
	return nil
}
