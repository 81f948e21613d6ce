// Package comms exposes outward communication tools: email and the local
// calendar.
package comms

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"coco/internal/logging"
	"coco/internal/tools"
)

// SMTP settings come from the environment; the email tool is unavailable
// without them and never appears in the LLM's schema list.
const (
	envSMTPHost = "COCO_SMTP_HOST" // host:port
	envSMTPUser = "COCO_SMTP_USER"
	envSMTPPass = "COCO_SMTP_PASS"
	envSMTPFrom = "COCO_SMTP_FROM"
)

// EmailAvailable reports whether SMTP credentials are configured.
func EmailAvailable() bool {
	return os.Getenv(envSMTPHost) != "" && os.Getenv(envSMTPFrom) != ""
}

// sendFunc is swapped in tests to avoid a real SMTP conversation.
var sendFunc = smtp.SendMail

// SendEmailTool sends a plain-text email through the configured SMTP relay.
// Outward-facing: autonomous invocations go through the approval outbox.
func SendEmailTool() *tools.Tool {
	return &tools.Tool{
		Name:             "send_email",
		Description:      "Send a plain-text email",
		Category:         tools.CategoryComms,
		Available:        EmailAvailable,
		RequiresApproval: true,
		Schema: tools.Schema{
			Required: []string{"to", "subject", "body"},
			Properties: map[string]tools.Property{
				"to":      {Type: "string", Description: "Recipient address"},
				"subject": {Type: "string", Description: "Subject line"},
				"body":    {Type: "string", Description: "Plain-text body"},
			},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			to, _ := input["to"].(string)
			subject, _ := input["subject"].(string)
			body, _ := input["body"].(string)
			if !strings.Contains(to, "@") {
				return "", fmt.Errorf("%w: recipient %q is not an address", tools.ErrInvalidInput, to)
			}

			host := os.Getenv(envSMTPHost)
			from := os.Getenv(envSMTPFrom)
			var auth smtp.Auth
			if user := os.Getenv(envSMTPUser); user != "" {
				auth = smtp.PlainAuth("", user, os.Getenv(envSMTPPass), strings.Split(host, ":")[0])
			}

			msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, to, subject, body)
			if err := sendFunc(host, auth, from, []string{to}, []byte(msg)); err != nil {
				return "", fmt.Errorf("%w: smtp: %v", tools.ErrExternalFailure, err)
			}
			logging.Tools("send_email: to=%s subject=%q", to, subject)
			return fmt.Sprintf("Email sent to %s: %s", to, subject), nil
		},
	}
}
