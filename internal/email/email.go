// Package email sends transactional mail. The only message the engine sends
// itself is the order receipt; see OrderNotifier.
package email

import "context"

// Email represents an email message to be sent.
type Email struct {
	To       []string          // Recipient email addresses
	From     string            // Sender email address; senders fall back to their default
	Subject  string            // Email subject
	TextBody string            // Plain text body
	Headers  map[string]string // Custom headers (optional)
}

// Sender defines the interface for sending emails.
// Implementations can use SMTP, Postmark, or just log.
type Sender interface {
	// Send sends an email message.
	// Returns the message ID from the email provider (if available).
	Send(ctx context.Context, email *Email) (string, error)
}
