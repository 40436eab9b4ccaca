// Package mailer delivers individually personalized campaign emails
// through a transactional HTTP provider or a direct SMTP smarthost.
package mailer

import "context"

// Address is one email addressee.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is one logical email: a single recipient with its merged
// variable set. The provider performs the final interpolation.
type Message struct {
	Recipients []Address         `json:"recipients"`
	Subject    string            `json:"subject"`
	HTML       string            `json:"htmlContent"`
	TemplateID string            `json:"templateId,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// Sender delivers a single message. Implementations must be safe for
// sequential reuse across a send pass.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
