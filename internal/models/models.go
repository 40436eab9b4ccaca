package models

// TemplateCategory classifies an email template by HR workflow.
type TemplateCategory string

const (
	CategoryHiring     TemplateCategory = "hiring"
	CategoryInterview  TemplateCategory = "interview"
	CategoryLeave      TemplateCategory = "leave"
	CategoryAttendance TemplateCategory = "attendance"
	CategoryOther      TemplateCategory = "other"
)

// Template is an email template loaded read-only from the template source.
// Subject and HTML carry {{variable}} placeholders; Variables declares
// which placeholders exist.
type Template struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Code      string           `json:"code"`
	Category  TemplateCategory `json:"category"`
	Subject   string           `json:"subject"`
	HTML      string           `json:"html_content"`
	Variables []VariableInfo   `json:"variables,omitempty"`
}

// VariableInfo documents a declared template variable.
type VariableInfo struct {
	Name    string `json:"name"`
	Example string `json:"example,omitempty"`
}

// RecipientSource tells whether a recipient came from the workspace
// directory or was entered manually.
type RecipientSource string

const (
	SourceInternal RecipientSource = "internal"
	SourceExternal RecipientSource = "external"
)

// SendStatus tracks a recipient through a send pass. Only the campaign
// controller mutates it.
type SendStatus string

const (
	StatusUnset   SendStatus = ""
	StatusPending SendStatus = "pending"
	StatusSending SendStatus = "sending"
	StatusSent    SendStatus = "sent"
	StatusFailed  SendStatus = "failed"
)

// Recipient is one addressee of a campaign. Variables holds explicit
// overrides only; auto-derived values are recomputed on demand.
type Recipient struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	Department string            `json:"department,omitempty"`
	Role       string            `json:"role,omitempty"`
	Source     RecipientSource   `json:"source"`
	Variables  map[string]string `json:"variables"`
	Status     SendStatus        `json:"status"`
	Error      string            `json:"error,omitempty"`
}

// User is an internal workspace member from the user directory.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role,omitempty"`
}

// SendSummary reports the outcome of one send pass.
type SendSummary struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
