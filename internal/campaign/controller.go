package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taskflow/mailcenter/internal/mailer"
	"github.com/taskflow/mailcenter/internal/models"
)

// Step identifies a wizard step.
type Step int

const (
	StepTemplate   Step = 1
	StepRecipients Step = 2
	StepReview     Step = 3
)

var (
	ErrNoTemplate     = errors.New("no template selected")
	ErrNoRecipients   = errors.New("no recipients added")
	ErrSendInProgress = errors.New("a send pass is in progress")
	ErrInvalidStep    = errors.New("invalid step transition")
	ErrWrongStep      = errors.New("operation not allowed on current step")
)

// Options tunes controller behavior.
type Options struct {
	// ClearOverridesOnTemplateChange drops per-recipient variable
	// overrides when a different template is selected, instead of
	// carrying edits that may no longer apply.
	ClearOverridesOnTemplateChange bool
}

// StatusFunc is invoked after every per-recipient status transition
// during a send pass.
type StatusFunc func(index int, r models.Recipient)

// Controller owns one campaign: the wizard step, the selected template,
// the recipient collection and the global variable defaults. All state
// changes go through its methods so the step and send guards hold in one
// place.
type Controller struct {
	mu sync.Mutex

	step        Step
	template    *models.Template
	mode        models.RecipientSource
	globals     map[string]string
	recipients  *RecipientStore
	activeIndex int
	sending     bool

	registry *Registry
	sender   mailer.Sender
	logger   *slog.Logger
	opts     Options

	workspaceName string
	appURL        string
	now           func() time.Time
}

// New creates a controller at the template step.
func New(sender mailer.Sender, registry *Registry, workspaceName, appURL string, opts Options, logger *slog.Logger) *Controller {
	return &Controller{
		step:          StepTemplate,
		mode:          models.SourceInternal,
		globals:       map[string]string{},
		recipients:    NewRecipientStore(),
		registry:      registry,
		sender:        sender,
		logger:        logger.With("component", "campaign"),
		opts:          opts,
		workspaceName: workspaceName,
		appURL:        appURL,
		now:           time.Now,
	}
}

func (c *Controller) context() Context {
	return Context{
		WorkspaceName: c.workspaceName,
		AppURL:        c.appURL,
		CurrentDate:   c.now().Format("2006-01-02"),
	}
}

// Step returns the current wizard step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Template returns the selected template, or nil.
func (c *Controller) Template() *models.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.template
}

// Mode returns the current recipient mode.
func (c *Controller) Mode() models.RecipientSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// GlobalVariables returns a copy of the campaign-wide defaults.
func (c *Controller) GlobalVariables() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.globals))
	for k, v := range c.globals {
		out[k] = v
	}
	return out
}

// Recipients returns the recipients in order.
func (c *Controller) Recipients() []models.Recipient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipients.List()
}

// IsSending reports whether a send pass is running.
func (c *Controller) IsSending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// SelectTemplate sets the campaign template and, atomically with it:
// switches the recipient mode (external for hiring and interview
// templates, internal otherwise, clearing recipients on a mode change),
// seeds the global defaults from the declared variables, and re-derives
// every remaining recipient's auto-mapped variables.
func (c *Controller) SelectTemplate(tmpl *models.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}

	c.template = tmpl

	mode := models.SourceInternal
	if tmpl.Category == models.CategoryHiring || tmpl.Category == models.CategoryInterview {
		mode = models.SourceExternal
	}
	if mode != c.mode {
		c.mode = mode
		c.recipients.Clear()
	}

	ctx := c.context()
	c.globals = map[string]string{}
	for _, v := range tmpl.Variables {
		switch v.Name {
		case "workspaceName":
			c.globals[v.Name] = ctx.WorkspaceName
		case "appUrl":
			c.globals[v.Name] = ctx.AppURL
		case "currentDate":
			c.globals[v.Name] = ctx.CurrentDate
		default:
			c.globals[v.Name] = v.Example
		}
	}

	for _, r := range c.recipients.List() {
		auto := AutoVariables(&r, tmpl, ctx)
		if !c.opts.ClearOverridesOnTemplateChange {
			// Carry existing edits over the fresh auto-mapping.
			for k, v := range r.Variables {
				auto[k] = v
			}
		}
		c.recipients.ResetVariables(r.ID, auto)
	}

	if c.step == StepTemplate {
		c.step = StepRecipients
	}
	return nil
}

// CanAdvance reports whether the wizard may move to the given step.
func (c *Controller) CanAdvance(to Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdvance(to)
}

func (c *Controller) canAdvance(to Step) bool {
	switch to {
	case StepRecipients:
		return c.template != nil
	case StepReview:
		return c.template != nil && c.recipients.Len() > 0
	default:
		return to == StepTemplate
	}
}

// Advance moves the wizard forward one step, honoring the guards.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	next := c.step + 1
	if next > StepReview {
		return ErrInvalidStep
	}
	if !c.canAdvance(next) {
		if c.template == nil {
			return ErrNoTemplate
		}
		return ErrNoRecipients
	}
	c.step = next
	return nil
}

// Back moves the wizard backward one step without clearing state.
// Blocked mid-send.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	if c.step <= StepTemplate {
		return ErrInvalidStep
	}
	c.step--
	return nil
}

// SetMode switches between internal and external recipients, clearing
// the recipient collection. Switching to the current mode is a no-op.
func (c *Controller) SetMode(mode models.RecipientSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	if mode == c.mode {
		return nil
	}
	c.mode = mode
	c.recipients.Clear()
	return nil
}

// ToggleUser adds the internal user as a recipient, or removes it if
// already present. The new recipient gets auto-mapped variables.
func (c *Controller) ToggleUser(user models.User) (added bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return false, ErrSendInProgress
	}
	added = c.recipients.Toggle(user)
	if added && c.template != nil {
		r, _ := c.recipients.Get(user.ID)
		c.recipients.ResetVariables(user.ID, AutoVariables(r, c.template, c.context()))
	}
	return added, nil
}

// AddExternal adds a manually entered contact with auto-mapped variables.
func (c *Controller) AddExternal(name, email string) (*models.Recipient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return nil, ErrSendInProgress
	}
	r, err := c.recipients.AddExternal(name, email)
	if err != nil {
		return nil, err
	}
	if c.template != nil {
		c.recipients.ResetVariables(r.ID, AutoVariables(r, c.template, c.context()))
	}
	out := *r
	return &out, nil
}

// RemoveRecipient deletes a recipient by id.
func (c *Controller) RemoveRecipient(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	return c.recipients.Remove(id)
}

// SetGlobalVariable sets one campaign-wide default.
func (c *Controller) SetGlobalVariable(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	c.globals[name] = value
	return nil
}

// SetRecipientVariable sets one override on a recipient.
func (c *Controller) SetRecipientVariable(id, name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	return c.recipients.SetVariable(id, name, value)
}

// ResetRecipientVariables discards a recipient's overrides and restores
// the auto-mapping for the selected template.
func (c *Controller) ResetRecipientVariables(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	if c.template == nil {
		return ErrNoTemplate
	}
	r, err := c.recipients.Get(id)
	if err != nil {
		return err
	}
	return c.recipients.ResetVariables(id, AutoVariables(r, c.template, c.context()))
}

// SetActiveRecipient moves the preview/edit focus.
func (c *Controller) SetActiveRecipient(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.recipients.At(index); err != nil {
		return err
	}
	c.activeIndex = index
	return nil
}

// ActiveRecipient returns the recipient under preview/edit focus.
func (c *Controller) ActiveRecipient() (*models.Recipient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.recipients.At(c.activeIndex)
	if err != nil {
		return nil, err
	}
	out := *r
	return &out, nil
}

// RenderPreview renders the subject and body for one recipient using
// the same merge order as the send pass.
func (c *Controller) RenderPreview(recipientID string) (Preview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.template == nil {
		return Preview{}, ErrNoTemplate
	}
	r, err := c.recipients.Get(recipientID)
	if err != nil {
		return Preview{}, err
	}
	return RenderPreview(c.template, c.globals, r), nil
}

// ValidateRecipient checks the template's required variables against the
// same merged set a send pass would use for this recipient, so globals
// and the identity fields count as provided.
func (c *Controller) ValidateRecipient(id string) (ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.template == nil {
		return ValidationResult{}, ErrNoTemplate
	}
	r, err := c.recipients.Get(id)
	if err != nil {
		return ValidationResult{}, err
	}
	return c.registry.Validate(c.template.Code, mergeVariables(c.globals, r)), nil
}

// ValidateGlobals checks the required variables against the campaign-wide
// defaults alone, for a campaign-level readiness signal before any
// recipient is picked.
func (c *Controller) ValidateGlobals() (ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.template == nil {
		return ValidationResult{}, ErrNoTemplate
	}
	return c.registry.Validate(c.template.Code, c.globals), nil
}

// Send runs one send pass: strictly sequential, one in-flight message,
// per-recipient failures isolated. A fully successful pass resets the
// campaign; a partial one stays on the review step so failed recipients
// can be inspected and retried. Recipients not yet attempted when ctx is
// cancelled keep their pending status.
//
// onStatus, when non-nil, is invoked after every status transition of
// this pass. The callback is scoped to the accepted pass only; a Send
// rejected by the in-progress guard never observes or disturbs it.
func (c *Controller) Send(ctx context.Context, onStatus StatusFunc) (models.SendSummary, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return models.SendSummary{}, ErrSendInProgress
	}
	if c.step != StepReview {
		c.mu.Unlock()
		return models.SendSummary{}, ErrWrongStep
	}
	if c.template == nil {
		c.mu.Unlock()
		return models.SendSummary{}, ErrNoTemplate
	}
	total := c.recipients.Len()
	if total == 0 {
		c.mu.Unlock()
		return models.SendSummary{}, ErrNoRecipients
	}
	c.sending = true
	for i := 0; i < total; i++ {
		c.recipients.SetStatus(i, models.StatusPending, "")
	}
	tmpl := c.template
	c.mu.Unlock()

	summary := models.SendSummary{Total: total}
	var passErr error

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			passErr = err
			break
		}

		c.setStatus(onStatus, i, models.StatusSending, "")

		c.mu.Lock()
		r, _ := c.recipients.At(i)
		vars := mergeVariables(c.globals, r)
		to := mailer.Address{Email: r.Email, Name: r.Name}
		c.mu.Unlock()

		if res := c.registry.Validate(tmpl.Code, vars); !res.IsValid {
			c.logger.Warn("sending with missing required variables",
				"template", tmpl.Code, "email", to.Email, "missing", res.Missing)
		}

		msg := &mailer.Message{
			Recipients: []mailer.Address{to},
			Subject:    tmpl.Subject,
			HTML:       tmpl.HTML,
			TemplateID: tmpl.ID,
			Variables:  vars,
		}

		if err := c.sender.Send(ctx, msg); err != nil {
			summary.Failed++
			c.setStatus(onStatus, i, models.StatusFailed, err.Error())
			c.logger.Error("send failed", "email", to.Email, "error", err)
			continue
		}

		summary.Sent++
		c.setStatus(onStatus, i, models.StatusSent, "")
		c.logger.Debug("email sent", "email", to.Email, "template", tmpl.ID)
	}

	c.mu.Lock()
	c.sending = false
	if summary.Sent == total {
		c.resetLocked()
	}
	c.mu.Unlock()

	c.logger.Info("send pass finished", "total", summary.Total, "sent", summary.Sent, "failed", summary.Failed)
	return summary, passErr
}

func (c *Controller) setStatus(fn StatusFunc, index int, status models.SendStatus, sendErr string) {
	c.mu.Lock()
	c.recipients.SetStatus(index, status, sendErr)
	var snapshot models.Recipient
	if r, err := c.recipients.At(index); err == nil {
		snapshot = *r
	}
	c.mu.Unlock()

	if fn != nil {
		fn(index, snapshot)
	}
}

// Reset returns the campaign to its initial state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrSendInProgress
	}
	c.resetLocked()
	return nil
}

func (c *Controller) resetLocked() {
	c.step = StepTemplate
	c.template = nil
	c.mode = models.SourceInternal
	c.globals = map[string]string{}
	c.recipients.Clear()
	c.activeIndex = 0
}
