package campaign

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskflow/mailcenter/internal/models"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrEmptyName         = errors.New("recipient name is required")
	ErrEmptyEmail        = errors.New("recipient email is required")
)

// RecipientStore is an ordered, in-memory collection of campaign
// recipients. Ordering is stable so a send pass can address recipients
// by position. The store itself is not safe for concurrent use; the
// controller serializes access.
type RecipientStore struct {
	recipients []models.Recipient
}

// NewRecipientStore returns an empty store.
func NewRecipientStore() *RecipientStore {
	return &RecipientStore{recipients: []models.Recipient{}}
}

// Len returns the number of recipients.
func (s *RecipientStore) Len() int {
	return len(s.recipients)
}

// List returns a copy of the recipients in order.
func (s *RecipientStore) List() []models.Recipient {
	out := make([]models.Recipient, len(s.recipients))
	copy(out, s.recipients)
	return out
}

// Get returns the recipient with the given id.
func (s *RecipientStore) Get(id string) (*models.Recipient, error) {
	for i := range s.recipients {
		if s.recipients[i].ID == id {
			return &s.recipients[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
}

// At returns the recipient at a position, for preview focus.
func (s *RecipientStore) At(index int) (*models.Recipient, error) {
	if index < 0 || index >= len(s.recipients) {
		return nil, fmt.Errorf("%w: index %d", ErrRecipientNotFound, index)
	}
	return &s.recipients[index], nil
}

// Toggle adds the internal user as a recipient, or removes it if the id
// is already present. Toggling twice is a no-op overall.
func (s *RecipientStore) Toggle(user models.User) (added bool) {
	for i := range s.recipients {
		if s.recipients[i].ID == user.ID {
			s.recipients = append(s.recipients[:i], s.recipients[i+1:]...)
			return false
		}
	}
	s.recipients = append(s.recipients, models.Recipient{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Department: user.Department,
		Role:       user.Role,
		Source:     models.SourceInternal,
		Variables:  map[string]string{},
	})
	return true
}

// AddExternal adds a manually entered contact. Name and email must both
// be non-empty. The generated id is unique within the session.
func (s *RecipientStore) AddExternal(name, email string) (*models.Recipient, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if email == "" {
		return nil, ErrEmptyEmail
	}
	s.recipients = append(s.recipients, models.Recipient{
		ID:        "ext-" + uuid.New().String(),
		Name:      name,
		Email:     email,
		Source:    models.SourceExternal,
		Variables: map[string]string{},
	})
	return &s.recipients[len(s.recipients)-1], nil
}

// Remove deletes the recipient with the given id.
func (s *RecipientStore) Remove(id string) error {
	for i := range s.recipients {
		if s.recipients[i].ID == id {
			s.recipients = append(s.recipients[:i], s.recipients[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
}

// Clear removes every recipient. Used when the recipient mode switches,
// which never carries recipients over.
func (s *RecipientStore) Clear() {
	s.recipients = s.recipients[:0]
}

// SetVariable sets one variable override on a recipient.
func (s *RecipientStore) SetVariable(id, name, value string) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}
	if r.Variables == nil {
		r.Variables = map[string]string{}
	}
	r.Variables[name] = value
	return nil
}

// ResetVariables replaces a recipient's variables wholesale, normally
// with a fresh auto-mapping result.
func (s *RecipientStore) ResetVariables(id string, vars map[string]string) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}
	r.Variables = vars
	return nil
}

// SetStatus updates exactly one recipient by position. Callers must keep
// the ordering stable for the duration of a send pass.
func (s *RecipientStore) SetStatus(index int, status models.SendStatus, sendErr string) error {
	if index < 0 || index >= len(s.recipients) {
		return fmt.Errorf("%w: index %d", ErrRecipientNotFound, index)
	}
	s.recipients[index].Status = status
	s.recipients[index].Error = sendErr
	return nil
}
