package registration

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

type Patient struct {
	ID           int64
	FirstName    string
	LastName     string
	Email        string
	PhoneNumber  string
	RegisteredAt time.Time
	PublishedAt  *time.Time
}

type RegisterRequest struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
}

func (r *RegisterRequest) normalize() error {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)

	switch {
	case r.FirstName == "" || r.LastName == "":
		return fmt.Errorf("first_name and last_name are required: %w", fault.ErrPreconditionFailed)
	case r.PhoneNumber == "":
		return fmt.Errorf("phone_number is required: %w", fault.ErrPreconditionFailed)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("invalid email %q: %w", r.Email, fault.ErrPreconditionFailed)
	}
	return nil
}
