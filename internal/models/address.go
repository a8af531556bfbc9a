package models

import (
	"time"

	"github.com/google/uuid"
)

// Address represents a contact address owned by a user. The owning user is
// fixed at creation time; only the text fields may change afterwards.
type Address struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Country     string    `json:"country"`
	City        string    `json:"city"`
	Street      string    `json:"street"`
	PostalCode  string    `json:"postal_code"`
	Fingerprint string    `json:"-"` // Exposed via the ETag header instead
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FingerprintFields lists every mutable field covered by the entity
// fingerprint, in a fixed order.
func (a *Address) FingerprintFields() []string {
	return []string{
		a.UserID.String(),
		a.Country,
		a.City,
		a.Street,
		a.PostalCode,
	}
}
