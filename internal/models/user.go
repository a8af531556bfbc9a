package models

import (
	"time"

	"github.com/google/uuid"
)

// CredentialKind tags how a user authenticates.
type CredentialKind string

const (
	// CredentialNone marks a partially registered user (no password, no
	// external identity yet).
	CredentialNone CredentialKind = "none"
	// CredentialLocal marks a user with a stored password hash.
	CredentialLocal CredentialKind = "local"
	// CredentialExternal marks a user linked to an external identity
	// (e.g. a Google OAuth subject).
	CredentialExternal CredentialKind = "external"
)

// Credentials is a tagged union: PasswordHash is meaningful only for
// CredentialLocal, ExternalID only for CredentialExternal. The kind tag keeps
// the two from ever being set at the same time.
type Credentials struct {
	Kind         CredentialKind `json:"kind"`
	PasswordHash string         `json:"-"` // Not serialized
	ExternalID   string         `json:"external_id,omitempty"`
}

// User represents a user in the system
type User struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	Username    string      `json:"username"`
	FullName    string      `json:"full_name,omitempty"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Credentials Credentials `json:"credentials"`
	Fingerprint string      `json:"-"` // Exposed via the ETag header instead
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// FingerprintFields lists every mutable field covered by the entity
// fingerprint, in a fixed order.
func (u *User) FingerprintFields() []string {
	return []string{
		u.Email,
		u.Username,
		u.FullName,
		u.AvatarURL,
		u.Phone,
		string(u.Credentials.Kind),
		u.Credentials.PasswordHash,
		u.Credentials.ExternalID,
	}
}
