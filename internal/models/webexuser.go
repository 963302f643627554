package models

import "time"

// WebexUser maps a platform user to a remote-service account. The remote
// password is used only for service API auth and is stored encrypted; it is
// regenerated whenever authentication with it fails.
type WebexUser struct {
	ID           int64     `json:"id"`
	PlatformUser string    `json:"platform_user"` // host LMS user identifier
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	WebexID      string    `json:"webex_id"` // remote username
	PasswordEnc  []byte    `json:"-"`        // AES-GCM ciphertext
	Manual       bool      `json:"manual"`   // account linked by an admin, never auto-reset
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
