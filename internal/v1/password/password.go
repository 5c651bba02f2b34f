// Package password implements the room-password storage scheme toggle:
// plaintext with a constant-time compare, or a bcrypt hash. The scheme is
// fixed at process start by IS_ENCRYPTED_PASSWORD; rooms created under one
// scheme verify under the same scheme.
package password

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the cost the original deployment used for room
// passwords. Rooms are throwaway; a low cost keeps createRoom cheap.
const bcryptCost = 4

// Scheme encodes and verifies room passwords.
type Scheme struct {
	encrypted bool
}

// NewScheme returns the scheme selected by configuration.
func NewScheme(encrypted bool) *Scheme {
	return &Scheme{encrypted: encrypted}
}

// Encode converts a plaintext password into its storage form. Empty
// passwords pass through untouched: an empty stored password means the
// room is open.
func (s *Scheme) Encode(plain string) (string, error) {
	if plain == "" || !s.encrypted {
		return plain, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether candidate matches the stored password. Both
// branches are constant-time.
func (s *Scheme) Verify(stored, candidate string) bool {
	if stored == "" {
		return true
	}
	if s.encrypted {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}
