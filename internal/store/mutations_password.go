package store

import (
	"fmt"

	"relaycast/internal/auth"
	"relaycast/internal/models"
)

// PasswordKind selects which of the two credential slots set_password
// targets: the main API password, or the restricted
// output-view password.
type PasswordKind string

const (
	PasswordMain   PasswordKind = "MAIN"
	PasswordOutput PasswordKind = "OUTPUT"
)

// SetPassword updates the argon2 hash for kind. old, when the corresponding
// hash is already set, must verify before the change is accepted; new=""
// clears the credential (disabling that auth gate).
func (s *Store) SetPassword(kind PasswordKind, old, new string) (Result, error) {
	var newHash string
	if new != "" {
		h, err := auth.Hash(new, auth.DefaultParams)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		newHash = h
	}

	return s.commit("set_password", func(doc *models.Document) (Result, error) {
		var current *string
		switch kind {
		case PasswordMain:
			current = &doc.PasswordHash
		case PasswordOutput:
			current = &doc.PasswordOutputHash
		default:
			return "", fmt.Errorf("%w: unknown password kind %q", ErrValidation, kind)
		}
		if *current != "" {
			if err := auth.Verify(*current, old); err != nil {
				return Conflict, fmt.Errorf("old password does not match")
			}
		}
		if *current == newHash {
			return NoChange, nil
		}
		*current = newHash
		return Applied, nil
	})
}
