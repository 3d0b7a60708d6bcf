package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Verifier checks console credentials against a single configured account.
type Verifier struct {
	username string
	hash     []byte
}

// NewVerifier builds a verifier from a bcrypt hash, or hashes the plain
// password when no hash is configured.
func NewVerifier(username, password, passwordHash string) (*Verifier, error) {
	if username == "" {
		return nil, fmt.Errorf("auth username is empty")
	}
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		return &Verifier{username: username, hash: []byte(passwordHash)}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &Verifier{username: username, hash: hash}, nil
}

func (v *Verifier) Verify(_ context.Context, username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(password)); err != nil || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}
