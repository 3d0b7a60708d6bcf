package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifier_PlainPassword(t *testing.T) {
	v, err := NewVerifier("admin", "password", "")
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, v.Verify(ctx, "admin", "password"))
	assert.ErrorIs(t, v.Verify(ctx, "admin", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, v.Verify(ctx, "root", "password"), ErrInvalidCredentials)
	assert.ErrorIs(t, v.Verify(ctx, "", ""), ErrInvalidCredentials)
}

func TestVerifier_ConfiguredHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	v, err := NewVerifier("admin", "ignored", string(hash))
	require.NoError(t, err)
	assert.NoError(t, v.Verify(context.Background(), "admin", "s3cret"))
	assert.Error(t, v.Verify(context.Background(), "admin", "ignored"))
}

func TestNewVerifier_Invalid(t *testing.T) {
	_, err := NewVerifier("", "password", "")
	assert.Error(t, err)

	_, err = NewVerifier("admin", "", "not-a-bcrypt-hash")
	assert.Error(t, err)
}
