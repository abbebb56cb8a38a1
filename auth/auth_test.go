package auth

import (
	"chat-relay/errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Cheap parameters keep the suite fast, the format is identical.
var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestHashAndVerify(t *testing.T) {
	req := require.New(t)
	verifier := NewPasswordVerifier(testParams)
	password := "correct horse battery staple"

	hash, err := verifier.Hash(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := verifier.Verify(password, hash)
	req.NoError(err)
	req.True(match)

	// Wrong password
	match, err = verifier.Verify("wrong", hash)
	req.NoError(err)
	req.False(match)
}

func TestHash_Is_Salted(t *testing.T) {
	req := require.New(t)
	verifier := NewPasswordVerifier(testParams)

	first, err := verifier.Hash("secret")
	req.NoError(err)
	second, err := verifier.Hash("secret")
	req.NoError(err)

	req.NotEqual(first, second)
}

func TestVerify_Legacy_Bcrypt_Hash(t *testing.T) {
	req := require.New(t)
	verifier := NewPasswordVerifier(testParams)

	// Given an account imported from the legacy store
	legacy, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	req.NoError(err)

	// Then both outcomes are reported without error
	match, err := verifier.Verify("hunter2", string(legacy))
	req.NoError(err)
	req.True(match)

	match, err = verifier.Verify("hunter3", string(legacy))
	req.NoError(err)
	req.False(match)
}

func TestVerify_Rejects_Garbage_Hash(t *testing.T) {
	req := require.New(t)
	verifier := NewPasswordVerifier(testParams)

	_, err := verifier.Verify("secret", "not-a-hash")
	req.ErrorIs(err, errors.ErrInvalidHash)
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"Valid credentials", "alice", "pw", nil},
		{"Dots dashes and underscores", "bob.smith-2_x", "pw", nil},
		{"Empty username", "", "pw", errors.ErrInvalidUsername},
		{"Separator in username", "ali:ce", "pw", errors.ErrInvalidUsername},
		{"Space in username", "ali ce", "pw", errors.ErrInvalidUsername},
		{"Username too long", strings.Repeat("a", 33), "pw", errors.ErrInvalidUsername},
		{"Empty password", "alice", "", errors.ErrInvalidPassword},
		{"Password too long", "alice", strings.Repeat("a", 73), errors.ErrInvalidPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			err := ValidateCredentials(tt.username, tt.password)
			if tt.wantErr == nil {
				req.NoError(err)
				return
			}
			req.ErrorIs(err, tt.wantErr)
		})
	}
}

func BenchmarkHash(b *testing.B) {
	verifier := NewPasswordVerifier(DefaultParams)
	for i := 0; i < b.N; i++ {
		_, _ = verifier.Hash("A-very-long-and-complex-password-for-bench-123!")
	}
}
