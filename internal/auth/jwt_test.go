package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	secret, err := GenerateSecureSecret()
	require.NoError(t, err)
	iss, err := NewIssuer(secret, time.Hour)
	require.NoError(t, err)

	token, err := iss.Issue("alice", false)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	claims, err := iss.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.False(t, claims.ReadOnly)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateRejectsForeignToken(t *testing.T) {
	a, err := NewIssuer("", 0)
	require.NoError(t, err)
	b, err := NewIssuer("", 0)
	require.NoError(t, err)

	token, err := a.Issue("bob", true)
	require.NoError(t, err)

	_, err = b.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	for _, bad := range []string{"", "not.a.jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"} {
		_, err = a.Validate(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	iss, err := NewIssuer("", time.Nanosecond)
	require.NoError(t, err)
	token, err := iss.Issue("carol", false)
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = iss.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRejectsBadSecret(t *testing.T) {
	_, err := NewIssuer("too-short", 0)
	assert.Error(t, err)

	_, err = NewIssuer("c2hvcnQ=", 0)
	assert.ErrorIs(t, err, ErrShortSecret)
}

func TestGenerateSecureSecret(t *testing.T) {
	s1, err := GenerateSecureSecret()
	require.NoError(t, err)
	s2, err := GenerateSecureSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	assert.GreaterOrEqual(t, len(s1), 40)
}
