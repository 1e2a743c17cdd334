package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("unit-test-secret")

	token, err := v.Issue(Principal{ID: "U1", Roles: []string{"sales_agent", "courier"}}, time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", p.ID)
	assert.Equal(t, []string{"sales_agent", "courier"}, p.Roles)
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v := NewVerifier("s")
	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewVerifier("secret-a")
	token, err := signer.Issue(Principal{ID: "U1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("s")
	token, err := v.Issue(Principal{ID: "U1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier("s").Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := NewVerifier("s")
	token, err := v.Issue(Principal{ID: ""}, time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHasAnyRole(t *testing.T) {
	p := Principal{ID: "U1", Roles: []string{"courier"}}

	assert.True(t, p.HasAnyRole(nil), "empty allowed set permits everyone")
	assert.True(t, p.HasAnyRole([]string{"admin", "courier"}))
	assert.False(t, p.HasAnyRole([]string{"admin"}))
}
