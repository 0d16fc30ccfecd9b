package utils

import (
	"strings"
	"testing"
	"time"

	"medicall/models"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signClaims(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

// tamper swaps the payload segment for one claiming the admin role.
func tamper(t *testing.T, tok string) string {
	t.Helper()
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	forged := signClaims(t, "attacker", jwt.MapClaims{"sub": "u1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	parts[1] = strings.Split(forged, ".")[1]
	return strings.Join(parts, ".")
}

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("s3cret")

	for _, role := range []string{models.RolePatient, models.RoleDoctor, models.RoleAdmin} {
		tok, err := v.GenerateToken("64f000000000000000000001", role, time.Hour)
		require.NoError(t, err)

		id, err := v.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, models.Identity{UserID: "64f000000000000000000001", Role: role}, id)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier("s3cret")
	good, err := v.GenerateToken("u1", models.RolePatient, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "role": "patient"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"tampered":     tamper(t, good),
		"other secret": signClaims(t, "other", jwt.MapClaims{"sub": "u1", "role": "patient", "exp": time.Now().Add(time.Hour).Unix()}),
		"expired":      signClaims(t, "s3cret", jwt.MapClaims{"sub": "u1", "role": "patient", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   signClaims(t, "s3cret", jwt.MapClaims{"role": "patient", "exp": time.Now().Add(time.Hour).Unix()}),
		"unknown role": signClaims(t, "s3cret", jwt.MapClaims{"sub": "u1", "role": "provider", "exp": time.Now().Add(time.Hour).Unix()}),
		"alg none":     none,
	}

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			id, err := v.Verify(tok)
			require.Error(t, err)
			assert.True(t, IsAuthError(err))
			assert.Equal(t, models.Identity{}, id)
		})
	}
}
