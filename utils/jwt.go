package utils

import (
	"errors"
	"fmt"
	"time"

	"medicall/models"

	"github.com/golang-jwt/jwt"
)

// AuthError is returned when a connection credential cannot be trusted.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err came from token verification.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// TokenVerifier checks HS256 access tokens against a shared secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// GenerateToken creates a signed JWT for userID with the given role.
// The token expires after the specified duration.
func (v *TokenVerifier) GenerateToken(userID, role string, duration time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(duration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates signature and expiry and returns the embedded identity.
func (v *TokenVerifier) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, &AuthError{Reason: "missing token"}
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, &AuthError{Reason: "invalid or expired token", Err: err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Identity{}, &AuthError{Reason: "invalid token"}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.Identity{}, &AuthError{Reason: "token does not contain a valid 'sub' claim"}
	}
	role, _ := claims["role"].(string)
	if !models.ValidRole(role) {
		return models.Identity{}, &AuthError{Reason: "token does not contain a valid 'role' claim"}
	}

	return models.Identity{UserID: sub, Role: role}, nil
}
