// Package auth provides bearer-token verification for relay connections.
// Tokens are HS256 JWTs whose "id" claim carries the user identity assigned
// by the backing store.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMissingClaims is returned when required claims are missing
	ErrMissingClaims = errors.New("missing required claims")
)

// Verifier validates bearer credentials and yields the owning user identity.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a new token verifier with the given signing secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
	}
}

// VerifyToken validates a JWT and extracts the user id.
// It verifies:
// - Token signature (HMAC only)
// - Token expiration
// - The required "id" claim
func (v *Verifier) VerifyToken(tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	// Parse and validate the token
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		// No else needed: early return pattern (guard clause)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})

	// No else needed: early return pattern (guard clause)
	if err != nil {
		// Check for specific error types
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		// No else needed: early return pattern (guard clause)
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// No else needed: early return pattern (guard clause)
	if !token.Valid {
		return 0, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	// Extract claims
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return 0, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	// Extract the user id. JSON numbers arrive as float64.
	userID, err := extractUserID(mapClaims["id"])
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMissingClaims, err)
	}

	return userID, nil
}

// extractUserID converts the id claim to an int64
func extractUserID(claim interface{}) (int64, error) {
	switch v := claim.(type) {
	case float64:
		id := int64(v)
		// No else needed: early return pattern (guard clause)
		if id <= 0 {
			return 0, fmt.Errorf("id claim must be a positive integer, got %v", v)
		}
		return id, nil
	case nil:
		return 0, fmt.Errorf("id claim missing")
	default:
		return 0, fmt.Errorf("id claim has unexpected type %T", claim)
	}
}
