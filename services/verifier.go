package services

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the decoded result of a verified credential.
type Identity struct {
	UserID   string
	TenantID string
}

// TokenVerifier validates credentials issued by the external auth service
// and extracts the caller's identity. The engine never issues or refreshes
// tokens itself.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token, returning the identity carried
// in its sub and tenantId claims.
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the alg is what we expect
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	tenantID, _ := claims["tenantId"].(string)
	if userID == "" || tenantID == "" {
		return nil, errors.New("token missing identity claims")
	}

	return &Identity{UserID: userID, TenantID: tenantID}, nil
}
