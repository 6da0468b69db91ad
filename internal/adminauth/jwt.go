// Package adminauth guards the admin surfaces (source/destination CRUD,
// event and delivery queries) with bearer-JWT validation: is this caller
// holding a token signed by our issuer, for our audience.
package adminauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Validator checks bearer tokens against an RSA public key plus the expected
// issuer/audience.
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// LoadFromFile reads a PEM-encoded RSA public key from path and builds a
// Validator for it.
func LoadFromFile(path, issuer, audience string) (*Validator, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return New(string(pemBytes), issuer, audience)
}

// New builds a Validator from a PEM-encoded RSA public key.
func New(publicKeyPEM, issuer, audience string) (*Validator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}

	return &Validator{publicKey: rsaKey, issuer: issuer, audience: audience}, nil
}

// Validate parses and verifies tokenString against the issuer/audience pair.
func (v *Validator) Validate(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid claims")
	}
	if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
		return fmt.Errorf("invalid issuer")
	}
	if aud, ok := claims["aud"].(string); !ok || aud != v.audience {
		return fmt.Errorf("invalid audience")
	}
	return nil
}

// HTTPMiddleware rejects requests with a missing or invalid bearer token.
func (v *Validator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || tokenString == authHeader {
			http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}
		if err := v.Validate(tokenString); err != nil {
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
