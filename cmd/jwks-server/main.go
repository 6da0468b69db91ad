// Command jwks-server mints the bearer tokens that guard the admin HTTP
// surface. It signs with an RSA key (loaded from ADMIN_JWT_PRIVATE_KEY or
// generated at startup) and publishes the verification side two ways: as a
// JWKS document, and as a PEM file written to ADMIN_JWT_PUBLIC_KEY_PATH for
// the ingest process's validator to load.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cvieirasp/webhookhub/internal/config"
	"github.com/cvieirasp/webhookhub/internal/logging"
)

const keyID = "webhookhub-admin-1"

type tokenServer struct {
	key      *rsa.PrivateKey
	issuer   string
	audience string
	logger   *logging.Logger
}

func loadOrGenerateKey(privateKeyPEM string) (*rsa.PrivateKey, bool, error) {
	if privateKeyPEM == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		return key, true, err
	}
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, false, fmt.Errorf("ADMIN_JWT_PRIVATE_KEY is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse private key: %w", err)
	}
	return key, false, nil
}

// publicKeyPEM renders the verification key in the PKIX form
// internal/adminauth loads.
func publicKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (s *tokenServer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &s.key.PublicKey
	doc := struct {
		Keys []jwk `json:"keys"`
	}{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Kid: keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(doc)
}

type tokenRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (s *tokenServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}
	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"sub": req.Subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Duration(ttl) * time.Second).Unix(),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		s.logger.Plain().WithError(err).Error("token signing failed")
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      signed,
		"expires_in": ttl,
		"token_type": "Bearer",
	})
}

func (s *tokenServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func main() {
	cfg := config.FromEnv().AdminAuth
	logger := logging.New("webhookhub-jwks")

	key, generated, err := loadOrGenerateKey(cfg.JWTPrivateKeyPEM)
	if err != nil {
		logger.Plain().WithError(err).Fatal("signing key unavailable")
	}
	if generated {
		logger.Plain().Info("generated new RSA signing key")
	}

	if cfg.JWTPublicKeyPath != "" {
		pemBytes, err := publicKeyPEM(key)
		if err != nil {
			logger.Plain().WithError(err).Fatal("encode public key failed")
		}
		if err := os.WriteFile(cfg.JWTPublicKeyPath, pemBytes, 0o644); err != nil {
			logger.Plain().WithError(err).Fatal("write public key failed")
		}
		logger.Plain().WithField("path", cfg.JWTPublicKeyPath).Info("public key written")
	}

	srv := &tokenServer{key: key, issuer: cfg.JWTIssuer, audience: cfg.JWTAudience, logger: logger}

	logger.Plain().WithField("addr", cfg.TokenPort).Info("jwks server starting")
	if err := http.ListenAndServe(cfg.TokenPort, srv.routes()); err != nil {
		logger.Plain().WithError(err).Fatal("jwks server failed")
	}
}
