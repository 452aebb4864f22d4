// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package push delivers signed task notifications to client webhooks.
package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Claim names carried by notification tokens.
const (
	ClaimIssuedAt          = "iat"
	ClaimRequestBodySHA256 = "request_body_sha256"
)

// Signer signs notification bodies with an ES256 key and publishes the
// matching public key as a JSON Web Key Set.
type Signer struct {
	kid  string
	key  *ecdsa.PrivateKey
	jwks jwk.Set
	now  func() time.Time
}

// NewSigner generates a fresh P-256 key pair with a random key id.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return NewSignerWithKey(uuid.NewString(), key)
}

// NewSignerWithKey returns a Signer for an existing key.
func NewSignerWithKey(kid string, key *ecdsa.PrivateKey) (*Signer, error) {
	pub, err := jwk.Import(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("failed to set key id: %w", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.ES256()); err != nil {
		return nil, fmt.Errorf("failed to set key algorithm: %w", err)
	}
	if err := pub.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}

	return &Signer{
		kid:  kid,
		key:  key,
		jwks: set,
		now:  time.Now,
	}, nil
}

// KeyID returns the id of the signing key.
func (s *Signer) KeyID() string {
	return s.kid
}

// JWKS returns the public key set.
func (s *Signer) JWKS() jwk.Set {
	return s.jwks
}

// Sign returns a compact JWT binding body to the current time.
func (s *Signer) Sign(body []byte) (string, error) {
	claims := jwt.MapClaims{
		ClaimIssuedAt:          s.now().Unix(),
		ClaimRequestBodySHA256: BodyDigest(body),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.kid

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// JWKSHandler serves the public key set at /.well-known/jwks.json.
func (s *Signer) JWKSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(s.jwks)
		if err != nil {
			http.Error(w, "failed to encode key set", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}

// BodyDigest returns the hex encoded SHA-256 of body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
