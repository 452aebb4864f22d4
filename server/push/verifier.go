// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// DefaultMaxTokenAge is how old a notification token may be.
const DefaultMaxTokenAge = 5 * time.Minute

// Verification errors.
var (
	ErrMissingToken   = errors.New("authorization header with bearer token required")
	ErrTokenExpired   = errors.New("token is expired")
	ErrBodyMismatch   = errors.New("request body hash does not match token")
	ErrUnknownKeyID   = errors.New("signing key not found in key set")
	ErrUnsupportedKey = errors.New("unsupported signing key type")
)

// Verifier authenticates notifications on the receiving side by checking
// their token against the sender's published key set.
type Verifier struct {
	jwksURL string
	client  *http.Client
	maxAge  time.Duration
	now     func() time.Time

	mu   sync.Mutex
	jwks jwk.Set
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierHTTPClient sets the client used to fetch the key set.
func WithVerifierHTTPClient(c *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.client = c
	}
}

// WithMaxTokenAge sets how old a token's iat may be.
func WithMaxTokenAge(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxAge = d
	}
}

// NewVerifier returns a Verifier fetching keys from jwksURL.
func NewVerifier(jwksURL string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		maxAge:  DefaultMaxTokenAge,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyRequest reads the body of r and verifies it against the bearer
// token of r. The body is returned so callers can decode it.
func (v *Verifier) VerifyRequest(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if err := v.Verify(r.Context(), r.Header.Get("Authorization"), body); err != nil {
		return nil, err
	}
	return body, nil
}

// Verify checks that authHeader carries a valid token for body.
func (v *Verifier) Verify(ctx context.Context, authHeader string, body []byte) error {
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || raw == "" {
		return ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.publicKey(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return fmt.Errorf("invalid token: missing %s claim", ClaimIssuedAt)
	}
	if v.now().Sub(iat.Time) > v.maxAge {
		return ErrTokenExpired
	}

	digest, _ := claims[ClaimRequestBodySHA256].(string)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(BodyDigest(body))) != 1 {
		return ErrBodyMismatch
	}
	return nil
}

// publicKey returns the key for kid, refetching the key set once when the
// cached set does not know it.
func (v *Verifier) publicKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		if key, ok := v.jwks.LookupKeyID(kid); ok {
			return exportECDSA(key)
		}
	}

	set, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	v.jwks = set

	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	return exportECDSA(key)
}

func (v *Verifier) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK response: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}

	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}

func exportECDSA(key jwk.Key) (*ecdsa.PublicKey, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}

	switch k := raw.(type) {
	case *ecdsa.PublicKey:
		return k, nil
	case ecdsa.PublicKey:
		return &k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, raw)
	}
}
