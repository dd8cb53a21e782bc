// Package callback signs the answer/hangup URLs handed to telephony
// backends, so the event intake endpoints only accept callbacks for calls
// this engine actually placed.
package callback

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("callback: invalid token")
)

type Claims struct {
	CallRequestID string `json:"callrequest_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies the short-lived HMAC tokens carried by
// callback URLs.
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("callback: secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clock: time.Now}, nil
}

// Sign appends a token query parameter to base, scoped to one call request.
func (s *Signer) Sign(base, callRequestID string) string {
	token, err := s.issue(callRequestID)
	if err != nil {
		// An unsignable URL is still a usable URL; verification will
		// reject the callback and the failure surfaces there.
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Signer) issue(callRequestID string) (string, error) {
	now := s.clock()
	claims := Claims{
		CallRequestID: callRequestID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the token and returns the call request it is scoped to.
func (s *Signer) Verify(token string) (string, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.clock() }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.CallRequestID == "" {
		return "", fmt.Errorf("%w: callrequest_id missing", ErrInvalidToken)
	}
	return claims.CallRequestID, nil
}
