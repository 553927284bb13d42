// Package auth issues and verifies the bearer tokens that identify API
// callers by ledger address.
package auth

import (
	"GameLedger/internal/apperr"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// minSecretLen is the shortest HMAC secret accepted.
const minSecretLen = 32

// Config holds the shared HS256 secret and token policy.
type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Claims are the validated claims of a caller token.
type Claims struct {
	Address   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JWTID     string
}

// Authenticator signs and verifies caller tokens. The subject claim
// carries the caller's canonical address.
type Authenticator struct {
	cfg Config
}

func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{cfg: cfg}, nil
}

// Issue signs a token for address valid for ttl (the configured TTL when
// ttl is zero).
func (a *Authenticator) Issue(address string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = a.cfg.TTL
	}
	now := a.cfg.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Issuer,
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and lifetime. Every failure is
// UNAUTHENTICATED.
func (a *Authenticator) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperr.New(apperr.CodeUnauthenticated, "bearer token is required")
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.cfg.Now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, apperr.New(apperr.CodeUnauthenticated, "token subject is required")
	}

	claims := Claims{
		Address:   parsed.Subject,
		Issuer:    parsed.Issuer,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(apperr.CodeUnauthenticated, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return apperr.Wrap(apperr.CodeUnauthenticated, "token not active yet", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.Wrap(apperr.CodeUnauthenticated, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.Wrap(apperr.CodeUnauthenticated, "token issuer mismatch", err)
	default:
		return apperr.Wrap(apperr.CodeUnauthenticated, "token is invalid", err)
	}
}
