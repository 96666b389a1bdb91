// Package token issues and verifies HMAC-signed bearer tokens. Tokens are
// stateless: the payload {sub, kind, exp, iat} is the whole record, there is
// no revocation list, and a leaked token stays valid until its expiry.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags what a token may be used for. A refresh token must never be
// accepted where an access token is required, and vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrMalformed covers tokens that do not parse or whose payload shape is
	// wrong (missing subject, unknown kind).
	ErrMalformed = errors.New("token malformed")
	// ErrSignature is returned when the signature does not verify.
	ErrSignature = errors.New("token signature invalid")
	// ErrExpired is returned for structurally valid tokens past their expiry.
	ErrExpired = errors.New("token expired")
	// ErrAlgorithmMismatch is returned when the token header names a signing
	// algorithm other than the configured one.
	ErrAlgorithmMismatch = errors.New("token algorithm mismatch")
)

// Config holds the process-wide signing material and TTLs.
type Config struct {
	Secret        []byte
	SigningMethod string // "hs256" (default), "hs384", "hs512"
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the signed payload.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Codec issues and verifies tokens. Stateless and safe for concurrent use.
type Codec struct {
	config Config
	method jwt.SigningMethod
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}

	var method jwt.SigningMethod
	switch cfg.SigningMethod {
	case "", "hs256":
		method = jwt.SigningMethodHS256
	case "hs384":
		method = jwt.SigningMethodHS384
	case "hs512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Codec{config: cfg, method: method}, nil
}

// IssueAccess signs a short-lived access token for subject.
func (c *Codec) IssueAccess(subject string) (string, error) {
	return c.issue(subject, KindAccess, c.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for subject. Its only valid
// use is exchanging it for a new access token.
func (c *Codec) IssueRefresh(subject string) (string, error) {
	return c.issue(subject, KindRefresh, c.config.RefreshTTL)
}

func (c *Codec) issue(subject string, kind Kind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	return jwt.NewWithClaims(c.method, claims).SignedString(c.config.Secret)
}

var errUnexpectedAlgorithm = errors.New("unexpected signing algorithm")

// Verify checks signature, algorithm, expiry, and payload shape, short
// circuiting on the first failure, and returns the subject and kind. Callers
// enforce which kind an operation accepts.
func (c *Codec) Verify(tokenStr string) (string, Kind, error) {
	// Algorithm enforcement lives in the keyfunc so a mismatch keeps its own
	// rejection reason instead of collapsing into a signature failure.
	parser := jwt.NewParser(jwt.WithExpirationRequired())
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, errUnexpectedAlgorithm
		}
		return c.config.Secret, nil
	})
	if err != nil {
		return "", "", mapError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", "", ErrMalformed
	}
	if claims.Subject == "" {
		return "", "", ErrMalformed
	}
	switch claims.Kind {
	case KindAccess, KindRefresh:
	default:
		return "", "", ErrMalformed
	}

	return claims.Subject, claims.Kind, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, errUnexpectedAlgorithm):
		return ErrAlgorithmMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
