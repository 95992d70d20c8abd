// Package session issues and validates the signed, time-bounded bearer tokens
// handed out after a successful login. Tokens are stateless; nothing is stored
// server-side, so there is no revocation before expiry.
package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
)

// MinKeyLength is the shortest accepted HMAC-SHA256 signing key, in bytes.
const MinKeyLength = 32

const (
	DefaultTTL    = time.Hour
	DefaultIssuer = "music-app"
)

// sentinel errors for token validation
var (
	ErrTokenInvalid     = errors.New("session: invalid token")
	ErrInvalidSignature = fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	ErrMalformed        = fmt.Errorf("%w: malformed", ErrTokenInvalid)
	ErrExpired          = errors.New("session: token expired")
	ErrInvalidTTL       = errors.New("session: ttl must be positive")
	ErrKeyTooShort      = fmt.Errorf("session: signing key must be at least %d bytes", MinKeyLength)
)

// Config holds the process-wide signing material.
type Config struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
}

// ConfigFromEnv reads JWT_SECRET, TOKEN_TTL and TOKEN_ISSUER. A malformed
// TOKEN_TTL is reported rather than silently replaced.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		SigningKey: []byte(os.Getenv("JWT_SECRET")),
		Issuer:     DefaultIssuer,
		TTL:        DefaultTTL,
	}
	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("bad TOKEN_TTL: %w", err)
		}
		cfg.TTL = d
	}
	return cfg, nil
}

// Claims is the signed payload. Subject, IssuedAt and ExpiresAt carry the
// identity id and validity window at whole-second precision (exp rounded up);
// IssuedAtNano and ExpiresAtNano carry the exact instants that Validate uses.
type Claims struct {
	jwt.RegisteredClaims
	IssuedAtNano  int64 `json:"iat_ns"`
	ExpiresAtNano int64 `json:"exp_ns"`
}

// Issuer signs and validates tokens with a single HMAC key. It holds no
// mutable state and is safe for concurrent use.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewIssuer copies the key so later mutation by the caller cannot affect it.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}
	iss := cfg.Issuer
	if iss == "" {
		iss = DefaultIssuer
	}
	key := make([]byte, len(cfg.SigningKey))
	copy(key, cfg.SigningKey)
	return &Issuer{
		key:    key,
		issuer: iss,
		ttl:    ttl,
		// expiry is checked by Validate so that now == exp stays valid
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the configured default lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs {sub, iat=now, exp=now+ttl}.
func (i *Issuer) Issue(subject string, now time.Time, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	if subject == "" {
		return "", fmt.Errorf("session: empty subject")
	}
	jti, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return "", fmt.Errorf("session: token id: %w", err)
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(exp)),
			ID:        jti.String(),
		},
		IssuedAtNano:  now.UnixNano(),
		ExpiresAtNano: exp.UnixNano(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return signed, nil
}

// Validate checks the signature and the validity window at now and returns
// the subject. Errors match ErrMalformed, ErrInvalidSignature or ErrExpired.
func (i *Issuer) Validate(token string, now time.Time) (string, error) {
	var claims Claims
	_, err := i.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.ExpiresAtNano == 0 {
		return "", ErrMalformed
	}
	if claims.Issuer != i.issuer {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	if now.After(time.Unix(0, claims.ExpiresAtNano)) {
		return "", ErrExpired
	}
	return claims.Subject, nil
}

// ceilSecond rounds t up to the next whole second so the coarse exp never
// ends before the exact one.
func ceilSecond(t time.Time) time.Time {
	s := t.Truncate(time.Second)
	if s.Before(t) {
		s = s.Add(time.Second)
	}
	return s
}
