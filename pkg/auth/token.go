package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the token payload. Access tokens carry the identity extras;
// refresh tokens carry only the registered claims and the kind.
type Claims struct {
	Kind        TokenKind `json:"type"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	IsSuperuser bool      `json:"is_superuser,omitempty"`
	Roles       []string  `json:"roles,omitempty"`

	jwt.RegisteredClaims
}

// UserID parses the subject as a numeric user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject is not a user id", ErrTokenInvalid)
	}
	return id, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"-"`
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec signs and verifies HS256 tokens. It holds no mutable state and
// is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec creates a codec. The secret must not be empty.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, fmt.Errorf("access ttl %s must be shorter than refresh ttl %s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	return &TokenCodec{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the codec using now as its time source.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// IssueAccess signs an access token for subject. Identity fields of extra are
// copied; its registered claims and kind are overwritten.
func (c *TokenCodec) IssueAccess(subject string, extra Claims) (string, time.Time, error) {
	claims := Claims{
		Username:    extra.Username,
		Email:       extra.Email,
		IsSuperuser: extra.IsSuperuser,
		Roles:       extra.Roles,
	}
	return c.issue(subject, TokenAccess, c.accessTTL, claims)
}

// IssueRefresh signs a refresh token for subject.
func (c *TokenCodec) IssueRefresh(subject string) (string, time.Time, error) {
	return c.issue(subject, TokenRefresh, c.refreshTTL, Claims{})
}

func (c *TokenCodec) issue(subject string, kind TokenKind, ttl time.Duration, claims Claims) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(ttl)

	claims.Kind = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// Decode verifies the signature, expiry and issuer of token and returns its
// claims. The kind is not checked; use DecodeKind at call sites that require one.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, c.keyFunc, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case !parsed.Valid:
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Kind != TokenAccess && claims.Kind != TokenRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrTokenInvalid, claims.Kind)
	}
	return claims, nil
}

// DecodeKind decodes token and asserts its kind.
func (c *TokenCodec) DecodeKind(token string, kind TokenKind) (*Claims, error) {
	claims, err := c.Decode(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongTokenType, claims.Kind, kind)
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return c.secret, nil
}
