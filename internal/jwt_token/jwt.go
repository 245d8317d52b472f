// Package jwttoken validates access tokens minted by the upstream auth subsystem.
// Quota enforcement only needs to know whether a caller is authenticated and who
// they are, so only the subject is read.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
)

// Claims carries the account in user_id, or in the registered sub claim for
// issuers that only set that.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Account returns the authenticated account id as a string.
func (c *Claims) Account() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// JWTService mints and validates HS256 access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	leeway     time.Duration
	now        func() time.Time
}

type Option func(*JWTService)

// WithLeeway tolerates clock skew between this service and the issuer.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewJWTService(signingKey, issuer, audience string, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		leeway:     30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAccessToken mints a token. Used by tests and local tooling; production
// tokens come from the auth subsystem sharing the signing key.
func (s *JWTService) GenerateAccessToken(userID id.UserID, expiresIn time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.Account() == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
