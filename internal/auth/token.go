package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/metrics"
	"github.com/strukta/bastion/internal/rbac"
)

var (
	// Credential failures: recoverable by re-authentication.
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrTokenMissing = errors.New("token is missing")
	// ErrWrongTokenKind is returned when a refresh operation receives an
	// access token or vice versa.
	ErrWrongTokenKind = errors.New("wrong token kind")

	// ErrSigningKeyUnavailable is a system failure, not a credential
	// failure; callers must not map it to a 401.
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
)

// TokenKind distinguishes short-lived access tokens from long-lived
// refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Principal is an authenticated actor. Immutable for the life of a
// session; role or clearance changes require re-authentication.
type Principal struct {
	ID        string
	Name      string
	Role      rbac.Role
	Clearance classify.Label
}

// Claims is the signed claim set carried by every token.
type Claims struct {
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	Clearance string    `json:"clearance,omitempty"`
	Kind      TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService issues, verifies, revokes, and rotates signed tokens.
type TokenService struct {
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	issuer      string
	revocations *RevocationList
	now         func() time.Time
}

// NewTokenService creates a token service around the given signing
// secret and revocation list.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, issuer string, revocations *RevocationList) *TokenService {
	return &TokenService{
		secret:      []byte(secret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		issuer:      issuer,
		revocations: revocations,
		now:         time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
	if s.revocations != nil {
		s.revocations.now = now
	}
}

// Issue signs a new token for the principal. Issuing never revokes
// prior tokens.
func (s *TokenService) Issue(p Principal, kind TokenKind) (string, *Claims, error) {
	if len(s.secret) == 0 {
		return "", nil, ErrSigningKeyUnavailable
	}

	ttl := s.accessTTL
	if kind == KindRefresh {
		ttl = s.refreshTTL
	}
	now := s.now()

	claims := Claims{
		Name:      p.Name,
		Role:      string(p.Role),
		Clearance: p.Clearance.String(),
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(kind)).Inc()
	return signed, &claims, nil
}

// Verify checks signature, expiry, and revocation, in that order, and
// returns the embedded principal. All expected failure modes come back
// as typed sentinel errors so callers can branch 401-style reasons.
func (s *TokenService) Verify(raw string) (*Principal, *Claims, error) {
	claims, err := s.parse(raw)
	if err != nil {
		result := "invalid"
		if errors.Is(err, ErrTokenExpired) {
			result = "expired"
		}
		metrics.TokenVerificationsTotal.WithLabelValues(result).Inc()
		return nil, nil, err
	}

	if s.revocations != nil && s.revocations.IsRevoked(claims.ID) {
		metrics.TokenVerificationsTotal.WithLabelValues("revoked").Inc()
		return nil, nil, ErrTokenRevoked
	}

	clearance := classify.Public
	if claims.Clearance != "" {
		if parsed, err := classify.ParseLabel(claims.Clearance); err == nil {
			clearance = parsed
		}
	}

	metrics.TokenVerificationsTotal.WithLabelValues("ok").Inc()
	return &Principal{
		ID:        claims.Subject,
		Name:      claims.Name,
		Role:      rbac.Role(claims.Role),
		Clearance: clearance,
	}, claims, nil
}

func (s *TokenService) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	if len(s.secret) == 0 {
		return nil, ErrSigningKeyUnavailable
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Revoke inserts the JTI into the revocation list for the given TTL.
// Idempotent.
func (s *TokenService) Revoke(jti string, ttl time.Duration) {
	if s.revocations == nil || jti == "" {
		return
	}
	s.revocations.Revoke(jti, ttl)
}

// RotateRefresh verifies the old refresh token, revokes it, and issues
// a new access+refresh pair. Revocation is first-caller-wins: a
// concurrent rotation of the same token fails with ErrTokenRevoked.
func (s *TokenService) RotateRefresh(raw string) (access string, refresh string, err error) {
	principal, claims, err := s.Verify(raw)
	if err != nil {
		return "", "", err
	}
	if claims.Kind != KindRefresh {
		return "", "", ErrWrongTokenKind
	}

	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if s.revocations == nil || !s.revocations.RevokeOnce(claims.ID, remaining) {
		return "", "", ErrTokenRevoked
	}

	access, _, err = s.Issue(*principal, KindAccess)
	if err != nil {
		return "", "", err
	}
	refresh, _, err = s.Issue(*principal, KindRefresh)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
