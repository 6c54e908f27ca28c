package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"incidentdesk/internal/models"
)

const issuer = "incidentdesk"

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenRevoked  = errors.New("token revoked")
)

// Claims identifies the caller of every back-office route.
type Claims struct {
	ID   int64       `json:"id"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Caller() models.Ref {
	return models.Ref{Role: c.Role, ID: c.ID}
}

// RevocationStore remembers logged-out token ids until they would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Service issues and validates signed caller tokens.
type Service struct {
	secret      []byte
	tokenTTL    time.Duration
	headerName  string
	revocations RevocationStore
	now         func() time.Time
}

// NewService constructs an auth service. revocations may be nil, in which case
// logout cannot invalidate a token before it expires.
func NewService(secret string, ttl time.Duration, revocations RevocationStore) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must be provided")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:      []byte(secret),
		tokenTTL:    ttl,
		headerName:  "Authorization",
		revocations: revocations,
		now:         time.Now,
	}, nil
}

// IssueToken signs a token for the given participant.
func (s *Service) IssueToken(ref models.Ref) (string, error) {
	if !ref.Valid() {
		return "", fmt.Errorf("invalid caller %s", ref)
	}
	now := s.now()
	claims := &Claims{
		ID:   ref.ID,
		Role: ref.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   ref.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, expiry and revocation and returns the claims.
func (s *Service) ParseToken(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenRequired
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Caller().Valid() {
		return nil, ErrInvalidToken
	}
	if s.revocations != nil && claims.RegisteredClaims.ID != "" {
		revoked, err := s.revocations.IsRevoked(ctx, claims.RegisteredClaims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// RevokeToken blacklists the token for the rest of its lifetime.
func (s *Service) RevokeToken(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.RegisteredClaims.ID == "" {
		return nil
	}
	if s.revocations == nil {
		return errors.New("token revocation is not configured")
	}
	ttl := s.tokenTTL
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.RegisteredClaims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
