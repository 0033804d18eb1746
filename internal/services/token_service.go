package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

// Token type values carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	tokenIssuer   = "syncflow"
	tokenAudience = "syncflow-api"
)

// Claims are the JWT claims on every token this server issues. Subject is
// the user id the token was minted for; PairedUID is set when that identity
// was later attached to a real account through pairing, so a client holding
// pre-pairing tokens keeps working without re-authenticating.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID  string `json:"deviceId"`
	PairedUID string `json:"pairedUid,omitempty"`
	TokenType string `json:"type"`
	Admin     bool   `json:"admin,omitempty"`
}

// EffectiveUserID resolves the account the token acts on. All resource
// ownership checks go through this; accounts are never merged, the paired id
// simply wins.
func (c *Claims) EffectiveUserID() string {
	if c.PairedUID != "" {
		return c.PairedUID
	}
	return c.Subject
}

// TokenPair is an access/refresh credential set.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService issues, verifies and rotates the server's JWTs. Stateless
// apart from the refresh revocation list: access tokens are short-lived and
// never checked against storage.
type TokenService struct {
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revokedRepo repository.RevokedTokenRepo
}

// NewTokenService creates a new TokenService
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, revokedRepo repository.RevokedTokenRepo) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{
		secret:      []byte(secret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		revokedRepo: revokedRepo,
	}
}

// Issue mints an access/refresh pair for a device identity. pairedUID is
// empty for ordinary tokens and set when a temporary pairing identity is
// bound to a real account.
func (s *TokenService) Issue(userID, deviceID, pairedUID string, admin bool) (*TokenPair, error) {
	access, err := s.sign(TokenTypeAccess, userID, deviceID, pairedUID, admin, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.sign(TokenTypeRefresh, userID, deviceID, pairedUID, admin, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) sign(tokenType, userID, deviceID, pairedUID string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   userID,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		DeviceID:  deviceID,
		PairedUID: pairedUID,
		TokenType: tokenType,
		Admin:     admin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token of the expected type. Every failure
// mode collapses to models.ErrInvalidToken. Refresh tokens are additionally
// checked against the revocation list; access tokens are not, their lifetime
// bounds the exposure.
func (s *TokenService) Verify(ctx context.Context, tokenString, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience))
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != tokenType {
		return nil, models.ErrInvalidToken
	}

	if tokenType == TokenTypeRefresh {
		revoked, err := s.revokedRepo.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return nil, models.ErrInvalidToken
		}
	}

	return claims, nil
}

// Refresh exchanges a live refresh token for a new access token with the
// same identity. The refresh token itself is not rotated.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.Verify(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", err
	}
	return s.sign(TokenTypeAccess, claims.Subject, claims.DeviceID, claims.PairedUID, claims.Admin, s.accessTTL)
}

// Revoke adds a refresh token to the deny list until its natural expiry.
// Revoking an already-invalid token is not an error.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.Verify(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	} else {
		expiresAt = time.Now().Add(s.refreshTTL)
	}
	if err := s.revokedRepo.Add(ctx, claims.ID, expiresAt); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
