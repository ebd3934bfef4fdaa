package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/pkg/config"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

// refreshTokenBytes is the entropy of the opaque refresh token value.
const refreshTokenBytes = 64

// TokenService issues and validates the two token kinds: signed JWT access
// tokens and opaque refresh tokens. Full access tokens carry the user's
// permissions; scoped tokens carry an empty permission list and the MFA
// verification scope instead.
type TokenService struct {
	config config.JWTConfig
	logger *zap.Logger
}

// NewTokenService constructs a TokenService. It fails rather than issue
// tokens signed with an empty secret.
func NewTokenService(cfg config.JWTConfig, logger *zap.Logger) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{config: cfg, logger: logger}, nil
}

// IssueAccessToken signs a short-lived full-access token carrying the given
// permissions.
func (s *TokenService) IssueAccessToken(user *models.User, perms []models.Permission, now time.Time) (string, error) {
	return s.sign(user, perms, "", now, s.config.AccessTokenExpiry)
}

// IssueScopedToken signs a token restricted to the MFA endpoints. It carries
// no permissions regardless of the user's roles.
func (s *TokenService) IssueScopedToken(user *models.User, now time.Time) (string, error) {
	return s.sign(user, nil, models.ScopeMFAVerification, now, s.config.ScopedTokenExpiry)
}

// NewRefreshToken builds an unsaved refresh token with a fresh opaque value.
func (s *TokenService) NewRefreshToken(userID, ip string, now time.Time) (*models.RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       base64.StdEncoding.EncodeToString(buf),
		ExpiresAt:   now.Add(s.config.RefreshTokenExpiry),
		CreatedAt:   now,
		CreatedByIP: ip,
	}, nil
}

// ValidateAccessToken parses and verifies an access token, returning its
// claims. Expired and mis-signed tokens are both rejected as unauthorized.
func (s *TokenService) ValidateAccessToken(tokenString string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(s.config.Audience),
	)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *TokenService) sign(user *models.User, perms []models.Permission, scope string, now time.Time, expiry time.Duration) (string, error) {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode permissions claim: %w", err)
	}

	claims := &models.AccessClaims{
		UserID:      user.ID,
		FullName:    user.FullName(),
		Permissions: string(encoded),
		Scope:       scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// PermissionNames decodes the permissions claim back into a name list.
func PermissionNames(claims *models.AccessClaims) []string {
	if claims.Permissions == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(claims.Permissions), &names); err != nil {
		return nil
	}
	return names
}
