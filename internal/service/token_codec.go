package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/models"
)

// TokenCodec signs and verifies access and refresh tokens. The two classes
// use independent secrets.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	now           func() time.Time
	logger        *logrus.Logger
}

func NewTokenCodec(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenCodec, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, fmt.Errorf("token secrets must be at least 32 bytes")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}

	return &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		issuer:        cfg.Issuer,
		now:           time.Now,
		logger:        logger,
	}, nil
}

func (c *TokenCodec) IssueAccessToken(subjectID, sessionID string) (string, time.Time, error) {
	return c.issue(models.TokenTypeAccess, subjectID, sessionID, c.accessSecret, c.accessExpiry)
}

func (c *TokenCodec) IssueRefreshToken(subjectID, sessionID string) (string, time.Time, error) {
	return c.issue(models.TokenTypeRefresh, subjectID, sessionID, c.refreshSecret, c.refreshExpiry)
}

// IssuePair issues a fresh access and refresh token for the subject.
func (c *TokenCodec) IssuePair(subjectID, sessionID string) (*models.TokenPair, error) {
	access, accessExp, err := c.IssueAccessToken(subjectID, sessionID)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := c.IssueRefreshToken(subjectID, sessionID)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (c *TokenCodec) issue(typ models.TokenType, subjectID, sessionID string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(ttl)

	// jti keeps two tokens issued within the same second distinct.
	claims := &models.Claims{
		Type:      typ,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		c.logger.WithError(err).WithField("type", typ).Error("Failed to sign token")
		return "", time.Time{}, internalError("failed to sign "+string(typ)+" token", err)
	}

	return signed, expiresAt, nil
}

func (c *TokenCodec) VerifyAccessToken(token string) (*models.Claims, error) {
	return c.verify(token, c.accessSecret, models.TokenTypeAccess)
}

func (c *TokenCodec) VerifyRefreshToken(token string) (*models.Claims, error) {
	return c.verify(token, c.refreshSecret, models.TokenTypeRefresh)
}

// verify checks the signature before expiry, so ErrTokenExpired is only
// returned for tokens this service actually signed.
func (c *TokenCodec) verify(token string, secret []byte, typ models.TokenType) (*models.Claims, error) {
	claims := &models.Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, &Error{Kind: KindAuthentication, Reason: ReasonInvalidToken, Message: ErrInvalidToken.Message, Err: err}
	}

	if !parsed.Valid || claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
