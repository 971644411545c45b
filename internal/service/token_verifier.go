package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/models"
)

// TokenVerifier turns a presented access token into an identity. It performs
// no writes. The identity carries a sanitized copy of the user.
type TokenVerifier struct {
	codec        *TokenCodec
	users        CredentialStore
	storeTimeout time.Duration
	logger       *logrus.Logger
}

func NewTokenVerifier(codec *TokenCodec, users CredentialStore, storeTimeout time.Duration, logger *logrus.Logger) *TokenVerifier {
	return &TokenVerifier{
		codec:        codec,
		users:        users,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

func (v *TokenVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := v.codec.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, v.storeTimeout)
	defer cancel()

	user, err := v.users.GetByID(storeCtx, claims.Subject)
	if err != nil {
		mapped := storeError(err, "failed to resolve token subject")
		if AsError(mapped).Kind == KindInternal {
			v.logger.WithError(err).WithField("user_id", claims.Subject).Error("Identity lookup failed")
		} else {
			v.logger.WithField("user_id", claims.Subject).Info("Token subject no longer exists")
		}
		return nil, mapped
	}

	return &models.Identity{
		User:      user.Sanitized(),
		SessionID: claims.SessionID,
	}, nil
}
