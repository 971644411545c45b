package service

import (
	"context"
	"errors"
	"time"

	"github.com/streamhub/streamhub/internal/models"
	"github.com/streamhub/streamhub/internal/repository"
)

// CredentialStore owns persisted user records.
type CredentialStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByLogin(ctx context.Context, identifier string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
	// UpdateAccountDetails fails with ErrUserChanged when the stored email is
	// no longer currentEmail.
	UpdateAccountDetails(ctx context.Context, userID, currentEmail, fullName, email string, updatedAt time.Time) error
}

// RefreshSlotStore owns the refresh token slot(s). RotateRefreshToken must be
// an atomic compare-and-swap against the presented value.
type RefreshSlotStore interface {
	PersistRefreshToken(ctx context.Context, userID, sessionID, token string, expiresAt time.Time) error
	RotateRefreshToken(ctx context.Context, userID, sessionID, presented, next string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, userID, sessionID string) error
}

func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storeError maps repository failures onto the service taxonomy. Anything
// other than a known domain outcome, timeouts included, is internal.
func storeError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrUserExists):
		return ErrUserExists
	case errors.Is(err, repository.ErrRefreshTokenMismatch):
		return ErrTokenReuseOrMismatch
	case errors.Is(err, repository.ErrUserChanged):
		return ErrAccountChanged
	default:
		return internalError(message, err)
	}
}
