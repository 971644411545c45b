package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/models"
)

type AuthOptions struct {
	// PerDevice gives every login its own refresh slot keyed by a session id.
	PerDevice    bool
	StoreTimeout time.Duration
}

// AuthService runs registration, login, refresh rotation, logout and
// password change. It is the only writer of refresh slots.
type AuthService struct {
	users  CredentialStore
	slots  RefreshSlotStore
	codec  *TokenCodec
	hasher *PasswordHasher
	opts   AuthOptions
	now    func() time.Time
	newID  func() string
	logger *logrus.Logger
}

func NewAuthService(
	users CredentialStore,
	slots RefreshSlotStore,
	codec *TokenCodec,
	hasher *PasswordHasher,
	opts AuthOptions,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		slots:  slots,
		codec:  codec,
		hasher: hasher,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
}

type RegisterInput struct {
	FullName string
	Username string
	Email    string
	Password string
}

type LoginResult struct {
	User   models.User
	Tokens models.TokenPair
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if fullName == "" || username == "" || email == "" || strings.TrimSpace(in.Password) == "" {
		return nil, ErrMissingFields
	}
	if len(in.Password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.logFailure(internalError("failed to hash password", err), err, "", "register")
	}

	now := s.now().UTC()
	user := &models.User{
		ID:                s.newID(),
		Username:          username,
		Email:             email,
		FullName:          fullName,
		PasswordHash:      hash,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.users.Create(storeCtx, user); err != nil {
		return nil, s.logFailure(storeError(err, "failed to create user"), err, user.ID, "register")
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	sanitized := user.Sanitized()
	return &sanitized, nil
}

// VerifyCredentials resolves identifier as username or email and checks the
// password. Unknown identifiers and wrong passwords are indistinguishable.
func (s *AuthService) VerifyCredentials(ctx context.Context, identifier, password string) (*models.User, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return nil, ErrMissingFields
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	user, err := s.users.GetByLogin(storeCtx, identifier)
	if err != nil {
		mapped := storeError(err, "failed to look up user")
		if errors.Is(mapped, ErrUserNotFound) {
			s.hasher.compareDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, s.logFailure(mapped, err, "", "login")
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := s.VerifyCredentials(ctx, identifier, password)
	if err != nil {
		s.logRejection(err, "", "login")
		return nil, err
	}

	sessionID := ""
	if s.opts.PerDevice {
		sessionID = s.newID()
	}

	pair, err := s.issueAndPersist(ctx, user.ID, sessionID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "session_id": sessionID}).Info("User logged in")
	return &LoginResult{User: user.Sanitized(), Tokens: *pair}, nil
}

func (s *AuthService) issueAndPersist(ctx context.Context, userID, sessionID string) (*models.TokenPair, error) {
	pair, err := s.codec.IssuePair(userID, sessionID)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.slots.PersistRefreshToken(storeCtx, userID, sessionID, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
		return nil, s.logFailure(storeError(err, "failed to persist refresh token"), err, userID, "login")
	}

	return pair, nil
}

// Refresh validates the presented refresh token and rotates it. The match
// against the stored value and the replacement happen in one conditional
// write, so of several concurrent calls with the same token exactly one wins.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*models.TokenPair, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		s.logRejection(ErrUnauthenticated, "", "refresh")
		return nil, ErrUnauthenticated
	}

	// Start -> Decoded
	claims, err := s.codec.VerifyRefreshToken(presented)
	if err != nil {
		s.logRejection(err, "", "refresh")
		return nil, err
	}
	userID := claims.Subject

	lookupCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	user, err := s.users.GetByID(lookupCtx, userID)
	cancel()
	if err != nil {
		mapped := storeError(err, "failed to resolve refresh subject")
		s.logRejection(mapped, userID, "refresh")
		return nil, s.logFailure(mapped, err, userID, "refresh")
	}

	// The single slot lives on the user record, so a stale token can be
	// rejected here without a write. The conditional rotate below is still
	// what decides the race.
	if !s.opts.PerDevice && subtle.ConstantTimeCompare([]byte(user.CurrentRefreshToken), []byte(presented)) != 1 {
		s.logRejection(ErrTokenReuseOrMismatch, userID, "refresh")
		return nil, ErrTokenReuseOrMismatch
	}

	// Decoded -> Matched -> Rotated
	pair, err := s.codec.IssuePair(userID, claims.SessionID)
	if err != nil {
		return nil, err
	}

	rotateCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	err = s.slots.RotateRefreshToken(rotateCtx, userID, claims.SessionID, presented, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		mapped := storeError(err, "failed to rotate refresh token")
		s.logRejection(mapped, userID, "refresh")
		return nil, s.logFailure(mapped, err, userID, "refresh")
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "session_id": claims.SessionID}).Info("Refresh token rotated")
	return pair, nil
}

// Logout empties the caller's refresh slot. A concurrent refresh that has
// not yet rotated will fail its conditional write afterwards.
func (s *AuthService) Logout(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		return ErrUnauthenticated
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.slots.ClearRefreshToken(storeCtx, identity.User.ID, identity.SessionID); err != nil {
		return s.logFailure(storeError(err, "failed to clear refresh token"), err, identity.User.ID, "logout")
	}

	s.logger.WithFields(logrus.Fields{"user_id": identity.User.ID, "session_id": identity.SessionID}).Info("User logged out")
	return nil
}

// ChangePassword replaces the password hash after checking the old password.
// Outstanding refresh tokens stay valid.
func (s *AuthService) ChangePassword(ctx context.Context, identity *models.Identity, oldPassword, newPassword string) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if oldPassword == "" || newPassword == "" {
		return ErrMissingFields
	}
	if oldPassword == newPassword {
		return ErrPasswordUnchanged
	}
	if len(newPassword) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	userID := identity.User.ID

	lookupCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	user, err := s.users.GetByID(lookupCtx, userID)
	cancel()
	if err != nil {
		return s.logFailure(storeError(err, "failed to load user"), err, userID, "change_password")
	}

	if !s.hasher.Compare(user.PasswordHash, oldPassword) {
		s.logRejection(ErrInvalidCredentials, userID, "change_password")
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.logFailure(internalError("failed to hash password", err), err, userID, "change_password")
	}

	updateCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.users.UpdatePasswordHash(updateCtx, userID, hash, s.now().UTC()); err != nil {
		return s.logFailure(storeError(err, "failed to update password"), err, userID, "change_password")
	}

	s.logger.WithField("user_id", userID).Info("Password changed")
	return nil
}

// UpdateAccount changes the caller's full name and email. The email stays
// unique across accounts.
func (s *AuthService) UpdateAccount(ctx context.Context, identity *models.Identity, fullName, email string) (*models.User, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if fullName == "" || email == "" {
		return nil, ErrMissingFields
	}

	userID := identity.User.ID

	lookupCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	user, err := s.users.GetByID(lookupCtx, userID)
	cancel()
	if err != nil {
		return nil, s.logFailure(storeError(err, "failed to load user"), err, userID, "update_account")
	}

	if user.FullName == fullName && user.Email == email {
		return nil, ErrDetailsUnchanged
	}

	now := s.now().UTC()

	updateCtx, cancel := withStoreTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if err := s.users.UpdateAccountDetails(updateCtx, userID, user.Email, fullName, email, now); err != nil {
		mapped := storeError(err, "failed to update account details")
		s.logRejection(mapped, userID, "update_account")
		return nil, s.logFailure(mapped, err, userID, "update_account")
	}

	user.FullName = fullName
	user.Email = email
	user.UpdatedAt = now

	s.logger.WithField("user_id", userID).Info("Account details updated")
	sanitized := user.Sanitized()
	return &sanitized, nil
}

func (s *AuthService) logRejection(err error, userID, op string) {
	svcErr := AsError(err)
	if svcErr.Kind == KindInternal {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"op":      op,
		"reason":  svcErr.Reason,
	}).Info("Authentication rejected")
}

// logFailure logs infrastructure failures and passes domain outcomes through.
// Repositories and handlers do not log these again.
func (s *AuthService) logFailure(mapped, cause error, userID, op string) error {
	if AsError(mapped).Kind == KindInternal {
		s.logger.WithError(cause).WithFields(logrus.Fields{
			"user_id": userID,
			"op":      op,
		}).Error("Auth operation failed")
	}
	return mapped
}
