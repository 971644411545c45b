package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/models"
	"github.com/streamhub/streamhub/internal/repository"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef-0123"
	testRefreshSecret = "refresh-secret-0123456789abcdef-012"
)

// memoryStore is a single-slot credential store with the same conditional
// semantics as the DynamoDB repository.
type memoryStore struct {
	mu     sync.Mutex
	users  map[string]models.User
	writes int

	// failWith, when set, is returned by every call.
	failWith error
	// beforeRotate runs inside RotateRefreshToken before the lock is taken.
	beforeRotate func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[string]models.User{}}
}

func (m *memoryStore) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrUserExists
		}
	}
	m.users[user.ID] = *user
	m.writes++
	return nil
}

func (m *memoryStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (m *memoryStore) GetByLogin(_ context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, u := range m.users {
		if u.Username == identifier || u.Email == identifier {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memoryStore) UpdatePasswordHash(_ context.Context, userID, hash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = changedAt
	m.users[userID] = u
	m.writes++
	return nil
}

func (m *memoryStore) UpdateAccountDetails(_ context.Context, userID, currentEmail, fullName, email string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if u.Email != currentEmail {
		return repository.ErrUserChanged
	}
	for id, other := range m.users {
		if id != userID && other.Email == email {
			return repository.ErrUserExists
		}
	}
	u.FullName = fullName
	u.Email = email
	u.UpdatedAt = updatedAt
	m.users[userID] = u
	m.writes++
	return nil
}

func (m *memoryStore) PersistRefreshToken(_ context.Context, userID, sessionID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.CurrentRefreshToken = token
	m.users[userID] = u
	m.writes++
	return nil
}

func (m *memoryStore) RotateRefreshToken(_ context.Context, userID, sessionID, presented, next string, _ time.Time) error {
	if m.beforeRotate != nil {
		m.beforeRotate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if u.CurrentRefreshToken != presented {
		return repository.ErrRefreshTokenMismatch
	}
	u.CurrentRefreshToken = next
	m.users[userID] = u
	m.writes++
	return nil
}

func (m *memoryStore) ClearRefreshToken(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.CurrentRefreshToken = ""
	m.users[userID] = u
	m.writes++
	return nil
}

func (m *memoryStore) slot(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].CurrentRefreshToken
}

func (m *memoryStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 10 * 24 * time.Hour,
		Issuer:        "streamhub-test",
	}
}

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(testJWTConfig(), testLogger())
	require.NoError(t, err)
	return codec
}

// fixedClock is a settable clock shared by the codec and the service.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store *memoryStore
	codec *TokenCodec
	auth  *AuthService
	clock *fixedClock
	alice models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newFixedClock()
	codec := newTestCodec(t)
	codec.now = clock.Now

	hasher, err := NewPasswordHasher(4)
	require.NoError(t, err)

	store := newMemoryStore()
	auth := NewAuthService(store, store, codec, hasher, AuthOptions{StoreTimeout: time.Second}, testLogger())
	auth.now = clock.Now

	alice, err := auth.Register(context.Background(), RegisterInput{
		FullName: "Alice Doe",
		Username: "alice",
		Email:    "alice@example.com",
		Password: "p@ss1",
	})
	require.NoError(t, err)

	return &testEnv{store: store, codec: codec, auth: auth, clock: clock, alice: *alice}
}
