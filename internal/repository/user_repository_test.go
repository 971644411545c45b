package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/streamhub/streamhub/internal/models"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue

	getCalls    []*dynamodb.GetItemInput
	updateCalls []*dynamodb.UpdateItemInput
	txCalls     []*dynamodb.TransactWriteItemsInput

	getErr    error
	updateErr error
	txErr     error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getCalls = append(f.getCalls, in)
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateCalls = append(f.updateCalls, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txCalls = append(f.txCalls, in)
	if f.txErr != nil {
		return nil, f.txErr
	}
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items, itemKey(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleUser() *models.User {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.User{
		ID:                "u-1",
		Username:          "alice",
		Email:             "alice@example.com",
		FullName:          "Alice Doe",
		PasswordHash:      "$2a$10$hash",
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestUserRepository_CreateAndLookup(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleUser()))
	require.Len(t, db.txCalls, 1)
	for _, ti := range db.txCalls[0].TransactItems {
		assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(ti.Put.ConditionExpression))
	}

	byName, err := repo.GetByLogin(ctx, "  ALICE ")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byName.ID)
	assert.Equal(t, "$2a$10$hash", byName.PasswordHash)

	byEmail, err := repo.GetByLogin(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byEmail.ID)

	_, err = repo.GetByLogin(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db := newFakeDynamo()
	db.txErr = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
	repo := NewUserRepository(db, "table", testLogger())

	err := repo.Create(context.Background(), sampleUser())
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUserRepository_RotateIsConditional(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())

	require.NoError(t, repo.RotateRefreshToken(context.Background(), "u-1", "", "rt-1", "rt-2", time.Now()))
	require.Len(t, db.updateCalls, 1)

	in := db.updateCalls[0]
	assert.Equal(t, "refresh_token = :presented", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "rt-1", in.ExpressionAttributeValues[":presented"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "rt-2", in.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "USER#u-1", in.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestUserRepository_RotateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		db := newFakeDynamo()
		db.updateErr = &types.ConditionalCheckFailedException{
			Item: map[string]types.AttributeValue{"refresh_token": &types.AttributeValueMemberS{Value: "rt-9"}},
		}
		repo := NewUserRepository(db, "table", testLogger())
		err := repo.RotateRefreshToken(ctx, "u-1", "", "rt-1", "rt-2", time.Now())
		assert.ErrorIs(t, err, ErrRefreshTokenMismatch)
	})

	t.Run("user gone", func(t *testing.T) {
		db := newFakeDynamo()
		db.updateErr = &types.ConditionalCheckFailedException{}
		repo := NewUserRepository(db, "table", testLogger())
		err := repo.RotateRefreshToken(ctx, "u-1", "", "rt-1", "rt-2", time.Now())
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("transport", func(t *testing.T) {
		db := newFakeDynamo()
		db.updateErr = errors.New("connection reset")
		repo := NewUserRepository(db, "table", testLogger())
		err := repo.RotateRefreshToken(ctx, "u-1", "", "rt-1", "rt-2", time.Now())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRefreshTokenMismatch)
		assert.NotErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("session id rejected", func(t *testing.T) {
		repo := NewUserRepository(newFakeDynamo(), "table", testLogger())
		err := repo.RotateRefreshToken(ctx, "u-1", "sid", "rt-1", "rt-2", time.Now())
		assert.ErrorIs(t, err, ErrSessionNotSupported)
	})
}

func TestUserRepository_PersistAndClear(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())
	ctx := context.Background()

	require.NoError(t, repo.PersistRefreshToken(ctx, "u-1", "", "rt-1", time.Now()))
	require.NoError(t, repo.ClearRefreshToken(ctx, "u-1", ""))
	require.Len(t, db.updateCalls, 2)

	assert.Equal(t, "SET refresh_token = :token", aws.ToString(db.updateCalls[0].UpdateExpression))
	assert.Equal(t, "attribute_exists(PK)", aws.ToString(db.updateCalls[0].ConditionExpression))
	assert.Equal(t, "REMOVE refresh_token", aws.ToString(db.updateCalls[1].UpdateExpression))

	db.updateErr = &types.ConditionalCheckFailedException{}
	assert.ErrorIs(t, repo.ClearRefreshToken(ctx, "gone", ""), ErrUserNotFound)
}

func TestUserRepository_UpdatePasswordHash(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())
	changed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	require.NoError(t, repo.UpdatePasswordHash(context.Background(), "u-1", "new-hash", changed))
	require.Len(t, db.updateCalls, 1)

	values := db.updateCalls[0].ExpressionAttributeValues
	assert.Equal(t, "new-hash", values[":hash"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, changed.Format(time.RFC3339Nano), values[":changed"].(*types.AttributeValueMemberS).Value)
}

func TestUserRepository_GetByIDDecodesRefreshSlot(t *testing.T) {
	db := newFakeDynamo()
	user := sampleUser()
	user.CurrentRefreshToken = "rt-7"
	item, err := attributevalue.MarshalMap(user)
	require.NoError(t, err)
	db.items["USER#u-1|PROFILE"] = item

	repo := NewUserRepository(db, "table", testLogger())
	got, err := repo.GetByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-7", got.CurrentRefreshToken)
	assert.True(t, got.PasswordChangedAt.Equal(user.PasswordChangedAt))
	assert.True(t, aws.ToBool(db.getCalls[0].ConsistentRead))
}

func TestUserRepository_UpdateAccountMovesEmailLookup(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleUser()))

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateAccountDetails(ctx, "u-1", "alice@example.com", "Alice Smith", "smith@example.com", at))
	require.Len(t, db.txCalls, 2)

	items := db.txCalls[1].TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Update)
	assert.Equal(t, "attribute_exists(PK) AND email = :current", aws.ToString(items[0].Update.ConditionExpression))
	assert.Equal(t, "alice@example.com", items[0].Update.ExpressionAttributeValues[":current"].(*types.AttributeValueMemberS).Value)
	require.NotNil(t, items[1].Delete)
	assert.Equal(t, "user_id = :uid", aws.ToString(items[1].Delete.ConditionExpression))
	require.NotNil(t, items[2].Put)
	assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(items[2].Put.ConditionExpression))

	assert.NotContains(t, db.items, "EMAIL#alice@example.com|LOOKUP")
	assert.Contains(t, db.items, "EMAIL#smith@example.com|LOOKUP")
}

func TestUserRepository_UpdateAccountSameEmail(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "table", testLogger())

	require.NoError(t, repo.UpdateAccountDetails(context.Background(), "u-1", "alice@example.com", "Alice Smith", "alice@example.com", time.Now()))
	assert.Empty(t, db.txCalls)
	require.Len(t, db.updateCalls, 1)
	assert.Equal(t, "SET full_name = :name, updated_at = :updated", aws.ToString(db.updateCalls[0].UpdateExpression))
}

func TestUserRepository_UpdateAccountFailures(t *testing.T) {
	cancel := func(codes ...string) error {
		reasons := make([]types.CancellationReason, len(codes))
		for i, code := range codes {
			reasons[i] = types.CancellationReason{Code: aws.String(code)}
		}
		return &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	changed := cancel("ConditionalCheckFailed", "None", "None").(*types.TransactionCanceledException)
	changed.CancellationReasons[0].Item = map[string]types.AttributeValue{
		"email": &types.AttributeValueMemberS{Value: "other@example.com"},
	}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"email taken", cancel("None", "None", "ConditionalCheckFailed"), ErrUserExists},
		{"user gone", cancel("ConditionalCheckFailed", "None", "None"), ErrUserNotFound},
		{"email changed meanwhile", changed, ErrUserChanged},
		{"lookup owned by someone else", cancel("None", "ConditionalCheckFailed", "None"), ErrUserChanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newFakeDynamo()
			db.txErr = tc.err
			repo := NewUserRepository(db, "table", testLogger())

			err := repo.UpdateAccountDetails(context.Background(), "u-1", "alice@example.com", "Alice", "new@example.com", time.Now())
			assert.ErrorIs(t, err, tc.want)
		})
	}

	db := newFakeDynamo()
	db.txErr = errors.New("throttled")
	repo := NewUserRepository(db, "table", testLogger())
	err := repo.UpdateAccountDetails(context.Background(), "u-1", "alice@example.com", "Alice", "new@example.com", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserExists)
}
