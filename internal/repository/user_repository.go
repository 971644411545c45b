package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/streamhub/streamhub/internal/models"
)

const (
	profileSK = "PROFILE"
	lookupSK  = "LOOKUP"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrRefreshTokenMismatch = errors.New("refresh token does not match stored value")
	ErrSessionNotSupported  = errors.New("user record holds a single refresh slot")
	ErrUserChanged          = errors.New("user record changed since it was read")
)

// DynamoAPI is the subset of the DynamoDB client the repository uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// UserRepository stores users in a single table. Each user owns a profile
// item plus two lookup items that reserve its username and email. The
// profile item also carries the single refresh token slot.
type UserRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// Create writes the profile and both lookup items in one transaction so a
// username or email can never be claimed twice.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: models.UserPK(user.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: profileSK}

	lookup := func(pk string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: pk},
			"SK":      &types.AttributeValueMemberS{Value: lookupSK},
			"user_id": &types.AttributeValueMemberS{Value: user.ID},
		}
	}

	notExists := aws.String("attribute_not_exists(PK)")
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: item, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: lookup(models.UsernamePK(user.Username)), ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: lookup(models.EmailPK(user.Email)), ConditionExpression: notExists}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && hasConditionalFailure(canceled) {
			r.logger.WithField("user_id", user.ID).Debug("Username or email already taken")
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func hasConditionalFailure(e *types.TransactionCanceledException) bool {
	for _, reason := range e.CancellationReasons {
		if failedCondition(reason) {
			return true
		}
	}
	return false
}

func failedCondition(reason types.CancellationReason) bool {
	return aws.ToString(reason.Code) == "ConditionalCheckFailed"
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(models.UserPK(userID), profileSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

// GetByLogin resolves an identifier that may be either a username or an
// email. Usernames are checked first.
func (r *UserRepository) GetByLogin(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, ErrUserNotFound
	}

	for _, pk := range []string{models.UsernamePK(identifier), models.EmailPK(identifier)} {
		userID, err := r.lookup(ctx, pk)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r.GetByID(ctx, userID)
	}

	return nil, ErrUserNotFound
}

func (r *UserRepository) lookup(ctx context.Context, pk string) (string, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.tableName),
		Key:                  r.key(pk, lookupSK),
		ProjectionExpression: aws.String("user_id"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if result.Item == nil {
		return "", ErrUserNotFound
	}

	attr, ok := result.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok || attr.Value == "" {
		return "", fmt.Errorf("lookup item %s has no user_id", pk)
	}

	return attr.Value, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(models.UserPK(userID), profileSK),
		UpdateExpression:    aws.String("SET password_hash = :hash, password_changed_at = :changed, updated_at = :changed"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":hash":    &types.AttributeValueMemberS{Value: passwordHash},
			":changed": &types.AttributeValueMemberS{Value: changedAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	return r.mapUpdateError(err, "update password")
}

// UpdateAccountDetails sets the full name and email. A new email moves the
// EMAIL# lookup item in the same transaction as the profile update, guarded
// by the email the caller read.
func (r *UserRepository) UpdateAccountDetails(ctx context.Context, userID, currentEmail, fullName, email string, updatedAt time.Time) error {
	updated := &types.AttributeValueMemberS{Value: updatedAt.UTC().Format(time.RFC3339Nano)}

	if email == currentEmail {
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(r.tableName),
			Key:                 r.key(models.UserPK(userID), profileSK),
			UpdateExpression:    aws.String("SET full_name = :name, updated_at = :updated"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":name":    &types.AttributeValueMemberS{Value: fullName},
				":updated": updated,
			},
		})
		return r.mapUpdateError(err, "update account details")
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                           aws.String(r.tableName),
				Key:                                 r.key(models.UserPK(userID), profileSK),
				UpdateExpression:                    aws.String("SET full_name = :name, email = :email, updated_at = :updated"),
				ConditionExpression:                 aws.String("attribute_exists(PK) AND email = :current"),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":name":    &types.AttributeValueMemberS{Value: fullName},
					":email":   &types.AttributeValueMemberS{Value: email},
					":current": &types.AttributeValueMemberS{Value: currentEmail},
					":updated": updated,
				},
			}},
			{Delete: &types.Delete{
				TableName:           aws.String(r.tableName),
				Key:                 r.key(models.EmailPK(currentEmail), lookupSK),
				ConditionExpression: aws.String("user_id = :uid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":uid": &types.AttributeValueMemberS{Value: userID},
				},
			}},
			{Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					"PK":      &types.AttributeValueMemberS{Value: models.EmailPK(email)},
					"SK":      &types.AttributeValueMemberS{Value: lookupSK},
					"user_id": &types.AttributeValueMemberS{Value: userID},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && len(canceled.CancellationReasons) == 3 {
		reasons := canceled.CancellationReasons
		switch {
		case failedCondition(reasons[0]) && reasons[0].Item == nil:
			return ErrUserNotFound
		case failedCondition(reasons[0]), failedCondition(reasons[1]):
			return ErrUserChanged
		case failedCondition(reasons[2]):
			return ErrUserExists
		}
	}

	return fmt.Errorf("failed to update account details: %w", err)
}

// PersistRefreshToken overwrites the refresh slot unconditionally.
func (r *UserRepository) PersistRefreshToken(ctx context.Context, userID, sessionID, token string, _ time.Time) error {
	if sessionID != "" {
		return ErrSessionNotSupported
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(models.UserPK(userID), profileSK),
		UpdateExpression:    aws.String("SET refresh_token = :token"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	return r.mapUpdateError(err, "persist refresh token")
}

// RotateRefreshToken replaces presented with next only if presented is still
// the stored value. The check and the write are one conditional update.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, userID, sessionID, presented, next string, _ time.Time) error {
	if sessionID != "" {
		return ErrSessionNotSupported
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 r.key(models.UserPK(userID), profileSK),
		UpdateExpression:                    aws.String("SET refresh_token = :next"),
		ConditionExpression:                 aws.String("refresh_token = :presented"),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":      &types.AttributeValueMemberS{Value: next},
			":presented": &types.AttributeValueMemberS{Value: presented},
		},
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if ccf.Item == nil {
			return ErrUserNotFound
		}
		r.logger.WithField("user_id", userID).Debug("Refresh token condition failed")
		return ErrRefreshTokenMismatch
	}

	return fmt.Errorf("failed to rotate refresh token: %w", err)
}

// ClearRefreshToken empties the slot. Clearing an empty slot succeeds.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, userID, sessionID string) error {
	if sessionID != "" {
		return ErrSessionNotSupported
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(models.UserPK(userID), profileSK),
		UpdateExpression:    aws.String("REMOVE refresh_token"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	return r.mapUpdateError(err, "clear refresh token")
}

func (r *UserRepository) mapUpdateError(err error, op string) error {
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrUserNotFound
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}
