package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophvault/internal/model"
)

const DefaultTTL = 2 * time.Minute

// DynamoAPI is the subset of the DynamoDB client used by LockManager.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// LockManager handles account leases using DynamoDB TTL.
type LockManager struct {
	client      DynamoAPI
	tableName   string
	ttlDuration time.Duration
	now         func() time.Time
}

// NewLockManager creates a new LockManager.
func NewLockManager(client DynamoAPI, tableName string) *LockManager {
	return &LockManager{
		client:      client,
		tableName:   tableName,
		ttlDuration: DefaultTTL,
		now:         time.Now,
	}
}

func (m *LockManager) key(accountID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: accountID},
	}
}

// Acquire succeeds if no lease exists, the existing lease has expired, or
// holderID already holds it.
func (m *LockManager) Acquire(ctx context.Context, accountID, holderID string) (*model.AccountLease, error) {
	now := m.now().Unix()
	lease := model.AccountLease{
		AccountID: accountID,
		HolderID:  holderID,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(account_id) OR expires_at < :now OR holder_id = :holder_id",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":holder_id": &types.AttributeValueMemberS{Value: holderID},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	return &lease, nil
}

// Renew extends the lease TTL if holderID owns it.
func (m *LockManager) Renew(ctx context.Context, accountID, holderID string) (*model.AccountLease, error) {
	expiresAt := m.now().Unix() + int64(m.ttlDuration.Seconds())

	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 m.key(accountID),
		UpdateExpression:    aws.String("SET expires_at = :expires_at"),
		ConditionExpression: aws.String("holder_id = :holder_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
			":holder_id":  &types.AttributeValueMemberS{Value: holderID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrLeaseNotOwned
		}
		return nil, fmt.Errorf("failed to renew lease: %w", err)
	}

	var lease model.AccountLease
	if err := attributevalue.UnmarshalMap(out.Attributes, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return &lease, nil
}

// Release removes the lease if holderID owns it.
func (m *LockManager) Release(ctx context.Context, accountID, holderID string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(m.tableName),
		Key:                 m.key(accountID),
		ConditionExpression: aws.String("holder_id = :holder_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":holder_id": &types.AttributeValueMemberS{Value: holderID},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrLeaseNotOwned
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Status retrieves the current lease.
func (m *LockManager) Status(ctx context.Context, accountID string) (*model.AccountLease, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.tableName),
		Key:            m.key(accountID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lease status: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lease model.AccountLease
	if err := attributevalue.UnmarshalMap(out.Item, &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}

	// DynamoDB TTL deletion is lazy.
	if lease.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &lease, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
