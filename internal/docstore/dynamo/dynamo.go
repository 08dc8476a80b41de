// Package dynamo stores vault documents in DynamoDB, one table per
// collection. Every table is keyed by the string attribute "id".
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/gophvault/internal/docstore"
)

// DynamoAPI is the subset of the DynamoDB client used by Store.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements docstore.Store on DynamoDB.
type Store struct {
	client      DynamoAPI
	tablePrefix string
}

// NewStore creates a Store. Collection "files" lives in table prefix+"files".
func NewStore(client DynamoAPI, tablePrefix string) *Store {
	return &Store{client: client, tablePrefix: tablePrefix}
}

func (s *Store) table(collection string) *string {
	return aws.String(s.tablePrefix + collection)
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		docstore.KeyAttribute: &types.AttributeValueMemberS{Value: id},
	}
}

func (s *Store) CreateDocument(ctx context.Context, collection, id string, doc any) error {
	item, err := docstore.MarshalItem(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	item[docstore.KeyAttribute] = &types.AttributeValueMemberS{Value: id}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           s.table(collection),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return docstore.ErrAlreadyExists
		}
		return fmt.Errorf("%w: put %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, collection, id string, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      s.table(collection),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("%w: get %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	if res.Item == nil {
		return docstore.ErrNotFound
	}
	if err := docstore.UnmarshalItem(res.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return nil
}

// GetDocuments scans the collection table with an equality filter.
// Results are ordered by id.
func (s *Store) GetDocuments(ctx context.Context, collection string, filter docstore.Filter, out any) error {
	input := &dynamodb.ScanInput{
		TableName:      s.table(collection),
		ConsistentRead: aws.Bool(true),
	}
	if len(filter) > 0 {
		expr, names, values, err := equalityExpression(filter, " AND ", "f")
		if err != nil {
			return fmt.Errorf("failed to marshal filter: %w", err)
		}
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: scan %s: %w", docstore.ErrBackend, collection, err)
		}
		items = append(items, page.Items...)
	}

	sort.Slice(items, func(i, j int) bool {
		return idOf(items[i]) < idOf(items[j])
	})

	if err := docstore.UnmarshalItems(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal documents: %w", err)
	}
	return nil
}

// UpdateDocument sets every attribute of update in one UpdateItem call.
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, update docstore.Update) error {
	if len(update) == 0 {
		return nil
	}
	assignments, names, values, err := equalityExpression(docstore.Filter(update), ", ", "u")
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 s.table(collection),
		Key:                       key(id),
		UpdateExpression:          aws.String("SET " + assignments),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return docstore.ErrNotFound
		}
		return fmt.Errorf("%w: update %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: s.table(collection),
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", docstore.ErrBackend, collection, id, err)
	}
	return nil
}

// equalityExpression renders "#p0 = :p0<sep>#p1 = :p1" over attrs in
// sorted name order.
func equalityExpression(attrs docstore.Filter, sep, prefix string) (string, map[string]string, map[string]types.AttributeValue, error) {
	fields := make([]string, 0, len(attrs))
	for k := range attrs {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	names := make(map[string]string, len(fields))
	values := make(map[string]types.AttributeValue, len(fields))
	parts := make([]string, 0, len(fields))
	for i, field := range fields {
		av, err := docstore.MarshalValue(attrs[field])
		if err != nil {
			return "", nil, nil, err
		}
		n := fmt.Sprintf("#%s%d", prefix, i)
		v := fmt.Sprintf(":%s%d", prefix, i)
		names[n] = field
		values[v] = av
		parts = append(parts, n+" = "+v)
	}
	return strings.Join(parts, sep), names, values, nil
}

func idOf(item map[string]types.AttributeValue) string {
	if s, ok := item[docstore.KeyAttribute].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
