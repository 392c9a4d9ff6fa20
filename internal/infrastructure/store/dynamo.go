package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the part of the DynamoDB client the backend needs
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// NewDynamoClient builds a client from the default AWS credential chain
func NewDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// DynamoBackend stores credentials in a DynamoDB table keyed by "key"
type DynamoBackend struct {
	client    DynamoAPI
	tableName string
}

// dynamoCredential represents the DynamoDB item structure
type dynamoCredential struct {
	Key       string `dynamodbav:"key"`
	Data      string `dynamodbav:"data"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func NewDynamoBackend(client DynamoAPI, tableName string) *DynamoBackend {
	return &DynamoBackend{client: client, tableName: tableName}
}

func (b *DynamoBackend) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

func (b *DynamoBackend) Load(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.tableName),
		Key:            b.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item dynamoCredential
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return []byte(item.Data), nil
}

func (b *DynamoBackend) Save(ctx context.Context, key string, data []byte) error {
	av, err := attributevalue.MarshalMap(dynamoCredential{
		Key:       key,
		Data:      string(data),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put credentials: %w", err)
	}
	return nil
}

func (b *DynamoBackend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key:       b.keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
