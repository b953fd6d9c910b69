package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// dynamoItem is a checkpoint row: one item per run, overwritten after every
// sub-batch.
type dynamoItem struct {
	PK    string `dynamodbav:"PK"`
	SK    string `dynamodbav:"SK"`
	State State  `dynamodbav:"State"`
	TTL   int64  `dynamodbav:"TTL,omitempty"`
}

const stateSortKey = "STATE"

// DynamoStore keeps checkpoints in a DynamoDB table with PK/SK string keys.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	retention time.Duration
}

// NewDynamoStore creates a store on an existing client. retention sets the
// item TTL; zero keeps items forever.
func NewDynamoStore(client DynamoAPI, tableName string, retention time.Duration) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, retention: retention}
}

func runKey(runID string) string { return "RUN#" + runID }

// Save overwrites the run's checkpoint item.
func (s *DynamoStore) Save(ctx context.Context, state State) error {
	item := dynamoItem{PK: runKey(state.RunID), SK: stateSortKey, State: state}
	if s.retention > 0 {
		item.TTL = state.UpdatedAt.Add(s.retention).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("saving checkpoint for run %s: %w", state.RunID, err)
	}
	return nil
}

// Load returns the run's checkpoint, or nil when none was saved.
func (s *DynamoStore) Load(ctx context.Context, runID string) (*State, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runKey(runID)},
			"SK": &types.AttributeValueMemberS{Value: stateSortKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for run %s: %w", runID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return &item.State, nil
}
