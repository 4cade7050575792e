package turnlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoTurn is keyed by sessionId (partition) and turnId (sort).
type dynamoTurn struct {
	SessionID string   `dynamodbav:"sessionId"`
	TurnID    string   `dynamodbav:"turnId"`
	Timestamp int64    `dynamodbav:"timestamp"`
	Customer  []string `dynamodbav:"customer"`
	Bot       []string `dynamodbav:"bot"`
	ExpiresAt int64    `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore is a Store on a DynamoDB table.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
}

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("turnlog: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("turnlog: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl, logger: logger}
}

// Append uses a conditional put so a turn id is only ever written once.
func (s *DynamoStore) Append(ctx context.Context, sessionID, turnID string, turn Turn) error {
	if err := validate(sessionID, turnID); err != nil {
		return err
	}
	turn = normalize(sessionID, turnID, turn)
	rec := dynamoTurn{
		SessionID: sessionID,
		TurnID:    turnID,
		Timestamp: turn.Timestamp.UnixMilli(),
		Customer:  turn.Customer,
		Bot:       turn.Bot,
	}
	if s.ttl > 0 {
		rec.ExpiresAt = turn.Timestamp.Add(s.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("turnlog: marshal dynamo turn: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(turnId)"),
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		s.logger.Debug("turn already logged", "session_id", sessionID, "turn_id", turnID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("turnlog: put dynamo turn: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListOrdered(ctx context.Context, sessionID string) ([]Turn, error) {
	var (
		out  []Turn
		next map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("sessionId = :sid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sid": &types.AttributeValueMemberS{Value: sessionID},
			},
			ExclusiveStartKey: next,
		})
		if err != nil {
			return nil, fmt.Errorf("turnlog: query dynamo turns: %w", err)
		}
		var page []dynamoTurn
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, fmt.Errorf("turnlog: unmarshal dynamo turns: %w", err)
		}
		for _, rec := range page {
			out = append(out, Turn{
				ID:        rec.TurnID,
				SessionID: rec.SessionID,
				Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
				Customer:  rec.Customer,
				Bot:       rec.Bot,
			})
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		next = resp.LastEvaluatedKey
	}
	sortTurns(out)
	return out, nil
}
