package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "EVENT#"
	skMedia  = "MEDIA#"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
// Narrowed for testability with a fake.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements RecordStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ RecordStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// eventPK returns the partition key for an event.
func eventPK(eventID string) string {
	return pkPrefix + eventID
}

// CreateDraft stores a new draft record and returns its ID.
func (s *DynamoStore) CreateDraft(ctx context.Context, d *Draft) (string, error) {
	draftID := uuid.NewString()

	record := *d
	record.Visibility = VisibilityDraft
	record.CreatedAt = time.Now().Unix()

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return "", fmt.Errorf("marshal draft: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: eventPK(d.EventID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMedia + draftID}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return "", fmt.Errorf("PutItem PK=%s: %w", eventPK(d.EventID), err)
	}

	log.Info().
		Str("eventId", d.EventID).
		Str("draftId", draftID).
		Str("kind", d.MediaKind).
		Msg("Draft record created")
	return draftID, nil
}

// ExistingHashes queries all media records for the event and reports which
// of the given hashes are already present.
func (s *DynamoStore) ExistingHashes(ctx context.Context, eventID string, hashes []string) (map[string]bool, error) {
	wanted := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if h != "" {
			wanted[h] = true
		}
	}
	found := make(map[string]bool)
	if len(wanted) == 0 {
		return found, nil
	}

	items, err := s.queryMedia(ctx, eventID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		var rec struct {
			ContentHash string `dynamodbav:"contentHash"`
		}
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal media record: %w", err)
		}
		if wanted[rec.ContentHash] {
			found[rec.ContentHash] = true
		}
	}

	log.Debug().
		Str("eventId", eventID).
		Int("checked", len(wanted)).
		Int("found", len(found)).
		Msg("Duplicate check complete")
	return found, nil
}

// PublishDrafts promotes the caller's drafts for the event to published.
func (s *DynamoStore) PublishDrafts(ctx context.Context, eventID, authorID string) (int, error) {
	items, err := s.queryMedia(ctx, eventID)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, item := range items {
		var rec struct {
			SK         string `dynamodbav:"SK"`
			AuthorID   string `dynamodbav:"authorId"`
			Visibility string `dynamodbav:"visibility"`
		}
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return promoted, fmt.Errorf("unmarshal media record: %w", err)
		}
		if rec.Visibility != VisibilityDraft || rec.AuthorID != authorID {
			continue
		}

		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: eventPK(eventID)},
				"SK": &types.AttributeValueMemberS{Value: rec.SK},
			},
			UpdateExpression: aws.String("SET visibility = :published"),
			// Guard against racing publishes double-counting.
			ConditionExpression: aws.String("visibility = :draft"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":published": &types.AttributeValueMemberS{Value: VisibilityPublished},
				":draft":     &types.AttributeValueMemberS{Value: VisibilityDraft},
			},
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				continue
			}
			return promoted, fmt.Errorf("UpdateItem SK=%s: %w", rec.SK, err)
		}
		promoted++
	}

	log.Info().
		Str("eventId", eventID).
		Str("authorId", authorID).
		Int("promoted", promoted).
		Msg("Drafts published")
	return promoted, nil
}

// queryMedia returns all media records for an event, following pagination.
func (s *DynamoStore) queryMedia(ctx context.Context, eventID string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: eventPK(eventID)},
			":skPrefix": &types.AttributeValueMemberS{Value: skMedia},
		},
	}

	var allItems []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", eventPK(eventID), err)
		}
		allItems = append(allItems, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return allItems, nil
}
