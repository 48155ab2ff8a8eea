package recordstore

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo implements DynamoAPI over an in-memory item list.
type fakeDynamo struct {
	items     []map[string]types.AttributeValue
	pageSize  int
	putCalls  int
	updErr    error
	conflicts map[string]bool // SKs whose conditional update fails
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	f.items = append(f.items, params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	start := 0
	if params.ExclusiveStartKey != nil {
		if n, ok := params.ExclusiveStartKey["n"].(*types.AttributeValueMemberS); ok {
			start = int(n.Value[0] - '0')
		}
	}
	end := len(f.items)
	var lastKey map[string]types.AttributeValue
	if f.pageSize > 0 && start+f.pageSize < len(f.items) {
		end = start + f.pageSize
		lastKey = map[string]types.AttributeValue{
			"n": &types.AttributeValueMemberS{Value: string(rune('0' + end))},
		}
	}
	return &dynamodb.QueryOutput{
		Items:            f.items[start:end],
		LastEvaluatedKey: lastKey,
	}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.updErr != nil {
		return nil, f.updErr
	}
	sk := params.Key["SK"].(*types.AttributeValueMemberS).Value
	if f.conflicts[sk] {
		return nil, &types.ConditionalCheckFailedException{}
	}
	for _, item := range f.items {
		if itemSK(item) == sk {
			item["visibility"] = &types.AttributeValueMemberS{Value: VisibilityPublished}
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func itemSK(item map[string]types.AttributeValue) string {
	if v, ok := item["SK"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func mediaItem(draftID, authorID, hash, visibility string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: "EVENT#evt-1"},
		"SK":          &types.AttributeValueMemberS{Value: skMedia + draftID},
		"authorId":    &types.AttributeValueMemberS{Value: authorID},
		"contentHash": &types.AttributeValueMemberS{Value: hash},
		"visibility":  &types.AttributeValueMemberS{Value: visibility},
	}
}

func TestCreateDraft(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoStore(fake, "media-table")

	id, err := store.CreateDraft(context.Background(), &Draft{
		EventID:     "evt-1",
		AuthorID:    "usr-1",
		MediaURL:    "https://blob/photo.jpg",
		MediaKind:   "photo",
		ContentHash: "abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a draft ID")
	}
	if fake.putCalls != 1 {
		t.Fatalf("expected 1 PutItem, got %d", fake.putCalls)
	}

	item := fake.items[0]
	if got := item["PK"].(*types.AttributeValueMemberS).Value; got != "EVENT#evt-1" {
		t.Errorf("unexpected PK: %s", got)
	}
	if got := itemSK(item); !strings.HasPrefix(got, skMedia) || !strings.HasSuffix(got, id) {
		t.Errorf("unexpected SK: %s", got)
	}
	if got := item["visibility"].(*types.AttributeValueMemberS).Value; got != VisibilityDraft {
		t.Errorf("a new record must be a draft, got %s", got)
	}
}

func TestExistingHashes(t *testing.T) {
	fake := &fakeDynamo{items: []map[string]types.AttributeValue{
		mediaItem("d1", "usr-1", "hash-a", VisibilityPublished),
		mediaItem("d2", "usr-2", "hash-b", VisibilityDraft),
	}}
	store := NewDynamoStore(fake, "media-table")

	found, err := store.ExistingHashes(context.Background(), "evt-1", []string{"hash-a", "hash-b", "hash-c", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found["hash-a"] {
		t.Error("published record's hash should be found")
	}
	if !found["hash-b"] {
		t.Error("another author's draft hash should be found")
	}
	if found["hash-c"] {
		t.Error("unknown hash reported as existing")
	}
	if len(found) != 2 {
		t.Errorf("expected 2 hashes found, got %d", len(found))
	}
}

func TestExistingHashesEmptyInput(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoStore(fake, "media-table")
	found, err := store.ExistingHashes(context.Background(), "evt-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no hashes, got %v", found)
	}
}

func TestPublishDrafts(t *testing.T) {
	fake := &fakeDynamo{items: []map[string]types.AttributeValue{
		mediaItem("d1", "usr-1", "h1", VisibilityDraft),
		mediaItem("d2", "usr-1", "h2", VisibilityDraft),
		mediaItem("d3", "usr-2", "h3", VisibilityDraft),     // another author
		mediaItem("d4", "usr-1", "h4", VisibilityPublished), // already live
	}}
	store := NewDynamoStore(fake, "media-table")

	n, err := store.PublishDrafts(context.Background(), "evt-1", "usr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 promoted, got %d", n)
	}

	// A second publish finds nothing left in draft for this author.
	n, err = store.PublishDrafts(context.Background(), "evt-1", "usr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("second publish should promote nothing, got %d", n)
	}

	// The other author's draft was untouched.
	for _, item := range fake.items {
		if itemSK(item) == skMedia+"d3" {
			if got := item["visibility"].(*types.AttributeValueMemberS).Value; got != VisibilityDraft {
				t.Errorf("other author's draft was published")
			}
		}
	}
}

func TestPublishDraftsSkipsConditionalConflicts(t *testing.T) {
	fake := &fakeDynamo{
		items: []map[string]types.AttributeValue{
			mediaItem("d1", "usr-1", "h1", VisibilityDraft),
			mediaItem("d2", "usr-1", "h2", VisibilityDraft),
		},
		conflicts: map[string]bool{skMedia + "d1": true},
	}
	store := NewDynamoStore(fake, "media-table")

	// d1 was promoted by a racing publish; it must be skipped, not counted
	// and not an error.
	n, err := store.PublishDrafts(context.Background(), "evt-1", "usr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 promoted past the conflict, got %d", n)
	}
}

func TestQueryMediaFollowsPagination(t *testing.T) {
	fake := &fakeDynamo{
		items: []map[string]types.AttributeValue{
			mediaItem("d1", "usr-1", "h1", VisibilityDraft),
			mediaItem("d2", "usr-1", "h2", VisibilityDraft),
			mediaItem("d3", "usr-1", "h3", VisibilityDraft),
		},
		pageSize: 2,
	}
	store := NewDynamoStore(fake, "media-table")

	found, err := store.ExistingHashes(context.Background(), "evt-1", []string{"h1", "h3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found["h1"] || !found["h3"] {
		t.Errorf("pagination dropped records: %v", found)
	}
}
