package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"unitcast/internal/core/entity"
	"unitcast/internal/domain/projection"
)

// Mock objects

type mockClient struct {
	getIn  *dynamodb.GetItemInput
	getOut *dynamodb.GetItemOutput
	getErr error

	putIn  *dynamodb.PutItemInput
	putErr error

	updateIn  *dynamodb.UpdateItemInput
	updateErr error
}

func (m *mockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getIn = params
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOut != nil {
		return m.getOut, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putIn = params
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateIn = params
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if s, ok := item[key].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// --- PutIfAbsent ---

func TestStore_PutIfAbsent_MarshalsItem(t *testing.T) {
	client := &mockClient{}
	store := NewWithClient(client, "unit-projections")

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := store.PutIfAbsent(context.Background(), &projection.Record{
		PartitionKey: "P1|U1",
		SortKey:      "customerUnit",
		Attributes: entity.Attributes{
			"unitId": "U1",
			"floor":  decimal.NewFromInt(3),
			"active": true,
			"note":   nil,
		},
		CreatedAt: &now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := client.putIn
	if in == nil {
		t.Fatal("PutItem not called")
	}
	if *in.TableName != "unit-projections" {
		t.Errorf("table mismatch: %s", *in.TableName)
	}
	if *in.ConditionExpression != "attribute_not_exists(pk) AND attribute_not_exists(sk)" {
		t.Errorf("condition mismatch: %s", *in.ConditionExpression)
	}
	if stringAttr(in.Item, "pk") != "P1|U1" || stringAttr(in.Item, "sk") != "customerUnit" {
		t.Errorf("key attributes mismatch: %v", in.Item)
	}
	if stringAttr(in.Item, "unitId") != "U1" {
		t.Errorf("unitId mismatch: %v", in.Item["unitId"])
	}
	if n, ok := in.Item["floor"].(*types.AttributeValueMemberN); !ok || n.Value != "3" {
		t.Errorf("floor should be a number attribute, got %v", in.Item["floor"])
	}
	if b, ok := in.Item["active"].(*types.AttributeValueMemberBOOL); !ok || !b.Value {
		t.Errorf("active should be a bool attribute, got %v", in.Item["active"])
	}
	if _, ok := in.Item["note"].(*types.AttributeValueMemberNULL); !ok {
		t.Errorf("note should be a null attribute, got %v", in.Item["note"])
	}
	if stringAttr(in.Item, "createdAt") != "2026-05-01T12:00:00Z" {
		t.Errorf("createdAt mismatch: %v", in.Item["createdAt"])
	}
	if _, ok := in.Item["updatedAt"]; ok {
		t.Error("updatedAt must be absent on create")
	}
	if _, ok := in.Item["deletedAt"]; ok {
		t.Error("deletedAt must be absent on create")
	}
}

func TestStore_PutIfAbsent_IdentityTaken(t *testing.T) {
	client := &mockClient{
		putErr: fmt.Errorf("operation error DynamoDB: PutItem: %w",
			&types.ConditionalCheckFailedException{}),
	}
	store := NewWithClient(client, "unit-projections")

	err := store.PutIfAbsent(context.Background(), &projection.Record{
		PartitionKey: "P1|U1",
		SortKey:      "customerUnit",
	})
	if !errors.Is(err, projection.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestStore_PutIfAbsent_Error(t *testing.T) {
	client := &mockClient{putErr: errors.New("throttled")}
	store := NewWithClient(client, "unit-projections")

	err := store.PutIfAbsent(context.Background(), &projection.Record{
		PartitionKey: "P1|U1",
		SortKey:      "customerUnit",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, projection.ErrAlreadyExists) {
		t.Error("client failure must not map to ErrAlreadyExists")
	}
}

// --- UpdateIfIdentityMatches ---

func TestStore_UpdateIfIdentityMatches_Expression(t *testing.T) {
	client := &mockClient{}
	store := NewWithClient(client, "unit-projections")

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := store.UpdateIfIdentityMatches(context.Background(),
		projection.Identity{PartitionKey: "P1|U1", SortKey: "customerUnit"},
		[]projection.FieldValue{
			{Name: "name", Value: "Unit One"},
			{Name: "unitId", Value: "U1"},
		},
		projection.FieldUpdatedAt, ts,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := client.updateIn
	if in == nil {
		t.Fatal("UpdateItem not called")
	}
	if *in.ConditionExpression != "attribute_exists(pk) AND attribute_exists(sk)" {
		t.Errorf("condition mismatch: %s", *in.ConditionExpression)
	}
	if *in.UpdateExpression != "SET #a0 = :v0, #a1 = :v1, #ts = :ts" {
		t.Errorf("update expression mismatch: %s", *in.UpdateExpression)
	}
	if in.ExpressionAttributeNames["#a0"] != "name" || in.ExpressionAttributeNames["#a1"] != "unitId" {
		t.Errorf("name placeholders mismatch: %v", in.ExpressionAttributeNames)
	}
	if in.ExpressionAttributeNames["#ts"] != "updatedAt" {
		t.Errorf("lifecycle placeholder mismatch: %v", in.ExpressionAttributeNames)
	}
	if v, ok := in.ExpressionAttributeValues[":v0"].(*types.AttributeValueMemberS); !ok || v.Value != "Unit One" {
		t.Errorf("value placeholder mismatch: %v", in.ExpressionAttributeValues[":v0"])
	}
	if v, ok := in.ExpressionAttributeValues[":ts"].(*types.AttributeValueMemberS); !ok || v.Value != "2026-05-01T12:00:00Z" {
		t.Errorf("lifecycle value mismatch: %v", in.ExpressionAttributeValues[":ts"])
	}
	if stringAttr(in.Key, "pk") != "P1|U1" || stringAttr(in.Key, "sk") != "customerUnit" {
		t.Errorf("key mismatch: %v", in.Key)
	}
}

func TestStore_UpdateIfIdentityMatches_SoftDelete(t *testing.T) {
	client := &mockClient{}
	store := NewWithClient(client, "unit-projections")

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := store.UpdateIfIdentityMatches(context.Background(),
		projection.Identity{PartitionKey: "P2|U2", SortKey: "accountUnit"},
		nil, projection.FieldDeletedAt, ts,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := client.updateIn
	if *in.UpdateExpression != "SET #ts = :ts" {
		t.Errorf("soft delete must only stamp the lifecycle field, got %s", *in.UpdateExpression)
	}
	if in.ExpressionAttributeNames["#ts"] != "deletedAt" {
		t.Errorf("lifecycle placeholder mismatch: %v", in.ExpressionAttributeNames)
	}
}

func TestStore_UpdateIfIdentityMatches_NoMatch(t *testing.T) {
	client := &mockClient{
		updateErr: fmt.Errorf("operation error DynamoDB: UpdateItem: %w",
			&types.ConditionalCheckFailedException{}),
	}
	store := NewWithClient(client, "unit-projections")

	err := store.UpdateIfIdentityMatches(context.Background(),
		projection.Identity{PartitionKey: "P9|U9", SortKey: "locationUnit"},
		nil, projection.FieldDeletedAt, time.Now().UTC(),
	)
	if !errors.Is(err, projection.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateIfIdentityMatches_UnknownLifecycleField(t *testing.T) {
	client := &mockClient{}
	store := NewWithClient(client, "unit-projections")

	err := store.UpdateIfIdentityMatches(context.Background(),
		projection.Identity{PartitionKey: "P1|U1", SortKey: "customerUnit"},
		nil, "archivedAt", time.Now().UTC(),
	)
	if err == nil {
		t.Fatal("expected error for unknown lifecycle field")
	}
	if client.updateIn != nil {
		t.Error("expected no UpdateItem call")
	}
}

// --- GetByIdentity ---

func TestStore_GetByIdentity(t *testing.T) {
	client := &mockClient{getOut: &dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"pk":        &types.AttributeValueMemberS{Value: "P1|U1"},
			"sk":        &types.AttributeValueMemberS{Value: "customerUnit"},
			"unitId":    &types.AttributeValueMemberS{Value: "U1"},
			"area":      &types.AttributeValueMemberN{Value: "42.5"},
			"active":    &types.AttributeValueMemberBOOL{Value: true},
			"createdAt": &types.AttributeValueMemberS{Value: "2026-04-01T09:00:00Z"},
		},
	}}
	store := NewWithClient(client, "unit-projections")

	rec, err := store.GetByIdentity(context.Background(),
		projection.Identity{PartitionKey: "P1|U1", SortKey: "customerUnit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stringAttr(client.getIn.Key, "pk") != "P1|U1" {
		t.Errorf("key mismatch: %v", client.getIn.Key)
	}
	if rec.PartitionKey != "P1|U1" || rec.SortKey != "customerUnit" {
		t.Errorf("identity mismatch: %+v", rec)
	}
	if !rec.Attributes.GetDecimal("area").Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("area not decoded as decimal: %v", rec.Attributes["area"])
	}
	if rec.CreatedAt == nil || rec.CreatedAt.UTC().Hour() != 9 {
		t.Errorf("createdAt mismatch: %v", rec.CreatedAt)
	}
	if _, ok := rec.Attributes["pk"]; ok {
		t.Error("key attributes must not leak into the attribute map")
	}
}

func TestStore_GetByIdentity_NotFound(t *testing.T) {
	client := &mockClient{getOut: &dynamodb.GetItemOutput{}}
	store := NewWithClient(client, "unit-projections")

	_, err := store.GetByIdentity(context.Background(),
		projection.Identity{PartitionKey: "P9|U9", SortKey: "accountUnit"})
	if !errors.Is(err, projection.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetByIdentity_ClientError(t *testing.T) {
	client := &mockClient{getErr: errors.New("endpoint unreachable")}
	store := NewWithClient(client, "unit-projections")

	_, err := store.GetByIdentity(context.Background(),
		projection.Identity{PartitionKey: "P1|U1", SortKey: "customerUnit"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, projection.ErrNotFound) {
		t.Error("client failure must not map to ErrNotFound")
	}
}

func TestUnmarshalValue_NumericFidelity(t *testing.T) {
	v, err := unmarshalValue(&types.AttributeValueMemberN{Value: "0.123456789012345678901234567890123456789"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("expected decimal, got %T", v)
	}
	if d.String() != "0.123456789012345678901234567890123456789" {
		t.Errorf("precision lost: %s", d.String())
	}
}
