// Package dynamo implements the destination store on DynamoDB. Records are
// flattened items: pk, sk, lifecycle timestamps and every unit attribute at
// the top level, numbers carried as number attributes.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"unitcast/internal/core/apperror"
	"unitcast/internal/core/entity"
	"unitcast/internal/domain/projection"
)

const (
	keyPartition = "pk"
	keySort      = "sk"
)

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config holds explicit construction parameters. Credentials fall back to
// the default chain when AccessKeyID is empty.
type Config struct {
	Region          string
	Table           string
	Endpoint        string // optional; for DynamoDB Local
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Compile-time check that Store implements projection.Store.
var _ projection.Store = (*Store)(nil)

// Store implements the destination on a single DynamoDB table keyed (pk, sk).
type Store struct {
	client Client
	table  string
}

// New creates a DynamoDB store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table), nil
}

// OpenFromEnv constructs a store from process environment. Credentials come
// from the default chain.
//
//	UNITCAST_DYNAMO_REGION: table region (default us-east-1)
//	UNITCAST_DYNAMO_ENDPOINT: optional, for DynamoDB Local
func OpenFromEnv(ctx context.Context, table string) (*Store, error) {
	return New(ctx, Config{
		Table:    table,
		Region:   os.Getenv("UNITCAST_DYNAMO_REGION"),
		Endpoint: os.Getenv("UNITCAST_DYNAMO_ENDPOINT"),
	})
}

// NewWithClient creates a store over an existing client. Used by tests.
func NewWithClient(client Client, table string) *Store {
	return &Store{client: client, table: table}
}

// Ping verifies the table is reachable with the current credentials.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	return err
}

// GetByIdentity returns the record at the composite key.
func (s *Store) GetByIdentity(ctx context.Context, pid projection.Identity) (*projection.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       identityKey(pid),
	})
	if err != nil {
		return nil, apperror.NewStore("get", err)
	}
	if len(out.Item) == 0 {
		return nil, projection.ErrNotFound
	}

	rec, err := unmarshalItem(out.Item)
	if err != nil {
		return nil, apperror.NewStore("get", err)
	}
	return rec, nil
}

// PutIfAbsent inserts the record unless the identity is taken.
func (s *Store) PutIfAbsent(ctx context.Context, rec *projection.Record) error {
	item, err := marshalRecord(rec)
	if err != nil {
		return apperror.NewStore("put", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return projection.ErrAlreadyExists
		}
		return apperror.NewStore("put", err)
	}
	return nil
}

// UpdateIfIdentityMatches assigns the attribute set and stamps the lifecycle
// field on an existing item. Attribute names travel as expression name
// placeholders, values as expression values.
func (s *Store) UpdateIfIdentityMatches(ctx context.Context, pid projection.Identity, attrs []projection.FieldValue, tsField string, ts time.Time) error {
	switch tsField {
	case projection.FieldCreatedAt, projection.FieldUpdatedAt, projection.FieldDeletedAt:
	default:
		return fmt.Errorf("unknown lifecycle field %q", tsField)
	}

	names := make(map[string]string, len(attrs)+1)
	values := make(map[string]types.AttributeValue, len(attrs)+1)
	assignments := make([]string, 0, len(attrs)+1)

	for i, fv := range attrs {
		nameRef := fmt.Sprintf("#a%d", i)
		valueRef := fmt.Sprintf(":v%d", i)
		av, err := marshalValue(fv.Value)
		if err != nil {
			return apperror.NewStore("update", fmt.Errorf("marshal attribute %q: %w", fv.Name, err))
		}
		names[nameRef] = fv.Name
		values[valueRef] = av
		assignments = append(assignments, nameRef+" = "+valueRef)
	}

	names["#ts"] = tsField
	values[":ts"] = timeValue(ts)
	assignments = append(assignments, "#ts = :ts")

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       identityKey(pid),
		ConditionExpression:       aws.String("attribute_exists(pk) AND attribute_exists(sk)"),
		UpdateExpression:          aws.String("SET " + strings.Join(assignments, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return projection.ErrNotFound
		}
		return apperror.NewStore("update", err)
	}
	return nil
}

func identityKey(pid projection.Identity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyPartition: &types.AttributeValueMemberS{Value: pid.PartitionKey},
		keySort:      &types.AttributeValueMemberS{Value: pid.SortKey},
	}
}

// marshalRecord flattens the record into an item. Key attributes shadow any
// same-named incoming attributes.
func marshalRecord(rec *projection.Record) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		keyPartition: &types.AttributeValueMemberS{Value: rec.PartitionKey},
		keySort:      &types.AttributeValueMemberS{Value: rec.SortKey},
	}
	for k, v := range rec.Attributes {
		if k == keyPartition || k == keySort {
			continue
		}
		av, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("marshal attribute %q: %w", k, err)
		}
		item[k] = av
	}
	if rec.CreatedAt != nil {
		item[projection.FieldCreatedAt] = timeValue(*rec.CreatedAt)
	}
	if rec.UpdatedAt != nil {
		item[projection.FieldUpdatedAt] = timeValue(*rec.UpdatedAt)
	}
	if rec.DeletedAt != nil {
		item[projection.FieldDeletedAt] = timeValue(*rec.DeletedAt)
	}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (*projection.Record, error) {
	rec := &projection.Record{Attributes: entity.Attributes{}}
	for k, av := range item {
		switch k {
		case keyPartition:
			rec.PartitionKey = stringMember(av)
		case keySort:
			rec.SortKey = stringMember(av)
		case projection.FieldCreatedAt:
			ts, err := parseTime(av)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", k, err)
			}
			rec.CreatedAt = ts
		case projection.FieldUpdatedAt:
			ts, err := parseTime(av)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", k, err)
			}
			rec.UpdatedAt = ts
		case projection.FieldDeletedAt:
			ts, err := parseTime(av)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", k, err)
			}
			rec.DeletedAt = ts
		default:
			v, err := unmarshalValue(av)
			if err != nil {
				return nil, fmt.Errorf("unmarshal attribute %q: %w", k, err)
			}
			rec.Attributes[k] = v
		}
	}
	return rec, nil
}

func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

func parseTime(av types.AttributeValue) (*time.Time, error) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected attribute type %T", av)
	}
	t, err := time.Parse(time.RFC3339Nano, s.Value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringMember(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// marshalValue maps a unit attribute to an AttributeValue, keeping numeric
// fidelity for decimals. Nested shapes fall through to the SDK marshaler.
func marshalValue(v any) (types.AttributeValue, error) {
	switch val := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: val}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: val}, nil
	case decimal.Decimal:
		return &types.AttributeValueMemberN{Value: val.String()}, nil
	case json.Number:
		return &types.AttributeValueMemberN{Value: val.String()}, nil
	default:
		return attributevalue.Marshal(v)
	}
}

func unmarshalValue(av types.AttributeValue) (any, error) {
	switch val := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return val.Value, nil
	case *types.AttributeValueMemberBOOL:
		return val.Value, nil
	case *types.AttributeValueMemberN:
		d, err := decimal.NewFromString(val.Value)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", val.Value, err)
		}
		return d, nil
	default:
		var out any
		if err := attributevalue.Unmarshal(av, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
