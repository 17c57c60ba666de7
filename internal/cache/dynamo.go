package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// Dynamo is a cache backend over a DynamoDB table. The table's partition
// key is automation_id (string).
type Dynamo struct {
	client dynamodbiface.DynamoDBAPI
	table  string
}

// dynamoEntry mirrors Entry with a flat timestamp for range queries
type dynamoEntry struct {
	AutomationID         string `dynamodbav:"automation_id"`
	SourceDatabaseID     string `dynamodbav:"source_database_id"`
	DestinationAccountID string `dynamodbav:"destination_account_id"`
	Interval             string `dynamodbav:"interval"`
	LastSyncedAt         int64  `dynamodbav:"last_synced_at"`
}

// NewDynamo creates a DynamoDB cache backend. Credentials come from the
// environment as usual for the AWS SDK.
func NewDynamo(table, region string) (*Dynamo, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create aws session: %w", err)
	}

	return &Dynamo{
		client: dynamodb.New(sess),
		table:  table,
	}, nil
}

// NewDynamoWithClient creates a backend with an injected client, for tests
func NewDynamoWithClient(client dynamodbiface.DynamoDBAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

func (d *Dynamo) List(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}

	input := &dynamodb.ScanInput{
		TableName: aws.String(d.table),
	}

	// Paginate until the scan is exhausted
	for {
		out, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("cache: dynamodb scan failed: %w", err)
		}

		for _, item := range out.Items {
			var de dynamoEntry
			if err := dynamodbattribute.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("cache: failed to unmarshal entry: %w", err)
			}
			entries = append(entries, fromDynamo(de))
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return entries, nil
}

func (d *Dynamo) Put(ctx context.Context, e Entry) error {
	item, err := dynamodbattribute.MarshalMap(toDynamo(e))
	if err != nil {
		return fmt.Errorf("cache: failed to marshal entry: %w", err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("cache: dynamodb put failed: %w", err)
	}

	return nil
}

func (d *Dynamo) SetLastSynced(ctx context.Context, automationID string, t time.Time) error {
	_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]*dynamodb.AttributeValue{
			"automation_id": {S: aws.String(automationID)},
		},
		UpdateExpression:    aws.String("SET last_synced_at = :t"),
		ConditionExpression: aws.String("attribute_exists(automation_id)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t": {N: aws.String(fmt.Sprintf("%d", t.Unix()))},
		},
	})
	if err != nil {
		return fmt.Errorf("cache: dynamodb update failed: %w", err)
	}

	return nil
}

func (d *Dynamo) Delete(ctx context.Context, automationID string) error {
	_, err := d.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]*dynamodb.AttributeValue{
			"automation_id": {S: aws.String(automationID)},
		},
	})
	if err != nil {
		return fmt.Errorf("cache: dynamodb delete failed: %w", err)
	}

	return nil
}

func toDynamo(e Entry) dynamoEntry {
	var ts int64
	if !e.LastSyncedAt.IsZero() {
		ts = e.LastSyncedAt.Unix()
	}

	return dynamoEntry{
		AutomationID:         e.AutomationID,
		SourceDatabaseID:     e.SourceDatabaseID,
		DestinationAccountID: e.DestinationAccountID,
		Interval:             e.Interval,
		LastSyncedAt:         ts,
	}
}

func fromDynamo(de dynamoEntry) Entry {
	e := Entry{
		AutomationID:         de.AutomationID,
		SourceDatabaseID:     de.SourceDatabaseID,
		DestinationAccountID: de.DestinationAccountID,
		Interval:             de.Interval,
	}
	if de.LastSyncedAt > 0 {
		e.LastSyncedAt = time.Unix(de.LastSyncedAt, 0).UTC()
	}

	return e
}
