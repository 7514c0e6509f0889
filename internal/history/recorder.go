package history

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/bicyclette/backend-go/internal/city"
)

const (
	DefaultTableName = "bicyclette-update-history"
	DefaultTTL       = 30 * 24 * time.Hour
	defaultLimit     = 20
	saveTimeout      = 5 * time.Second
)

// CycleRecord is one finished update cycle as stored in DynamoDB. City is
// the partition key and StartedAt (unix millis) the sort key.
type CycleRecord struct {
	City        string `dynamodbav:"city"`
	StartedAt   int64  `dynamodbav:"startedAt"`
	Outcome     string `dynamodbav:"outcome"`
	FailedIn    string `dynamodbav:"failedIn,omitempty"`
	Error       string `dynamodbav:"error,omitempty"`
	Fingerprint string `dynamodbav:"fingerprint,omitempty"`
	Bytes       int    `dynamodbav:"bytes"`
	DurationMs  int64  `dynamodbav:"durationMs"`
	Changed     int    `dynamodbav:"changed"`
	Created     int    `dynamodbav:"created"`
	Updated     int    `dynamodbav:"updated"`
	Rejected    int    `dynamodbav:"rejected"`
	Retired     int    `dynamodbav:"retired"`
	Stale       int    `dynamodbav:"stale"`
	DataChanged bool   `dynamodbav:"dataChanged"`
	LastUpdated int64  `dynamodbav:"lastUpdated"`
	TTL         int64  `dynamodbav:"ttl"`
}

func (r CycleRecord) Validate() error {
	if r.City == "" {
		return fmt.Errorf("city is required")
	}
	if r.StartedAt <= 0 {
		return fmt.Errorf("start time is required")
	}
	return nil
}

func recordFromReport(report city.CycleReport) CycleRecord {
	return CycleRecord{
		City:        report.City,
		StartedAt:   report.StartedAt.UnixMilli(),
		Outcome:     string(report.Outcome),
		FailedIn:    string(report.FailedIn),
		Error:       report.Error,
		Fingerprint: report.Fingerprint,
		Bytes:       report.Bytes,
		DurationMs:  report.Duration().Milliseconds(),
		Changed:     report.Changed,
		Created:     report.Created,
		Updated:     report.Updated,
		Rejected:    report.Rejected,
		Retired:     report.Retired,
		Stale:       report.Stale,
		DataChanged: report.DataChanged,
	}
}

type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Recorder keeps a history of update cycles in DynamoDB.
type Recorder struct {
	client    DynamoDBClient
	tableName string
	ttl       time.Duration
	clock     clock
}

func NewRecorder(client DynamoDBClient, tableName string, ttl time.Duration) *Recorder {
	if tableName == "" {
		tableName = DefaultTableName
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Recorder{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		clock:     systemClock{},
	}
}

// Save stores the report of one cycle.
func (r *Recorder) Save(ctx context.Context, report city.CycleReport) error {
	record := recordFromReport(report)
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid cycle record: %w", err)
	}

	now := r.clock.Now().Unix()
	record.LastUpdated = now
	record.TTL = now + int64(r.ttl.Seconds())

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshaling cycle record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("putting cycle record in DynamoDB: %w", err)
	}

	log.Debug().
		Str("city", record.City).
		Str("outcome", record.Outcome).
		Msg("Saved cycle record")

	return nil
}

// Attach subscribes the recorder to c so every finished cycle is saved.
// Failures are logged; they never affect the cycle. The returned func
// detaches the recorder.
func (r *Recorder) Attach(c *city.City) func() {
	return c.Subscribe(func(e city.Event) {
		if e.Report == nil {
			return
		}
		if e.Kind != city.UpdateSucceeded && e.Kind != city.UpdateFailed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.Save(ctx, *e.Report); err != nil {
			log.Error().Err(err).Str("city", e.City).Msg("Error recording update cycle")
		}
	})
}

// Recent returns up to limit records for cityName, newest first.
func (r *Recorder) Recent(ctx context.Context, cityName string, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#city = :city"),
		ExpressionAttributeNames: map[string]string{
			"#city": "city",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":city": &types.AttributeValueMemberS{Value: cityName},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying cycle records: %w", err)
	}

	var records []CycleRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshaling cycle records: %w", err)
	}
	return records, nil
}
