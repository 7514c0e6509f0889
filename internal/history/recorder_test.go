package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/bicyclette/backend-go/internal/city"
	"github.com/bbernstein/bicyclette/backend-go/internal/models"
	"github.com/bbernstein/bicyclette/backend-go/internal/parser"
	"github.com/bbernstein/bicyclette/backend-go/internal/store"
)

// Verify mockDynamoDBClient implements DynamoDBClient interface
var _ DynamoDBClient = (*mockDynamoDBClient)(nil)

type mockDynamoDBClient struct {
	putItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	queryFunc   func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time {
	return m.now
}

func testReport() city.CycleReport {
	started := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	return city.CycleReport{
		City:        "Paris",
		StartedAt:   started,
		FinishedAt:  started.Add(1500 * time.Millisecond),
		Outcome:     city.OutcomeSucceeded,
		Fingerprint: "9f86d081",
		Bytes:       2048,
		Changed:     3,
		Created:     1,
		Updated:     2,
		Rejected:    1,
		DataChanged: true,
	}
}

func TestSave(t *testing.T) {
	tests := []struct {
		name    string
		report  city.CycleReport
		putErr  error
		wantErr bool
	}{
		{
			name:   "successful save",
			report: testReport(),
		},
		{
			name: "missing city",
			report: func() city.CycleReport {
				r := testReport()
				r.City = ""
				return r
			}(),
			wantErr: true,
		},
		{
			name:    "dynamo error",
			report:  testReport(),
			putErr:  errors.New("throttled"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var saved CycleRecord
			client := &mockDynamoDBClient{
				putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
					if tt.putErr != nil {
						return nil, tt.putErr
					}
					assert.Equal(t, "history-table", *params.TableName)
					require.NoError(t, attributevalue.UnmarshalMap(params.Item, &saved))
					return &dynamodb.PutItemOutput{}, nil
				},
			}

			recorder := NewRecorder(client, "history-table", 24*time.Hour)
			recorder.clock = &mockClock{now: time.Unix(1700000000, 0)}

			err := recorder.Save(context.Background(), tt.report)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, "Paris", saved.City)
			assert.Equal(t, tt.report.StartedAt.UnixMilli(), saved.StartedAt)
			assert.Equal(t, "succeeded", saved.Outcome)
			assert.Equal(t, int64(1500), saved.DurationMs)
			assert.Equal(t, 3, saved.Changed)
			assert.Equal(t, int64(1700000000), saved.LastUpdated)
			assert.Equal(t, int64(1700000000+24*60*60), saved.TTL)
		})
	}
}

func TestNewRecorderDefaults(t *testing.T) {
	recorder := NewRecorder(&mockDynamoDBClient{}, "", 0)
	assert.Equal(t, DefaultTableName, recorder.tableName)
	assert.Equal(t, DefaultTTL, recorder.ttl)
}

func TestRecent(t *testing.T) {
	first, err := attributevalue.MarshalMap(CycleRecord{City: "Paris", StartedAt: 2000, Outcome: "failed", Error: "timeout"})
	require.NoError(t, err)
	second, err := attributevalue.MarshalMap(CycleRecord{City: "Paris", StartedAt: 1000, Outcome: "succeeded"})
	require.NoError(t, err)

	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			assert.Equal(t, "#city = :city", *params.KeyConditionExpression)
			assert.Equal(t, &types.AttributeValueMemberS{Value: "Paris"}, params.ExpressionAttributeValues[":city"])
			assert.False(t, *params.ScanIndexForward)
			assert.Equal(t, int32(defaultLimit), *params.Limit)
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{first, second}}, nil
		},
	}

	records, err := NewRecorder(client, "", 0).Recent(context.Background(), "Paris", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "timeout", records[0].Error)
	assert.Equal(t, int64(1000), records[1].StartedAt)
}

func TestRecent_Error(t *testing.T) {
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return nil, errors.New("resource not found")
		},
	}

	_, err := NewRecorder(client, "", 0).Recent(context.Background(), "Paris", 5)
	assert.Error(t, err)
}

func TestAttach(t *testing.T) {
	var outcomes []string
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			var record CycleRecord
			require.NoError(t, attributevalue.UnmarshalMap(params.Item, &record))
			outcomes = append(outcomes, record.Outcome)
			return nil, errors.New("recording failures are only logged")
		},
	}

	d, err := parser.LookupDialect("xmlattributes", "")
	require.NoError(t, err)
	p, err := parser.New(d)
	require.NoError(t, err)

	payload := []byte(`<stations><station number="1" lat="48.86" lng="2.35" bikes="1" free="2"/></stations>`)
	fail := false
	fetcher := city.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		if fail {
			return nil, errors.New("connection reset")
		}
		return payload, nil
	})

	c, err := city.New(context.Background(), city.Config{
		Name:   "Paris",
		Parser: p,
		Limit:  models.OuterLimit{Center: models.Coordinate{Latitude: 48.8566, Longitude: 2.3522}, RadiusKm: 30},
	}, fetcher, store.NewMemory(), city.Capabilities{URLs: city.StaticURLs{Update: "https://example.com/stations.xml"}})
	require.NoError(t, err)

	detach := NewRecorder(client, "", 0).Attach(c)

	require.NoError(t, c.Update(context.Background()))
	fail = true
	require.Error(t, c.Update(context.Background()))
	assert.Equal(t, []string{"succeeded", "failed"}, outcomes)

	detach()
	require.Error(t, c.Update(context.Background()))
	assert.Len(t, outcomes, 2)
}
