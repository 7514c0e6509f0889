package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Client defines the interface for S3 operations we need
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const defaultSnapshotKey = "graph.json"

// localCredentials prefers AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY and falls
// back to the minio defaults.
func localCredentials() credentials.StaticCredentialsProvider {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		id, secret = "minioadmin", "minioadmin"
	}
	return credentials.NewStaticCredentialsProvider(id, secret, "")
}

// NewS3Client creates an S3 client, pointed at endpoint when one is given
// (local development).
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	if endpoint != "" {
		log.Debug().Str("endpoint", endpoint).Msg("Using local S3 endpoint")
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion("us-east-1"),
			awsconfig.WithClientLogMode(aws.LogRetries),
			awsconfig.WithCredentialsProvider(localCredentials()),
		)
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}), nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// GraphSnapshot is the object written to S3 on every commit
type GraphSnapshot struct {
	Graph       *Graph `json:"graph"`
	LastUpdated int64  `json:"lastUpdated"`
}

// s3Backend stores the whole graph as one JSON object. A single PutObject
// replaces it, so a failed commit leaves the previous snapshot in place.
type s3Backend struct {
	client     S3Client
	bucketName string
	key        string
	clock      clock
}

// NewS3 returns a store persisting snapshots to s3://bucket/key.
func NewS3(client S3Client, bucketName, key string) *GraphStore {
	if key == "" {
		key = defaultSnapshotKey
	}
	return newGraphStore(&s3Backend{
		client:     client,
		bucketName: bucketName,
		key:        key,
		clock:      systemClock{},
	})
}

func (b *s3Backend) load(ctx context.Context) (*Graph, error) {
	if b.bucketName == "" {
		return nil, fmt.Errorf("empty bucket name")
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			log.Debug().Str("key", b.key).Msg("No graph snapshot in S3 yet")
			return NewGraph(), nil
		}
		return nil, fmt.Errorf("getting snapshot from S3: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			log.Error().Err(err).Msg("Error closing S3 object body")
		}
	}(result.Body)

	var snapshot GraphSnapshot
	if err := json.NewDecoder(result.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snapshot.Graph == nil {
		return NewGraph(), nil
	}

	log.Debug().
		Int("station_count", len(snapshot.Graph.Stations)).
		Int64("last_updated", snapshot.LastUpdated).
		Msg("Loaded graph snapshot from S3")
	return snapshot.Graph, nil
}

func (b *s3Backend) commit(ctx context.Context, g *Graph, _ *changeset) error {
	if b.bucketName == "" {
		return fmt.Errorf("empty bucket name")
	}

	snapshot := GraphSnapshot{
		Graph:       g,
		LastUpdated: b.clock.Now().Unix(),
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(snapshot); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("saving snapshot to S3: %w", err)
	}

	log.Debug().Int("station_count", len(g.Stations)).Msg("Saved graph snapshot to S3")
	return nil
}
