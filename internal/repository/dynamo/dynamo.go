// Package dynamo implements the repository interfaces on Amazon DynamoDB.
//
// TABLE LAYOUT:
//
//	Users table  PK githubId (S)
//	Repos table  PK user_id (N), SK repo_id (N)
//
// Attribute names follow what the tables already hold (camelCase in Users,
// snake_case in Repos). The translation to model types happens only in this
// package, through the *Item structs and attributevalue.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/sakif/repo-insights/internal/repository"
)

// API is the subset of *dynamodb.Client the store uses. Tests supply a fake.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Tables names the two tables.
type Tables struct {
	Users string
	Repos string
}

// ClientConfig configures the AWS client. Endpoint is set for DynamoDB Local;
// static credentials are used when both keys are present, otherwise the
// default AWS credential chain applies.
type ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds a *dynamodb.Client from cfg.
func NewClient(ctx context.Context, cfg ClientConfig) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: loading AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Store implements repository.IdentityRepository and repository.SelectionRepository.
type Store struct {
	api    API
	tables Tables
	codec  repository.TokenCodec
	now    func() time.Time
}

var (
	_ repository.IdentityRepository  = (*Store)(nil)
	_ repository.SelectionRepository = (*Store)(nil)
)

// New creates a Store. codec seals the cached GitHub token; nil stores it as is.
func New(api API, tables Tables, codec repository.TokenCodec) *Store {
	if codec == nil {
		codec = plaintext{}
	}
	return &Store{api: api, tables: tables, codec: codec, now: time.Now}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamo: parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

type plaintext struct{}

func (plaintext) Seal(s string) (string, error) { return s, nil }
func (plaintext) Open(s string) (string, error) { return s, nil }
