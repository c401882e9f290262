package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableAdmin is what EnsureTables needs from the client.
type TableAdmin interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// EnsureTables creates the Users and Repos tables when they are missing and
// waits for them to become active. Meant for DynamoDB Local; production
// tables are provisioned outside the service.
func EnsureTables(ctx context.Context, admin TableAdmin, tables Tables) error {
	defs := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(tables.Users),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("githubId"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("githubId"), KeyType: types.KeyTypeHash}},
		},
		{
			TableName:   aws.String(tables.Repos),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("user_id"), AttributeType: types.ScalarAttributeTypeN},
				{AttributeName: aws.String("repo_id"), AttributeType: types.ScalarAttributeTypeN},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("user_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("repo_id"), KeyType: types.KeyTypeRange},
			},
		},
	}

	waiter := dynamodb.NewTableExistsWaiter(admin)
	for _, def := range defs {
		_, err := admin.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: def.TableName})
		if err == nil {
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("dynamo: describing table %s: %w", *def.TableName, err)
		}

		if _, err := admin.CreateTable(ctx, def); err != nil {
			return fmt.Errorf("dynamo: creating table %s: %w", *def.TableName, err)
		}
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: def.TableName}, 30*time.Second); err != nil {
			return fmt.Errorf("dynamo: waiting for table %s: %w", *def.TableName, err)
		}
	}
	return nil
}
