package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// identityItem is the Users table item. githubId is a string attribute in
// that table, hence the ",string" option.
type identityItem struct {
	GitHubID           int64  `dynamodbav:"githubId,string"`
	GitHubAccessToken  string `dynamodbav:"githubAccessToken"`
	OnboardingComplete bool   `dynamodbav:"onboardingComplete"`
	CreatedAt          string `dynamodbav:"createdAt"`
	UpdatedAt          string `dynamodbav:"updatedAt"`
}

func identityKey(externalID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"githubId": &types.AttributeValueMemberS{Value: strconv.FormatInt(externalID, 10)},
	}
}

// FindByExternalID returns the identity or (nil, nil) when there is none.
func (s *Store) FindByExternalID(ctx context.Context, externalID int64) (*model.Identity, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Users),
		Key:            identityKey(externalID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: getting identity %d: %w", externalID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return s.decodeIdentity(out.Item)
}

// CreateIdentity writes a new identity. The write is conditional on the key being
// absent, so a second CreateIdentity for the same id fails instead of overwriting.
func (s *Store) CreateIdentity(ctx context.Context, identity model.Identity) (*model.Identity, error) {
	now := s.now().UTC()
	identity.OnboardingComplete = false
	identity.CreatedAt = now
	identity.UpdatedAt = now

	sealed, err := s.codec.Seal(identity.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("dynamo: sealing token for identity %d: %w", identity.ExternalID, err)
	}

	item, err := attributevalue.MarshalMap(identityItem{
		GitHubID:           identity.ExternalID,
		GitHubAccessToken:  sealed,
		OnboardingComplete: identity.OnboardingComplete,
		CreatedAt:          formatTime(identity.CreatedAt),
		UpdatedAt:          formatTime(identity.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshalling identity %d: %w", identity.ExternalID, err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("githubId"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dynamo: building create condition: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tables.Users),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("dynamo: creating identity %d: %w", identity.ExternalID, repository.ErrIdentityExists)
		}
		return nil, fmt.Errorf("dynamo: creating identity %d: %w", identity.ExternalID, err)
	}
	return &identity, nil
}

// UpdateIdentity sets the patched attributes plus updatedAt in one UpdateItem call.
// The condition on githubId turns "no such item" into apperror.ErrNotFound
// instead of an upsert.
func (s *Store) UpdateIdentity(ctx context.Context, externalID int64, patch model.IdentityPatch) (*model.Identity, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(formatTime(s.now())))
	if patch.CachedAccessToken != nil {
		sealed, err := s.codec.Seal(*patch.CachedAccessToken)
		if err != nil {
			return nil, fmt.Errorf("dynamo: sealing token for identity %d: %w", externalID, err)
		}
		update = update.Set(expression.Name("githubAccessToken"), expression.Value(sealed))
	}
	if patch.OnboardingComplete != nil {
		update = update.Set(expression.Name("onboardingComplete"), expression.Value(*patch.OnboardingComplete))
	}

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("githubId"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dynamo: building identity update: %w", err)
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.Users),
		Key:                       identityKey(externalID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, apperror.NotFound("identity", externalID)
		}
		return nil, fmt.Errorf("dynamo: updating identity %d: %w", externalID, err)
	}
	return s.decodeIdentity(out.Attributes)
}

// DeleteIdentity removes the identity. DeleteItem on a missing key succeeds.
func (s *Store) DeleteIdentity(ctx context.Context, externalID int64) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tables.Users),
		Key:       identityKey(externalID),
	})
	if err != nil {
		return fmt.Errorf("dynamo: deleting identity %d: %w", externalID, err)
	}
	return nil
}

func (s *Store) decodeIdentity(av map[string]types.AttributeValue) (*model.Identity, error) {
	var item identityItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshalling identity: %w", err)
	}

	token, err := s.codec.Open(item.GitHubAccessToken)
	if err != nil {
		return nil, fmt.Errorf("dynamo: opening cached token for identity %d: %w", item.GitHubID, err)
	}
	createdAt, err := parseTime(item.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &model.Identity{
		ExternalID:         item.GitHubID,
		CachedAccessToken:  token,
		OnboardingComplete: item.OnboardingComplete,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}
