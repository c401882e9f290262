package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// unprocessedRetries bounds how often BatchDeleteSelections resends items DynamoDB
// returned as unprocessed (throttling).
const unprocessedRetries = 3

// selectionItem is the Repos table item.
type selectionItem struct {
	UserID          int64  `dynamodbav:"user_id"`
	RepoID          int64  `dynamodbav:"repo_id"`
	Name            string `dynamodbav:"name"`
	FullName        string `dynamodbav:"full_name"`
	Description     string `dynamodbav:"description"`
	HTMLURL         string `dynamodbav:"html_url"`
	Private         bool   `dynamodbav:"private"`
	Language        string `dynamodbav:"language"`
	StargazersCount int    `dynamodbav:"stargazers_count"`
	ForksCount      int    `dynamodbav:"forks_count"`
	DefaultBranch   string `dynamodbav:"default_branch"`
	PushedAt        string `dynamodbav:"pushed_at,omitempty"`
	SelectedAt      string `dynamodbav:"selected_at"`
	CreatedAt       string `dynamodbav:"created_at"`
	UpdatedAt       string `dynamodbav:"updated_at"`
}

func selectionKey(userID, repoID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(userID, 10)},
		"repo_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(repoID, 10)},
	}
}

// ListByUser queries the user's partition, following LastEvaluatedKey until
// the partition is exhausted.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]model.Selection, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("user_id").Equal(expression.Value(userID))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dynamo: building selection query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Repos),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	selections := []model.Selection{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: listing selections for user %d: %w", userID, err)
		}
		for _, av := range page.Items {
			sel, err := decodeSelection(av)
			if err != nil {
				return nil, err
			}
			selections = append(selections, *sel)
		}
	}

	sort.SliceStable(selections, func(i, j int) bool {
		if !selections[i].SelectedAt.Equal(selections[j].SelectedAt) {
			return selections[i].SelectedAt.After(selections[j].SelectedAt)
		}
		return selections[i].RepoID < selections[j].RepoID
	})
	return selections, nil
}

// GetSelection returns one selection or (nil, nil).
func (s *Store) GetSelection(ctx context.Context, userID, repoID int64) (*model.Selection, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Repos),
		Key:            selectionKey(userID, repoID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: getting selection %d/%d: %w", userID, repoID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return decodeSelection(out.Item)
}

// PutSelection overwrites the item unconditionally.
func (s *Store) PutSelection(ctx context.Context, sel model.Selection) error {
	item, err := attributevalue.MarshalMap(selectionItem{
		UserID:          sel.UserID,
		RepoID:          sel.RepoID,
		Name:            sel.Name,
		FullName:        sel.FullName,
		Description:     sel.Description,
		HTMLURL:         sel.HTMLURL,
		Private:         sel.Private,
		Language:        sel.Language,
		StargazersCount: sel.StargazersCount,
		ForksCount:      sel.ForksCount,
		DefaultBranch:   sel.DefaultBranch,
		PushedAt:        formatTime(sel.PushedAt),
		SelectedAt:      formatTime(sel.SelectedAt),
		CreatedAt:       formatTime(sel.CreatedAt),
		UpdatedAt:       formatTime(sel.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("dynamo: marshalling selection %d/%d: %w", sel.UserID, sel.RepoID, err)
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Repos),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamo: putting selection %d/%d: %w", sel.UserID, sel.RepoID, err)
	}
	return nil
}

// DeleteSelection removes one selection. Missing items are not an error.
func (s *Store) DeleteSelection(ctx context.Context, userID, repoID int64) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tables.Repos),
		Key:       selectionKey(userID, repoID),
	}); err != nil {
		return fmt.Errorf("dynamo: deleting selection %d/%d: %w", userID, repoID, err)
	}
	return nil
}

// BatchDeleteSelections sends one BatchWriteItem per chunk of 25 keys, in order.
func (s *Store) BatchDeleteSelections(ctx context.Context, userID int64, repoIDs []int64) error {
	for _, chunk := range repository.Chunk(repoIDs, repository.MaxBatchSize) {
		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, repoID := range chunk {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: selectionKey(userID, repoID)},
			})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return fmt.Errorf("dynamo: batch deleting %d selections for user %d: %w", len(chunk), userID, err)
		}
	}
	return nil
}

// batchWrite sends requests and resends whatever DynamoDB reports as
// unprocessed, with a short linear backoff.
func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tables.Repos: requests}

	for attempt := 0; ; attempt++ {
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems[s.tables.Repos]) == 0 {
			return nil
		}
		if attempt == unprocessedRetries {
			return fmt.Errorf("%d items left unprocessed", len(out.UnprocessedItems[s.tables.Repos]))
		}

		pending = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
}

func decodeSelection(av map[string]types.AttributeValue) (*model.Selection, error) {
	var item selectionItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshalling selection: %w", err)
	}

	sel := &model.Selection{
		RepoID:          item.RepoID,
		UserID:          item.UserID,
		Name:            item.Name,
		FullName:        item.FullName,
		Description:     item.Description,
		HTMLURL:         item.HTMLURL,
		Private:         item.Private,
		Language:        item.Language,
		StargazersCount: item.StargazersCount,
		ForksCount:      item.ForksCount,
		DefaultBranch:   item.DefaultBranch,
	}

	var err error
	if sel.PushedAt, err = parseTime(item.PushedAt); err != nil {
		return nil, err
	}
	if sel.SelectedAt, err = parseTime(item.SelectedAt); err != nil {
		return nil, err
	}
	if sel.CreatedAt, err = parseTime(item.CreatedAt); err != nil {
		return nil, err
	}
	if sel.UpdatedAt, err = parseTime(item.UpdatedAt); err != nil {
		return nil, err
	}
	return sel, nil
}
