package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	testUsersTable = "users"
	testReposTable = "repos"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB API. It understands
// exactly the expressions the store builds: attribute_(not_)exists
// conditions, SET-only updates, and a single equality key condition.
type fakeDynamo struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]map[string]types.AttributeValue

	// pageSize limits Query pages so pagination is exercised. Zero is unlimited.
	pageSize int
	// unprocessedOnce makes the first BatchWriteItem call report its last
	// request as unprocessed.
	unprocessedOnce bool

	batchCalls []int
	queryCalls int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		keys: map[string][]string{
			testUsersTable: {"githubId"},
			testReposTable: {"user_id", "repo_id"},
		},
		tables: map[string]map[string]map[string]types.AttributeValue{
			testUsersTable: {},
			testReposTable: {},
		},
	}
}

func newTestStore(api API) *Store {
	return New(api, Tables{Users: testUsersTable, Repos: testReposTable}, nil)
}

func (f *fakeDynamo) itemKey(table string, key map[string]types.AttributeValue) (string, error) {
	names, ok := f.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: aws.String("no table " + table)}
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		switch v := key[n].(type) {
		case *types.AttributeValueMemberN:
			parts = append(parts, v.Value)
		case *types.AttributeValueMemberS:
			parts = append(parts, v.Value)
		default:
			return "", fmt.Errorf("fake: key attribute %q missing or not scalar", n)
		}
	}
	return strings.Join(parts, "|"), nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, err := f.itemKey(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(f.tables[*in.TableName][k])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, err := f.itemKey(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	_, exists := f.tables[*in.TableName][k]
	if err := checkCondition(in.ConditionExpression, exists); err != nil {
		return nil, err
	}
	f.tables[*in.TableName][k] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, err := f.itemKey(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, exists := f.tables[*in.TableName][k]
	if err := checkCondition(in.ConditionExpression, exists); err != nil {
		return nil, err
	}
	if !exists {
		item = copyItem(in.Key)
	}

	expr := strings.TrimSpace(aws.ToString(in.UpdateExpression))
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("fake: unsupported update expression %q", expr)
	}
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		lhs, rhs, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("fake: bad SET clause %q", clause)
		}
		name := in.ExpressionAttributeNames[strings.TrimSpace(lhs)]
		value, ok := in.ExpressionAttributeValues[strings.TrimSpace(rhs)]
		if name == "" || !ok {
			return nil, fmt.Errorf("fake: unresolved placeholders in %q", clause)
		}
		item[name] = value
	}

	f.tables[*in.TableName][k] = item
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, err := f.itemKey(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	delete(f.tables[*in.TableName], k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++

	if len(in.ExpressionAttributeValues) != 1 {
		return nil, errors.New("fake: expected a single key condition value")
	}
	var partition string
	for _, v := range in.ExpressionAttributeValues {
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return nil, errors.New("fake: partition value must be a number")
		}
		partition = n.Value
	}

	var matched []map[string]types.AttributeValue
	for _, item := range f.tables[*in.TableName] {
		if item["user_id"].(*types.AttributeValueMemberN).Value == partition {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return repoIDOf(matched[i]) < repoIDOf(matched[j]) })

	if in.ExclusiveStartKey != nil {
		after := repoIDOf(in.ExclusiveStartKey)
		start := sort.Search(len(matched), func(i int) bool { return repoIDOf(matched[i]) > after })
		matched = matched[start:]
	}

	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && len(matched) > f.pageSize {
		matched = matched[:f.pageSize]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"user_id": last["user_id"], "repo_id": last["repo_id"]}
	}
	for _, item := range matched {
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, reqs := range in.RequestItems {
		total += len(reqs)
	}
	if total > 25 {
		return nil, errors.New("fake: ValidationException: too many items requested for the BatchWriteItem call")
	}
	f.batchCalls = append(f.batchCalls, total)

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.unprocessedOnce && len(reqs) > 0 {
			f.unprocessedOnce = false
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			if r.DeleteRequest == nil {
				return nil, errors.New("fake: only delete requests are supported")
			}
			k, err := f.itemKey(table, r.DeleteRequest.Key)
			if err != nil {
				return nil, err
			}
			delete(f.tables[table], k)
		}
	}
	return out, nil
}

func checkCondition(cond *string, exists bool) error {
	c := aws.ToString(cond)
	switch {
	case strings.Contains(c, "attribute_not_exists") && exists:
		return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	case strings.Contains(c, "attribute_exists") && !exists:
		return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	return nil
}

func repoIDOf(item map[string]types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(item["repo_id"].(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
