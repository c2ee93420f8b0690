package repository

import (
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// fakeDynamo 只实现存储用到的调用，表达式按本包生成的固定形式解析
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	mu              sync.Mutex
	items           map[string]map[string]*dynamodb.AttributeValue
	tableMissing    bool
	created         *dynamodb.CreateTableInput
	transactCalls   int
	batchCalls      int
	unprocessedOnce bool
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]*dynamodb.AttributeValue)}
}

func fakeKey(item map[string]*dynamodb.AttributeValue) string {
	return aws.StringValue(item[attrPK].S) + "|" + aws.StringValue(item[attrSK].S)
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func (f *fakeDynamo) DescribeTableWithContext(_ aws.Context, in *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tableMissing {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found", nil)
	}
	return &dynamodb.DescribeTableOutput{Table: &dynamodb.TableDescription{TableName: in.TableName}}, nil
}

func (f *fakeDynamo) CreateTableWithContext(_ aws.Context, in *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = in
	f.tableMissing = false
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) WaitUntilTableExistsWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.WaiterOption) error {
	return nil
}

func (f *fakeDynamo) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fakeKey(in.Item)
	if aws.StringValue(in.ConditionExpression) == "attribute_not_exists(pk)" {
		if _, exists := f.items[key]; exists {
			return nil, conditionFailed()
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[fakeKey(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItemWithContext(_ aws.Context, in *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, fakeKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) QueryWithContext(_ aws.Context, in *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values := in.ExpressionAttributeValues
	matched := make([]map[string]*dynamodb.AttributeValue, 0)
	for _, item := range f.items {
		if aws.StringValue(in.IndexName) == UserIndexName {
			if item[attrGSIUser] != nil && aws.StringValue(item[attrGSIUser].S) == aws.StringValue(values[":u"].S) {
				matched = append(matched, item)
			}
			continue
		}
		if aws.StringValue(item[attrPK].S) != aws.StringValue(values[":pk"].S) {
			continue
		}
		if prefix, ok := values[":prefix"]; ok && !strings.HasPrefix(aws.StringValue(item[attrSK].S), aws.StringValue(prefix.S)) {
			continue
		}
		matched = append(matched, item)
	}

	sortAttr := attrSK
	if in.IndexName != nil {
		sortAttr = attrGSIUpdated
	}
	sort.Slice(matched, func(i, j int) bool {
		less := aws.StringValue(matched[i][sortAttr].S) < aws.StringValue(matched[j][sortAttr].S)
		if in.ScanIndexForward != nil && !*in.ScanIndexForward {
			return !less
		}
		return less
	})
	return &dynamodb.QueryOutput{Items: matched}, nil
}

func (f *fakeDynamo) UpdateItemWithContext(_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[fakeKey(in.Key)]
	if !ok {
		return nil, conditionFailed()
	}
	values := in.ExpressionAttributeValues
	set := map[string]string{
		":now":  "updatedAt",
		":key":  attrGSIUpdated,
		":name": "projectName",
		":type": "projectType",
	}
	for placeholder, attr := range set {
		if v, ok := values[placeholder]; ok {
			item[attr] = v
		}
	}
	if entry, ok := values[":entry"]; ok {
		existing := []*dynamodb.AttributeValue{}
		if item["contextLog"] != nil {
			existing = item["contextLog"].L
		}
		item["contextLog"] = &dynamodb.AttributeValue{L: append(existing, entry.L...)}
	}
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func (f *fakeDynamo) TransactWriteItemsWithContext(_ aws.Context, in *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactCalls++
	for _, ti := range in.TransactItems {
		if ti.Delete != nil && ti.Delete.ConditionExpression != nil {
			if _, ok := f.items[fakeKey(ti.Delete.Key)]; !ok {
				return nil, awserr.New(dynamodb.ErrCodeTransactionCanceledException, "cancelled", nil)
			}
		}
	}
	for _, ti := range in.TransactItems {
		delete(f.items, fakeKey(ti.Delete.Key))
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItemWithContext(_ aws.Context, in *dynamodb.BatchWriteItemInput, _ ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]*dynamodb.WriteRequest{}}
	for table, requests := range in.RequestItems {
		if len(requests) > 25 {
			return nil, awserr.New("ValidationException", "too many items", nil)
		}
		process := requests
		if f.unprocessedOnce && len(requests) > 1 {
			f.unprocessedOnce = false
			process = requests[:1]
			out.UnprocessedItems[table] = requests[1:]
		}
		for _, req := range process {
			delete(f.items, fakeKey(req.DeleteRequest.Key))
		}
	}
	return out, nil
}
