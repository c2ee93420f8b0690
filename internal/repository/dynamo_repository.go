package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/logger"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"
)

// 单表设计:
//   项目: pk=userEmail#projectId, sk=PROJECT, gsi1pk=userEmail, gsi1sk=updatedAt
//   答案: pk=userEmail#projectId, sk=TASK#{t}#SUBTASK#{s}
//   草稿: pk=userEmail#projectId, sk=DRAFT#TASK#{t}#SUBTASK#{s}
const (
	attrPK          = "pk"
	attrSK          = "sk"
	attrGSIUser     = "gsi1pk"
	attrGSIUpdated  = "gsi1sk"
	skProject       = "PROJECT"
	skAnswerPrefix  = "TASK#"
	UserIndexName   = "UserProjectsIndex"
	maxTransactSize = 100
	maxBatchWrite   = 25
)

func projectPK(userEmail, projectID string) string {
	return userEmail + "#" + projectID
}

func answerSK(taskIndex, subtaskIndex int) string {
	return fmt.Sprintf("TASK#%d#SUBTASK#%d", taskIndex, subtaskIndex)
}

func draftSK(taskIndex, subtaskIndex int) string {
	return "DRAFT#" + answerSK(taskIndex, subtaskIndex)
}

func itemKey(pk, sk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		attrPK: {S: aws.String(pk)},
		attrSK: {S: aws.String(sk)},
	}
}

type projectItem struct {
	PK         string `dynamodbav:"pk"`
	SK         string `dynamodbav:"sk"`
	GSIUser    string `dynamodbav:"gsi1pk"`
	GSIUpdated string `dynamodbav:"gsi1sk"`
	model.Project
}

type answerItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	model.Answer
}

type draftItem struct {
	PK        string    `dynamodbav:"pk"`
	SK        string    `dynamodbav:"sk"`
	Draft     string    `dynamodbav:"draft"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
}

// DynamoStore 基于 DynamoDB 单表的存储
type DynamoStore struct {
	Client dynamodbiface.DynamoDBAPI
	Table  string
	now    func() time.Time
}

func NewDynamoStore(client dynamodbiface.DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{Client: client, Table: table, now: time.Now}
}

func (s *DynamoStore) Projects() ProjectRepository { return (*dynamoProjects)(s) }
func (s *DynamoStore) Answers() AnswerRepository   { return (*dynamoAnswers)(s) }

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.Client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.Table),
	})
	return err
}

// EnsureTable 表不存在时创建，仅用于本地 DynamoDB
func (s *DynamoStore) EnsureTable(ctx context.Context) error {
	if err := s.Ping(ctx); err == nil {
		return nil
	} else if !isAWSCode(err, dynamodb.ErrCodeResourceNotFoundException) {
		return err
	}

	_, err := s.Client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.Table),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(attrSK), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(attrGSIUser), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(attrGSIUpdated), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String(attrSK), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(UserIndexName),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String(attrGSIUser), KeyType: aws.String(dynamodb.KeyTypeHash)},
					{AttributeName: aws.String(attrGSIUpdated), KeyType: aws.String(dynamodb.KeyTypeRange)},
				},
				// 列表接口不需要上下文日志
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String(dynamodb.ProjectionTypeInclude),
					NonKeyAttributes: aws.StringSlice([]string{
						"userEmail", "projectId", "projectName", "projectType", "createdAt", "updatedAt",
					}),
				},
			},
		},
	})
	if err != nil {
		return err
	}
	logger.Log.Info("DynamoDB table created", zap.String("table", s.Table))
	return s.Client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.Table),
	})
}

func isAWSCode(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}

// updatedAtKey 统一为 UTC 固定宽度格式，保证排序键按字典序即时间序
func updatedAtKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

type dynamoProjects DynamoStore

func (r *dynamoProjects) Create(ctx context.Context, project *model.Project) error {
	item := projectItem{
		PK:         projectPK(project.UserEmail, project.ProjectID),
		SK:         skProject,
		GSIUser:    project.UserEmail,
		GSIUpdated: updatedAtKey(project.UpdatedAt),
		Project:    *project,
	}
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return err
	}

	_, err = r.Client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.Table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		return util.ErrDuplicateProject
	}
	return err
}

func (r *dynamoProjects) Get(ctx context.Context, userEmail, projectID string) (*model.Project, error) {
	out, err := r.Client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            itemKey(projectPK(userEmail, projectID), skProject),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, util.ErrProjectNotFound
	}

	var item projectItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item.Project, nil
}

func (r *dynamoProjects) ListForUser(ctx context.Context, userEmail string) ([]*model.Project, error) {
	projects := make([]*model.Project, 0)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.Table),
		IndexName:              aws.String(UserIndexName),
		KeyConditionExpression: aws.String("gsi1pk = :u"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":u": {S: aws.String(userEmail)},
		},
		ScanIndexForward: aws.Bool(false),
	}

	for {
		out, err := r.Client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, av := range out.Items {
			var item projectItem
			if err := dynamodbattribute.UnmarshalMap(av, &item); err != nil {
				return nil, err
			}
			p := item.Project
			p.ContextLog = nil
			projects = append(projects, &p)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortByRecency(projects)
	return projects, nil
}

func (r *dynamoProjects) Update(ctx context.Context, userEmail, projectID string, update model.ProjectUpdate) (*model.Project, error) {
	now := (*DynamoStore)(r).now().UTC()
	expr := "SET updatedAt = :now, gsi1sk = :key"
	values := map[string]*dynamodb.AttributeValue{
		":now": {S: aws.String(now.Format(time.RFC3339Nano))},
		":key": {S: aws.String(updatedAtKey(now))},
	}
	if update.ProjectName != nil {
		expr += ", projectName = :name"
		values[":name"] = &dynamodb.AttributeValue{S: aws.String(*update.ProjectName)}
	}
	if update.ProjectType != nil {
		expr += ", projectType = :type"
		values[":type"] = &dynamodb.AttributeValue{S: aws.String(string(*update.ProjectType))}
	}

	out, err := r.Client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.Table),
		Key:                       itemKey(projectPK(userEmail, projectID), skProject),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: values,
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		return nil, util.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	var item projectItem
	if err := dynamodbattribute.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, err
	}
	return &item.Project, nil
}

func (r *dynamoProjects) AppendContext(ctx context.Context, userEmail, projectID string, entry model.ContextEntry) error {
	av, err := dynamodbattribute.Marshal(entry)
	if err != nil {
		return err
	}
	now := (*DynamoStore)(r).now().UTC()

	// list_append 在服务端原子追加，不会覆盖并发写入的条目
	_, err = r.Client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.Table),
		Key:                 itemKey(projectPK(userEmail, projectID), skProject),
		UpdateExpression:    aws.String("SET contextLog = list_append(if_not_exists(contextLog, :empty), :entry), updatedAt = :now, gsi1sk = :key"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":empty": {L: []*dynamodb.AttributeValue{}},
			":entry": {L: []*dynamodb.AttributeValue{av}},
			":now":   {S: aws.String(now.Format(time.RFC3339Nano))},
			":key":   {S: aws.String(updatedAtKey(now))},
		},
	})
	if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		return util.ErrProjectNotFound
	}
	return err
}

// projectKeys 列出项目分区内的所有 key（项目、答案、草稿）
func (r *dynamoProjects) projectKeys(ctx context.Context, pk string) ([]map[string]*dynamodb.AttributeValue, error) {
	keys := make([]map[string]*dynamodb.AttributeValue, 0)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.Table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ProjectionExpression:   aws.String("pk, sk"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pk": {S: aws.String(pk)},
		},
		ConsistentRead: aws.Bool(true),
	}
	for {
		out, err := r.Client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		keys = append(keys, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Delete 事务删除项目分区；超过事务上限时先删答案和草稿，最后删项目，
// 中断后重新调用即可完成清理
func (r *dynamoProjects) Delete(ctx context.Context, userEmail, projectID string) error {
	pk := projectPK(userEmail, projectID)
	keys, err := r.projectKeys(ctx, pk)
	if err != nil {
		return err
	}

	hasProject := false
	children := make([]map[string]*dynamodb.AttributeValue, 0, len(keys))
	for _, k := range keys {
		if aws.StringValue(k[attrSK].S) == skProject {
			hasProject = true
			continue
		}
		children = append(children, k)
	}
	if !hasProject {
		return util.ErrProjectNotFound
	}

	if len(children)+1 <= maxTransactSize {
		items := make([]*dynamodb.TransactWriteItem, 0, len(children)+1)
		for _, k := range children {
			items = append(items, &dynamodb.TransactWriteItem{
				Delete: &dynamodb.Delete{TableName: aws.String(r.Table), Key: k},
			})
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Delete: &dynamodb.Delete{
				TableName:           aws.String(r.Table),
				Key:                 itemKey(pk, skProject),
				ConditionExpression: aws.String("attribute_exists(pk)"),
			},
		})
		_, err := r.Client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if isAWSCode(err, dynamodb.ErrCodeTransactionCanceledException) {
			// 条件检查失败说明项目已被并发删除
			return util.ErrProjectNotFound
		}
		return err
	}

	logger.Log.Info("Project exceeds transaction size, deleting in batches",
		zap.String("projectId", projectID),
		zap.Int("items", len(children)+1),
	)
	if err := r.batchDelete(ctx, children); err != nil {
		return err
	}
	_, err = r.Client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.Table),
		Key:       itemKey(pk, skProject),
	})
	return err
}

func (r *dynamoProjects) batchDelete(ctx context.Context, keys []map[string]*dynamodb.AttributeValue) error {
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(keys) {
			end = len(keys)
		}
		requests := make([]*dynamodb.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, &dynamodb.WriteRequest{DeleteRequest: &dynamodb.DeleteRequest{Key: k}})
		}

		pending := map[string][]*dynamodb.WriteRequest{r.Table: requests}
		for attempt := 0; len(pending[r.Table]) > 0; attempt++ {
			if attempt >= 5 {
				return fmt.Errorf("batch delete: %d items left unprocessed", len(pending[r.Table]))
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt*100) * time.Millisecond):
				}
			}
			out, err := r.Client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

type dynamoAnswers DynamoStore

func (r *dynamoAnswers) Save(ctx context.Context, answer *model.Answer) error {
	av, err := dynamodbattribute.MarshalMap(answerItem{
		PK:     projectPK(answer.UserEmail, answer.ProjectID),
		SK:     answerSK(answer.TaskIndex, answer.SubtaskIndex),
		Answer: *answer,
	})
	if err != nil {
		return err
	}
	_, err = r.Client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.Table),
		Item:      av,
	})
	return err
}

func (r *dynamoAnswers) Get(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.Answer, error) {
	out, err := r.Client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            itemKey(projectPK(userEmail, projectID), answerSK(taskIndex, subtaskIndex)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, util.ErrAnswerNotFound
	}

	var item answerItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item.Answer, nil
}

func (r *dynamoAnswers) ListForProject(ctx context.Context, userEmail, projectID string) ([]*model.Answer, error) {
	answers := make([]*model.Answer, 0)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pk":     {S: aws.String(projectPK(userEmail, projectID))},
			":prefix": {S: aws.String(skAnswerPrefix)},
		},
		ConsistentRead: aws.Bool(true),
	}
	for {
		out, err := r.Client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, av := range out.Items {
			var item answerItem
			if err := dynamodbattribute.UnmarshalMap(av, &item); err != nil {
				return nil, err
			}
			a := item.Answer
			answers = append(answers, &a)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	// sk 按字典序排列，TASK#10 会排在 TASK#2 之前
	model.SortAnswers(answers)
	return answers, nil
}

func (r *dynamoAnswers) SaveDraft(ctx context.Context, draft *model.QuestionDraft) error {
	body, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	av, err := dynamodbattribute.MarshalMap(draftItem{
		PK:        projectPK(draft.UserEmail, draft.ProjectID),
		SK:        draftSK(draft.TaskIndex, draft.SubtaskIndex),
		Draft:     string(body),
		CreatedAt: draft.CreatedAt,
	})
	if err != nil {
		return err
	}
	_, err = r.Client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.Table),
		Item:      av,
	})
	return err
}

func (r *dynamoAnswers) GetDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.QuestionDraft, error) {
	out, err := r.Client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.Table),
		Key:            itemKey(projectPK(userEmail, projectID), draftSK(taskIndex, subtaskIndex)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, util.ErrDraftNotFound
	}

	var item draftItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	var draft model.QuestionDraft
	if err := json.Unmarshal([]byte(item.Draft), &draft); err != nil {
		return nil, err
	}
	draft.UserEmail = userEmail
	draft.ProjectID = projectID
	draft.TaskIndex = taskIndex
	draft.SubtaskIndex = subtaskIndex
	return &draft, nil
}

func (r *dynamoAnswers) DeleteDraft(ctx context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) error {
	_, err := r.Client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.Table),
		Key:       itemKey(projectPK(userEmail, projectID), draftSK(taskIndex, subtaskIndex)),
	})
	return err
}
