package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/repository"
	"tinkerfai_backend/internal/service"
	"tinkerfai_backend/internal/util"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	cip "github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const (
	learnerEmail = "learner@example.com"
	learnerToken = "learner-token"
	housesCSV    = "sqft,city,price\n1200,Austin,250000\n900,Dallas,180000\n1500,Austin,320000\n1100,Houston,210000\n1750,Dallas,345000\n980,Houston,189000\n"
)

// stubCognito 只实现路由测试用到的认证接口
type stubCognito struct {
	cognitoidentityprovideriface.CognitoIdentityProviderAPI
	tokens map[string]string
}

func userAttributes(email string) []*cip.AttributeType {
	return []*cip.AttributeType{
		{Name: aws.String("sub"), Value: aws.String("sub-1")},
		{Name: aws.String("email"), Value: aws.String(email)},
	}
}

func (s *stubCognito) GetUserWithContext(_ aws.Context, in *cip.GetUserInput, _ ...request.Option) (*cip.GetUserOutput, error) {
	email, ok := s.tokens[aws.StringValue(in.AccessToken)]
	if !ok {
		return nil, awserr.New(cip.ErrCodeNotAuthorizedException, "Invalid Access Token", nil)
	}
	return &cip.GetUserOutput{Username: aws.String(email), UserAttributes: userAttributes(email)}, nil
}

func (s *stubCognito) AdminGetUserWithContext(_ aws.Context, in *cip.AdminGetUserInput, _ ...request.Option) (*cip.AdminGetUserOutput, error) {
	email := aws.StringValue(in.Username)
	if email != learnerEmail {
		return nil, awserr.New(cip.ErrCodeUserNotFoundException, "User does not exist.", nil)
	}
	return &cip.AdminGetUserOutput{Username: aws.String(email), UserAttributes: userAttributes(email)}, nil
}

func (s *stubCognito) AdminInitiateAuthWithContext(_ aws.Context, in *cip.AdminInitiateAuthInput, _ ...request.Option) (*cip.AdminInitiateAuthOutput, error) {
	if aws.StringValue(in.AuthParameters["PASSWORD"]) != "correct-horse" {
		return nil, awserr.New(cip.ErrCodeNotAuthorizedException, "Incorrect username or password.", nil)
	}
	return &cip.AdminInitiateAuthOutput{AuthenticationResult: &cip.AuthenticationResultType{
		AccessToken: aws.String(learnerToken),
		ExpiresIn:   aws.Int64(3600),
		TokenType:   aws.String("Bearer"),
	}}, nil
}

// scriptedChat 按调用顺序返回回复，最后一条重复使用
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
}

func (s *scriptedChat) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, errors.New("no reply configured")
	}
	text := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

type testServer struct {
	t      *testing.T
	app    *App
	store  *repository.MemoryStore
	chat   *scriptedChat
	local  *service.LocalStorageProvider
	config *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Cognito:   config.CognitoConfig{UserPoolID: "pool-1", ClientID: "client-1", ClientSecret: "shh"},
		Store:     config.StoreConfig{Driver: util.StoreMemory},
		Dataset:   config.DatasetConfig{MaxFileSize: util.MaxUploadSize, SampleRows: 50},
		AI:        config.AIConfig{Model: "test-model", MaxRetries: 1, RetryDelay: time.Millisecond},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		RateLimit: config.RateLimitConfig{MaxRequests: 1000, WindowMinutes: 1},
		Storage: config.StorageConfig{
			Type:          util.StorageLocal,
			LocalPath:     t.TempDir(),
			PublicURL:     "http://localhost:8000",
			SigningKey:    "router-test-signing-key",
			UploadExpires: time.Hour,
		},
	}

	store := repository.NewMemoryStore()
	local := service.NewLocalStorageProvider(&cfg.Storage)
	chat := &scriptedChat{}
	app := newApp(cfg, &dependencies{
		store:   store,
		objects: local,
		cognito: &stubCognito{tokens: map[string]string{learnerToken: learnerEmail}},
		chat:    chat,
	})
	return &testServer{t: t, app: app, store: store, chat: chat, local: local, config: cfg}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) jsonRequest(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) formRequest(path string, form url.Values) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+learnerToken)
	return s.do(req)
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func (s *testServer) createProject(name string) string {
	s.t.Helper()
	w, env := s.jsonRequest(http.MethodPost, "/api/projects", learnerToken, gin.H{"projectName": name, "projectType": "beginner"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Project struct {
			ProjectID string `json:"projectId"`
		} `json:"project"`
	}
	decode(s.t, env.Data, &data)
	require.NotEmpty(s.t, data.Project.ProjectID)
	return data.Project.ProjectID
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, env := s.jsonRequest(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status     string `json:"status"`
		Components struct {
			Store struct {
				Driver string `json:"driver"`
				Status string `json:"status"`
			} `json:"store"`
		} `json:"components"`
	}
	decode(t, env.Data, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, util.StoreMemory, health.Components.Store.Driver)
	assert.Equal(t, "up", health.Components.Store.Status)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w = httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	w, env := s.jsonRequest(http.MethodPost, "/api/signin", "", gin.H{"email": learnerEmail, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Sign in successful", env.Message)
	var tokens struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}
	decode(t, env.Data, &tokens)
	assert.Equal(t, learnerToken, tokens.AccessToken)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)

	w, env = s.jsonRequest(http.MethodPost, "/api/signin", "", gin.H{"email": learnerEmail, "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Password incorrect", env.Message)

	w, _ = s.jsonRequest(http.MethodPost, "/api/signin", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.jsonRequest(http.MethodPost, "/api/validate-token", "", gin.H{"accessToken": learnerToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), learnerEmail)

	w, _ = s.jsonRequest(http.MethodPost, "/api/validate-token", "", gin.H{"accessToken": "revoked"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w, env := s.jsonRequest(http.MethodGet, "/api/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Missing or invalid authorization header", env.Message)

	w, env = s.jsonRequest(http.MethodGet, "/api/projects", "stale-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", env.Message)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Basic "+learnerToken)
	w, _ = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.jsonRequest(http.MethodPost, "/api/projects", learnerToken, gin.H{"projectName": "  ", "projectType": "beginner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.jsonRequest(http.MethodPost, "/api/projects", learnerToken, gin.H{"projectName": "Houses", "projectType": "wizard"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	first := s.createProject("Houses")
	second := s.createProject("Churn")

	w, env := s.jsonRequest(http.MethodGet, "/api/projects", learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Projects []struct {
			ProjectID string `json:"projectId"`
		} `json:"projects"`
	}
	decode(t, env.Data, &list)
	assert.Len(t, list.Projects, 2)

	w, env = s.jsonRequest(http.MethodPut, "/api/projects/"+first, learnerToken, gin.H{"projectName": "House prices"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "House prices")

	w, _ = s.jsonRequest(http.MethodGet, "/api/projects/missing", learnerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.jsonRequest(http.MethodDelete, "/api/projects/"+second, learnerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.jsonRequest(http.MethodGet, "/api/projects/"+second, learnerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuestionAnswerAndProgress(t *testing.T) {
	s := newTestServer(t)
	s.chat.replies = []string{"What would you like to predict?"}
	id := s.createProject("Houses")
	base := "/api/projects/" + id

	w, _ := s.jsonRequest(http.MethodGet, base+"/questions/x/0", learnerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.jsonRequest(http.MethodGet, base+"/questions/9/0", learnerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.jsonRequest(http.MethodGet, base+"/questions/1/0", learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Question struct {
			QuestionID   string `json:"questionId"`
			QuestionType string `json:"questionType"`
			QuestionText string `json:"questionText"`
		} `json:"question"`
	}
	decode(t, env.Data, &result)
	assert.Equal(t, "text", result.Question.QuestionType)
	assert.Equal(t, "What would you like to predict?", result.Question.QuestionText)

	answer := gin.H{
		"taskIndex":    1,
		"subtaskIndex": 0,
		"questionId":   result.Question.QuestionID,
		"answerType":   "text",
		"textAnswer":   "Predict house prices from size and city",
	}

	mismatched := gin.H{"projectId": "another"}
	for k, v := range answer {
		mismatched[k] = v
	}
	w, env = s.jsonRequest(http.MethodPost, base+"/answers", learnerToken, mismatched)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Project or user does not match the request", env.Message)

	w, _ = s.jsonRequest(http.MethodPost, base+"/answers", learnerToken, gin.H{"questionId": "q", "answerType": "text"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	answer["userEmail"] = learnerEmail
	w, env = s.jsonRequest(http.MethodPost, base+"/answers", learnerToken, answer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Answer submitted successfully", env.Message)

	w, env = s.jsonRequest(http.MethodGet, base+"/progress", learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress struct {
		CurrentTask       int              `json:"currentTask"`
		CurrentSubtask    int              `json:"currentSubtask"`
		CompletedTasks    []int            `json:"completedTasks"`
		CompletedSubtasks map[string][]int `json:"completedSubtasks"`
		TotalAnswers      int              `json:"totalAnswers"`
	}
	decode(t, env.Data, &progress)
	assert.Equal(t, []int{1}, progress.CompletedTasks)
	assert.Equal(t, []int{0}, progress.CompletedSubtasks["1"])
	assert.Equal(t, 1, progress.TotalAnswers)
	assert.Equal(t, 1, progress.CurrentTask)
	assert.Equal(t, 1, progress.CurrentSubtask)

	w, _ = s.jsonRequest(http.MethodGet, "/api/projects/missing/progress", learnerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLocalUploadAndValidation(t *testing.T) {
	s := newTestServer(t)
	s.chat.replies = []string{`{"is_valid": true, "message": "The columns fit a price prediction project"}`}
	id := s.createProject("Houses")
	base := "/api/projects/" + id

	w, _ := s.formRequest(base+"/upload-url", url.Values{"taskIndex": {"2"}, "subtaskIndex": {"0"}, "fileName": {"houses.xlsx"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.formRequest(base+"/upload-url", url.Values{"taskIndex": {"-1"}, "subtaskIndex": {"0"}, "fileName": {"houses.csv"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.formRequest(base+"/upload-url", url.Values{"taskIndex": {"2"}, "subtaskIndex": {"0"}, "fileName": {"houses.csv"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Upload URL generated successfully", env.Message)
	var slot struct {
		UploadURL string `json:"uploadUrl"`
		FileKey   string `json:"fileKey"`
		ExpiresIn int    `json:"expiresIn"`
	}
	decode(t, env.Data, &slot)
	assert.Equal(t, 3600, slot.ExpiresIn)
	assert.True(t, strings.HasPrefix(slot.FileKey, util.ProjectPrefix(learnerEmail, id)))

	uploadURL, err := url.Parse(slot.UploadURL)
	require.NoError(t, err)

	// 令牌与 key 不匹配
	w = httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, uploadURL.Path+"x?"+uploadURL.RawQuery, strings.NewReader(housesCSV)))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, uploadURL.RequestURI(), strings.NewReader(housesCSV)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := s.local.Get(context.Background(), slot.FileKey)
	require.NoError(t, err)
	assert.Equal(t, housesCSV, string(stored))

	w, env = s.formRequest(base+"/validate-file", url.Values{"fileKey": {slot.FileKey}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var validation struct {
		IsValid           bool `json:"isValid"`
		ValidationDetails struct {
			Message        string `json:"message"`
			StructureValid bool   `json:"structureValid"`
			ContentValid   *bool  `json:"contentValid"`
			ContentMessage string `json:"contentMessage"`
		} `json:"validationDetails"`
	}
	decode(t, env.Data, &validation)
	assert.True(t, validation.IsValid)
	assert.True(t, validation.ValidationDetails.StructureValid)
	require.NotNil(t, validation.ValidationDetails.ContentValid)
	assert.True(t, *validation.ValidationDetails.ContentValid)
	assert.Equal(t, "The columns fit a price prediction project", validation.ValidationDetails.ContentMessage)

	// 少于 5 行数据的文件只报告结构错误
	shortKey := util.ProjectPrefix(learnerEmail, id) + "task_2_subtask_0_short.csv"
	require.NoError(t, s.local.Put(context.Background(), shortKey, strings.NewReader("sqft,price\n1,2\n3,4\n"), util.MaxUploadSize))
	w, env = s.formRequest(base+"/validate-file", url.Values{"fileKey": {shortKey}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"isValid":false`)
	assert.Contains(t, string(env.Data), "CSV must have at least 5 rows of data")

	w, _ = s.formRequest(base+"/validate-file", url.Values{"fileKey": {"projects/someone@else.com/p/x.csv"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLocalUploadRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	key := util.ProjectPrefix(learnerEmail, "p1") + "big.csv"
	raw, err := s.local.PresignUpload(context.Background(), key, time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	body := strings.Repeat("a,b\n", util.MaxUploadSize/4+1)
	w := httptest.NewRecorder()
	s.app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, u.RequestURI(), strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	_, err = s.local.Size(context.Background(), key)
	assert.ErrorIs(t, err, util.ErrObjectNotFound)
}

func TestConfigCallbacksApplyRateLimit(t *testing.T) {
	s := newTestServer(t)

	newCfg := *s.config
	newCfg.Log.Level = "debug"
	newCfg.RateLimit = config.RateLimitConfig{MaxRequests: 1, WindowMinutes: 1}
	for _, callback := range s.app.configCallbacks {
		callback(&newCfg)
	}

	w, _ := s.jsonRequest(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.jsonRequest(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestInitStoreRejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "cassandra"}}
	_, err := initStore(cfg, nil)
	assert.Error(t, err)

	cfg.Store.Driver = util.StoreMemory
	store, err := initStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryStore{}, store)
}
