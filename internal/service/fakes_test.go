package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/util"

	"github.com/tmc/langchaingo/llms"
)

// fakeChat 按系统提示词返回预设回复，并记录调用次数
type fakeChat struct {
	mu      sync.Mutex
	replies map[string][]string
	failing map[string]int
	calls   map[string]int
	prompts map[string][]string
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		replies: make(map[string][]string),
		failing: make(map[string]int),
		calls:   make(map[string]int),
		prompts: make(map[string][]string),
	}
}

// reply 为某个系统提示词追加回复，最后一条会被重复使用
func (f *fakeChat) reply(system string, texts ...string) *fakeChat {
	f.replies[system] = append(f.replies[system], texts...)
	return f
}

// fail 让某个系统提示词的前 n 次调用失败
func (f *fakeChat) fail(system string, n int) *fakeChat {
	f.failing[system] = n
	return f
}

func (f *fakeChat) count(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[system]
}

func (f *fakeChat) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeChat) lastPrompt(system string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prompts[system]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func messageText(m llms.MessageContent) string {
	var b strings.Builder
	for _, part := range m.Parts {
		if t, ok := part.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func (f *fakeChat) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	system, user := messageText(messages[0]), messageText(messages[1])

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[system]++
	f.prompts[system] = append(f.prompts[system], user)
	if f.failing[system] > 0 {
		f.failing[system]--
		return nil, errors.New("service unavailable")
	}
	replies := f.replies[system]
	if len(replies) == 0 {
		return nil, errors.New("no reply configured")
	}
	text := replies[0]
	if len(replies) > 1 {
		f.replies[system] = replies[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func testAIConfig() *config.AIConfig {
	return &config.AIConfig{Model: "test-model", MaxRetries: 3, RetryDelay: time.Millisecond}
}

// fakeObjects 内存对象存储
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failGet error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) put(key, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte(content)
}

func (f *fakeObjects) PresignUpload(_ context.Context, key string, expires time.Duration) (string, error) {
	return "https://uploads.example.com/" + key + "?expires=" + expires.String(), nil
}

func (f *fakeObjects) Size(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return 0, util.ErrObjectNotFound
	}
	return int64(len(data)), nil
}

func (f *fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, util.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeObjects) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0)
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{UploadExpires: time.Hour},
		Dataset: config.DatasetConfig{MaxFileSize: util.MaxUploadSize, SampleRows: 50},
		AI:      *testAIConfig(),
	}
}

func newTestDatasets(t *testing.T) (*DatasetService, *fakeObjects) {
	t.Helper()
	objects := newFakeObjects()
	return NewDatasetService(objects, nil, testConfig()), objects
}
