package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorageProvider {
	t.Helper()
	return NewLocalStorageProvider(&config.StorageConfig{
		Type:       util.StorageLocal,
		LocalPath:  t.TempDir(),
		PublicURL:  "http://localhost:8080/",
		SigningKey: "test-signing-key",
	})
}

func uploadToken(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestLocalStoragePresignAndVerify(t *testing.T) {
	store := newTestLocalStorage(t)
	key := "projects/a@b.com/p1/task_2_subtask_0_x_houses.csv"

	raw, err := store.PresignUpload(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:8080/uploads/projects/"))

	token := uploadToken(t, raw)
	require.NotEmpty(t, token)
	assert.NoError(t, store.VerifyUpload(key, token))
	assert.ErrorIs(t, store.VerifyUpload("projects/a@b.com/p1/other.csv", token), util.ErrPermissionDenied)
	assert.Error(t, store.VerifyUpload(key, token+"x"))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Error(t, store.VerifyUpload(key, token))

	_, err = store.PresignUpload(context.Background(), "../escape.csv", time.Minute)
	assert.Error(t, err)
}

func TestLocalStorageObjects(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()
	key := "projects/a@b.com/p1/task_2_subtask_0_x_houses.csv"

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, util.ErrObjectNotFound)
	_, err = store.Size(ctx, key)
	assert.ErrorIs(t, err, util.ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, key, strings.NewReader(housesCSV), 1024))
	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, housesCSV, string(data))
	size, err := store.Size(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(housesCSV)), size)

	require.NoError(t, store.Put(ctx, "projects/a@b.com/p2/x.csv", strings.NewReader("a,b"), 1024))
	keys, err := store.List(ctx, "projects/a@b.com/p1/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	keys, err = store.List(ctx, "projects/nobody/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.True(t, errors.Is(err, util.ErrObjectNotFound))
}

func TestLocalStoragePutEnforcesLimit(t *testing.T) {
	store := newTestLocalStorage(t)
	ctx := context.Background()
	key := "projects/a@b.com/p1/big.csv"

	err := store.Put(ctx, key, strings.NewReader(strings.Repeat("x", 11)), 10)
	assert.ErrorIs(t, err, ErrUploadTooLarge)
	_, err = store.Size(ctx, key)
	assert.ErrorIs(t, err, util.ErrObjectNotFound)
}

func TestNewObjectStore(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()}}
	store, err := NewObjectStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorageProvider{}, store)

	cfg.Storage.Type = "ftp"
	_, err = NewObjectStore(cfg)
	assert.Error(t, err)
}
