package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const housesCSV = `id,sqft,price,city,listed,garage
1,1200,250000.5,Austin,2023-01-05,True
2,800,,Dallas,2023-02-11,False
3,1500,320000,Austin,2023-03-20,True
4,,180000,Dallas,2023-04-02,False
5,2000,410000,Austin,,True
6,950,199000,Dallas,2023-06-15,False
`

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.KindValidation), "want validation error, got %v", err)
	var appErr *util.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, reason, appErr.Message)
}

func TestValidateAndSampleRejections(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	ctx := context.Background()

	big := "a,b\n" + strings.Repeat("1,2\n", 6*1024*1024/4)
	objects.put("big.csv", big)
	_, err := datasets.ValidateAndSample(ctx, "big.csv")
	assertRejected(t, err, "File size exceeds 5MB limit")

	objects.put("blank.csv", "")
	_, err = datasets.ValidateAndSample(ctx, "blank.csv")
	assertRejected(t, err, "CSV file is empty or invalid")

	objects.put("header.csv", "a,b\n")
	_, err = datasets.ValidateAndSample(ctx, "header.csv")
	assertRejected(t, err, "CSV file is empty")

	objects.put("onecol.csv", "a\n1\n2\n3\n4\n5\n")
	_, err = datasets.ValidateAndSample(ctx, "onecol.csv")
	assertRejected(t, err, "CSV must have at least 2 columns")

	objects.put("fourrows.csv", "a,b\n1,2\n3,4\n5,6\n7,8\n")
	_, err = datasets.ValidateAndSample(ctx, "fourrows.csv")
	assertRejected(t, err, "CSV must have at least 5 rows of data")

	objects.put("latin1.csv", "name,city\nJos\xe9,M\xe1laga\n")
	_, err = datasets.ValidateAndSample(ctx, "latin1.csv")
	assertRejected(t, err, "File encoding not supported. Please use UTF-8 encoded CSV")

	objects.put("ragged.csv", "a,b\n1,2\n3,4,5\n")
	_, err = datasets.ValidateAndSample(ctx, "ragged.csv")
	assertRejected(t, err, "CSV parsing error: Error tokenizing data. C error: Expected 2 fields in line 3, saw 3")

	_, err = datasets.ValidateAndSample(ctx, "missing.csv")
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.KindNotFound))
}

func TestValidateAndSampleReturnsRows(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("houses.csv", housesCSV)

	rows, err := datasets.ValidateAndSample(context.Background(), "houses.csv")
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, 1, rows[0]["id"])
	assert.Equal(t, "Austin", rows[0]["city"])
	assert.Equal(t, true, rows[0]["garage"])
	assert.Nil(t, rows[1]["price"])
	assert.Nil(t, rows[3]["sqft"])
}

func TestSummarizeClassifiesColumns(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("houses.csv", housesCSV)

	summary, err := datasets.Summarize(context.Background(), "houses.csv")
	require.NoError(t, err)
	assert.Equal(t, 6, summary.RowCount)
	assert.Equal(t, 6, summary.ColumnCount)
	assert.Len(t, summary.DataPreview, 5)

	cols := make(map[string]model.ColumnSummary)
	for _, c := range summary.Columns {
		cols[c.Name] = c
	}

	assert.Equal(t, DtypeInt64, cols["id"].Type)
	assert.Equal(t, model.SemanticCategoricalNumeric, cols["id"].SemanticType)
	require.NotNil(t, cols["id"].Mean)
	assert.InDelta(t, 3.5, *cols["id"].Mean, 1e-9)

	// 含缺失值的整数列按 float64 处理
	assert.Equal(t, DtypeFloat64, cols["sqft"].Type)
	assert.Equal(t, model.SemanticNumeric, cols["sqft"].SemanticType)
	assert.Equal(t, 1, cols["sqft"].MissingCount)
	require.NotNil(t, cols["sqft"].Mean)
	assert.InDelta(t, 1290.0, *cols["sqft"].Mean, 1e-9)

	assert.Equal(t, DtypeObject, cols["city"].Type)
	assert.Equal(t, model.SemanticCategorical, cols["city"].SemanticType)
	require.NotNil(t, cols["city"].Mode)
	assert.Equal(t, "Austin", *cols["city"].Mode)
	assert.Nil(t, cols["city"].Mean)

	assert.Equal(t, DtypeDatetime, cols["listed"].Type)
	assert.Equal(t, model.SemanticDatetime, cols["listed"].SemanticType)
	assert.Nil(t, cols["listed"].Mean)
	require.NotNil(t, cols["listed"].Mode)
	assert.Equal(t, "2023-01-05 00:00:00", *cols["listed"].Mode)

	assert.Equal(t, DtypeBool, cols["garage"].Type)
	require.NotNil(t, cols["garage"].Mean)
	assert.InDelta(t, 0.5, *cols["garage"].Mean, 1e-9)

	assert.Equal(t, 1, summary.MissingValues["price"])
	assert.Equal(t, 0, summary.MissingValues["city"])
}

func TestSummarizeTextColumnAndModeTies(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("notes.csv", "note,score\nalpha,1\nbeta,2\ngamma,3\ndelta,4\nbeta,5\nalpha,6\n")

	summary, err := datasets.Summarize(context.Background(), "notes.csv")
	require.NoError(t, err)
	note := summary.Columns[0]
	// 4 个不同值 >= 6 行的一半
	assert.Equal(t, model.SemanticText, note.SemanticType)
	require.NotNil(t, note.Mode)
	assert.Equal(t, "alpha", *note.Mode)
}

type recordingCache struct {
	stored map[string]*model.DatasetSummary
	hits   int
}

func (c *recordingCache) Get(_ context.Context, key string) (*model.DatasetSummary, error) {
	if s, ok := c.stored[key]; ok {
		c.hits++
		return s, nil
	}
	return nil, util.ErrCacheMiss
}

func (c *recordingCache) Set(_ context.Context, key string, s *model.DatasetSummary) error {
	c.stored[key] = s
	return nil
}

func TestSummarizeUsesCache(t *testing.T) {
	objects := newFakeObjects()
	cache := &recordingCache{stored: make(map[string]*model.DatasetSummary)}
	datasets := NewDatasetService(objects, cache, testConfig())
	objects.put("houses.csv", housesCSV)

	first, err := datasets.Summarize(context.Background(), "houses.csv")
	require.NoError(t, err)

	objects.failGet = errors.New("storage down")
	second, err := datasets.Summarize(context.Background(), "houses.csv")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
}

func TestMissingImpact(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("houses.csv", housesCSV)

	impact, err := datasets.MissingImpact(context.Background(), "houses.csv", "price", []string{"sqft", "city"})
	require.NoError(t, err)
	assert.Equal(t, 2, impact.RowsToDrop)
	assert.Equal(t, 6, impact.TotalRows)
	assert.Equal(t, float64(2)/float64(6)*100, impact.DropPercentage)
	assert.Equal(t, map[string]int{"price": 1, "sqft": 1, "city": 0}, impact.ColumnNullCounts)

	_, err = datasets.MissingImpact(context.Background(), "houses.csv", "price", []string{"sqft", "unknown"})
	assert.True(t, util.IsKind(err, util.KindValidation))
	_, err = datasets.MissingImpact(context.Background(), "houses.csv", "stale_target", []string{"sqft"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_target")
}

func TestClassBalanceFromDataset(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("houses.csv", housesCSV)

	decision, err := datasets.ClassBalance(context.Background(), "houses.csv", "city")
	require.NoError(t, err)
	assert.Equal(t, 6, decision.Total)
	assert.Equal(t, "Austin", decision.Classes[0].Class)
	assert.Equal(t, 3, decision.Classes[0].Count)
	assert.Equal(t, 50.0, decision.Classes[0].Percentage)

	_, err = datasets.ClassBalance(context.Background(), "houses.csv", "nope")
	assert.True(t, util.IsKind(err, util.KindValidation))
}

func TestIssueUploadSlot(t *testing.T) {
	datasets, _ := newTestDatasets(t)
	datasets.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	slot, err := datasets.IssueUploadSlot(context.Background(), "a@b.com", "p1", 2, 0, "../houses.csv")
	require.NoError(t, err)
	assert.Equal(t, "projects/a@b.com/p1/task_2_subtask_0_20240501_093000_houses.csv", slot.FileKey)
	assert.Equal(t, 3600, slot.ExpiresIn)
	assert.Contains(t, slot.UploadURL, slot.FileKey)

	_, err = datasets.IssueUploadSlot(context.Background(), "a@b.com", "p1", 2, 0, "houses.xlsx")
	assertRejected(t, err, "Only CSV files are allowed")
}

func TestDeleteProjectFiles(t *testing.T) {
	datasets, objects := newTestDatasets(t)
	objects.put("projects/a@b.com/p1/task_2_subtask_0_x_a.csv", "a")
	objects.put("projects/a@b.com/p1/task_2_subtask_0_y_b.csv", "b")
	objects.put("projects/a@b.com/p2/task_2_subtask_0_x_a.csv", "c")

	n, err := datasets.DeleteProjectFiles(context.Background(), "a@b.com", "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	keys, _ := objects.List(context.Background(), "projects/")
	assert.Equal(t, []string{"projects/a@b.com/p2/task_2_subtask_0_x_a.csv"}, keys)
}

func TestNormalizeHeader(t *testing.T) {
	got := normalizeHeader([]string{"a", "", "a", "a", "b"})
	assert.Equal(t, []string{"a", "Unnamed: 1", "a.1", "a.2", "b"}, got)
}
