package service

import (
	"testing"
	"time"
	"tinkerfai_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderContext(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	summary, err := summaryEntry(model.Slot{Task: 2, Subtask: 1}, &model.DatasetSummary{RowCount: 3, ColumnCount: 2}, at)
	require.NoError(t, err)

	entries := []model.ContextEntry{
		qaEntry(model.Slot{Task: 1}, "What is your idea?", nil, "Predict house prices", "", at),
		qaEntry(model.Slot{Task: 2}, "Upload your data", nil, "Uploaded file: h.csv", "[{\"a\": 1}]", at),
		summary,
		qaEntry(model.Slot{Task: 2, Subtask: 2}, "Choose the column you want to predict:", []string{"price", "city"}, "price", "", at),
		qaEntry(model.Slot{Task: 2, Subtask: 3}, "Confirm", nil, "", "", at),
	}

	want := "Question: What is your idea?\nUser Response: Predict house prices\n\n" +
		"Question: Upload your data\nCSV Preview: [{\"a\": 1}]\nUser Response: Uploaded file: h.csv\n\n" +
		"\n\nDATASET_SUMMARY_JSON: " + summary.Payload + "\n\n" +
		"Question: Choose the column you want to predict:\nOptions: price, city\nUser Response: price\n\n" +
		"Question: Confirm\n\n"
	assert.Equal(t, want, RenderContext(entries))
	assert.Equal(t, RenderContext(entries), RenderContext(entries))
	assert.Contains(t, summary.Payload, `"rowCount":3`)
	assert.Empty(t, RenderContext(nil))
}

func TestCSVPreview(t *testing.T) {
	assert.Empty(t, csvPreview(nil))
	assert.Equal(t, "[\n  {\n    \"a\": 1\n  }\n]", csvPreview([]map[string]interface{}{{"a": 1}}))
}

func TestFormatDatasetSummary(t *testing.T) {
	summary := &model.DatasetSummary{
		RowCount:    1200,
		ColumnCount: 2,
		Columns: []model.ColumnSummary{
			{Name: "price", Type: "float64", UniqueValues: 1100},
			{Name: "city", Type: "object", UniqueValues: 3},
		},
		MissingValues: map[string]int{"price": 30, "city": 0},
	}
	want := "Rows: 1,200\nColumns: 2\n\nColumn Information:\n" +
		"  • price: float64 (1100 unique values, 30 missing)\n" +
		"  • city: object (3 unique values, 0 missing)\n\n" +
		"Missing Values Summary:\n" +
		"  • price: 30 (2.5%)"
	assert.Equal(t, want, FormatDatasetSummary(summary))
	assert.Equal(t, "1,234,567", formatThousands(1234567))
	assert.Equal(t, "999", formatThousands(999))
}
