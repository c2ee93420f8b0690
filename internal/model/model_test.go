package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProjectID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateProjectID()
		require.NoError(t, err)
		assert.Len(t, id, ProjectIDLength)
		for _, r := range id {
			assert.True(t, strings.ContainsRune(projectIDAlphabet, r), "unexpected rune %q", r)
		}
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestNormalizeProjectName(t *testing.T) {
	name, ok := NormalizeProjectName("  Housing prices ")
	assert.True(t, ok)
	assert.Equal(t, "Housing prices", name)

	_, ok = NormalizeProjectName("   ")
	assert.False(t, ok)

	_, ok = NormalizeProjectName(strings.Repeat("a", MaxProjectNameLength+1))
	assert.False(t, ok)

	_, ok = NormalizeProjectName(strings.Repeat("é", MaxProjectNameLength))
	assert.True(t, ok)
}

func TestSortAnswers(t *testing.T) {
	answers := []*Answer{
		{TaskIndex: 2, SubtaskIndex: 1},
		{TaskIndex: 1, SubtaskIndex: 0},
		{TaskIndex: 3, SubtaskIndex: 0},
		{TaskIndex: 2, SubtaskIndex: 0},
	}
	SortAnswers(answers)

	got := make([]Slot, 0, len(answers))
	for _, a := range answers {
		got = append(got, a.Slot())
	}
	assert.Equal(t, []Slot{{1, 0}, {2, 0}, {2, 1}, {3, 0}}, got)
}

func TestAnswerViewRadio(t *testing.T) {
	a := &Answer{QuestionType: QuestionTypeRadio, UserResponse: "price"}
	v := a.View()
	assert.Equal(t, "price", v.SelectedOption)
	assert.Equal(t, "price", v.TextAnswer)

	a = &Answer{QuestionType: QuestionTypeText, UserResponse: "idea"}
	assert.Empty(t, a.View().SelectedOption)
}

func TestFormatHyperparameters(t *testing.T) {
	values := map[string]string{"max_depth": "5", "n_estimators": "100", "extra": "x"}
	got := FormatHyperparameters([]string{"n_estimators", "max_depth"}, values)
	assert.Equal(t, "n_estimators=100, max_depth=5, extra=x", got)
}

func TestFormatSplit(t *testing.T) {
	assert.Equal(t, "80% training / 20% testing", FormatSplit(80))
}

func TestQuestionFromAnswer(t *testing.T) {
	q := QuestionFromAnswer(&Answer{
		QuestionID:   "q1",
		TaskIndex:    2,
		SubtaskIndex: 1,
		QuestionType: QuestionTypeReadonly,
		QuestionText: "Review",
	})
	assert.Equal(t, "q1", q.QuestionID)
	assert.False(t, q.IsRequired)
}
