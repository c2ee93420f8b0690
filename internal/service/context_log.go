package service

import (
	"encoding/json"
	"strings"
	"time"
	"tinkerfai_backend/internal/model"
)

// RenderContext 把上下文日志渲染为提示词中使用的文本，结果只取决于条目本身
func RenderContext(entries []model.ContextEntry) string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case model.ContextDatasetSummary:
			b.WriteString("\n\nDATASET_SUMMARY_JSON: ")
			b.WriteString(e.Payload)
			b.WriteString("\n\n")
		default:
			parts := []string{"Question: " + e.Question}
			if len(e.Options) > 0 {
				parts = append(parts, "Options: "+strings.Join(e.Options, ", "))
			}
			if e.CSVPreview != "" {
				parts = append(parts, "CSV Preview: "+e.CSVPreview)
			}
			if e.Answer != "" {
				parts = append(parts, "User Response: "+e.Answer)
			}
			b.WriteString(strings.Join(parts, "\n"))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func qaEntry(slot model.Slot, question string, options []string, answer, csvPreview string, at time.Time) model.ContextEntry {
	return model.ContextEntry{
		TaskIndex:    slot.Task,
		SubtaskIndex: slot.Subtask,
		Kind:         model.ContextQA,
		Question:     question,
		Options:      options,
		Answer:       answer,
		CSVPreview:   csvPreview,
		RecordedAt:   at.UTC(),
	}
}

func summaryEntry(slot model.Slot, summary *model.DatasetSummary, at time.Time) (model.ContextEntry, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return model.ContextEntry{}, err
	}
	return model.ContextEntry{
		TaskIndex:    slot.Task,
		SubtaskIndex: slot.Subtask,
		Kind:         model.ContextDatasetSummary,
		Payload:      string(payload),
		RecordedAt:   at.UTC(),
	}, nil
}

// csvPreview 文件类答案在上下文中附带的前几行
func csvPreview(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return ""
	}
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw)
}
