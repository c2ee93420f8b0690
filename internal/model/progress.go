package model

type Progress struct {
	CurrentTask       int           `json:"currentTask"`
	CurrentSubtask    int           `json:"currentSubtask"`
	CompletedTasks    []int         `json:"completedTasks"`
	CompletedSubtasks map[int][]int `json:"completedSubtasks"`
	TotalAnswers      int           `json:"totalAnswers"`
}
