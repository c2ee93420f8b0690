package util

import (
	"strconv"
	"strings"
)

// ParseIndex 解析非负的 task/subtask 序号
func ParseIndex(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
