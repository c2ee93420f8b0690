package util

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// IsCSVFile 只按扩展名判断，内容在 validate-file 中校验
func IsCSVFile(fileName string) bool {
	ext := strings.ToLower(path.Ext(fileName))
	for _, allowed := range AllowedDatasetExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// SanitizeFileName 去掉路径部分，避免上传 key 逃逸出项目目录
func SanitizeFileName(fileName string) string {
	fileName = strings.ReplaceAll(fileName, "\\", "/")
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "." || fileName == "/" {
		return ""
	}
	return fileName
}

// ProjectPrefix 项目在对象存储中的目录
func ProjectPrefix(userEmail, projectID string) string {
	return fmt.Sprintf("projects/%s/%s/", userEmail, projectID)
}

// DatasetFileKey 上传文件的对象 key
func DatasetFileKey(userEmail, projectID string, taskIndex, subtaskIndex int, fileName string, now time.Time) string {
	return fmt.Sprintf("%stask_%d_subtask_%d_%s_%s",
		ProjectPrefix(userEmail, projectID),
		taskIndex,
		subtaskIndex,
		now.UTC().Format(FileKeyTimeFormat),
		fileName,
	)
}

// KeyBelongsToProject 判断 key 是否位于项目目录下
func KeyBelongsToProject(key, userEmail, projectID string) bool {
	if strings.Contains(key, "..") {
		return false
	}
	return strings.HasPrefix(key, ProjectPrefix(userEmail, projectID))
}
