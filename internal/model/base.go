package model

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ProjectIDLength 项目ID长度
const ProjectIDLength = 12

// 只使用 URL 安全字符，项目ID会出现在对象存储的 key 中
const projectIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"

func GenerateUUID() string {
	return uuid.New().String()
}

func GenerateProjectID() (string, error) {
	return gonanoid.Generate(projectIDAlphabet, ProjectIDLength)
}
