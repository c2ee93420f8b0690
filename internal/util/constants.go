package util

const (
	TimeFormat = "2006-01-02 15:04:05"
	// FileKeyTimeFormat 上传文件 key 中的时间戳格式
	FileKeyTimeFormat = "20060102_150405"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreMySQL    = "mysql"
	StoreMemory   = "memory"
)

const (
	MimeCSV         = "text/csv"
	MaxUploadSize   = 5 * 1024 * 1024
	CSVExtension    = ".csv"
	ContextUserKey  = "user"
	ContextTokenKey = "accessToken"
)

var AllowedDatasetExtensions = []string{CSVExtension}
