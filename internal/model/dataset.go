package model

const (
	SemanticNumeric            = "numeric"
	SemanticCategoricalNumeric = "categorical_numeric"
	SemanticCategorical        = "categorical"
	SemanticText               = "text"
	SemanticDatetime           = "datetime"
)

type ColumnSummary struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	UniqueValues int      `json:"unique_values"`
	MissingCount int      `json:"missing_count"`
	SemanticType string   `json:"semantic_type"`
	Mean         *float64 `json:"mean,omitempty"`
	Mode         *string  `json:"mode,omitempty"`
}

type DatasetSummary struct {
	RowCount      int                      `json:"rowCount"`
	ColumnCount   int                      `json:"columnCount"`
	Columns       []ColumnSummary          `json:"columns"`
	MissingValues map[string]int           `json:"missingValues"`
	DataPreview   []map[string]interface{} `json:"dataPreview"`
}

type MissingImpact struct {
	RowsToDrop       int            `json:"rows_to_drop"`
	DropPercentage   float64        `json:"drop_percentage"`
	ColumnNullCounts map[string]int `json:"column_null_counts"`
	TotalRows        int            `json:"total_rows"`
}

type ClassCount struct {
	Class      string  `json:"class"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

const (
	BalanceSingleClass         = "single_class"
	BalanceInsufficientSamples = "insufficient_samples"
	BalanceMinorityRatio       = "minority_ratio"
	BalanceImbalanceRatio      = "imbalance_ratio"
)

type BalanceDecision struct {
	Balanced           bool         `json:"balanced"`
	Reason             string       `json:"reason"`
	Classes            []ClassCount `json:"classes"`
	Total              int          `json:"total"`
	MinorityClass      string       `json:"minorityClass,omitempty"`
	MinorityPercentage float64      `json:"minorityPercentage"`
	MinRequiredCount   float64      `json:"minRequiredCount"`
	ImbalanceRatio     float64      `json:"imbalanceRatio,omitempty"`
}

type UploadSlot struct {
	UploadURL string `json:"uploadUrl"`
	FileKey   string `json:"fileKey"`
	ExpiresIn int    `json:"expiresIn"`
}

type ValidationDetails struct {
	Message        string `json:"message"`
	StructureValid bool   `json:"structureValid"`
	ContentValid   *bool  `json:"contentValid,omitempty"`
	ContentMessage string `json:"contentMessage,omitempty"`
	SampleRows     int    `json:"sampleRows,omitempty"`
}

type FileValidation struct {
	IsValid           bool               `json:"isValid"`
	ValidationDetails *ValidationDetails `json:"validationDetails,omitempty"`
}
