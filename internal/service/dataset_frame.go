package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"tinkerfai_backend/internal/model"
	"unicode/utf8"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// 与 pandas read_csv 默认一致的缺失值字面量
var naLiterals = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true, "-1.#QNAN": true,
	"-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true, "<NA>": true, "N/A": true,
	"NA": true, "NULL": true, "NaN": true, "None": true, "n/a": true, "nan": true, "null": true,
}

const naMarker = "NaN"

const (
	DtypeInt64    = "int64"
	DtypeFloat64  = "float64"
	DtypeBool     = "bool"
	DtypeDatetime = "datetime64[ns]"
	DtypeObject   = "object"
)

const (
	msgFileTooLarge   = "File size exceeds 5MB limit"
	msgEmptyOrInvalid = "CSV file is empty or invalid"
	msgEmpty          = "CSV file is empty"
	msgTooFewColumns  = "CSV must have at least 2 columns"
	msgTooFewRows     = "CSV must have at least 5 rows of data"
	msgBadEncoding    = "File encoding not supported. Please use UTF-8 encoded CSV"
)

const (
	minDatasetColumns = 2
	minDatasetRows    = 5
)

var datetimeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
	time.RFC3339Nano,
}

// datasetRejection 数据集内容不符合要求，Error() 即返回给用户的原因
type datasetRejection string

func (r datasetRejection) Error() string { return string(r) }

func isNA(v string) bool {
	return naLiterals[v]
}

// csvTable 分词后的原始表格，短行已补齐
type csvTable struct {
	header []string
	rows   [][]string
}

func parseCSV(data []byte) (*csvTable, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, datasetRejection(msgBadEncoding)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, datasetRejection(msgEmptyOrInvalid)
	}
	if err != nil {
		return nil, parseFailure(err)
	}

	table := &csvTable{header: normalizeHeader(header)}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseFailure(err)
		}
		if len(record) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, datasetRejection(fmt.Sprintf(
				"CSV parsing error: Error tokenizing data. C error: Expected %d fields in line %d, saw %d",
				len(header), line, len(record)))
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		table.rows = append(table.rows, record)
	}
	return table, nil
}

func parseFailure(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return datasetRejection("CSV parsing error: " + pe.Error())
	}
	return datasetRejection("CSV parsing error: " + err.Error())
}

// normalizeHeader 空列名和重复列名按 pandas 的方式重命名
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		base := name
		if seen[base] > 0 {
			for n := seen[base]; ; n++ {
				candidate := fmt.Sprintf("%s.%d", base, n)
				if seen[candidate] == 0 {
					name = candidate
					break
				}
			}
		}
		seen[base]++
		if name != base {
			seen[name]++
		}
		out[i] = name
	}
	return out
}

func parseDatetime(v string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isPlainFloat(v string) bool {
	if strings.ContainsAny(v, "xX_") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

// inferDtype 推断列类型，返回 pandas 类型名和对应的 gota 类型
func inferDtype(values []string) (string, series.Type) {
	var nonNA, ints, floats, bools, dates int
	hasNA := false
	for _, v := range values {
		if isNA(v) {
			hasNA = true
			continue
		}
		nonNA++
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			ints++
		}
		if isPlainFloat(v) {
			floats++
		}
		switch v {
		case "True", "False", "TRUE", "FALSE", "true", "false":
			bools++
		}
		if _, ok := parseDatetime(v); ok {
			dates++
		}
	}

	switch {
	case nonNA == 0:
		return DtypeFloat64, series.Float
	case ints == nonNA && !hasNA:
		return DtypeInt64, series.Int
	case floats == nonNA:
		return DtypeFloat64, series.Float
	case bools == nonNA && !hasNA:
		return DtypeBool, series.Bool
	case dates == nonNA:
		return DtypeDatetime, series.String
	}
	return DtypeObject, series.String
}

type frameColumn struct {
	name   string
	dtype  string
	values series.Series
	times  []time.Time
}

// datasetFrame 类型化后的数据集
type datasetFrame struct {
	rows    int
	columns []*frameColumn
	index   map[string]*frameColumn
}

func buildFrame(table *csvTable) (*datasetFrame, error) {
	records := make([][]string, 0, len(table.rows)+1)
	records = append(records, table.header)
	for _, row := range table.rows {
		rec := make([]string, len(row))
		for i, v := range row {
			if isNA(v) {
				rec[i] = naMarker
			} else {
				rec[i] = v
			}
		}
		records = append(records, rec)
	}

	dtypes := make([]string, len(table.header))
	types := make(map[string]series.Type, len(table.header))
	raw := make([][]string, len(table.header))
	for i, name := range table.header {
		col := make([]string, len(table.rows))
		for j, row := range table.rows {
			col[j] = row[i]
		}
		raw[i] = col
		dtypes[i], types[name] = inferDtype(col)
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.WithTypes(types),
	)
	if df.Err != nil {
		return nil, df.Err
	}

	f := &datasetFrame{rows: df.Nrow(), index: make(map[string]*frameColumn, len(table.header))}
	for i, name := range table.header {
		col := &frameColumn{name: name, dtype: dtypes[i], values: df.Col(name)}
		if col.values.Err != nil {
			return nil, col.values.Err
		}
		if col.dtype == DtypeDatetime {
			col.times = make([]time.Time, len(raw[i]))
			for j, v := range raw[i] {
				if !isNA(v) {
					col.times[j], _ = parseDatetime(v)
				}
			}
		}
		f.columns = append(f.columns, col)
		f.index[name] = col
	}
	return f, nil
}

func (c *frameColumn) isNA(i int) bool {
	return c.values.Elem(i).IsNA()
}

func (c *frameColumn) numeric() bool {
	switch c.values.Type() {
	case series.Int, series.Float, series.Bool:
		return true
	}
	return false
}

// pyFloat 浮点数按 Python str() 的习惯展示，整数值保留一位小数
func pyFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// label 单元格的文本形式，用于计数、众数和类别名
func (c *frameColumn) label(i int) string {
	e := c.values.Elem(i)
	switch c.values.Type() {
	case series.Int:
		v, _ := e.Int()
		return strconv.Itoa(v)
	case series.Float:
		return pyFloat(e.Float())
	case series.Bool:
		b, _ := e.Bool()
		if b {
			return "True"
		}
		return "False"
	}
	if c.times != nil {
		return c.times[i].Format("2006-01-02 15:04:05")
	}
	return e.String()
}

// cell 单元格的 JSON 值，缺失值为 nil
func (c *frameColumn) cell(i int) interface{} {
	if c.isNA(i) {
		return nil
	}
	e := c.values.Elem(i)
	switch c.values.Type() {
	case series.Int:
		v, _ := e.Int()
		return v
	case series.Float:
		f := e.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil
		}
		return f
	case series.Bool:
		b, _ := e.Bool()
		return b
	}
	return c.label(i)
}

func (c *frameColumn) missing() int {
	n := 0
	for i := 0; i < c.values.Len(); i++ {
		if c.isNA(i) {
			n++
		}
	}
	return n
}

// counts 非缺失值的频数
func (c *frameColumn) counts() map[string]int {
	counts := make(map[string]int)
	for i := 0; i < c.values.Len(); i++ {
		if !c.isNA(i) {
			counts[c.label(i)]++
		}
	}
	return counts
}

func (c *frameColumn) mean() *float64 {
	vals := make([]float64, 0, c.values.Len())
	for i := 0; i < c.values.Len(); i++ {
		if c.isNA(i) {
			continue
		}
		e := c.values.Elem(i)
		if c.values.Type() == series.Bool {
			if b, _ := e.Bool(); b {
				vals = append(vals, 1)
			} else {
				vals = append(vals, 0)
			}
			continue
		}
		vals = append(vals, e.Float())
	}
	if len(vals) == 0 {
		return nil
	}
	m := stat.Mean(vals, nil)
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return nil
	}
	return &m
}

// mode 出现次数最多的值，并列时取最小者
func mode(counts map[string]int) *string {
	var best string
	bestCount := 0
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &best
}

func (f *datasetFrame) summarizeColumn(c *frameColumn) model.ColumnSummary {
	counts := c.counts()
	cs := model.ColumnSummary{
		Name:         c.name,
		Type:         c.dtype,
		UniqueValues: len(counts),
		MissingCount: c.missing(),
	}

	switch {
	case c.numeric():
		if cs.UniqueValues < 10 && c.dtype == DtypeInt64 {
			cs.SemanticType = model.SemanticCategoricalNumeric
		} else {
			cs.SemanticType = model.SemanticNumeric
		}
		cs.Mean = c.mean()
	case c.dtype == DtypeDatetime:
		cs.SemanticType = model.SemanticDatetime
		cs.Mode = mode(counts)
	default:
		if float64(cs.UniqueValues) < float64(f.rows)*0.5 {
			cs.SemanticType = model.SemanticCategorical
		} else {
			cs.SemanticType = model.SemanticText
		}
		cs.Mode = mode(counts)
	}
	return cs
}

// records 前 n 行，按列名组织
func (f *datasetFrame) records(n int) []map[string]interface{} {
	if n > f.rows {
		n = f.rows
	}
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[string]interface{}, len(f.columns))
		for _, c := range f.columns {
			row[c.name] = c.cell(i)
		}
		out = append(out, row)
	}
	return out
}

func (f *datasetFrame) summary(previewRows int) *model.DatasetSummary {
	s := &model.DatasetSummary{
		RowCount:      f.rows,
		ColumnCount:   len(f.columns),
		Columns:       make([]model.ColumnSummary, 0, len(f.columns)),
		MissingValues: make(map[string]int, len(f.columns)),
		DataPreview:   f.records(previewRows),
	}
	for _, c := range f.columns {
		cs := f.summarizeColumn(c)
		s.Columns = append(s.Columns, cs)
		s.MissingValues[c.name] = cs.MissingCount
	}
	return s
}

// missingImpact 删除 columns 中任一列缺失的行会影响多少数据，调用方保证列存在
func (f *datasetFrame) missingImpact(columns []string) *model.MissingImpact {
	impact := &model.MissingImpact{
		ColumnNullCounts: make(map[string]int),
		TotalRows:        f.rows,
	}
	cols := make([]*frameColumn, 0, len(columns))
	for _, name := range columns {
		c, ok := f.index[name]
		if !ok {
			continue
		}
		if _, dup := impact.ColumnNullCounts[name]; dup {
			continue
		}
		impact.ColumnNullCounts[name] = c.missing()
		cols = append(cols, c)
	}

	for i := 0; i < f.rows; i++ {
		for _, c := range cols {
			if c.isNA(i) {
				impact.RowsToDrop++
				break
			}
		}
	}
	if f.rows > 0 {
		impact.DropPercentage = float64(impact.RowsToDrop) / float64(f.rows) * 100
	}
	return impact
}

// classCounts 目标列各类别的计数，按数量降序
func (f *datasetFrame) classCounts(target string) ([]model.ClassCount, bool) {
	c, ok := f.index[target]
	if !ok {
		return nil, false
	}
	counts := c.counts()
	out := make([]model.ClassCount, 0, len(counts))
	for class, n := range counts {
		out = append(out, model.ClassCount{Class: class, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out, true
}
