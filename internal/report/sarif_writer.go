package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// SARIFWriter SARIF 2.1.0 格式报告写入器
type SARIFWriter struct {
	writer io.Writer
	pretty bool
}

// NewSARIFWriter 创建 SARIF 写入器
func NewSARIFWriter(writer io.Writer, options ...SARIFOption) *SARIFWriter {
	w := &SARIFWriter{writer: writer}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// SARIFOption SARIF 选项
type SARIFOption func(*SARIFWriter)

// WithPrettySARIF 启用缩进输出
func WithPrettySARIF() SARIFOption {
	return func(w *SARIFWriter) {
		w.pretty = true
	}
}

// Write 生成并写入 SARIF 报告
func (w *SARIFWriter) Write(result *ScanResult) error {
	sarifReport := w.generateSARIFReport(result)

	var data []byte
	var err error
	if w.pretty {
		data, err = json.MarshalIndent(sarifReport, "", "  ")
	} else {
		data, err = json.Marshal(sarifReport)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal SARIF report: %w", err)
	}

	_, err = w.writer.Write(data)
	return err
}

// WriteToFile 写入到文件
func (w *SARIFWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := &SARIFWriter{writer: file, pretty: w.pretty}
	return writer.Write(result)
}

func (w *SARIFWriter) generateSARIFReport(result *ScanResult) *SARIF {
	rules, index := w.generateRules(result)
	return &SARIF{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:           "govalflow",
						Version:        "0.4.0",
						InformationURI: "https://github.com/govalflow/govalflow",
						Rules:          rules,
					},
				},
				Results: w.generateResults(result, index),
			},
		},
	}
}

// generateRules 以检查器 ID 为规则 ID，返回规则表与 ID 到下标的索引
func (w *SARIFWriter) generateRules(result *ScanResult) ([]Rule, map[string]int) {
	seen := make(map[string]Rule)
	for _, f := range result.Findings {
		if _, ok := seen[f.CheckID]; ok {
			continue
		}
		seen[f.CheckID] = Rule{
			ID:               f.CheckID,
			Name:             f.CheckID,
			ShortDescription: Description{Text: f.Message},
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rules := make([]Rule, 0, len(ids))
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		rules = append(rules, seen[id])
		index[id] = i
	}
	return rules, index
}

func (w *SARIFWriter) generateResults(result *ScanResult, ruleIndex map[string]int) []Result {
	results := make([]Result, 0, len(result.Findings))
	for _, f := range result.Findings {
		r := Result{
			RuleID:    f.CheckID,
			RuleIndex: ruleIndex[f.CheckID],
			Level:     mapSeverityToSARIF(f.Severity),
			Message:   Message{Text: f.Message},
			Locations: []Location{
				{
					PhysicalLocation: PhysicalLocation{
						ArtifactLocation: ArtifactLocation{URI: f.FilePath},
						Region: Region{
							StartLine:   f.Line,
							StartColumn: f.Column,
						},
					},
				},
			},
			Properties: map[string]interface{}{
				"confidence": f.Confidence,
			},
		}
		if f.Value != "" {
			r.Properties["value"] = f.Value
		}
		results = append(results, r)
	}
	return results
}

// mapSeverityToSARIF 严重级别到 SARIF level 的映射
func mapSeverityToSARIF(severity string) string {
	switch severity {
	case "critical", "high":
		return "error"
	case "medium":
		return "warning"
	case "low":
		return "note"
	default:
		return "warning"
	}
}

// SARIF 报告根结构
type SARIF struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []Run  `json:"runs"`
}

// Run 一次分析运行
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool 分析工具
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver 工具驱动
type Driver struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	InformationURI string `json:"informationUri,omitempty"`
	Rules          []Rule `json:"rules,omitempty"`
}

// Rule 规则定义
type Rule struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ShortDescription Description `json:"shortDescription"`
	HelpURI          string      `json:"helpUri,omitempty"`
}

// Description 描述文本
type Description struct {
	Text string `json:"text"`
}

// Result 单条结果
type Result struct {
	RuleID     string                 `json:"ruleId"`
	RuleIndex  int                    `json:"ruleIndex"`
	Level      string                 `json:"level"`
	Message    Message                `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Message 消息文本
type Message struct {
	Text string `json:"text"`
}

// Location 结果位置
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation,omitempty"`
}

// PhysicalLocation 物理位置
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region,omitempty"`
}

// ArtifactLocation 文件定位
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region 文件内区域
type Region struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}
