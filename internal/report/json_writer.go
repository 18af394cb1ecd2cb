package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"govalflow/internal/core"
)

// JSONReport JSON 格式报告
type JSONReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Tool        ToolInfo               `json:"tool"`
	Summary     Summary                `json:"summary"`
	Findings    []core.Finding         `json:"findings"`
	Statistics  map[string]interface{} `json:"statistics,omitempty"`
}

// ToolInfo 工具信息
type ToolInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Summary 发现统计摘要
type Summary struct {
	Total        int            `json:"total"`
	BySeverity   map[string]int `json:"by_severity"`
	ByCheck      map[string]int `json:"by_check"`
	FilesScanned int            `json:"files_scanned,omitempty"`
}

// JSONWriter JSON 报告写入器
type JSONWriter struct {
	writer io.Writer
	pretty bool
}

// NewJSONWriter 创建 JSON 写入器
func NewJSONWriter(writer io.Writer, options ...JSONOption) *JSONWriter {
	w := &JSONWriter{writer: writer}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// JSONOption JSON 选项
type JSONOption func(*JSONWriter)

// WithPrettyJSON 启用缩进输出
func WithPrettyJSON() JSONOption {
	return func(w *JSONWriter) {
		w.pretty = true
	}
}

// Write 生成并写入报告
func (w *JSONWriter) Write(result *ScanResult) error {
	report := w.generateReport(result)

	var data []byte
	var err error
	if w.pretty {
		data, err = json.MarshalIndent(report, "", "  ")
	} else {
		data, err = json.Marshal(report)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON report: %w", err)
	}

	_, err = w.writer.Write(data)
	return err
}

// WriteToFile 写入到文件
func (w *JSONWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := &JSONWriter{writer: file, pretty: w.pretty}
	return writer.Write(result)
}

// generateReport 汇总统计并按严重级别整理发现
func (w *JSONWriter) generateReport(result *ScanResult) *JSONReport {
	report := &JSONReport{
		GeneratedAt: time.Now(),
		Tool: ToolInfo{
			Name:        "govalflow",
			Version:     "0.4.0",
			Description: "abstract value flow analysis for C/C++",
		},
		Summary: Summary{
			Total:        len(result.Findings),
			BySeverity:   make(map[string]int),
			ByCheck:      make(map[string]int),
			FilesScanned: result.FilesScanned,
		},
		Findings:   make([]core.Finding, len(result.Findings)),
		Statistics: make(map[string]interface{}),
	}

	copy(report.Findings, result.Findings)
	for _, f := range report.Findings {
		report.Summary.BySeverity[f.Severity]++
		report.Summary.ByCheck[f.CheckID]++
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		fi, fj := report.Findings[i], report.Findings[j]
		if ri, rj := severityRank(fi.Severity), severityRank(fj.Severity); ri != rj {
			return ri < rj
		}
		if fi.FilePath != fj.FilePath {
			return fi.FilePath < fj.FilePath
		}
		return fi.Line < fj.Line
	})

	report.Statistics["scan_duration"] = result.Duration.String()
	report.Statistics["files_scanned"] = result.FilesScanned
	report.Statistics["checkers"] = result.Checkers

	return report
}
