package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"govalflow/internal/core"
)

// Format 报告格式类型
type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatSARIF Format = "sarif"
	FormatAll   Format = "all"
)

// ScanResult 一次扫描的汇总结果
type ScanResult struct {
	Findings     []core.Finding
	Duration     time.Duration
	FilesScanned int
	// Checkers 本次扫描启用的检查器名称
	Checkers []string
}

// Writer 报告写入器接口
type Writer interface {
	Write(result *ScanResult) error
	WriteToFile(result *ScanResult, filename string) error
}

// Manager 报告管理器：按配置的格式将扫描结果落盘
type Manager struct {
	format    Format
	outputDir string
	timestamp bool
	filename  string
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithFormat 设置报告格式
func WithFormat(format Format) ManagerOption {
	return func(m *Manager) {
		m.format = format
	}
}

// WithOutputDir 设置输出目录
func WithOutputDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.outputDir = dir
	}
}

// WithTimestamp 文件名附加时间戳
func WithTimestamp() ManagerOption {
	return func(m *Manager) {
		m.timestamp = true
	}
}

// WithFilename 设置自定义文件名
func WithFilename(filename string) ManagerOption {
	return func(m *Manager) {
		m.filename = filename
	}
}

// NewManager 创建报告管理器
func NewManager(options ...ManagerOption) *Manager {
	m := &Manager{
		format:    FormatText,
		outputDir: ".",
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// CreateWriter 按格式创建写入器
func (m *Manager) CreateWriter(format Format, writer io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(writer, WithPrettyJSON()), nil
	case FormatText:
		return NewTextWriter(writer), nil
	case FormatSARIF:
		return NewSARIFWriter(writer, WithPrettySARIF()), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Generate 生成报告，返回写出的文件路径
func (m *Manager) Generate(result *ScanResult) ([]string, error) {
	var outputFiles []string

	switch m.format {
	case FormatAll:
		for _, format := range []Format{FormatJSON, FormatText, FormatSARIF} {
			file, err := m.generateSingleFormat(result, format)
			if err != nil {
				return nil, err
			}
			outputFiles = append(outputFiles, file)
		}
	case FormatJSON, FormatText, FormatSARIF:
		file, err := m.generateSingleFormat(result, m.format)
		if err != nil {
			return nil, err
		}
		outputFiles = append(outputFiles, file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", m.format)
	}

	return outputFiles, nil
}

func (m *Manager) generateSingleFormat(result *ScanResult, format Format) (string, error) {
	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filePath := filepath.Join(m.outputDir, m.generateFilename(format))
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer, err := m.CreateWriter(format, file)
	if err != nil {
		return "", err
	}
	if err := writer.Write(result); err != nil {
		return "", fmt.Errorf("failed to write %s report: %w", format, err)
	}

	return filePath, nil
}

// generateFilename 生成文件名；FormatAll 展开后各格式不会互相覆盖
func (m *Manager) generateFilename(format Format) string {
	if m.filename != "" {
		return m.filename
	}

	baseName := "govalflow_report"
	if m.timestamp {
		return fmt.Sprintf("%s_%s.%s", baseName, time.Now().Format("20060102_150405"), format)
	}
	return fmt.Sprintf("%s.%s", baseName, format)
}

// ParseFormat 解析格式字符串
func ParseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(formatStr) {
	case "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	case "sarif":
		return FormatSARIF, nil
	case "all":
		return FormatAll, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", formatStr)
	}
}

// SupportedFormats 支持的格式列表
func SupportedFormats() []Format {
	return []Format{FormatJSON, FormatText, FormatSARIF, FormatAll}
}

// FormatDescription 格式说明
func FormatDescription(format Format) string {
	switch format {
	case FormatJSON:
		return "JSON format - machine-readable output"
	case FormatText:
		return "Text format - human-readable console output"
	case FormatSARIF:
		return "SARIF format - Static Analysis Results Interchange Format"
	case FormatAll:
		return "All formats - generate reports in every supported format"
	}
	return "Unknown format"
}

// severityRank 严重级别排序权重，未知级别排最后
func severityRank(severity string) int {
	switch severity {
	case core.SeverityCritical:
		return 0
	case core.SeverityHigh:
		return 1
	case core.SeverityMedium:
		return 2
	case core.SeverityLow:
		return 3
	}
	return 4
}
