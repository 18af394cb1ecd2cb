package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"govalflow/internal/core"
)

// TextWriter 文本格式报告写入器
type TextWriter struct {
	writer    io.Writer
	verbose   bool
	showStats bool
}

// NewTextWriter 创建文本写入器
func NewTextWriter(writer io.Writer, options ...TextOption) *TextWriter {
	w := &TextWriter{
		writer:    writer,
		showStats: true,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// TextOption 文本选项
type TextOption func(*TextWriter)

// WithVerbose 启用详细输出，附带触发判断的抽象值
func WithVerbose() TextOption {
	return func(w *TextWriter) {
		w.verbose = true
	}
}

// WithoutStats 禁用统计段落
func WithoutStats() TextOption {
	return func(w *TextWriter) {
		w.showStats = false
	}
}

// Write 生成并写入文本报告
func (w *TextWriter) Write(result *ScanResult) error {
	if len(result.Findings) == 0 {
		w.writeClean(result)
		return nil
	}

	w.writeHeader(result)
	if w.showStats {
		w.writeStatistics(result)
	}
	w.writeFindings(result)
	return nil
}

// WriteToFile 写入到文件
func (w *TextWriter) WriteToFile(result *ScanResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := &TextWriter{writer: file, verbose: w.verbose, showStats: w.showStats}
	return writer.Write(result)
}

func (w *TextWriter) writeHeader(result *ScanResult) {
	fmt.Fprintf(w.writer, "\ngovalflow scan results\n")
	fmt.Fprintf(w.writer, "======================\n")
	fmt.Fprintf(w.writer, "Scan time: %s\n", result.Duration)
	fmt.Fprintf(w.writer, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
}

func (w *TextWriter) writeClean(result *ScanResult) {
	fmt.Fprintf(w.writer, "\n✓ No issues found.\n\n")
	fmt.Fprintf(w.writer, "Scan summary:\n")
	fmt.Fprintf(w.writer, "  Files scanned: %d\n", result.FilesScanned)
	fmt.Fprintf(w.writer, "  Duration: %s\n", result.Duration)
	fmt.Fprintf(w.writer, "  Checkers: %d\n\n", len(result.Checkers))
}

func (w *TextWriter) writeStatistics(result *ScanResult) {
	severityCount := make(map[string]int)
	fileCount := make(map[string]int)
	for _, f := range result.Findings {
		severityCount[f.Severity]++
		fileCount[f.FilePath]++
	}

	fmt.Fprintf(w.writer, "Summary:\n")
	fmt.Fprintf(w.writer, "--------\n")
	fmt.Fprintf(w.writer, "Total findings: %d\n", len(result.Findings))
	fmt.Fprintf(w.writer, "  Critical: %d\n", severityCount[core.SeverityCritical])
	fmt.Fprintf(w.writer, "  High: %d\n", severityCount[core.SeverityHigh])
	fmt.Fprintf(w.writer, "  Medium: %d\n", severityCount[core.SeverityMedium])
	fmt.Fprintf(w.writer, "  Low: %d\n\n", severityCount[core.SeverityLow])

	if w.verbose {
		checkCount := make(map[string]int)
		for _, f := range result.Findings {
			checkCount[f.CheckID]++
		}
		checks := make([]string, 0, len(checkCount))
		for id := range checkCount {
			checks = append(checks, id)
		}
		sort.Strings(checks)

		fmt.Fprintf(w.writer, "By check:\n")
		for _, id := range checks {
			fmt.Fprintf(w.writer, "  %s: %d\n", id, checkCount[id])
		}
		fmt.Fprintf(w.writer, "\n")
	}

	fmt.Fprintf(w.writer, "Files with issues: %d\n", len(fileCount))
	fmt.Fprintf(w.writer, "Checkers: %d\n", len(result.Checkers))
	for _, name := range result.Checkers {
		fmt.Fprintf(w.writer, "  - %s\n", name)
	}
	fmt.Fprintf(w.writer, "\n")
}

// writeFindings 按严重级别分组，组内按文件聚合输出
func (w *TextWriter) writeFindings(result *ScanResult) {
	groups := make(map[string][]core.Finding)
	for _, f := range result.Findings {
		groups[f.Severity] = append(groups[f.Severity], f)
	}

	for _, severity := range []string{
		core.SeverityCritical, core.SeverityHigh, core.SeverityMedium, core.SeverityLow,
	} {
		findings := groups[severity]
		if len(findings) == 0 {
			continue
		}

		fileGroups := make(map[string][]core.Finding)
		for _, f := range findings {
			fileGroups[f.FilePath] = append(fileGroups[f.FilePath], f)
		}
		files := make([]string, 0, len(fileGroups))
		for path := range fileGroups {
			files = append(files, path)
		}
		sort.Strings(files)

		fmt.Fprintf(w.writer, "%s findings (%d):\n", strings.ToUpper(severity), len(findings))
		fmt.Fprintf(w.writer, "%s\n", strings.Repeat("=", 50))

		for _, path := range files {
			fmt.Fprintf(w.writer, "\nFile: %s\n", path)
			fmt.Fprintf(w.writer, "%s\n", strings.Repeat("-", 50))

			fileFindings := fileGroups[path]
			sort.SliceStable(fileFindings, func(i, j int) bool {
				return fileFindings[i].Line < fileFindings[j].Line
			})

			tw := tabwriter.NewWriter(w.writer, 0, 8, 2, ' ', 0)
			for _, f := range fileFindings {
				fmt.Fprintf(tw, "  %s\t%d:%d\t%s\t(%s)\n",
					f.CheckID, f.Line, f.Column, f.Message, f.Confidence)
				if w.verbose && f.Value != "" {
					fmt.Fprintf(tw, "  \t\tValue: %s\n", f.Value)
				}
			}
			tw.Flush()
		}
		fmt.Fprintf(w.writer, "\n")
	}
}
