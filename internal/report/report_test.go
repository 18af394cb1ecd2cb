package report

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govalflow/internal/core"
)

func sampleResult() *ScanResult {
	return &ScanResult{
		Findings: []core.Finding{
			{
				CheckID: "zero-division", Message: "division by zero",
				FilePath: "b.c", Line: 12, Column: 5,
				Confidence: core.ConfidenceHigh, Severity: core.SeverityHigh,
				Value: "int(0)",
			},
			{
				CheckID: "known-condition", Message: "condition is always true",
				FilePath: "a.c", Line: 3, Column: 9,
				Confidence: core.ConfidenceMedium, Severity: core.SeverityLow,
			},
			{
				CheckID: "array-index", Message: "array index out of bounds",
				FilePath: "a.c", Line: 7, Column: 2,
				Confidence: core.ConfidenceHigh, Severity: core.SeverityCritical,
			},
		},
		Duration:     1500 * time.Millisecond,
		FilesScanned: 2,
		Checkers:     []string{"zero-division", "known-condition", "array-index"},
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
	}{
		{"json", FormatJSON},
		{"TEXT", FormatText},
		{"sarif", FormatSARIF},
		{"all", FormatAll},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)

	assert.Len(t, SupportedFormats(), 4)
	assert.NotEqual(t, "Unknown format", FormatDescription(FormatSARIF))
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONWriter(&buf).Write(sampleResult()))

	var report JSONReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, "govalflow", report.Tool.Name)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.BySeverity[core.SeverityCritical])
	assert.Equal(t, 1, report.Summary.ByCheck["zero-division"])
	assert.Equal(t, 2, report.Summary.FilesScanned)

	// 严重级别降序，同级按文件与行号
	require.Len(t, report.Findings, 3)
	assert.Equal(t, "array-index", report.Findings[0].CheckID)
	assert.Equal(t, "zero-division", report.Findings[1].CheckID)
	assert.Equal(t, "known-condition", report.Findings[2].CheckID)
}

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTextWriter(&buf, WithVerbose()).Write(sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "Total findings: 3")
	assert.Contains(t, out, "CRITICAL findings (1):")
	assert.Contains(t, out, "HIGH findings (1):")
	assert.Contains(t, out, "division by zero")
	assert.Contains(t, out, "Value: int(0)")
	assert.Contains(t, out, "By check:")

	buf.Reset()
	require.NoError(t, NewTextWriter(&buf).Write(&ScanResult{FilesScanned: 4}))
	assert.Contains(t, buf.String(), "No issues found")
}

func TestSARIFWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewSARIFWriter(&buf).Write(sampleResult()))

	var s SARIF
	require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	assert.Equal(t, "2.1.0", s.Version)
	require.Len(t, s.Runs, 1)

	run := s.Runs[0]
	assert.Equal(t, "govalflow", run.Tool.Driver.Name)
	require.Len(t, run.Tool.Driver.Rules, 3)
	require.Len(t, run.Results, 3)

	// ruleIndex 指回规则表中的同名规则
	for _, res := range run.Results {
		require.Less(t, res.RuleIndex, len(run.Tool.Driver.Rules))
		assert.Equal(t, res.RuleID, run.Tool.Driver.Rules[res.RuleIndex].ID)
	}

	levels := make(map[string]string)
	for _, res := range run.Results {
		levels[res.RuleID] = res.Level
	}
	assert.Equal(t, "error", levels["array-index"])
	assert.Equal(t, "error", levels["zero-division"])
	assert.Equal(t, "note", levels["known-condition"])
}

func TestManagerGenerate(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithFormat(FormatJSON), WithOutputDir(dir), WithFilename("out.json"))
	files, err := m.Generate(sampleResult())
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var report JSONReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 3, report.Summary.Total)

	// all 展开为全部三种格式
	m2 := NewManager(WithFormat(FormatAll), WithOutputDir(t.TempDir()), WithTimestamp())
	files2, err := m2.Generate(sampleResult())
	require.NoError(t, err)
	require.Len(t, files2, 3)
	for _, f := range files2 {
		fi, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, fi.Size(), int64(0))
	}

	_, err = NewManager(WithFormat(Format("xml"))).Generate(sampleResult())
	require.Error(t, err)
}
