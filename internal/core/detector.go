package core

import (
	"govalflow/internal/valueflow"
)

// Finding 表示检查器发现的一处问题
type Finding struct {
	CheckID    string `json:"check_id"`
	Message    string `json:"message"`
	FilePath   string `json:"file_path"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
	Confidence string `json:"confidence"`
	Severity   string `json:"severity"`
	// Value 触发判断的抽象值描述（可选）
	Value string `json:"value,omitempty"`
}

// Checker 检查器接口
type Checker interface {
	// Name 返回检查器名称
	Name() string

	// Description 返回检查器描述
	Description() string

	// Run 在单个翻译单元上执行检查
	Run(ctx *AnalysisContext) []Finding
}

// BaseChecker 基础检查器，提供通用功能
type BaseChecker struct {
	name        string
	description string
}

// NewBaseChecker 创建基础检查器
func NewBaseChecker(name, description string) *BaseChecker {
	return &BaseChecker{
		name:        name,
		description: description,
	}
}

// Name 返回检查器名称
func (c *BaseChecker) Name() string {
	return c.name
}

// Description 返回检查器描述
func (c *BaseChecker) Description() string {
	return c.description
}

// NewFinding 以节点坐标创建一条发现
func (c *BaseChecker) NewFinding(ctx *AnalysisContext, node *valueflow.Node, message, confidence, severity string) Finding {
	f := Finding{
		CheckID:    c.name,
		Message:    message,
		Confidence: confidence,
		Severity:   severity,
	}
	if ctx != nil && ctx.Unit != nil {
		f.FilePath = ctx.Unit.FilePath
	}
	if node != nil {
		f.Line = node.Line
		f.Column = node.Col
	}
	return f
}

// AnalysisContext 单个翻译单元的分析上下文：解析产物、表达式图与
// 求值协作者
type AnalysisContext struct {
	Unit     *ParsedUnit
	Built    *BuiltUnit
	Settings *valueflow.Settings
	Oracle   *UnitOracle
}

// NewAnalysisContext 组装分析上下文。知识库与注册表允许为 nil，
// 对应求值能力退化而不报错。
func NewAnalysisContext(unit *ParsedUnit, built *BuiltUnit, lib *KnowledgeBase, registry *FunctionRegistry) *AnalysisContext {
	oracle := NewUnitOracle(built)
	settings := &valueflow.Settings{
		Oracle: oracle,
		Infer:  valueflow.IntegralInferModel{},
	}
	if lib != nil {
		settings.Library = lib
	}
	if registry != nil {
		settings.Functions = registry
	}
	return &AnalysisContext{
		Unit:     unit,
		Built:    built,
		Settings: settings,
		Oracle:   oracle,
	}
}

// Severity levels
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Confidence levels
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)
