package detectors

import (
	"fmt"

	"govalflow/internal/core"
	"govalflow/internal/valueflow"
)

// ArrayIndexChecker 数组越界下标检查器 (CWE-788)
// 对每个下标访问求容器大小与下标的抽象值：下标必然越界报错误，
// 候选值越界报告警。&a[size] 形式的尾后取址是合法惯用法，不报。
type ArrayIndexChecker struct {
	*core.BaseChecker
}

// NewArrayIndexChecker 创建数组越界检查器
func NewArrayIndexChecker() *ArrayIndexChecker {
	return &ArrayIndexChecker{
		BaseChecker: core.NewBaseChecker(
			"array-index",
			"Detects array subscripts that are or may be outside the valid range (CWE-788)",
		),
	}
}

// Run 执行检查
func (c *ArrayIndexChecker) Run(ctx *core.AnalysisContext) []core.Finding {
	var findings []core.Finding
	for _, fn := range ctx.Built.Functions {
		fn.WalkNodes(func(n *valueflow.Node) bool {
			if n.Op != "[" || n.Op1 == nil || n.Op2 == nil {
				return true
			}
			if f, ok := c.check(ctx, n); ok {
				findings = append(findings, f)
			}
			return true
		})
	}
	return findings
}

func (c *ArrayIndexChecker) check(ctx *core.AnalysisContext, access *valueflow.Node) (core.Finding, bool) {
	target, idx := access.Op1, access.Op2
	pm := valueflow.GetProgramMemory(access, nil, valueflow.Unknown(), ctx.Settings)

	size, ok := containerSize(target, pm, ctx.Settings)
	if !ok {
		return core.Finding{}, false
	}
	iv := valueflow.Execute(idx, pm, ctx.Settings)
	if !iv.IsIntValue() {
		return core.Finding{}, false
	}

	name := exprText(target)
	if isAddressOf(access) {
		// 取址时仅下标严格超过尾后一位才算错
		if iv.IsKnown() && iv.IntVal > size {
			return c.finding(ctx, access, iv,
				fmt.Sprintf("array '%s[%d]' address taken at index %d, which is out of bounds", name, size, iv.IntVal),
				core.ConfidenceHigh, core.SeverityHigh), true
		}
		return core.Finding{}, false
	}

	switch {
	case iv.IsKnown():
		if iv.IntVal >= size || iv.IntVal < 0 {
			return c.finding(ctx, access, iv,
				fmt.Sprintf("array '%s[%d]' accessed at index %d, which is out of bounds", name, size, iv.IntVal),
				core.ConfidenceHigh, core.SeverityHigh), true
		}
	case iv.IsImpossible():
		// 排除型事实给出必然越界的单侧界
		if iv.Bound == valueflow.BoundUpper && iv.IntVal >= size-1 {
			return c.finding(ctx, access, iv,
				fmt.Sprintf("array '%s[%d]' accessed at index larger than %d, which is out of bounds", name, size, iv.IntVal),
				core.ConfidenceHigh, core.SeverityHigh), true
		}
		if iv.Bound == valueflow.BoundLower && iv.IntVal <= 0 {
			return c.finding(ctx, access, iv,
				fmt.Sprintf("array '%s[%d]' accessed at negative index smaller than %d", name, size, iv.IntVal),
				core.ConfidenceHigh, core.SeverityHigh), true
		}
	case iv.IsPossible():
		if iv.IntVal >= size || iv.IntVal < 0 {
			return c.finding(ctx, access, iv,
				fmt.Sprintf("array '%s[%d]' may be accessed at index %d, which is out of bounds", name, size, iv.IntVal),
				core.ConfidenceMedium, core.SeverityMedium), true
		}
	}
	return core.Finding{}, false
}

func (c *ArrayIndexChecker) finding(ctx *core.AnalysisContext, node *valueflow.Node, v valueflow.Value, msg, conf, sev string) core.Finding {
	f := c.NewFinding(ctx, node, msg, conf, sev)
	f.Value = v.String()
	return f
}

// containerSize 目标在该程序点的已知容器大小。字符串字面量可索引
// 到含终结符在内的 len+1 个位置。
func containerSize(target *valueflow.Node, pm *valueflow.ProgramMemory, settings *valueflow.Settings) (int64, bool) {
	v := valueflow.Execute(target, pm, settings)
	if v.IsContainerSizeValue() && v.IsKnown() {
		return v.IntVal, true
	}
	if v.IsTokValue() && v.TokRef != nil && v.TokRef.Kind == valueflow.NodeString {
		return int64(len(v.TokRef.Str)) + 1, true
	}
	return 0, false
}

func isAddressOf(access *valueflow.Node) bool {
	p := access.Parent
	return p != nil && p.Op == "&" && p.Op2 == nil
}
