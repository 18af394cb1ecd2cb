package detectors

import (
	"fmt"

	"govalflow/internal/core"
	"govalflow/internal/valueflow"
)

// ZeroDivisionChecker 除零检查器 (CWE-369)
// 对每处除法与取模在该程序点求除数的抽象值：
// 必然为零报错误，候选值含零报告警。
type ZeroDivisionChecker struct {
	*core.BaseChecker
}

// NewZeroDivisionChecker 创建除零检查器
func NewZeroDivisionChecker() *ZeroDivisionChecker {
	return &ZeroDivisionChecker{
		BaseChecker: core.NewBaseChecker(
			"zero-division",
			"Detects division or modulo where the divisor is or may be zero (CWE-369)",
		),
	}
}

// Run 执行检查
func (c *ZeroDivisionChecker) Run(ctx *core.AnalysisContext) []core.Finding {
	var findings []core.Finding
	for _, fn := range ctx.Built.Functions {
		fn.WalkNodes(func(n *valueflow.Node) bool {
			switch n.Op {
			case "/", "%", "/=", "%=":
			default:
				return true
			}
			if n.Op2 == nil {
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

func (c *ZeroDivisionChecker) check(ctx *core.AnalysisContext, div *valueflow.Node) (core.Finding, bool) {
	divisor := div.Op2
	pm := valueflow.GetProgramMemory(divisor, nil, valueflow.Unknown(), ctx.Settings)
	v := valueflow.Execute(divisor, pm, ctx.Settings)
	if !v.IsIntValue() || v.IntVal != 0 {
		return core.Finding{}, false
	}

	op := "division"
	if div.Op == "%" || div.Op == "%=" {
		op = "modulo"
	}
	switch {
	case v.IsKnown():
		f := c.NewFinding(ctx, div,
			fmt.Sprintf("%s by zero: divisor '%s' is always 0", op, exprText(divisor)),
			core.ConfidenceHigh, core.SeverityHigh)
		f.Value = v.String()
		return f, true
	case v.IsPossible():
		f := c.NewFinding(ctx, div,
			fmt.Sprintf("possible %s by zero: divisor '%s' may be 0", op, exprText(divisor)),
			core.ConfidenceMedium, core.SeverityMedium)
		f.Value = v.String()
		return f, true
	}
	return core.Finding{}, false
}
