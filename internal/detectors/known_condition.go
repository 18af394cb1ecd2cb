package detectors

import (
	"fmt"
	"sort"

	"govalflow/internal/core"
	"govalflow/internal/valueflow"
)

// KnownConditionChecker 恒真恒假条件检查器 (CWE-570, CWE-571)
// 按文档序推进一个状态游标，在每个控制条件处求值：
// 结果必然为真或必然为假时报告。字面量条件（while(1)、
// do{...}while(0) 宏惯用法）不报。
type KnownConditionChecker struct {
	*core.BaseChecker
}

// NewKnownConditionChecker 创建恒真恒假条件检查器
func NewKnownConditionChecker() *KnownConditionChecker {
	return &KnownConditionChecker{
		BaseChecker: core.NewBaseChecker(
			"known-condition",
			"Detects conditions that are always true or always false (CWE-570, CWE-571)",
		),
	}
}

// Run 执行检查
func (c *KnownConditionChecker) Run(ctx *core.AnalysisContext) []core.Finding {
	var findings []core.Finding
	for _, fn := range ctx.Built.Functions {
		findings = append(findings, c.runFunction(ctx, fn)...)
	}
	return findings
}

func (c *KnownConditionChecker) runFunction(ctx *core.AnalysisContext, fn *valueflow.Function) []core.Finding {
	var conds []*valueflow.Node
	fn.WalkStmts(func(s *valueflow.Stmt) bool {
		switch s.Kind {
		case valueflow.StmtIf, valueflow.StmtWhile, valueflow.StmtFor, valueflow.StmtDoWhile:
			if s.Expr != nil {
				conds = append(conds, s.Expr)
			}
		}
		return true
	})
	// do-while 的条件位置在循环体之后，遍历序不等于文档序
	sort.Slice(conds, func(i, j int) bool { return conds[i].Pos < conds[j].Pos })

	var findings []core.Finding
	ps := valueflow.NewProgramMemoryState(ctx.Settings)
	for _, cond := range conds {
		ps.RemoveModifiedVars(cond.Pos - 1)
		if isLiteralCond(cond) {
			continue
		}
		state := ps.Get(cond, nil, nil)
		v := valueflow.Execute(cond, state, ctx.Settings)
		if !v.IsKnown() || !v.IsIntValue() {
			continue
		}
		outcome := "false"
		if v.IntVal != 0 {
			outcome = "true"
		}
		f := c.NewFinding(ctx, cond,
			fmt.Sprintf("condition '%s' is always %s", exprText(cond), outcome),
			core.ConfidenceHigh, core.SeverityLow)
		f.Value = v.String()
		findings = append(findings, f)
		// 已决的条件向前传播，其证据位置越过分支体
		truth := v.IntVal != 0
		if assumeHoldsAfter(cond, truth) {
			ps.Assume(cond, truth, false)
		}
	}
	return findings
}

// assumeHoldsAfter 已决条件能否带到汇合点之后。嵌在条件结构里的
// 结论只在该结构内成立；恒假的 if 带 else 时后续走 else 路径，
// 恒真的循环退出时条件已翻转，这些都不能带。
func assumeHoldsAfter(cond *valueflow.Node, truth bool) bool {
	st := cond.OwnerStmt
	if st == nil {
		return false
	}
	for b := st.Block; b != nil; b = b.Parent {
		if b.Kind != valueflow.BlockFunction && b.Kind != valueflow.BlockAnon {
			return false
		}
	}
	switch st.Kind {
	case valueflow.StmtIf:
		return truth || st.Else == nil
	case valueflow.StmtWhile, valueflow.StmtFor, valueflow.StmtDoWhile:
		return !truth
	}
	return false
}

// isLiteralCond 条件是否为裸字面量
func isLiteralCond(cond *valueflow.Node) bool {
	switch cond.Kind {
	case valueflow.NodeNumber, valueflow.NodeChar, valueflow.NodeBool:
		return true
	}
	return false
}
