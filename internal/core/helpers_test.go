package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"govalflow/internal/valueflow"
)

// buildSrc 解析内存源码并构建表达式图
func buildSrc(t *testing.T, src, lang string) *BuiltUnit {
	t.Helper()
	unit, err := ParseSource(context.Background(), []byte(src), lang)
	require.NoError(t, err)
	return BuildUnit(unit)
}

func mustFn(t *testing.T, built *BuiltUnit, name string) *valueflow.Function {
	t.Helper()
	fn, ok := built.FunctionByName(name)
	require.True(t, ok, "function %s not built", name)
	return fn
}

// findNames 按文档序收集指定名字的引用节点
func findNames(fn *valueflow.Function, name string) []*valueflow.Node {
	var out []*valueflow.Node
	fn.WalkNodes(func(n *valueflow.Node) bool {
		if n.Kind == valueflow.NodeName && n.Str == name {
			out = append(out, n)
		}
		return true
	})
	return out
}

// findAssigns 收集左侧为指定名字的平直赋值节点
func findAssigns(fn *valueflow.Function, lhs string) []*valueflow.Node {
	var out []*valueflow.Node
	fn.WalkNodes(func(n *valueflow.Node) bool {
		if n.Op == "=" && n.Op1 != nil && n.Op1.Kind == valueflow.NodeName && n.Op1.Str == lhs {
			out = append(out, n)
		}
		return true
	})
	return out
}

// findCalls 收集指定名字的调用节点
func findCalls(fn *valueflow.Function, name string) []*valueflow.Node {
	var out []*valueflow.Node
	fn.WalkNodes(func(n *valueflow.Node) bool {
		if n.Kind == valueflow.NodeCall && n.Callee != nil &&
			n.Callee.Kind == valueflow.NodeName && n.Callee.Str == name {
			out = append(out, n)
		}
		return true
	})
	return out
}

func stmtsOfKind(fn *valueflow.Function, kind valueflow.StmtKind) []*valueflow.Stmt {
	var out []*valueflow.Stmt
	fn.WalkStmts(func(s *valueflow.Stmt) bool {
		if s.Kind == kind {
			out = append(out, s)
		}
		return true
	})
	return out
}
