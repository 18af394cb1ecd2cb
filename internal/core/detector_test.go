package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govalflow/internal/valueflow"
)

func TestBaseCheckerFinding(t *testing.T) {
	c := NewBaseChecker("demo-check", "演示检查")
	assert.Equal(t, "demo-check", c.Name())
	assert.Equal(t, "演示检查", c.Description())

	built := buildSrc(t, "int f(void) {\n    return 1;\n}\n", "c")
	ctx := NewAnalysisContext(built.Unit, built, nil, nil)
	fn := mustFn(t, built, "f")
	ret := stmtsOfKind(fn, valueflow.StmtReturn)[0]

	f := c.NewFinding(ctx, ret.Expr, "message", ConfidenceHigh, SeverityMedium)
	assert.Equal(t, "demo-check", f.CheckID)
	assert.Equal(t, "<memory>", f.FilePath)
	assert.Equal(t, 2, f.Line)
	assert.Equal(t, ConfidenceHigh, f.Confidence)
	assert.Equal(t, SeverityMedium, f.Severity)

	zero := c.NewFinding(nil, nil, "m", ConfidenceLow, SeverityLow)
	assert.Empty(t, zero.FilePath)
	assert.Zero(t, zero.Line)
}

func TestNewAnalysisContextWiring(t *testing.T) {
	built := buildSrc(t, "int f(void) { return 0; }", "c")

	ctx := NewAnalysisContext(built.Unit, built, nil, nil)
	require.NotNil(t, ctx.Settings)
	assert.NotNil(t, ctx.Oracle)
	assert.Same(t, ctx.Oracle, ctx.Settings.Oracle)
	assert.NotNil(t, ctx.Settings.Infer)
	// 未提供知识库与注册表时能力退化为 nil
	assert.Nil(t, ctx.Settings.Library)
	assert.Nil(t, ctx.Settings.Functions)

	ctx2 := NewAnalysisContext(built.Unit, built, DefaultKnowledgeBase(), NewFunctionRegistry())
	assert.NotNil(t, ctx2.Settings.Library)
	assert.NotNil(t, ctx2.Settings.Functions)
}
