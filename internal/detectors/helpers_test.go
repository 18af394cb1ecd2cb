package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"govalflow/internal/core"
)

// analyze 解析 C 源码并装配检查器运行所需的分析上下文
func analyze(t *testing.T, src string) *core.AnalysisContext {
	t.Helper()
	unit, err := core.ParseSource(context.Background(), []byte(src), "c")
	require.NoError(t, err)
	built := core.BuildUnit(unit)
	require.NotEmpty(t, built.Functions)
	return core.NewAnalysisContext(unit, built, core.DefaultKnowledgeBase(), nil)
}
