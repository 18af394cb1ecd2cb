package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govalflow/internal/valueflow"
)

func TestDefaultKnowledgeBase(t *testing.T) {
	kb := DefaultKnowledgeBase()

	assert.True(t, kb.IsPure("abs"))
	assert.True(t, kb.IsPure("strlen"))
	assert.False(t, kb.IsPure("printf"))

	tpl, ok := kb.ReturnValue("abs")
	require.True(t, ok)
	assert.Equal(t, "?", tpl.Root.Op)
	_, ok = kb.ReturnValue("strlen")
	assert.False(t, ok)

	yields := map[string]valueflow.Yield{
		"size":    valueflow.YieldSize,
		"length":  valueflow.YieldSize,
		"empty":   valueflow.YieldEmpty,
		"front":   valueflow.YieldItem,
		"begin":   valueflow.YieldIteratorBegin,
		"cend":    valueflow.YieldIteratorEnd,
		"reserve": valueflow.YieldNone,
	}
	for member, want := range yields {
		assert.Equal(t, want, kb.ContainerYield(member), member)
	}
}

func TestKnowledgeBaseOverlay(t *testing.T) {
	base := []byte(`
functions:
  - name: twice
    pure: true
    return: "arg1 + arg1"
`)
	overlay := []byte(`
functions:
  - name: twice
    return: "arg1"
containers:
  size: [num_entries]
`)
	kb, err := NewKnowledgeBase(base, overlay)
	require.NoError(t, err)

	assert.True(t, kb.IsPure("twice"))
	assert.Equal(t, valueflow.YieldSize, kb.ContainerYield("num_entries"))

	// 后加载的模板覆盖先加载的
	tpl, ok := kb.ReturnValue("twice")
	require.True(t, ok)
	pm := valueflow.NewProgramMemory()
	pm.SetValue(tpl.Args[0], valueflow.IntValue(21))
	got, ok := valueflow.ExecuteInt(tpl.Root, pm, nil)
	require.True(t, ok)
	assert.Equal(t, int64(21), got)
}

func TestKnowledgeBaseErrors(t *testing.T) {
	_, err := NewKnowledgeBase([]byte("functions: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse library")

	_, err = NewKnowledgeBase([]byte(`
functions:
  - name: broken
    return: "sizeof(int)"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadKnowledgeBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
functions:
  - name: frob
    pure: true
`), 0o644))

	kb, err := LoadKnowledgeBase(path)
	require.NoError(t, err)
	assert.True(t, kb.IsPure("frob"))
	// 内置条目仍然生效
	assert.True(t, kb.IsPure("abs"))

	_, err = LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLibraryDrivesCallEvaluation(t *testing.T) {
	built := buildSrc(t, `
int f(void) {
    int r = abs(-7);
    return r;
}
`, "c")
	fn := mustFn(t, built, "f")
	ctx := NewAnalysisContext(built.Unit, built, DefaultKnowledgeBase(), nil)

	rets := stmtsOfKind(fn, valueflow.StmtReturn)
	require.Len(t, rets, 1)
	pm := valueflow.GetProgramMemory(rets[0].Expr, nil, valueflow.Unknown(), ctx.Settings)
	v := valueflow.Execute(rets[0].Expr, pm, ctx.Settings)
	require.True(t, v.IsKnown())
	assert.Equal(t, int64(7), v.IntVal)
}
