package valueflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorAddStateRebuilds(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	b := newFnBuilder(g, "f")

	b.assign(g.Name("a"), g.Num("3"))
	b.beginIf(g.Binop(">", g.Name("x"), g.Num("5")))
	q := g.Name("q")
	b.expr(q)
	b.end()

	ps := NewProgramMemoryState(s)
	ps.AddState(q, nil)
	st := ps.State()

	av, ok := st.GetValue(g.Name("a").ExprID, true)
	require.True(t, ok)
	assert.Equal(t, int64(3), av.IntVal)

	xv, ok := st.GetValue(g.Name("x").ExprID, true)
	require.True(t, ok)
	require.True(t, xv.IsImpossible())
	assert.Equal(t, int64(5), xv.IntVal)
	assert.Equal(t, BoundUpper, xv.Bound)
}

func TestCursorRemoveModifiedVars(t *testing.T) {
	g := NewGraph()
	s, _, oracle, _ := newTestSettings()

	x, a := g.Name("x"), g.Name("a")
	pm := NewProgramMemory()
	pm.SetIntValue(x, 1, false)
	pm.SetIntValue(a, 2, false)

	ps := NewProgramMemoryState(s)
	ps.Insert(pm, 10)

	var windows [][2]int
	oracle.changed = func(expr *Node, from, to int) bool {
		windows = append(windows, [2]int{from, to})
		return expr.ExprID == x.ExprID
	}
	ps.RemoveModifiedVars(25)

	st := ps.State()
	_, ok := st.GetValue(x.ExprID, true)
	assert.False(t, ok)
	av, ok := st.GetValue(a.ExprID, true)
	require.True(t, ok)
	assert.Equal(t, int64(2), av.IntVal)
	// 检查窗口从证据位置起到推进点止
	for _, w := range windows {
		assert.Equal(t, [2]int{10, 25}, w)
	}
}

func TestCursorAssumeAnchorsToBranch(t *testing.T) {
	g := NewGraph()
	s, _, oracle, _ := newTestSettings()
	b := newFnBuilder(g, "f")

	cond := g.Binop(">", g.Name("x"), g.Num("5"))
	ifStmt := b.beginIf(cond)
	b.expr(g.Name("t"))
	b.end()
	after := b.expr(g.Name("after"))

	ps := NewProgramMemoryState(s)
	ps.Assume(cond, true, false)

	st := ps.State()
	xv, ok := st.GetValue(g.Name("x").ExprID, true)
	require.True(t, ok)
	require.True(t, xv.IsImpossible())
	assert.Equal(t, int64(5), xv.IntVal)
	assert.Equal(t, BoundUpper, xv.Bound)

	// 证据位置前移到分支体起点，推进时的检查窗口从那里开始
	var from int
	oracle.changed = func(expr *Node, f, to int) bool {
		from = f
		return false
	}
	ps.RemoveModifiedVars(after.Pos)
	assert.Equal(t, ifStmt.Then.PosStart, from)

	// 假定为假：事实是「越过整个 if 之后」的状态
	ps2 := NewProgramMemoryState(s)
	ps2.Assume(cond, false, false)
	xv2, ok := ps2.State().GetValue(g.Name("x").ExprID, true)
	require.True(t, ok)
	require.True(t, xv2.IsImpossible())
	assert.Equal(t, int64(6), xv2.IntVal)
	assert.Equal(t, BoundLower, xv2.Bound)

	from = 0
	ps2.RemoveModifiedVars(after.Pos)
	assert.Equal(t, ifStmt.EndPos, from)
}

func TestCursorAssumeContainerEmpty(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	v := g.Name("vec")

	ps := NewProgramMemoryState(s)
	ps.Assume(v, true, true)
	sv, ok := ps.State().GetValue(v.ExprID, true)
	require.True(t, ok)
	require.True(t, sv.IsContainerSizeValue())
	assert.True(t, sv.IsKnown())
	assert.Equal(t, int64(0), sv.IntVal)

	ps2 := NewProgramMemoryState(s)
	ps2.Assume(v, false, true)
	sv2, ok := ps2.State().GetValue(v.ExprID, true)
	require.True(t, ok)
	require.True(t, sv2.IsContainerSizeValue())
	assert.True(t, sv2.IsImpossible())
}

func TestCursorGet(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	b := newFnBuilder(g, "f")

	b.assign(g.Name("a"), g.Num("5"))
	q1 := g.Name("q1")
	b.expr(q1)
	b.assign(g.Name("a"), g.Num("9"))
	q2 := g.Name("q2")
	b.expr(q2)

	ps := NewProgramMemoryState(s)

	st1 := ps.Get(q1, nil, nil)
	av, ok := st1.GetValue(g.Name("a").ExprID, true)
	require.True(t, ok)
	assert.Equal(t, int64(5), av.IntVal)

	// Get 在副本上工作，游标本身不被推进
	assert.True(t, ps.State().Empty())

	st2 := ps.Get(q2, q2, nil)
	av2, ok := st2.GetValue(g.Name("a").ExprID, true)
	require.True(t, ok)
	assert.Equal(t, int64(9), av2.IntVal)
}

func TestCursorGetBindings(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	b := newFnBuilder(g, "f")

	b.assign(g.Name("a"), g.Num("5"))
	q := g.Name("q")
	b.expr(q)

	bind := NewProgramMemory()
	bind.SetIntValue(g.Name("a"), 42, false)

	ps := NewProgramMemoryState(s)
	st := ps.Get(q, nil, bind)
	av, ok := st.GetValue(g.Name("a").ExprID, true)
	require.True(t, ok)
	assert.Equal(t, int64(42), av.IntVal)
}

// 顺序扫描一组条件的用法：判定、假定成立、推进、再判定
func TestCursorConditionSequence(t *testing.T) {
	g := NewGraph()
	s, _, oracle, _ := newTestSettings()
	b := newFnBuilder(g, "f")

	aID := g.Name("a").ExprID
	b.assign(g.Name("a"), g.Num("0"))
	c1 := g.Binop("==", g.Name("a"), g.Num("0"))
	b.beginIf(c1)
	b.end()
	wr := b.assign(g.Name("a"), g.CallNamed("read"))
	c2 := g.Binop("==", g.Name("a"), g.Num("0"))
	b.beginIf(c2)
	b.end()

	oracle.changed = func(expr *Node, from, to int) bool {
		return expr.ExprID == aID && from <= wr.Pos && wr.Pos <= to
	}

	ps := NewProgramMemoryState(s)

	ps.RemoveModifiedVars(c1.Pos - 1)
	v1 := Execute(c1, ps.Get(c1, nil, nil), s)
	require.True(t, v1.IsKnown())
	assert.Equal(t, int64(1), v1.IntVal)
	ps.Assume(c1, true, false)

	// 中间的写入使假设失效，第二个条件回到未知
	ps.RemoveModifiedVars(c2.Pos - 1)
	v2 := Execute(c2, ps.Get(c2, nil, nil), s)
	assert.True(t, v2.IsUninit())
}
