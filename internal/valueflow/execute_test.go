package valueflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteLiterals(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	pm := NewProgramMemory()

	cases := []struct {
		name string
		n    *Node
		want Value
	}{
		{"decimal", g.Num("42"), IntValue(42)},
		{"hex", g.Num("0xff"), IntValue(255)},
		{"octal", g.Num("0755"), IntValue(493)},
		{"binary", g.Num("0b101"), IntValue(5)},
		{"suffix", g.Num("42u"), IntValue(42)},
		{"long suffix", g.Num("7LL"), IntValue(7)},
		{"float", g.Num("1.5"), FloatValue(1.5)},
		{"float suffix", g.Num("2.5f"), FloatValue(2.5)},
		{"exponent", g.Num("1e3"), FloatValue(1000)},
		{"true", g.Bool(true), IntValue(1)},
		{"false", g.Bool(false), IntValue(0)},
		{"char", g.Char("'a'"), IntValue(97)},
		{"char escape", g.Char(`'\n'`), IntValue(10)},
		{"char hex escape", g.Char(`'\x41'`), IntValue(65)},
		{"garbage number", g.Num("12abc"), Unknown()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Execute(tc.n, pm, s))
		})
	}
}

// 超出 int64 的字面量不得回绕成已知负数，必须保持未知
func TestExecuteLiteralOutOfRangeIsUnknown(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	pm := NewProgramMemory()

	for _, text := range []string{
		"0xFFFFFFFFFFFFFFFF",
		"18446744073709551615ULL",
		"0x8000000000000000",
		"9223372036854775808",
	} {
		t.Run(text, func(t *testing.T) {
			assert.True(t, Execute(g.Num(text), pm, s).IsUninit())
		})
	}

	// 回绕会把 0x8000000000000000 当成负数，进而定论比较为假
	cmp := g.Binop(">", g.Num("0x8000000000000000"), g.Num("0"))
	assert.True(t, Execute(cmp, pm, s).IsUninit())

	// 边界本身仍可解析
	v := Execute(g.Num("9223372036854775807"), pm, s)
	require.True(t, v.IsKnown())
	assert.Equal(t, int64(9223372036854775807), v.IntVal)
}

func TestExecuteStringLiteral(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	lit := g.Str("abc")
	v := Execute(lit, NewProgramMemory(), s)
	require.True(t, v.IsTokValue())
	assert.Same(t, lit, v.TokRef)
}

// 状态里 x 已知为 5 时，x+3 必须得到已知的 8
func TestExecuteArithmeticOnState(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	expr := g.Binop("+", x, g.Num("3"))

	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(5))

	v := Execute(expr, pm, s)
	require.True(t, v.IsKnown())
	assert.Equal(t, int64(8), v.IntVal)
}

func TestExecuteBinaryOperators(t *testing.T) {
	s, _, _, _ := newTestSettings()
	cases := []struct {
		op   string
		a, b string
		want int64
	}{
		{"+", "2", "3", 5},
		{"-", "2", "3", -1},
		{"*", "4", "3", 12},
		{"/", "7", "2", 3},
		{"%", "7", "2", 1},
		{"<<", "1", "4", 16},
		{">>", "16", "2", 4},
		{"&", "6", "3", 2},
		{"|", "6", "3", 7},
		{"^", "6", "3", 5},
		{"==", "2", "2", 1},
		{"!=", "2", "2", 0},
		{"<", "1", "2", 1},
		{">=", "2", "2", 1},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			g := NewGraph()
			expr := g.Binop(tc.op, g.Num(tc.a), g.Num(tc.b))
			v := Execute(expr, NewProgramMemory(), s)
			require.True(t, v.IsKnown(), "result: %s", v)
			assert.Equal(t, tc.want, v.IntVal)
		})
	}
}

func TestExecuteDivisionByZeroIsUnknown(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	for _, op := range []string{"/", "%"} {
		expr := g.Binop(op, g.Num("1"), g.Num("0"))
		assert.True(t, Execute(expr, NewProgramMemory(), s).IsUninit())
	}
}

func TestExecuteAssignment(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()

	v := Execute(g.Binop("=", x, g.Num("5")), pm, s)
	assert.Equal(t, int64(5), v.IntVal)
	stored, _ := pm.GetValue(x.ExprID, false)
	assert.Equal(t, int64(5), stored.IntVal)

	// 复合赋值基于既有值
	v = Execute(g.Binop("+=", g.Name("x"), g.Num("2")), pm, s)
	assert.Equal(t, int64(7), v.IntVal)
	stored, _ = pm.GetValue(x.ExprID, false)
	assert.Equal(t, int64(7), stored.IntVal)
}

func TestExecuteAssignmentUnknownRHSInvalidates(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	y := g.Name("y")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(1))

	v := Execute(g.Binop("=", g.Name("x"), y), pm, s)
	require.True(t, v.IsUninit())
	_, ok := pm.GetIntValue(x.ExprID)
	assert.False(t, ok, "未知右值必须使旧事实失效")
	assert.True(t, pm.Has(x.ExprID))
}

func TestExecuteIncDec(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(5))

	v := Execute(g.IncDec("++", g.Name("x"), false), pm, s)
	assert.Equal(t, int64(6), v.IntVal, "前缀返回新值")

	v = Execute(g.IncDec("++", g.Name("x"), true), pm, s)
	assert.Equal(t, int64(6), v.IntVal, "后缀返回旧值")
	stored, _ := pm.GetValue(x.ExprID, false)
	assert.Equal(t, int64(7), stored.IntVal)

	v = Execute(g.IncDec("--", g.Name("x"), false), pm, s)
	assert.Equal(t, int64(6), v.IntVal)
}

func TestExecuteUnsignedDecrementAtZero(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	x.Unsigned = true
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(0))

	v := Execute(g.IncDec("--", x, false), pm, s)
	require.True(t, v.IsUninit(), "无符号零自减不建模")
	_, ok := pm.GetIntValue(x.ExprID)
	assert.False(t, ok)
}

func TestExecuteComma(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()
	expr := g.Binop(",", g.Binop("=", x, g.Num("3")), g.Binop("+", g.Name("x"), g.Num("1")))

	v := Execute(expr, pm, s)
	assert.Equal(t, int64(4), v.IntVal, "左侧副作用生效，返回右侧值")
}

func TestExecuteTernary(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(1))

	v := Execute(g.Ternary(g.Name("x"), g.Num("10"), g.Num("20")), pm, s)
	assert.Equal(t, int64(10), v.IntVal)

	pm.SetValue(x, IntValue(0))
	v = Execute(g.Ternary(g.Name("x"), g.Num("10"), g.Num("20")), pm, s)
	assert.Equal(t, int64(20), v.IntVal)

	v = Execute(g.Ternary(g.Name("y"), g.Num("10"), g.Num("20")), pm, s)
	assert.True(t, v.IsUninit(), "条件未知时不得偏向任一分支")
}

func TestExecuteNot(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()

	pm.SetValue(x, IntValue(0))
	assert.Equal(t, int64(1), Execute(g.Unop("!", g.Name("x")), pm, s).IntVal)

	pm.SetValue(x, IntValue(7))
	assert.Equal(t, int64(0), Execute(g.Unop("!", g.Name("x")), pm, s).IntVal)

	// 排除零蕴含非零，取反必为假
	pm.SetValue(x, ImpossibleValue(0, BoundPoint))
	v := Execute(g.Unop("!", g.Name("x")), pm, s)
	require.True(t, v.IsIntValue())
	assert.Equal(t, int64(0), v.IntVal)
}

func TestExecuteNegate(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	pm := NewProgramMemory()
	assert.Equal(t, int64(-3), Execute(g.Unop("-", g.Num("3")), pm, s).IntVal)
	assert.Equal(t, -2.5, Execute(g.Unop("-", g.Num("2.5")), pm, s).FloatVal)

	// 取负翻转排除界：x>4 时 -x<-4
	x := g.Name("x")
	pm.SetValue(x, ImpossibleValue(4, BoundUpper))
	v := Execute(g.Unop("-", g.Name("x")), pm, s)
	require.True(t, v.IsImpossible())
	assert.Equal(t, int64(-4), v.IntVal)
	assert.Equal(t, BoundLower, v.Bound)
}

func TestExecuteStringIndexing(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	pm := NewProgramMemory()

	idx := func(text string, i string) Value {
		return Execute(g.Index(g.Str(text), g.Num(i)), pm, s)
	}
	assert.Equal(t, int64('b'), idx("abc", "1").IntVal)
	assert.Equal(t, int64(0), idx("abc", "3").IntVal, "末尾下标读到终止符")
	assert.True(t, idx("abc", "4").IsUninit(), "越界不得取值")

	// 指针经状态携带字符串字面量
	p := g.Name("p")
	lit := g.Str("xy")
	pm.SetValue(p, TokValue(lit))
	v := Execute(g.Index(g.Name("p"), g.Num("0")), pm, s)
	assert.Equal(t, int64('x'), v.IntVal)
}

func TestExecuteAnnotatedKnownValueWins(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	x.AddValue(IntValue(9))

	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(1))
	// 预标注的静态已知值优先于状态
	assert.Equal(t, int64(9), Execute(x, pm, s).IntVal)
}

func TestExecuteCastPassThrough(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	pm := NewProgramMemory()
	assert.Equal(t, int64(3), Execute(g.Cast(g.Num("3")), pm, s).IntVal)
	assert.True(t, Execute(g.DynCast(g.Num("3")), pm, s).IsUninit())
}

// 深度预算：超深表达式树必须安静地收束为 Unknown
func TestExecuteDepthBudget(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	expr := g.Num("1")
	for i := 0; i < 64; i++ {
		expr = g.Binop("+", expr, g.Num("1"))
	}
	v := Execute(expr, NewProgramMemory(), s)
	assert.True(t, v.IsUninit())

	// 预算内的浅树不受影响
	shallow := g.Binop("+", g.Num("1"), g.Num("2"))
	assert.Equal(t, int64(3), Execute(shallow, NewProgramMemory(), s).IntVal)
}

// 自递归函数受内联深度预算约束而终止
func TestExecuteRecursiveCallTerminates(t *testing.T) {
	g := NewGraph()
	s, _, _, resolver := newTestSettings()

	fb := newFnBuilder(g, "f")
	fb.param("n")
	fb.ret(g.CallNamed("f", g.Name("n")))
	fb.end()
	resolver["f"] = fb.fn

	v := Execute(g.CallNamed("f", g.Num("1")), NewProgramMemory(), s)
	assert.True(t, v.IsUninit())
}

func TestExecuteInlineCall(t *testing.T) {
	g := NewGraph()
	s, _, _, resolver := newTestSettings()

	// int twice(int v) { return v * 2; }
	fb := newFnBuilder(g, "twice")
	fb.param("v")
	fb.ret(g.Binop("*", g.Name("v"), g.Num("2")))
	fb.end()
	resolver["twice"] = fb.fn

	got := Execute(g.CallNamed("twice", g.Num("21")), NewProgramMemory(), s)
	require.True(t, got.IsKnown(), "result: %s", got)
	assert.Equal(t, int64(42), got.IntVal)
}

func TestExecuteInlineCallWithBranch(t *testing.T) {
	g := NewGraph()
	s, _, _, resolver := newTestSettings()

	// int sign(int v) { if (v > 0) { return 1; } return 0; }
	fb := newFnBuilder(g, "sign")
	fb.param("v")
	fb.beginIf(g.Binop(">", g.Name("v"), g.Num("0")))
	fb.ret(g.Num("1"))
	fb.end()
	fb.ret(g.Num("0"))
	fb.end()
	resolver["sign"] = fb.fn

	v := Execute(g.CallNamed("sign", g.Num("5")), NewProgramMemory(), s)
	assert.Equal(t, int64(1), v.IntVal)

	v = Execute(g.CallNamed("sign", g.Num("-5")), NewProgramMemory(), s)
	assert.Equal(t, int64(0), v.IntVal)

	// 实参未知时分支不可判定，调用收束为 Unknown
	v = Execute(g.CallNamed("sign", g.Name("q")), NewProgramMemory(), s)
	assert.True(t, v.IsUninit())
}

func TestExecuteVirtualNotInlined(t *testing.T) {
	g := NewGraph()
	s, _, _, resolver := newTestSettings()
	fb := newFnBuilder(g, "vf")
	fb.ret(g.Num("1"))
	fb.end()
	fb.fn.Virtual = true
	resolver["vf"] = fb.fn

	v := Execute(g.CallNamed("vf"), NewProgramMemory(), s)
	assert.True(t, v.IsUninit())
}

func TestExecuteReturnTemplate(t *testing.T) {
	g := NewGraph()
	s, lib, _, _ := newTestSettings()

	// clamp0: arg1 < 0 ? 0 : arg1
	tg := NewGraph()
	a1 := tg.Name("arg1")
	root := tg.Ternary(tg.Binop("<", tg.Name("arg1"), tg.Num("0")), tg.Num("0"), a1)
	lib.templates["clamp0"] = &ReturnExpr{Root: root, Args: []*Node{a1}}

	v := Execute(g.CallNamed("clamp0", g.Num("-3")), NewProgramMemory(), s)
	require.True(t, v.IsIntValue())
	assert.Equal(t, int64(0), v.IntVal)

	v = Execute(g.CallNamed("clamp0", g.Num("7")), NewProgramMemory(), s)
	assert.Equal(t, int64(7), v.IntVal)
}

// 未决调用后，判定器认定可能被改写的实参旧值不可再用
func TestExecuteUnresolvedCallInvalidatesArgs(t *testing.T) {
	g := NewGraph()
	s, _, oracle, _ := newTestSettings()
	oracle.changedByCall = func(arg *Node, indirect int) bool { return true }
	x := g.Name("x")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(5))

	Execute(g.CallNamed("mystery", g.Unop("&", g.Name("x"))), pm, s)
	_, ok := pm.GetIntValue(x.ExprID)
	assert.False(t, ok, "未决调用必须使实参失效")
}

// 按值传递且判定器认定未改写时，实参事实跨调用存活
func TestExecuteUnresolvedCallKeepsUnchangedArgs(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	x := g.Name("x")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(5))

	Execute(g.CallNamed("mystery", g.Name("x")), pm, s)
	iv, ok := pm.GetIntValue(x.ExprID)
	require.True(t, ok)
	assert.Equal(t, int64(5), iv)
}

func TestExecutePureCallKeepsArgs(t *testing.T) {
	g := NewGraph()
	s, lib, oracle, _ := newTestSettings()
	lib.pure["inspect"] = true
	oracle.changedByCall = func(arg *Node, indirect int) bool { return true }
	x := g.Name("x")
	pm := NewProgramMemory()
	pm.SetValue(x, IntValue(5))

	Execute(g.CallNamed("inspect", g.Name("x")), pm, s)
	iv, ok := pm.GetIntValue(x.ExprID)
	require.True(t, ok, "纯函数不得破坏实参事实")
	assert.Equal(t, int64(5), iv)
}

func TestExecuteContainerSizeYields(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	c := g.Name("v")
	pm := NewProgramMemory()
	pm.SetValue(c, ContainerSizeValue(0))

	// 大小已知为零：empty() 必真，size()==0 必真
	empty := g.MemberCall(g.Name("v"), "empty")
	v := Execute(empty, pm, s)
	require.True(t, v.IsTrue(), "empty() got %s", v)

	sizeCmp := g.Binop("==", g.MemberCall(g.Name("v"), "size"), g.Num("0"))
	v = Execute(sizeCmp, pm, s)
	require.True(t, v.IsTrue(), "size()==0 got %s", v)

	// 大小排除零：empty() 必假
	pm.SetValue(c, func() Value {
		sv := ContainerSizeValue(0)
		sv.SetImpossible()
		return sv
	}())
	v = Execute(g.MemberCall(g.Name("v"), "empty"), pm, s)
	require.True(t, v.IsIntValue())
	assert.Equal(t, int64(0), v.IntVal)
}

func TestExecuteSymbolicValues(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	anchor := g.Name("y")
	x := g.Name("x")
	pm := NewProgramMemory()
	// x == y + 2
	pm.SetValue(x, SymbolicValue(anchor, 2))

	v := Execute(g.Binop("+", g.Name("x"), g.Num("3")), pm, s)
	require.True(t, v.IsSymbolicValue())
	assert.Equal(t, int64(5), v.IntVal)
	assert.Same(t, anchor, v.TokRef)

	// 同锚点的比较按偏移判定
	x2 := g.Name("x2")
	pm.SetValue(x2, SymbolicValue(anchor, 5))
	cmp := g.Binop("<", g.Name("x"), g.Name("x2"))
	v = Execute(cmp, pm, s)
	require.True(t, v.IsIntValue())
	assert.Equal(t, int64(1), v.IntVal)
}

func TestExecuteIteratorValues(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	it := g.Name("it")
	pm := NewProgramMemory()
	pm.SetValue(it, IteratorValue(1, false))

	v := Execute(g.Binop("+", g.Name("it"), g.Num("2")), pm, s)
	require.Equal(t, ValueIteratorStart, v.Kind)
	assert.Equal(t, int64(3), v.IntVal)

	// 起点位置与终点位置不可比
	end := g.Name("e")
	pm.SetValue(end, IteratorValue(0, true))
	v = Execute(g.Binop("==", g.Name("it"), g.Name("e")), pm, s)
	assert.True(t, v.IsUninit())
}

// 排除界与无符号假设的比较推断
func TestExecuteInferComparisons(t *testing.T) {
	s, _, _, _ := newTestSettings()

	t.Run("upper bound proves positive", func(t *testing.T) {
		g := NewGraph()
		n := g.Name("n")
		pm := NewProgramMemory()
		pm.SetValue(n, ImpossibleValue(0, BoundUpper)) // n > 0
		v := Execute(g.Binop(">", g.Name("n"), g.Num("0")), pm, s)
		require.True(t, v.IsKnown(), "got %s", v)
		assert.Equal(t, int64(1), v.IntVal)
	})
	t.Run("unsigned nonzero proves positive", func(t *testing.T) {
		g := NewGraph()
		x := g.Name("x")
		x.Unsigned = true
		pm := NewProgramMemory()
		pm.SetValue(x, ImpossibleValue(0, BoundPoint)) // x != 0
		v := Execute(g.Binop(">", x, g.Num("0")), pm, s)
		require.True(t, v.IsKnown(), "got %s", v)
		assert.Equal(t, int64(1), v.IntVal)
	})
	t.Run("signed nonzero proves nothing", func(t *testing.T) {
		g := NewGraph()
		x := g.Name("x")
		pm := NewProgramMemory()
		pm.SetValue(x, ImpossibleValue(0, BoundPoint)) // x != 0 但可为负
		v := Execute(g.Binop(">", x, g.Num("0")), pm, s)
		assert.True(t, v.IsUninit(), "got %s", v)
	})
	t.Run("nonzero fact in bool context", func(t *testing.T) {
		g := NewGraph()
		x := g.Name("x")
		pm := NewProgramMemory()
		pm.SetValue(x, ImpossibleValue(0, BoundPoint))
		v := Execute(g.Unop("!", g.Unop("!", g.Name("x"))), pm, s)
		require.True(t, v.IsIntValue(), "got %s", v)
		assert.Equal(t, int64(1), v.IntVal)
	})
}

func TestExecuteBuiltinStrlen(t *testing.T) {
	g := NewGraph()
	s, _, _, _ := newTestSettings()
	v := Execute(g.CallNamed("strlen", g.Str("abc")), NewProgramMemory(), s)
	require.True(t, v.IsKnown(), "got %s", v)
	assert.Equal(t, int64(3), v.IntVal)
}
