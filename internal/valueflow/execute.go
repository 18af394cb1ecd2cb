package valueflow

import (
	"strconv"
	"strings"
)

const (
	// execMaxDepth 表达式递归预算
	execMaxDepth = 10
	// execMaxFnDepth 函数内联递归预算
	execMaxFnDepth = 4
	// execMaxVisits 单次求值的节点访问总预算
	execMaxVisits = 4096
	// multiCondMaxLeaves 多条件展开的叶子上限
	multiCondMaxLeaves = 50
)

// Executor 在给定程序状态上求值表达式。求值可能向状态写入赋值与
// 自增自减的副作用。单个 Executor 不支持并发使用。
type Executor struct {
	pm       *ProgramMemory
	settings *Settings
	depth    int
	fdepth   int
	visits   int
}

// NewExecutor 以满额预算创建求值器
func NewExecutor(pm *ProgramMemory, settings *Settings) *Executor {
	return &Executor{
		pm:       pm,
		settings: settings,
		depth:    execMaxDepth,
		fdepth:   execMaxFnDepth,
		visits:   execMaxVisits,
	}
}

// Execute 在状态 pm 上求值 expr。任何失败情形返回 Unknown，不报错。
func Execute(expr *Node, pm *ProgramMemory, settings *Settings) Value {
	return NewExecutor(pm, settings).Execute(expr)
}

// ExecuteInt 求值并要求得到非排除的整数结果
func ExecuteInt(expr *Node, pm *ProgramMemory, settings *Settings) (int64, bool) {
	v := Execute(expr, pm, settings)
	if !v.IsIntValue() || v.IsImpossible() {
		return 0, false
	}
	return v.IntVal, true
}

// Execute 求值入口，维护递归与访问预算
func (ex *Executor) Execute(expr *Node) Value {
	if ex.depth <= 0 {
		return Unknown()
	}
	ex.visits--
	if ex.visits < 0 {
		return Unknown()
	}
	ex.depth--
	v := ex.executeImpl(expr)
	ex.depth++
	return v
}

// child 派生子求值器：继承剩余预算，函数深度减一
func (ex *Executor) child(pm *ProgramMemory) *Executor {
	return &Executor{
		pm:       pm,
		settings: ex.settings,
		depth:    ex.depth,
		fdepth:   ex.fdepth - 1,
		visits:   ex.visits,
	}
}

func (ex *Executor) executeImpl(expr *Node) Value {
	if expr == nil {
		return Unknown()
	}

	// 预标注的已知值优先。赋值与逗号有副作用，不允许短路。
	if !expr.IsAssignOp() && expr.Op != "," && len(expr.Values) > 0 {
		for _, kind := range []ValueKind{ValueInt, ValueTok, ValueFloat, ValueIteratorStart, ValueIteratorEnd, ValueContainerSize} {
			if v, ok := expr.KnownValueOf(kind); ok {
				return v
			}
		}
	}

	// 字面量
	switch expr.Kind {
	case NodeNumber:
		return evalNumberLiteral(expr.Str)
	case NodeBool:
		return IntValue(boolToInt(expr.Str == "true"))
	case NodeChar:
		if c, ok := parseCharLiteral(expr.Str); ok {
			return IntValue(c)
		}
		return Unknown()
	case NodeString:
		return TokValue(expr)
	case NodeDynCast:
		return Unknown()
	case NodeCast:
		return ex.Execute(expr.Op1)
	}

	// 容器产出：size()/empty() 直接映射容器大小事实
	if expr.Kind == NodeCall && ex.settings != nil && ex.settings.Library != nil {
		if v, ok := ex.executeContainerYield(expr); ok {
			return v
		}
	}

	// 赋值
	if expr.IsAssignOp() && expr.Op1 != nil && expr.Op2 != nil && expr.Op1.ExprID != 0 {
		return ex.executeAssign(expr)
	}

	// 逻辑与/或走多条件求值
	if expr.Op == "&&" || expr.Op == "||" {
		return ex.executeMultiCondition(expr.Op == "||", expr)
	}

	// 逗号：左侧只为副作用
	if expr.Op == "," && expr.Op1 != nil && expr.Op2 != nil {
		ex.Execute(expr.Op1)
		return ex.Execute(expr.Op2)
	}

	// 自增自减
	if (expr.Op == "++" || expr.Op == "--") && expr.Op1 != nil && expr.Op1.ExprID != 0 {
		return ex.executeIncDec(expr)
	}

	// 字符串字面量下标
	if expr.Op == "[" && expr.Op1 != nil && expr.Op2 != nil {
		if v, ok := ex.executeStringIndex(expr); ok {
			return v
		}
	}

	// 二元算术与比较
	if expr.Kind == NodeOp && isBinaryEvalOp(expr.Op) && expr.Op1 != nil && expr.Op2 != nil {
		return ex.executeBinary(expr)
	}

	// 一元 !、-、+
	if expr.IsUnaryOp() {
		switch expr.Op {
		case "!":
			return ex.executeNot(expr)
		case "-":
			return ex.executeNegate(expr)
		case "+":
			return ex.Execute(expr.Op1)
		}
	}

	// 三目
	if expr.Op == "?" && expr.Op1 != nil && expr.Op2 != nil && expr.Op2.Op == ":" {
		cond := ex.Execute(expr.Op1)
		if cond.IsTrue() {
			return ex.Execute(expr.Op2.Op1)
		}
		if cond.IsFalse() {
			return ex.Execute(expr.Op2.Op2)
		}
		return Unknown()
	}

	// 状态查找
	if expr.ExprID != 0 {
		if v, ok := ex.pm.GetValue(expr.ExprID, true); ok {
			// 布尔语境下「排除零」的事实重极化为真
			if v.IsImpossible() && v.IsIntValue() && v.IntVal == 0 && expr.UsedAsBool() {
				return IntValue(1)
			}
			return v
		}
	}

	// 调用
	if expr.Kind == NodeCall {
		return ex.executeCall(expr)
	}

	return Unknown()
}

// executeContainerYield 处理 size()/empty() 对容器大小事实的读取
func (ex *Executor) executeContainerYield(call *Node) (Value, bool) {
	lib := ex.settings.Library
	if ct := ContainerFromYield(lib, call, YieldSize); ct != nil && ct.ExprID != 0 {
		v, ok := ex.pm.GetValue(ct.ExprID, true)
		if !ok || !v.IsContainerSizeValue() {
			return Unknown(), false
		}
		r := v
		r.Kind = ValueInt
		return r, true
	}
	if ct := ContainerFromYield(lib, call, YieldEmpty); ct != nil && ct.ExprID != 0 {
		v, ok := ex.pm.GetValue(ct.ExprID, true)
		if !ok || !v.IsContainerSizeValue() {
			return Unknown(), false
		}
		if v.IsImpossible() {
			// 大小排除零且为单点时容器必非空
			if v.IntVal == 0 && v.Bound == BoundPoint {
				return IntValue(0), true
			}
			return Unknown(), false
		}
		r := Value{Kind: ValueInt, IntVal: boolToInt(v.IntVal == 0), Knowledge: v.Knowledge}
		return r, true
	}
	return Unknown(), false
}

func (ex *Executor) executeAssign(expr *Node) Value {
	rhs := ex.Execute(expr.Op2)
	if rhs.IsUninit() {
		// 右值推不出来，目标的旧事实随之失效
		ex.pm.SetUnknown(expr.Op1)
		return Unknown()
	}
	if expr.Op != "=" {
		prior, ok := ex.pm.GetValue(expr.Op1.ExprID, false)
		if !ok || prior.IsUninit() {
			ex.pm.SetUnknown(expr.Op1)
			return Unknown()
		}
		baseOp := strings.TrimSuffix(expr.Op, "=")
		rhs = combineValues(baseOp, prior, rhs)
		if rhs.IsUninit() {
			ex.pm.SetUnknown(expr.Op1)
			return Unknown()
		}
	}
	ex.pm.SetValue(expr.Op1, rhs)
	return rhs
}

func (ex *Executor) executeIncDec(expr *Node) Value {
	operand := expr.Op1
	prior, ok := ex.pm.GetValue(operand.ExprID, false)
	if !ok || !prior.IsIntValue() {
		ex.pm.SetUnknown(operand)
		return Unknown()
	}
	if expr.Op == "--" && operand.Unsigned && prior.IntVal == 0 {
		// 无符号回绕不建模
		ex.pm.SetUnknown(operand)
		return Unknown()
	}
	next := prior
	if expr.Op == "++" {
		next.IntVal++
	} else {
		next.IntVal--
	}
	ex.pm.SetValue(operand, next)
	if expr.Postfix {
		return prior
	}
	return next
}

// executeStringIndex 字面量字符串的下标求值。目标不是字符串字面量时
// ok 为 false，交还主流程继续其余规则。
func (ex *Executor) executeStringIndex(expr *Node) (Value, bool) {
	var lit *Node
	target := expr.Op1
	if target.Kind == NodeString {
		lit = target
	}
	if lit == nil && target.ExprID != 0 {
		if v, ok := ex.pm.GetValue(target.ExprID, false); ok && v.IsTokValue() {
			lit = v.TokRef
		}
	}
	if lit == nil {
		if v, ok := target.KnownValueOf(ValueTok); ok {
			lit = v.TokRef
		}
	}
	if lit == nil || lit.Kind != NodeString {
		return Unknown(), false
	}
	idx := ex.Execute(expr.Op2)
	if !idx.IsIntValue() || idx.IsImpossible() {
		return Unknown(), true
	}
	s := lit.Str
	switch {
	case idx.IntVal >= 0 && idx.IntVal < int64(len(s)):
		r := IntValue(int64(s[idx.IntVal]))
		r.Knowledge = idx.Knowledge
		return r, true
	case idx.IntVal == int64(len(s)):
		// 终止符
		r := IntValue(0)
		r.Knowledge = idx.Knowledge
		return r, true
	}
	return Unknown(), true
}

func (ex *Executor) executeBinary(expr *Node) Value {
	lhs := ex.Execute(expr.Op1)
	rhs := ex.Execute(expr.Op2)
	r := Unknown()
	if !lhs.IsUninit() && !rhs.IsUninit() {
		r = combineValues(expr.Op, lhs, rhs)
	}
	if isComparisonOp(expr.Op) && (r.IsUninit() || r.IsImpossible()) {
		// 精确合并失败的比较交给区间推断，排除值在这里不直接定论
		if ex.settings != nil && ex.settings.Infer != nil {
			lvals := ex.collectValues(expr.Op1, lhs)
			rvals := ex.collectValues(expr.Op2, rhs)
			if res, ok := ex.settings.Infer.InferCompare(expr.Op, lvals, rvals); ok {
				return res
			}
		}
		return Unknown()
	}
	return r
}

// collectValues 汇集一侧操作数的全部已知信息：求出的值、预标注值、
// 状态值，以及类型蕴含的隐式排除界。
func (ex *Executor) collectValues(n *Node, evaluated Value) []Value {
	var out []Value
	if !evaluated.IsUninit() {
		out = append(out, evaluated)
	}
	if n == nil {
		return out
	}
	out = append(out, n.Values...)
	if n.ExprID != 0 {
		if v, ok := ex.pm.GetValue(n.ExprID, true); ok && !v.IsUninit() {
			out = append(out, v)
		}
	}
	if n.Unsigned {
		out = append(out, ImpossibleValue(-1, BoundUpper))
	}
	if isBoolResultNode(n) {
		out = append(out, ImpossibleValue(-1, BoundUpper), ImpossibleValue(2, BoundLower))
	}
	return out
}

// isBoolResultNode 结果必然落在 0/1 的表达式
func isBoolResultNode(n *Node) bool {
	if n == nil {
		return false
	}
	if n.Kind == NodeBool {
		return true
	}
	return n.Kind == NodeOp && (isComparisonOp(n.Op) || n.Op == "!" || n.Op == "&&" || n.Op == "||")
}

func (ex *Executor) executeNot(expr *Node) Value {
	v := ex.Execute(expr.Op1)
	if !v.IsIntValue() {
		return Unknown()
	}
	if v.IsTrue() {
		r := IntValue(0)
		r.Bound = BoundPoint
		return r
	}
	if v.IsFalse() {
		r := IntValue(1)
		r.Bound = BoundPoint
		return r
	}
	return Unknown()
}

func (ex *Executor) executeNegate(expr *Node) Value {
	v := ex.Execute(expr.Op1)
	switch {
	case v.IsIntValue():
		r := v
		r.IntVal = -r.IntVal
		r.Bound = flipBound(r.Bound)
		return r
	case v.IsFloatValue():
		r := v
		r.FloatVal = -r.FloatVal
		return r
	}
	return Unknown()
}

func (ex *Executor) executeCall(call *Node) Value {
	args := make([]Value, len(call.Args))
	for i, a := range call.Args {
		args[i] = ex.Execute(a)
	}
	name := CalleeName(call)
	result := Unknown()
	resolved := false
	pure := false

	// 已知用户函数内联
	if !resolved && name != "" && ex.settings != nil && ex.settings.Functions != nil && ex.fdepth > 0 {
		if fn, ok := ex.settings.Functions.Resolve(name); ok && fn != nil && !fn.Virtual && len(fn.Params) == len(args) {
			if r, ok := ex.inlineCall(fn, args); ok {
				result = r
				resolved = true
			}
		}
	}

	// 内建纯函数表
	if !resolved {
		if r, ok := executeBuiltin(name, args); ok {
			result = r
			resolved = true
			pure = true
		}
	}

	// 知识库返回值模板
	if !resolved && name != "" && ex.settings != nil && ex.settings.Library != nil {
		if tmpl, ok := ex.settings.Library.ReturnValue(name); ok && tmpl != nil && tmpl.Root != nil {
			if r := ex.evalReturnTemplate(tmpl, args); !r.IsUninit() {
				result = r
				resolved = true
			}
		}
	}

	if !pure && name != "" && ex.settings != nil && ex.settings.Library != nil && ex.settings.Library.IsPure(name) {
		pure = true
	}
	if !pure {
		ex.invalidateCallArgs(call)
	}
	ex.settings.debugf("call %s resolved=%v result=%s", name, resolved, result.String())
	return result
}

// inlineCall 以形参绑定实参的新状态直线走函数体
func (ex *Executor) inlineCall(fn *Function, args []Value) (Value, bool) {
	fstate := NewProgramMemory()
	for i, p := range fn.Params {
		if p == nil || p.ExprID == 0 {
			return Unknown(), false
		}
		if !args[i].IsUninit() {
			fstate.SetValue(p, args[i])
		}
	}
	sub := ex.child(fstate)
	r, returned := sub.executeBody(fn.Body)
	ex.visits = sub.visits
	if !returned {
		return Unknown(), false
	}
	return r, true
}

// executeBody 直线化地走语句序列：赋值生效、return 收束、条件取可
// 判定的分支，其余情形立即以 Unknown 收束。
func (ex *Executor) executeBody(blk *Block) (Value, bool) {
	if blk == nil {
		return Unknown(), false
	}
	for _, st := range blk.Stmts {
		switch st.Kind {
		case StmtReturn:
			if st.Expr == nil {
				return Unknown(), true
			}
			return ex.Execute(st.Expr), true
		case StmtExpr, StmtDecl:
			if st.Expr != nil {
				ex.Execute(st.Expr)
			}
		case StmtIf:
			cond := ex.Execute(st.Expr)
			var branch *Block
			switch {
			case cond.IsTrue():
				branch = st.Then
			case cond.IsFalse():
				branch = st.Else
			default:
				return Unknown(), true
			}
			if branch != nil {
				if r, done := ex.executeBody(branch); done {
					return r, true
				}
			}
		case StmtBlock:
			if r, done := ex.executeBody(st.Body); done {
				return r, true
			}
		default:
			// 循环等控制流不参与直线求值
			return Unknown(), true
		}
		if ex.visits < 0 {
			return Unknown(), true
		}
	}
	return Unknown(), false
}

// evalReturnTemplate 在只含实参绑定的临时状态上求值返回值模板
func (ex *Executor) evalReturnTemplate(tmpl *ReturnExpr, args []Value) Value {
	if ex.fdepth <= 0 {
		return Unknown()
	}
	fstate := NewProgramMemory()
	for i, p := range tmpl.Args {
		if p == nil || p.ExprID == 0 || i >= len(args) {
			continue
		}
		if !args[i].IsUninit() {
			fstate.SetValue(p, args[i])
		}
	}
	sub := ex.child(fstate)
	r := sub.Execute(tmpl.Root)
	ex.visits = sub.visits
	return r
}

// invalidateCallArgs 未决调用后的保守失效：实参子树（以及成员调用的
// 接收者）中被追踪的表达式可能被被调方修改时降级为未知
func (ex *Executor) invalidateCallArgs(call *Node) {
	oracle := ex.oracle()
	invalidate := func(n *Node) bool {
		if n.ExprID == 0 || !ex.pm.Has(n.ExprID) {
			return true
		}
		v, _ := ex.pm.GetValue(n.ExprID, true)
		if oracle == nil || oracle.ChangedByCall(n, v.Indirect) {
			ex.pm.SetUnknown(n)
		}
		return true
	}
	for _, arg := range call.Args {
		arg.Visit(invalidate)
	}
	if c := call.Callee; c != nil && c.Op == "." && c.Op1 != nil {
		c.Op1.Visit(invalidate)
	}
}

func (ex *Executor) oracle() MutationOracle {
	if ex.settings == nil {
		return nil
	}
	return ex.settings.Oracle
}

// evalNumberLiteral 解析 C 数字字面量为已知值
func evalNumberLiteral(text string) Value {
	if f, ok := parseFloatLiteral(text); ok {
		return FloatValue(f)
	}
	if iv, ok := parseIntLiteral(text); ok {
		return IntValue(iv)
	}
	return Unknown()
}

// parseFloatLiteral 解析浮点形态的字面量；整数形态返回失败，
// 交由 parseIntLiteral 处理
func parseFloatLiteral(text string) (float64, bool) {
	t := strings.ReplaceAll(text, "'", "")
	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "0x") {
		// 十六进制只有带 p 指数的才是浮点，且尾部 f 是数字不是后缀
		if !strings.Contains(lower, "p") {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimRight(t, "fFlL"), 64)
		return f, err == nil
	}
	if strings.HasPrefix(lower, "0b") {
		return 0, false
	}
	if !strings.Contains(lower, ".") && !strings.Contains(lower, "e") &&
		!strings.HasSuffix(lower, "f") {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimRight(t, "fFlL"), 64)
	return f, err == nil
}

// parseIntLiteral 解析 C 整数字面量，剥掉 u/l 后缀并识别进制前缀。
// 超出 int64 表示范围的字面量不回绕，按解析失败处理。
func parseIntLiteral(text string) (int64, bool) {
	t := strings.ReplaceAll(text, "'", "")
	t = strings.TrimRight(t, "uUlL")
	if t == "" {
		return 0, false
	}
	iv, err := strconv.ParseInt(t, 0, 64)
	if err != nil {
		return 0, false
	}
	return iv, true
}

var simpleEscapes = map[byte]int64{
	'n': '\n', 't': '\t', 'r': '\r', 'a': 7, 'b': 8, 'f': 12, 'v': 11,
	'\\': '\\', '\'': '\'', '"': '"', '0': 0,
}

// parseCharLiteral 解析字符字面量（含常见转义），多字符形态不支持
func parseCharLiteral(text string) (int64, bool) {
	t := text
	for _, prefix := range []string{"u8", "u", "U", "L"} {
		if strings.HasPrefix(t, prefix+"'") {
			t = t[len(prefix):]
			break
		}
	}
	if len(t) < 3 || t[0] != '\'' || t[len(t)-1] != '\'' {
		return 0, false
	}
	body := t[1 : len(t)-1]
	if body == "" {
		return 0, false
	}
	if body[0] != '\\' {
		r := []rune(body)
		if len(r) != 1 {
			return 0, false
		}
		return int64(r[0]), true
	}
	if len(body) == 2 {
		if v, ok := simpleEscapes[body[1]]; ok {
			return v, true
		}
	}
	if len(body) > 2 {
		switch body[1] {
		case 'x':
			iv, err := strconv.ParseInt(body[2:], 16, 64)
			return iv, err == nil
		case '0', '1', '2', '3', '4', '5', '6', '7':
			iv, err := strconv.ParseInt(body[1:], 8, 64)
			return iv, err == nil
		}
	}
	return 0, false
}
