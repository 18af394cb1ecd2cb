package valueflow

import "math"

// ParseCompareInt 将比较表达式规约为「目标表达式 vs 整数」的真假值对。
// 一侧可求值为整数时返回另一侧为目标；两侧都不可求值返回 nil。
// 真值与假值以排除界编码：x<n 为真等价于排除「x 以 n 为下界」。
func ParseCompareInt(cmp *Node, eval func(*Node) (int64, bool)) (*Node, Value, Value) {
	none := Unknown()
	if cmp == nil || !isComparisonOp(cmp.Op) || cmp.Op1 == nil || cmp.Op2 == nil {
		return nil, none, none
	}
	op := cmp.Op
	var target *Node
	var n int64
	if iv, ok := eval(cmp.Op2); ok {
		if _, both := eval(cmp.Op1); both {
			return nil, none, none
		}
		target, n = cmp.Op1, iv
	} else if iv, ok := eval(cmp.Op1); ok {
		target, n = cmp.Op2, iv
		op = mirrorComparison(op)
	} else {
		return nil, none, none
	}

	point := func(v int64, impossible bool) Value {
		r := IntValue(v)
		if impossible {
			r.SetImpossible()
		}
		r.Bound = BoundPoint
		return r
	}
	bound := func(v int64, b Bound, ok bool) Value {
		if !ok {
			return Unknown()
		}
		return ImpossibleValue(v, b)
	}

	var trueVal, falseVal Value
	switch op {
	case "==":
		trueVal = point(n, false)
		falseVal = point(n, true)
	case "!=":
		trueVal = point(n, true)
		falseVal = point(n, false)
	case "<":
		trueVal = bound(n, BoundLower, true)
		falseVal = bound(n-1, BoundUpper, n != math.MinInt64)
	case ">":
		trueVal = bound(n, BoundUpper, true)
		falseVal = bound(n+1, BoundLower, n != math.MaxInt64)
	case "<=":
		trueVal = bound(n+1, BoundLower, n != math.MaxInt64)
		falseVal = bound(n, BoundUpper, true)
	case ">=":
		trueVal = bound(n-1, BoundUpper, n != math.MinInt64)
		falseVal = bound(n, BoundLower, true)
	default:
		return nil, none, none
	}
	return target, trueVal, falseVal
}

// parseConditionInto 把条件为真（假）蕴含的事实写入 pm：
// 与整数的比较规约为目标表达式的点值或排除界；! 翻转极性；真值下的
// && 与假值下的 || 向两侧分配；其余有身份的表达式记录零/非零事实。
// endPos 非零时，目标在条件与该位置之间可能被修改的事实直接放弃。
func parseConditionInto(pm *ProgramMemory, tok *Node, endPos int, settings *Settings, then bool, eval func(*Node) (int64, bool)) {
	if tok == nil {
		return
	}
	changed := func(target *Node) bool {
		if endPos == 0 || settings == nil || settings.Oracle == nil {
			return false
		}
		return settings.Oracle.Changed(target, tok.Pos, endPos)
	}
	switch {
	case isComparisonOp(tok.Op) && tok.Op1 != nil && tok.Op2 != nil:
		target, trueVal, falseVal := ParseCompareInt(tok, eval)
		if target == nil || target.ExprID == 0 {
			return
		}
		v := trueVal
		if !then {
			v = falseVal
		}
		if v.IsUninit() || changed(target) {
			return
		}
		pm.SetValue(target, v)
		if settings != nil && settings.Library != nil && (tok.Op == "==" || tok.Op == "!=") {
			if container := ContainerFromYield(settings.Library, target, YieldSize); container != nil && container.ExprID != 0 {
				isEqual := (tok.Op == "==") == then
				pm.SetContainerSizeValue(container, v.IntVal, isEqual)
			}
		}
	case tok.Op == "!" && tok.Op1 != nil && tok.Op2 == nil:
		parseConditionInto(pm, tok.Op1, endPos, settings, !then, eval)
	case (then && tok.Op == "&&") || (!then && tok.Op == "||"):
		parseConditionInto(pm, tok.Op1, endPos, settings, then, eval)
		parseConditionInto(pm, tok.Op2, endPos, settings, then, eval)
	case tok.ExprID != 0:
		if changed(tok) {
			return
		}
		pm.SetIntValue(tok, 0, then)
		if settings != nil && settings.Library != nil {
			if container := ContainerFromYield(settings.Library, tok, YieldEmpty); container != nil && container.ExprID != 0 {
				pm.SetContainerSizeValue(container, 0, then)
			}
		}
	}
}

// conditionIsTrue 在状态副本上求值条件是否必然为真
func conditionIsTrue(cond *Node, state *ProgramMemory, settings *Settings) bool {
	if cond == nil {
		return false
	}
	return Execute(cond, state.Copy(), settings).IsTrue()
}

// conditionIsFalse 在状态副本上求值条件是否必然为假
func conditionIsFalse(cond *Node, state *ProgramMemory, settings *Settings) bool {
	if cond == nil {
		return false
	}
	return Execute(cond, state.Copy(), settings).IsFalse()
}

// FillFromConditions 沿作用域链自外向内收集控制条件蕴含的事实。
// 位于 if/while/for 体内意味着条件为真，else 体内为假。已能被外层
// 状态判定的条件不再重复展开。
func FillFromConditions(pm *ProgramMemory, scope *Block, endPos int, settings *Settings) {
	if scope == nil {
		return
	}
	FillFromConditions(pm, scope.Parent, endPos, settings)
	var then bool
	switch scope.Kind {
	case BlockIf, BlockWhile, BlockFor:
		then = true
	case BlockElse:
		then = false
	default:
		return
	}
	cond := scope.Cond
	if cond == nil {
		return
	}
	if _, ok := ExecuteInt(cond, pm.Copy(), settings); ok {
		return
	}
	eval := func(t *Node) (int64, bool) {
		return ExecuteInt(t, pm.Copy(), settings)
	}
	parseConditionInto(pm, cond, endPos, settings, then, eval)
}

// assignWalker 逆序回放赋值的游标
type assignWalker struct {
	pm       *ProgramMemory
	settings *Settings
	// state 判定分支条件所用的基准状态（条件事实加调用方绑定）
	state    *ProgramMemory
	bindings *ProgramMemory
}

// FillFromAssignments 从 from 语句起逆文档序回放先行赋值。分支按
// state 可判定的一侧穿行，判定不了即停；do 与匿名块透明穿过；循环
// 条件为假时整体跳过。bindings 中的身份在赋值点直接采用绑定值。
func FillFromAssignments(pm *ProgramMemory, from *Stmt, settings *Settings, state, bindings *ProgramMemory) {
	if from == nil {
		return
	}
	w := &assignWalker{pm: pm, settings: settings, state: state, bindings: bindings}
	stmt := from
	for stmt != nil {
		blk := stmt.Block
		if blk == nil {
			return
		}
		idx := -1
		for i, s := range blk.Stmts {
			if s == stmt {
				idx = i
				break
			}
		}
		for i := idx - 1; i >= 0; i-- {
			if !w.applyStmt(blk.Stmts[i]) {
				return
			}
		}
		owner := blk.Owner
		if owner == nil {
			return
		}
		// 从循环体向外爬时，体内（与 for 步进）的写入在后续迭代会
		// 覆盖入口事实，先行降级为未知；已回放的体内赋值不受影响
		if blk.IsLoop() {
			w.barrierBlock(blk)
			w.barrierStmt(owner.Post)
		}
		// for 的初始化先于循环体执行
		if owner.Kind == StmtFor && owner.Init != nil {
			if !w.applyStmt(owner.Init) {
				return
			}
		}
		stmt = owner
	}
}

// barrierBlock 将块内全部写入目标（含嵌套结构）降级为未知
func (w *assignWalker) barrierBlock(b *Block) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		w.barrierStmt(s)
	}
}

func (w *assignWalker) barrierStmt(s *Stmt) {
	if s == nil {
		return
	}
	if s.Expr != nil {
		w.markWrites(s.Expr)
	}
	w.barrierStmt(s.Init)
	w.barrierStmt(s.Post)
	w.barrierBlock(s.Then)
	w.barrierBlock(s.Else)
	w.barrierBlock(s.Body)
}

func (w *assignWalker) applyStmt(s *Stmt) bool {
	if s == nil {
		return true
	}
	switch s.Kind {
	case StmtExpr, StmtDecl:
		return w.applyExprStmt(s.Expr)
	case StmtReturn:
		return true
	case StmtBlock, StmtDoWhile:
		// 匿名块与至少执行一次的 do 透明穿过
		return w.applyBlockBackward(s.Body)
	case StmtIf:
		if conditionIsTrue(s.Expr, w.state, w.settings) {
			return w.applyBlockBackward(s.Then)
		}
		if conditionIsFalse(s.Expr, w.state, w.settings) {
			if s.Else != nil {
				return w.applyBlockBackward(s.Else)
			}
			return true
		}
		return false
	case StmtWhile, StmtFor:
		if s.Expr != nil && conditionIsFalse(s.Expr, w.state, w.settings) {
			// 循环体未执行，for 的初始化仍然生效
			if s.Kind == StmtFor && s.Init != nil {
				return w.applyStmt(s.Init)
			}
			return true
		}
		return false
	default:
		return false
	}
}

func (w *assignWalker) applyBlockBackward(b *Block) bool {
	if b == nil {
		return true
	}
	for i := len(b.Stmts) - 1; i >= 0; i-- {
		if !w.applyStmt(b.Stmts[i]) {
			return false
		}
	}
	return true
}

// applyExprStmt 回放单条表达式语句：平直赋值按绑定或右值求值填入，
// 其余写入形态一律降级为未知
func (w *assignWalker) applyExprStmt(root *Node) bool {
	if root == nil {
		return true
	}
	if root.Op == "=" && root.Op1 != nil && root.Op2 != nil && root.Op1.ExprID != 0 {
		target := root.Op1
		if bv, ok := w.bindingFor(target.ExprID); ok {
			w.pm.SetValue(target, bv)
			return true
		}
		if !w.pm.Has(target.ExprID) {
			// 逆序回放中最近的赋值先到，旧值不得覆盖
			if iv, ok := ExecuteInt(root.Op2, w.pm, w.settings); ok {
				w.pm.SetIntValue(target, iv, false)
			} else {
				w.pm.SetUnknown(target)
			}
		}
		return true
	}
	w.markWrites(root)
	return true
}

func (w *assignWalker) bindingFor(exprID int) (Value, bool) {
	if w.bindings == nil {
		return Value{}, false
	}
	return w.bindings.GetValue(exprID, true)
}

// markWrites 将语句中所有写入目标降级为未知
func (w *assignWalker) markWrites(root *Node) {
	root.Visit(func(n *Node) bool {
		switch {
		case n.IsAssignOp() && n.Op1 != nil:
			w.markTargetUnknown(n.Op1)
		case (n.Op == "++" || n.Op == "--") && n.Op1 != nil:
			w.markTargetUnknown(n.Op1)
		case n.Op == "&" && n.IsUnaryOp():
			// 取地址视作逃逸
			w.markTargetUnknown(n.Op1)
		case n.Kind == NodeCall:
			w.markCallWrites(n)
		}
		return true
	})
}

// markTargetUnknown 沿左脊降级目标及其底层对象
func (w *assignWalker) markTargetUnknown(target *Node) {
	cur := target
	for cur != nil {
		if cur.ExprID != 0 && !w.pm.Has(cur.ExprID) {
			w.pm.SetUnknown(cur)
		}
		if cur.Op == "." || cur.Op == "[" || (cur.Op == "*" && cur.IsUnaryOp()) {
			cur = cur.Op1
			continue
		}
		return
	}
}

func (w *assignWalker) markCallWrites(call *Node) {
	oracle := w.oracleOrNil()
	mark := func(n *Node) bool {
		if n.ExprID != 0 && !w.pm.Has(n.ExprID) {
			if oracle == nil || oracle.ChangedByCall(n, 0) {
				w.pm.SetUnknown(n)
			}
		}
		return true
	}
	for _, arg := range call.Args {
		arg.Visit(mark)
	}
	if c := call.Callee; c != nil && c.Op == "." && c.Op1 != nil {
		c.Op1.Visit(mark)
	}
}

func (w *assignWalker) oracleOrNil() MutationOracle {
	if w.settings == nil {
		return nil
	}
	return w.settings.Oracle
}

// FillProgramMemory 组装查询点的程序状态：作用域条件、调用方绑定、
// 先行赋值三相依次生效。
func FillProgramMemory(pm *ProgramMemory, query *Node, bindings *ProgramMemory, settings *Settings) {
	if query == nil {
		return
	}
	stmt := query.EnclosingStmt()
	var scope *Block
	if stmt != nil {
		scope = stmt.Block
	}
	FillFromConditions(pm, scope, query.Pos, settings)
	pm.Replace(bindings)
	state := pm.Copy()
	FillFromAssignments(pm, stmt, settings, state, bindings)
	pm.Replace(bindings)
}

// GetProgramMemory 构造 query 处的初始状态。expr 非空时以 expr=value
// 作为调用方给定的事实。
func GetProgramMemory(query *Node, expr *Node, value Value, settings *Settings) *ProgramMemory {
	pm := NewProgramMemory()
	bindings := NewProgramMemory()
	if expr != nil && !value.IsUninit() {
		bindings.SetValue(expr, value)
	}
	FillProgramMemory(pm, query, bindings, settings)
	return pm
}
