package valueflow

// executeMultiCondition 求值 && / || 条件树。determining 是能单独决定
// 整体结果的叶子真值：|| 为 true，&& 为 false。除逐叶求值外，还会
// 在状态中寻找可对应（交换律变形、叶子间蕴含）的已存条件复用其结果。
func (ex *Executor) executeMultiCondition(determining bool, expr *Node) Value {
	// 整棵条件此前已被记录过
	if expr.ExprID != 0 {
		if v, ok := ex.pm.GetValue(expr.ExprID, true); ok && v.IsIntValue() {
			if v.IsImpossible() && v.IntVal == 0 {
				return IntValue(1)
			}
			if !v.IsImpossible() {
				return v
			}
		}
	}
	if expr.Op1 == nil || expr.Op2 == nil {
		return Unknown()
	}

	// 任一侧无稳定身份时退化为两侧直接求值
	if expr.Op1.ExprID == 0 || expr.Op2.ExprID == 0 {
		return ex.evalConditionPair(determining, expr.Op1, expr.Op2)
	}

	leaves := flattenSameOp(expr, multiCondMaxLeaves)
	if len(leaves) == 0 {
		return Unknown()
	}

	// 逐叶求值：出现决定性真值立即收束
	knowledge := Known
	var unresolved []*Node
	for _, leaf := range leaves {
		v := ex.Execute(leaf)
		if determining && v.IsTrue() {
			return boolResult(true, v)
		}
		if !determining && v.IsFalse() {
			return boolResult(false, v)
		}
		if (determining && v.IsFalse()) || (!determining && v.IsTrue()) {
			if v.IsPossible() {
				knowledge = Possible
			}
			continue
		}
		unresolved = append(unresolved, leaf)
	}
	if len(unresolved) == 0 {
		// 所有叶子都落在非决定侧
		r := IntValue(boolToInt(!determining))
		r.Knowledge = knowledge
		return r
	}

	// 在状态中寻找等价的已存条件
	if v, ok := ex.lookupEquivalentCondition(expr, leaves); ok {
		return v
	}
	return Unknown()
}

// evalConditionPair 两侧直接求值的退化路径
func (ex *Executor) evalConditionPair(determining bool, op1, op2 *Node) Value {
	lhs := ex.Execute(op1)
	if determining && lhs.IsTrue() {
		return boolResult(true, lhs)
	}
	if !determining && lhs.IsFalse() {
		return boolResult(false, lhs)
	}
	rhs := ex.Execute(op2)
	if determining && rhs.IsTrue() {
		return boolResult(true, rhs)
	}
	if !determining && rhs.IsFalse() {
		return boolResult(false, rhs)
	}
	lhsSettled := lhs.IsTrue() || lhs.IsFalse()
	rhsSettled := rhs.IsTrue() || rhs.IsFalse()
	if lhsSettled && rhsSettled {
		// 两侧都落在非决定侧
		r := IntValue(boolToInt(!determining))
		if lhs.IsPossible() || rhs.IsPossible() {
			r.Knowledge = Possible
		}
		return r
	}
	return Unknown()
}

// boolResult 归一化为 0/1 的布尔结果，知识等级随来源
func boolResult(b bool, from Value) Value {
	r := IntValue(boolToInt(b))
	if from.IsPossible() {
		r.Knowledge = Possible
	}
	return r
}

// lookupEquivalentCondition 在状态里找同运算符、叶子集合可一一对应的
// 已存条件。交换律变形通过按身份求对称差再配对消解；配对叶子间蕴含
// 的方向决定哪个极性的存量值允许搬运。
func (ex *Executor) lookupEquivalentCondition(expr *Node, leaves []*Node) (Value, bool) {
	var result Value
	found := false
	ex.pm.Each(func(stored *Node, _ int, v Value) bool {
		if stored == nil || stored == expr || stored.Op != expr.Op {
			return true
		}
		if !v.IsIntValue() {
			return true
		}
		storedLeaves := flattenSameOp(stored, multiCondMaxLeaves)
		if len(storedLeaves) != len(leaves) {
			return true
		}
		onTrue, onFalse := ex.leavesMatch(leaves, storedLeaves)
		if !onTrue && !onFalse {
			return true
		}
		switch {
		case v.IsImpossible():
			// 「排除零」即整体为真；其余排除形态不定论
			if v.IntVal == 0 && onTrue {
				result = IntValue(1)
				found = true
			}
		case v.IntVal != 0 && onTrue:
			result = v
			found = true
		case v.IntVal == 0 && onFalse:
			result = v
			found = true
		}
		return !found
	})
	return result, found
}

// leavesMatch 两组叶子按身份求对称差，剩余叶子逐对按蕴含配对。返回
// 配对能支撑的搬运方向：onTrue 指存量条件为真的事实对查询条件成立，
// onFalse 指为假的事实成立。任一叶子无法配对时两个方向都不成立。
func (ex *Executor) leavesMatch(query, stored []*Node) (onTrue, onFalse bool) {
	counts := make(map[int]int, len(query))
	for _, n := range query {
		if n.ExprID == 0 {
			return false, false
		}
		counts[n.ExprID]++
	}
	var diffStored []*Node
	for _, n := range stored {
		if n.ExprID == 0 {
			return false, false
		}
		if counts[n.ExprID] > 0 {
			counts[n.ExprID]--
		} else {
			diffStored = append(diffStored, n)
		}
	}
	var diffQuery []*Node
	for _, n := range query {
		if counts[n.ExprID] > 0 {
			counts[n.ExprID]--
			diffQuery = append(diffQuery, n)
		}
	}
	if len(diffQuery) != len(diffStored) {
		return false, false
	}
	onTrue, onFalse = true, true
	if len(diffQuery) == 0 {
		return onTrue, onFalse
	}
	matched := make([]bool, len(diffStored))
	for _, q := range diffQuery {
		ok := false
		for j, st := range diffStored {
			if matched[j] {
				continue
			}
			pt, pf := ex.pairedPolarity(q, st)
			if !pt && !pf {
				continue
			}
			matched[j] = true
			onTrue = onTrue && pt
			onFalse = onFalse && pf
			ok = true
			break
		}
		if !ok {
			return false, false
		}
	}
	return onTrue, onFalse
}

// pairedPolarity 核验存量叶与查询叶之间的蕴含：真侧成立指断言 stored
// 为真后 query 必然为真，假侧指断言为假后必然为假。结论必须是必然
// 等级，候选值不构成蕴含。
func (ex *Executor) pairedPolarity(query, stored *Node) (onTrue, onFalse bool) {
	if ex.visits < 0 {
		return false, false
	}
	asTrue := ex.pm.Copy()
	parseConditionInto(asTrue, stored, 0, ex.settings, true, asTrue.solveEval)
	sub := ex.child(asTrue)
	rv := sub.Execute(query)
	onTrue = rv.IsTrue() && !rv.IsPossible()
	ex.visits = sub.visits

	asFalse := ex.pm.Copy()
	parseConditionInto(asFalse, stored, 0, ex.settings, false, asFalse.solveEval)
	sub = ex.child(asFalse)
	rv = sub.Execute(query)
	onFalse = rv.IsFalse() && !rv.IsPossible()
	ex.visits = sub.visits
	return onTrue, onFalse
}
