package valueflow

// combineValues 按二元运算符合并两个已求出的抽象值。排除值的传播
// 遵循可逆性：%、/、&、| 会丢失排除信息，其余运算保留。比较运算
// 得到的排除结果由调用方交给区间推断复核，这里不直接定论。
func combineValues(op string, lhs, rhs Value) Value {
	if lhs.IsUninit() || rhs.IsUninit() {
		return Unknown()
	}
	if lhs.IsImpossible() && rhs.IsImpossible() {
		return Unknown()
	}
	if lhs.IsImpossible() || rhs.IsImpossible() {
		switch op {
		case "%", "/", "&", "|":
			return Unknown()
		}
	}

	// 引用值仅支持相等性判定
	if lhs.IsTokValue() || rhs.IsTokValue() {
		return combineTokValues(op, lhs, rhs)
	}
	// 符号值：同锚点比较，或与整数做加减偏移
	if lhs.IsSymbolicValue() || rhs.IsSymbolicValue() {
		return combineSymbolicValues(op, lhs, rhs)
	}
	// 迭代器位置：同类别比较，或与整数做加减偏移
	if lhs.IsIteratorValue() || rhs.IsIteratorValue() {
		return combineIteratorValues(op, lhs, rhs)
	}
	// 容器大小只与容器大小可比
	if lhs.IsContainerSizeValue() || rhs.IsContainerSizeValue() {
		if lhs.Kind != rhs.Kind || !isComparisonOp(op) {
			return Unknown()
		}
		iv, ok := calculateInt(op, lhs.IntVal, rhs.IntVal)
		if !ok {
			return Unknown()
		}
		r := Value{Kind: ValueInt, IntVal: iv}
		finishCombined(&r, op, lhs, rhs)
		return r
	}

	if lhs.IsFloatValue() || rhs.IsFloatValue() {
		return combineFloatValues(op, lhs, rhs)
	}
	if !lhs.IsIntValue() || !rhs.IsIntValue() {
		return Unknown()
	}
	iv, ok := calculateInt(op, lhs.IntVal, rhs.IntVal)
	if !ok {
		return Unknown()
	}
	r := Value{Kind: ValueInt, IntVal: iv}
	finishCombined(&r, op, lhs, rhs)
	return r
}

// finishCombined 合并知识等级与排除方向
func finishCombined(r *Value, op string, lhs, rhs Value) {
	if lhs.IsImpossible() || rhs.IsImpossible() {
		r.SetImpossible()
		r.Bound = combinedBound(op, lhs, rhs)
		return
	}
	if lhs.IsKnown() && rhs.IsKnown() {
		r.SetKnown()
	} else {
		r.SetPossible()
	}
}

// combinedBound 排除方向随运算传播：加法保向，常量减式反向，
// 非单调运算退化为单点排除。
func combinedBound(op string, lhs, rhs Value) Bound {
	imp := lhs
	impOnRHS := false
	if rhs.IsImpossible() {
		imp = rhs
		impOnRHS = true
	}
	switch op {
	case "+":
		return imp.Bound
	case "-":
		if impOnRHS {
			return flipBound(imp.Bound)
		}
		return imp.Bound
	default:
		return BoundPoint
	}
}

func flipBound(b Bound) Bound {
	switch b {
	case BoundUpper:
		return BoundLower
	case BoundLower:
		return BoundUpper
	}
	return b
}

func combineTokValues(op string, lhs, rhs Value) Value {
	if op != "==" && op != "!=" {
		return Unknown()
	}
	if !lhs.IsTokValue() || !rhs.IsTokValue() || lhs.TokRef == nil || rhs.TokRef == nil {
		return Unknown()
	}
	var equal bool
	switch {
	case lhs.TokRef == rhs.TokRef:
		equal = true
	case isLiteralNode(lhs.TokRef) && isLiteralNode(rhs.TokRef):
		equal = lhs.TokRef.Kind == rhs.TokRef.Kind && lhs.TokRef.Str == rhs.TokRef.Str
	default:
		// 不同对象的地址关系未知
		return Unknown()
	}
	if op == "!=" {
		equal = !equal
	}
	r := Value{Kind: ValueInt, IntVal: boolToInt(equal)}
	finishCombined(&r, op, lhs, rhs)
	return r
}

func combineSymbolicValues(op string, lhs, rhs Value) Value {
	if lhs.IsSymbolicValue() && rhs.IsSymbolicValue() {
		if lhs.TokRef != rhs.TokRef || lhs.TokRef == nil {
			return Unknown()
		}
		if !isComparisonOp(op) {
			return Unknown()
		}
		iv, ok := calculateInt(op, lhs.IntVal, rhs.IntVal)
		if !ok {
			return Unknown()
		}
		r := Value{Kind: ValueInt, IntVal: iv}
		finishCombined(&r, op, lhs, rhs)
		return r
	}
	// 符号值与整数的偏移运算
	sym, num := lhs, rhs
	symOnLHS := true
	if rhs.IsSymbolicValue() {
		sym, num = rhs, lhs
		symOnLHS = false
	}
	if !num.IsIntValue() {
		return Unknown()
	}
	switch op {
	case "+":
		r := sym
		r.IntVal += num.IntVal
		finishCombined(&r, op, lhs, rhs)
		r.Kind = ValueSymbolic
		return r
	case "-":
		// 常量减符号值需要取反，偏移表示做不到
		if !symOnLHS {
			return Unknown()
		}
		r := sym
		r.IntVal -= num.IntVal
		finishCombined(&r, op, lhs, rhs)
		r.Kind = ValueSymbolic
		return r
	}
	return Unknown()
}

func combineIteratorValues(op string, lhs, rhs Value) Value {
	if lhs.IsIteratorValue() && rhs.IsIteratorValue() {
		if lhs.Kind != rhs.Kind || !isComparisonOp(op) {
			return Unknown()
		}
		iv, ok := calculateInt(op, lhs.IntVal, rhs.IntVal)
		if !ok {
			return Unknown()
		}
		r := Value{Kind: ValueInt, IntVal: iv}
		finishCombined(&r, op, lhs, rhs)
		return r
	}
	iter, num := lhs, rhs
	iterOnLHS := true
	if rhs.IsIteratorValue() {
		iter, num = rhs, lhs
		iterOnLHS = false
	}
	if !num.IsIntValue() {
		return Unknown()
	}
	switch op {
	case "+":
		r := iter
		r.IntVal += num.IntVal
		finishCombined(&r, op, lhs, rhs)
		r.Kind = iter.Kind
		return r
	case "-":
		if !iterOnLHS {
			return Unknown()
		}
		r := iter
		r.IntVal -= num.IntVal
		finishCombined(&r, op, lhs, rhs)
		r.Kind = iter.Kind
		return r
	}
	return Unknown()
}

func combineFloatValues(op string, lhs, rhs Value) Value {
	lf, ok := asFloat(lhs)
	if !ok {
		return Unknown()
	}
	rf, ok := asFloat(rhs)
	if !ok {
		return Unknown()
	}
	if isComparisonOp(op) {
		var b bool
		switch op {
		case "==":
			b = lf == rf
		case "!=":
			b = lf != rf
		case "<":
			b = lf < rf
		case ">":
			b = lf > rf
		case "<=":
			b = lf <= rf
		case ">=":
			b = lf >= rf
		}
		r := Value{Kind: ValueInt, IntVal: boolToInt(b)}
		finishCombined(&r, op, lhs, rhs)
		return r
	}
	var f float64
	switch op {
	case "+":
		f = lf + rf
	case "-":
		f = lf - rf
	case "*":
		f = lf * rf
	case "/":
		if rf == 0 {
			return Unknown()
		}
		f = lf / rf
	default:
		return Unknown()
	}
	r := Value{Kind: ValueFloat, FloatVal: f}
	finishCombined(&r, op, lhs, rhs)
	return r
}

// calculateInt 整数算术。除零、取模零与越界移位返回失败。
func calculateInt(op string, a, b int64) (int64, bool) {
	switch op {
	case "+":
		return a + b, true
	case "-":
		return a - b, true
	case "*":
		return a * b, true
	case "/":
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case "%":
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case "&":
		return a & b, true
	case "|":
		return a | b, true
	case "^":
		return a ^ b, true
	case "<<":
		if b < 0 || b >= 64 {
			return 0, false
		}
		return a << uint(b), true
	case ">>":
		if b < 0 || b >= 64 {
			return 0, false
		}
		return a >> uint(b), true
	case "==":
		return boolToInt(a == b), true
	case "!=":
		return boolToInt(a != b), true
	case "<":
		return boolToInt(a < b), true
	case ">":
		return boolToInt(a > b), true
	case "<=":
		return boolToInt(a <= b), true
	case ">=":
		return boolToInt(a >= b), true
	case "&&":
		return boolToInt(a != 0 && b != 0), true
	case "||":
		return boolToInt(a != 0 || b != 0), true
	}
	return 0, false
}

func asFloat(v Value) (float64, bool) {
	switch v.Kind {
	case ValueFloat:
		return v.FloatVal, true
	case ValueInt:
		return float64(v.IntVal), true
	}
	return 0, false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isLiteralNode(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case NodeNumber, NodeString, NodeChar, NodeBool:
		return true
	}
	return false
}
