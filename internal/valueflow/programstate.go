package valueflow

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

type stateEntry struct {
	expr *Node
	val  Value
}

// stateBody 共享的状态本体，refs 为持有它的句柄数
type stateBody struct {
	values map[int]stateEntry
	refs   int32
}

// ProgramMemory 程序状态：表达式身份到抽象值的映射。拷贝为 O(1)，
// 首次写入时按需克隆本体。不同句柄可在不同 goroutine 并发使用，
// 同一句柄不支持并发访问。
type ProgramMemory struct {
	body *stateBody
}

// NewProgramMemory 创建空状态
func NewProgramMemory() *ProgramMemory {
	return &ProgramMemory{body: &stateBody{values: make(map[int]stateEntry), refs: 1}}
}

// Copy 浅拷贝句柄，共享本体直到任一方写入
func (pm *ProgramMemory) Copy() *ProgramMemory {
	atomic.AddInt32(&pm.body.refs, 1)
	return &ProgramMemory{body: pm.body}
}

// copyOnWrite 写入前调用：本体被共享时克隆出私有副本
func (pm *ProgramMemory) copyOnWrite() {
	if atomic.LoadInt32(&pm.body.refs) == 1 {
		return
	}
	nb := &stateBody{values: make(map[int]stateEntry, len(pm.body.values)), refs: 1}
	for k, v := range pm.body.values {
		nb.values[k] = v
	}
	atomic.AddInt32(&pm.body.refs, -1)
	pm.body = nb
}

// Len 条目数
func (pm *ProgramMemory) Len() int {
	return len(pm.body.values)
}

// Empty 是否为空
func (pm *ProgramMemory) Empty() bool {
	return len(pm.body.values) == 0
}

// Clear 清空全部条目
func (pm *ProgramMemory) Clear() {
	if pm.Empty() {
		return
	}
	pm.copyOnWrite()
	pm.body.values = make(map[int]stateEntry)
}

// Has 是否存在该身份的条目（含排除值与未知占位）
func (pm *ProgramMemory) Has(exprID int) bool {
	_, ok := pm.body.values[exprID]
	return ok
}

// GetValue 查询身份对应的值。includeImpossible 为 false 时排除值视作缺失。
func (pm *ProgramMemory) GetValue(exprID int, includeImpossible bool) (Value, bool) {
	e, ok := pm.body.values[exprID]
	if !ok {
		return Value{}, false
	}
	if !includeImpossible && e.val.IsImpossible() {
		return Value{}, false
	}
	return e.val, true
}

// GetIntValue 查询非排除的整数值
func (pm *ProgramMemory) GetIntValue(exprID int) (int64, bool) {
	v, ok := pm.GetValue(exprID, false)
	if !ok || !v.IsIntValue() {
		return 0, false
	}
	return v.IntVal, true
}

// SetValue 记录表达式的值，并对可反解的复合表达式做子表达式求解：
// 记录 x+1 == 5 时同步推出 x == 4。
func (pm *ProgramMemory) SetValue(expr *Node, v Value) {
	if expr == nil || expr.ExprID == 0 {
		return
	}
	pm.copyOnWrite()
	pm.body.values[expr.ExprID] = stateEntry{expr: expr, val: v}
	sub := v
	leaf := solveExprValue(expr, pm.solveEval, &sub)
	if leaf != nil && leaf != expr && leaf.ExprID != 0 {
		pm.body.values[leaf.ExprID] = stateEntry{expr: leaf, val: sub}
	}
}

// solveEval 子表达式求解所用的整数求值：字面量、已知标注或既有状态
func (pm *ProgramMemory) solveEval(n *Node) (int64, bool) {
	if n == nil {
		return 0, false
	}
	if n.Kind == NodeNumber {
		if iv, ok := parseIntLiteral(n.Str); ok {
			return iv, true
		}
		return 0, false
	}
	if v, ok := n.KnownValueOf(ValueInt); ok {
		return v.IntVal, true
	}
	if n.ExprID != 0 {
		return pm.GetIntValue(n.ExprID)
	}
	return 0, false
}

// SetIntValue 记录整数事实。impossible 为 true 时记录单点排除。
func (pm *ProgramMemory) SetIntValue(expr *Node, n int64, impossible bool) {
	v := IntValue(n)
	if impossible {
		v.SetImpossible()
		v.Bound = BoundPoint
	}
	pm.SetValue(expr, v)
}

// SetContainerSizeValue 记录容器大小事实。isEqual 为 false 时记录排除。
func (pm *ProgramMemory) SetContainerSizeValue(expr *Node, n int64, isEqual bool) {
	v := ContainerSizeValue(n)
	if !isEqual {
		v.SetImpossible()
		v.Bound = BoundPoint
	}
	pm.SetValue(expr, v)
}

// SetUnknown 将条目降级为被追踪的未知，占位阻止后续推导复用旧值
func (pm *ProgramMemory) SetUnknown(expr *Node) {
	if expr == nil || expr.ExprID == 0 {
		return
	}
	pm.copyOnWrite()
	pm.body.values[expr.ExprID] = stateEntry{expr: expr, val: Unknown()}
}

// Replace 合并另一状态，同键覆盖
func (pm *ProgramMemory) Replace(other *ProgramMemory) {
	if other == nil || other.Empty() {
		return
	}
	pm.copyOnWrite()
	for k, e := range other.body.values {
		pm.body.values[k] = e
	}
}

// Insert 合并另一状态，同键保留已有条目
func (pm *ProgramMemory) Insert(other *ProgramMemory) {
	if other == nil || other.Empty() {
		return
	}
	pm.copyOnWrite()
	for k, e := range other.body.values {
		if _, ok := pm.body.values[k]; !ok {
			pm.body.values[k] = e
		}
	}
}

// EraseIf 删除谓词命中的条目
func (pm *ProgramMemory) EraseIf(pred func(expr *Node, exprID int, v Value) bool) {
	var doomed []int
	for k, e := range pm.body.values {
		if pred(e.expr, k, e.val) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return
	}
	pm.copyOnWrite()
	for _, k := range doomed {
		delete(pm.body.values, k)
	}
}

// Each 遍历条目，f 返回 false 时提前终止。遍历顺序不确定。
func (pm *ProgramMemory) Each(f func(expr *Node, exprID int, v Value) bool) {
	for k, e := range pm.body.values {
		if !f(e.expr, k, e.val) {
			return
		}
	}
}

// String 按身份排序的调试输出
func (pm *ProgramMemory) String() string {
	ids := make([]int, 0, len(pm.body.values))
	for k := range pm.body.values {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	var sb strings.Builder
	for i, k := range ids {
		if i > 0 {
			sb.WriteString(" ")
		}
		e := pm.body.values[k]
		fmt.Fprintf(&sb, "%s=%s", e.expr.ShortString(), e.val.String())
	}
	return sb.String()
}

// solveExprValue 自顶向下反解复合表达式：expr 的值为 *v 时，逐层剥掉
// 可逆的二元运算，返回最深的可命名子表达式并将 *v 调整为它的值。
// 仅整数、迭代器与符号值参与；符号值只支持加减。
func solveExprValue(expr *Node, eval func(*Node) (int64, bool), v *Value) *Node {
	if expr == nil {
		return nil
	}
	if !v.IsIntValue() && !v.IsIteratorValue() && !v.IsSymbolicValue() {
		return expr
	}
	if v.IsSymbolicValue() && expr.Op != "+" && expr.Op != "-" {
		return expr
	}
	other, intval, onRHS := parseBinaryIntOp(expr, eval)
	if other == nil {
		return expr
	}
	// 符号值做不了 -1 倍的翻转，常量减式直接放弃
	if v.IsSymbolicValue() && onRHS && expr.Op == "-" {
		return expr
	}
	switch expr.Op {
	case "+":
		v.IntVal -= intval
		return solveExprValue(other, eval, v)
	case "-":
		if onRHS {
			v.IntVal = intval - v.IntVal
		} else {
			v.IntVal += intval
		}
		return solveExprValue(other, eval, v)
	case "*":
		if intval == 0 || v.IntVal%intval != 0 {
			return expr
		}
		v.IntVal /= intval
		return solveExprValue(other, eval, v)
	case "^":
		v.IntVal ^= intval
		return solveExprValue(other, eval, v)
	}
	return expr
}

// parseBinaryIntOp 识别一侧可求值为整数的二元运算。返回另一侧子表达式、
// 该整数、以及未知侧是否处于右操作数位置。
func parseBinaryIntOp(expr *Node, eval func(*Node) (int64, bool)) (*Node, int64, bool) {
	if expr == nil || expr.Kind != NodeOp || expr.Op1 == nil || expr.Op2 == nil {
		return nil, 0, false
	}
	if iv, ok := eval(expr.Op2); ok {
		if _, both := eval(expr.Op1); both {
			// 两侧皆常量没有可解的未知侧
			return nil, 0, false
		}
		return expr.Op1, iv, false
	}
	if iv, ok := eval(expr.Op1); ok {
		return expr.Op2, iv, true
	}
	return nil, 0, false
}
