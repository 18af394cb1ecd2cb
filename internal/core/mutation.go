package core

import (
	"sort"

	"govalflow/internal/valueflow"
)

// writeEvent 一次写入出现：位置加发生写入的目标节点
type writeEvent struct {
	pos  int
	node *valueflow.Node
}

// UnitOracle 基于全单元写事件索引的修改判定。构建一次后只读，
// 可被多个求值 goroutine 共享。
type UnitOracle struct {
	// writes 表达式身份到写事件列表，事件按文档序升序
	writes map[int][]writeEvent
	// calls 全部函数调用事件，作为逃逸身份的潜在写入点
	calls []writeEvent
	// escaped 被取地址的身份，调用与解引用写都可能波及
	escaped map[int]bool
	globals map[int]bool
}

// NewUnitOracle 扫描单元内全部函数体，建立写事件索引
func NewUnitOracle(built *BuiltUnit) *UnitOracle {
	o := &UnitOracle{
		writes:  make(map[int][]writeEvent),
		escaped: make(map[int]bool),
		globals: built.GlobalIDs,
	}
	if o.globals == nil {
		o.globals = map[int]bool{}
	}
	for _, fn := range built.Functions {
		fn.WalkNodes(func(n *valueflow.Node) bool {
			switch {
			case n.IsAssignOp() && n.Op1 != nil:
				o.recordWrite(n.Op1, n.Pos)
			case (n.Op == "++" || n.Op == "--") && n.Op1 != nil:
				o.recordWrite(n.Op1, n.Pos)
			case n.Op == "&" && n.IsUnaryOp() && n.Op1 != nil:
				// 取地址即逃逸，此后任何调用或解引用写都视作可能修改
				o.recordWrite(n.Op1, n.Pos)
				for _, id := range spineIDs(n.Op1) {
					o.escaped[id] = true
				}
			case n.Kind == valueflow.NodeCall:
				o.calls = append(o.calls, writeEvent{pos: n.Pos, node: n})
				if c := n.Callee; c != nil && c.Op == "." && c.Op1 != nil {
					// 成员调用的接收者可能被改写
					o.recordWrite(c.Op1, n.Pos)
				}
			}
			return true
		})
	}
	// 遍历序不是文档序：子表达式先于父节点派发位置，for 步进又先于
	// 循环体被访问。区间二分依赖升序，统一排序后列表转入只读。
	for _, evs := range o.writes {
		sort.Slice(evs, func(i, j int) bool { return evs[i].pos < evs[j].pos })
	}
	sort.Slice(o.calls, func(i, j int) bool { return o.calls[i].pos < o.calls[j].pos })
	return o
}

// recordWrite 登记目标及其基座链上的全部身份
func (o *UnitOracle) recordWrite(target *valueflow.Node, pos int) {
	for _, id := range spineIDs(target) {
		o.writes[id] = append(o.writes[id], writeEvent{pos: pos, node: target})
	}
}

// spineIDs 目标表达式的基座身份链：x.f 的写同时波及 x，a[i] 的写
// 波及 a，解引用写波及指针基座
func spineIDs(n *valueflow.Node) []int {
	var ids []int
	for n != nil {
		if n.ExprID != 0 {
			ids = append(ids, n.ExprID)
		}
		switch {
		case n.Op == "." || n.Op == "[":
			n = n.Op1
		case n.Op == "*" && n.IsUnaryOp():
			n = n.Op1
		case n.Kind == valueflow.NodeCast:
			n = n.Op1
		default:
			n = nil
		}
	}
	return ids
}

// Changed expr 在 (fromPos, toPos] 区间内是否可能被修改
func (o *UnitOracle) Changed(expr *valueflow.Node, fromPos, toPos int) bool {
	return o.changed(expr, fromPos, toPos, nil)
}

// ChangedSkipDeadCode 同 Changed，条件可判定的未执行分支内的写入
// 不计入
func (o *UnitOracle) ChangedSkipDeadCode(expr *valueflow.Node, fromPos, toPos int, eval func(cond *valueflow.Node) (int64, bool)) bool {
	return o.changed(expr, fromPos, toPos, eval)
}

func (o *UnitOracle) changed(expr *valueflow.Node, fromPos, toPos int, eval func(cond *valueflow.Node) (int64, bool)) bool {
	if expr == nil || fromPos >= toPos {
		return false
	}
	for _, id := range spineIDs(expr) {
		for _, ev := range eventsIn(o.writes[id], fromPos, toPos) {
			if eval != nil && inDeadBranch(ev.node, fromPos, toPos, eval) {
				continue
			}
			return true
		}
	}
	// 逃逸或全局身份在区间内遇到调用即视作可能修改
	if o.mayAliasWrite(expr) {
		for _, ev := range eventsIn(o.calls, fromPos, toPos) {
			if eval != nil && inDeadBranch(ev.node, fromPos, toPos, eval) {
				continue
			}
			return true
		}
	}
	return false
}

func (o *UnitOracle) mayAliasWrite(expr *valueflow.Node) bool {
	for _, id := range spineIDs(expr) {
		if o.escaped[id] || o.globals[id] {
			return true
		}
	}
	// 解引用与成员访问可能经指针别名被写
	wild := false
	expr.Visit(func(n *valueflow.Node) bool {
		if n.Op == "*" && n.IsUnaryOp() {
			wild = true
			return false
		}
		return true
	})
	return wild
}

// eventsIn 取 (fromPos, toPos] 区间内的事件切片，events 已按位置升序
func eventsIn(events []writeEvent, fromPos, toPos int) []writeEvent {
	lo := sort.Search(len(events), func(i int) bool { return events[i].pos > fromPos })
	hi := sort.Search(len(events), func(i int) bool { return events[i].pos > toPos })
	return events[lo:hi]
}

// inDeadBranch 写入点所在的分支链上存在可判定且未执行的条件时，
// 该写入对区间查询不可达
func inDeadBranch(n *valueflow.Node, fromPos, toPos int, eval func(cond *valueflow.Node) (int64, bool)) bool {
	stmt := n.EnclosingStmt()
	if stmt == nil {
		return false
	}
	for blk := stmt.Block; blk != nil; blk = blk.Parent {
		if blk.Cond == nil || blk.Owner == nil {
			continue
		}
		// 只跳过完整落在查询区间内的分支
		if blk.Owner.Pos <= fromPos || blk.Owner.EndPos > toPos {
			continue
		}
		v, ok := eval(blk.Cond)
		if !ok {
			continue
		}
		switch blk.Kind {
		case valueflow.BlockIf, valueflow.BlockWhile, valueflow.BlockFor:
			if v == 0 {
				return true
			}
		case valueflow.BlockElse:
			if v != 0 {
				return true
			}
		}
	}
	return false
}

// ChangedByCall 实参出现是否可能被被调方修改：指针与取地址按引用
// 传递，成员调用的接收者可被方法改写，纯值传递不受影响
func (o *UnitOracle) ChangedByCall(arg *valueflow.Node, indirect int) bool {
	if arg == nil {
		return false
	}
	if indirect > 0 || arg.Pointer {
		return true
	}
	for p := arg.Parent; p != nil; p = p.Parent {
		if p.Op == "&" && p.IsUnaryOp() {
			return true
		}
		if p.Op == "." {
			if pp := p.Parent; pp != nil && pp.Kind == valueflow.NodeCall && pp.Callee == p {
				return true
			}
		}
	}
	return false
}
