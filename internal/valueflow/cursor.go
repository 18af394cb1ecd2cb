package valueflow

// ProgramMemoryState 跨程序点增量维护状态的游标。每个条目记录其
// 证据位置，向前推进时据此淘汰可能已被修改的事实。
type ProgramMemoryState struct {
	state    *ProgramMemory
	origins  map[int]int
	settings *Settings
}

// NewProgramMemoryState 创建空游标
func NewProgramMemoryState(settings *Settings) *ProgramMemoryState {
	return &ProgramMemoryState{
		state:    NewProgramMemory(),
		origins:  make(map[int]int),
		settings: settings,
	}
}

// Copy 拷贝游标，状态本体走写时克隆
func (ps *ProgramMemoryState) Copy() *ProgramMemoryState {
	origins := make(map[int]int, len(ps.origins))
	for k, v := range ps.origins {
		origins[k] = v
	}
	return &ProgramMemoryState{state: ps.state.Copy(), origins: origins, settings: ps.settings}
}

// State 当前状态的只读视图句柄
func (ps *ProgramMemoryState) State() *ProgramMemory {
	return ps.state.Copy()
}

// Insert 并入新事实但不覆盖既有条目，新条目锚定 originPos
func (ps *ProgramMemoryState) Insert(pm *ProgramMemory, originPos int) {
	pm.Each(func(_ *Node, id int, _ Value) bool {
		if !ps.state.Has(id) {
			ps.origins[id] = originPos
		}
		return true
	})
	ps.state.Insert(pm)
}

// replaceState 覆盖式并入并把全部条目重新锚定到 originPos
func (ps *ProgramMemoryState) replaceState(pm *ProgramMemory, originPos int) {
	pm.Each(func(_ *Node, id int, _ Value) bool {
		ps.origins[id] = originPos
		return true
	})
	ps.state.Replace(pm)
}

// AddState 在 point 处重建完整状态并入游标：作用域条件加先行赋值，
// bindings 为调用方给定的事实。
func (ps *ProgramMemoryState) AddState(point *Node, bindings *ProgramMemory) {
	if point == nil {
		return
	}
	pm := ps.state.Copy()
	stmt := point.EnclosingStmt()
	var scope *Block
	if stmt != nil {
		scope = stmt.Block
	}
	FillFromConditions(pm, scope, point.Pos, ps.settings)
	pm.Replace(bindings)
	base := pm.Copy()
	FillFromAssignments(pm, stmt, ps.settings, base, bindings)
	pm.Replace(bindings)
	ps.replaceState(pm, point.Pos)
}

// Assume 并入条件为真（假）的假设。isEmpty 时 cond 为容器表达式，
// 直接记录空/非空。假设来自 if/while 条件时，证据位置前移到分支体
// 起点（假定为假时移到整个结构之后），承载的是穿过该结构后的状态。
func (ps *ProgramMemoryState) Assume(cond *Node, b bool, isEmpty bool) {
	if cond == nil {
		return
	}
	pm := ps.state.Copy()
	if isEmpty {
		pm.SetContainerSizeValue(cond, 0, b)
	} else {
		eval := func(t *Node) (int64, bool) {
			return ExecuteInt(t, pm.Copy(), ps.settings)
		}
		parseConditionInto(pm, cond, 0, ps.settings, b, eval)
	}
	originPos := cond.Pos
	top := cond.AstTop()
	if inTernary := ternaryParent(cond); !inTernary {
		if st := top.OwnerStmt; st != nil {
			switch st.Kind {
			case StmtIf:
				if b && st.Then != nil {
					originPos = st.Then.PosStart
				} else if !b {
					originPos = st.EndPos
				}
			case StmtWhile, StmtFor:
				if b && st.Body != nil {
					originPos = st.Body.PosStart
				} else if !b {
					originPos = st.EndPos
				}
			}
		}
	}
	ps.replaceState(pm, originPos)
}

func ternaryParent(n *Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Op == "?" {
			return true
		}
	}
	return false
}

// RemoveModifiedVars 推进到 pos：从证据位置到 pos 之间可能被修改的
// 条目全部淘汰。分支是否执行用当前状态判定，可判定的死代码不算。
func (ps *ProgramMemoryState) RemoveModifiedVars(pos int) {
	pm := ps.state.Copy()
	eval := func(cond *Node) (int64, bool) {
		if conditionIsTrue(cond, pm, ps.settings) {
			return 1, true
		}
		if conditionIsFalse(cond, pm, ps.settings) {
			return 0, true
		}
		return 0, false
	}
	ps.state.EraseIf(func(expr *Node, id int, _ Value) bool {
		start := ps.origins[id]
		doomed := expr == nil
		if !doomed {
			if ps.settings == nil || ps.settings.Oracle == nil {
				doomed = true
			} else {
				doomed = ps.settings.Oracle.ChangedSkipDeadCode(expr, start, pos, eval)
			}
		}
		if doomed {
			delete(ps.origins, id)
		}
		return doomed
	})
}

// Get 取 target 处的完整状态。ctx 非空时先在 ctx 处落一次状态；
// target 先于 ctx 时忽略 ctx 的推进而直接在 target 处重建。
func (ps *ProgramMemoryState) Get(target, ctx *Node, bindings *ProgramMemory) *ProgramMemory {
	local := ps.Copy()
	if ctx != nil {
		local.AddState(ctx, bindings)
	}
	if target == nil {
		return local.state
	}
	startPos := target.Pos - 1
	if ctx == nil || startPos < ctx.Pos {
		local.RemoveModifiedVars(startPos)
		local.AddState(target, bindings)
	} else {
		local.RemoveModifiedVars(ctx.Pos)
	}
	return local.state
}
