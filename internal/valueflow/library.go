package valueflow

// Yield 容器成员调用的产出类别
type Yield int

const (
	// YieldNone 与容器状态无关
	YieldNone Yield = iota
	// YieldSize 返回元素个数（size/length/count）
	YieldSize
	// YieldEmpty 返回是否为空
	YieldEmpty
	// YieldItem 返回元素（front/back/at）
	YieldItem
	// YieldIteratorBegin 返回起始迭代器
	YieldIteratorBegin
	// YieldIteratorEnd 返回终止迭代器
	YieldIteratorEnd
)

// Library 函数与容器知识库。实现方需保证并发只读安全。
type Library interface {
	// IsPure 函数无副作用且返回值只依赖实参
	IsPure(name string) bool
	// ReturnValue 返回预编译的返回值模板；无配置时 ok 为 false
	ReturnValue(name string) (*ReturnExpr, bool)
	// ContainerYield 成员名对应的容器产出类别
	ContainerYield(member string) Yield
}

// ReturnExpr 预编译的返回值模板。构造后不可变，可被多个求值
// goroutine 共享。占位参数 arg1..argN 对应调用实参。
type ReturnExpr struct {
	Root *Node
	// Args 第 i 项为 arg(i+1) 占位节点；模板未引用的参数为 nil
	Args []*Node
}

// MutationOracle 表达式修改判定。求值器用它决定跨程序点携带的
// 事实是否仍然可信。
type MutationOracle interface {
	// Changed expr 在文档序 (fromPos, toPos] 区间内是否可能被修改
	Changed(expr *Node, fromPos, toPos int) bool
	// ChangedSkipDeadCode 同 Changed，但对条件可判定的分支跳过
	// 未执行的一侧。eval 返回条件的整数值与是否可判定。
	ChangedSkipDeadCode(expr *Node, fromPos, toPos int, eval func(cond *Node) (int64, bool)) bool
	// ChangedByCall 作为调用实参出现时是否可能被被调方修改
	ChangedByCall(arg *Node, indirect int) bool
}

// InferModel 在精确求值失败时按值集做比较推断
type InferModel interface {
	// InferCompare 依据两侧的已知值与排除界推断 lhs op rhs；
	// 无法判定时 ok 为 false
	InferCompare(op string, lhs, rhs []Value) (Value, bool)
}

// FunctionResolver 已知函数定义的查询接口
type FunctionResolver interface {
	Resolve(name string) (*Function, bool)
}

// Settings 求值所需的外部协作者。任意字段为 nil 时对应能力退化，
// 求值结果向 Unknown 收束而不是出错。
type Settings struct {
	Library   Library
	Oracle    MutationOracle
	Infer     InferModel
	Functions FunctionResolver
	// Debug 可选的调试输出钩子
	Debug func(format string, args ...interface{})
}

func (s *Settings) debugf(format string, args ...interface{}) {
	if s != nil && s.Debug != nil {
		s.Debug(format, args...)
	}
}

// ContainerFromYield 当 call 是产出类别为 want 的容器成员调用时，
// 返回底层容器表达式，否则返回 nil。
func ContainerFromYield(lib Library, call *Node, want Yield) *Node {
	if lib == nil || call == nil || call.Kind != NodeCall {
		return nil
	}
	c := call.Callee
	if c == nil || c.Op != "." || c.Op1 == nil || c.Op2 == nil || c.Op2.Kind != NodeName {
		return nil
	}
	if lib.ContainerYield(c.Op2.Str) != want {
		return nil
	}
	return c.Op1
}
