// Package valueflow 实现基于程序状态的表达式抽象求值引擎。
// 求值过程永不 panic：任何无法推理的情形都以 Unknown 值收束。
package valueflow

import (
	"fmt"
	"strings"
)

// ValueKind 抽象值的类别标签
type ValueKind int

const (
	// ValueUninit 未初始化/未知（零值即 Unknown）
	ValueUninit ValueKind = iota
	// ValueInt 整数值
	ValueInt
	// ValueFloat 浮点值
	ValueFloat
	// ValueTok 指向字面量或对象节点的引用值
	ValueTok
	// ValueContainerSize 容器元素个数
	ValueContainerSize
	// ValueIteratorStart 相对容器起点的迭代器位置
	ValueIteratorStart
	// ValueIteratorEnd 相对容器终点的迭代器位置
	ValueIteratorEnd
	// ValueSymbolic 相对另一表达式的符号偏移
	ValueSymbolic
)

// Knowledge 值的知识等级
type Knowledge int

const (
	// Possible 候选值之一，不保证一定成立
	Possible Knowledge = iota
	// Known 在该程序点必然成立
	Known
	// Impossible 排除值：实际值必然不等于（或越过）该值
	Impossible
)

// Bound 排除值的方向语义
type Bound int

const (
	// BoundPoint 单点排除：实际值 != IntVal
	BoundPoint Bound = iota
	// BoundUpper 上界排除：实际值 > IntVal
	BoundUpper
	// BoundLower 下界排除：实际值 < IntVal
	BoundLower
)

// Value 抽象值。零值即 Unknown，可安全拷贝。
type Value struct {
	Kind      ValueKind
	Knowledge Knowledge
	Bound     Bound
	IntVal    int64
	FloatVal  float64
	// TokRef 在 Tok/Symbolic 类别下指向锚点节点
	TokRef *Node
	// Indirect 指针间接层级，用于失效判定
	Indirect int
}

// Unknown 构造未知值
func Unknown() Value {
	return Value{}
}

// IntValue 构造已知整数值
func IntValue(n int64) Value {
	return Value{Kind: ValueInt, Knowledge: Known, IntVal: n}
}

// FloatValue 构造已知浮点值
func FloatValue(f float64) Value {
	return Value{Kind: ValueFloat, Knowledge: Known, FloatVal: f}
}

// TokValue 构造指向节点的引用值
func TokValue(n *Node) Value {
	return Value{Kind: ValueTok, Knowledge: Known, TokRef: n}
}

// ContainerSizeValue 构造容器大小值
func ContainerSizeValue(n int64) Value {
	return Value{Kind: ValueContainerSize, Knowledge: Known, IntVal: n}
}

// SymbolicValue 构造相对 anchor 偏移 delta 的符号值
func SymbolicValue(anchor *Node, delta int64) Value {
	return Value{Kind: ValueSymbolic, Knowledge: Known, TokRef: anchor, IntVal: delta}
}

// IteratorValue 构造迭代器位置值：pos 为相对起点（end=false）或终点（end=true）的偏移
func IteratorValue(pos int64, end bool) Value {
	kind := ValueIteratorStart
	if end {
		kind = ValueIteratorEnd
	}
	return Value{Kind: kind, Knowledge: Known, IntVal: pos}
}

// ImpossibleValue 构造带方向语义的排除值
func ImpossibleValue(n int64, bound Bound) Value {
	return Value{Kind: ValueInt, Knowledge: Impossible, Bound: bound, IntVal: n}
}

// IsUninit 是否未知值
func (v Value) IsUninit() bool { return v.Kind == ValueUninit }

// IsIntValue 是否整数类别
func (v Value) IsIntValue() bool { return v.Kind == ValueInt }

// IsFloatValue 是否浮点类别
func (v Value) IsFloatValue() bool { return v.Kind == ValueFloat }

// IsTokValue 是否节点引用类别
func (v Value) IsTokValue() bool { return v.Kind == ValueTok }

// IsContainerSizeValue 是否容器大小类别
func (v Value) IsContainerSizeValue() bool { return v.Kind == ValueContainerSize }

// IsIteratorValue 是否迭代器位置类别
func (v Value) IsIteratorValue() bool {
	return v.Kind == ValueIteratorStart || v.Kind == ValueIteratorEnd
}

// IsSymbolicValue 是否符号偏移类别
func (v Value) IsSymbolicValue() bool { return v.Kind == ValueSymbolic }

// IsKnown 是否必然成立
func (v Value) IsKnown() bool { return v.Kind != ValueUninit && v.Knowledge == Known }

// IsPossible 是否候选值
func (v Value) IsPossible() bool { return v.Kind != ValueUninit && v.Knowledge == Possible }

// IsImpossible 是否排除值
func (v Value) IsImpossible() bool { return v.Kind != ValueUninit && v.Knowledge == Impossible }

// SetKnown 升级为必然成立
func (v *Value) SetKnown() { v.Knowledge = Known }

// SetPossible 降级为候选值
func (v *Value) SetPossible() { v.Knowledge = Possible }

// SetImpossible 标记为排除值
func (v *Value) SetImpossible() { v.Knowledge = Impossible }

// IsTrue 真值判定：非零整数的 Known/Possible，或排除零的 Impossible。
// 排除值无论方向如何，IntVal 为 0 都蕴含「实际值非零」。
func (v Value) IsTrue() bool {
	if v.IsUninit() || !v.IsIntValue() {
		return false
	}
	if v.IsImpossible() {
		return v.IntVal == 0
	}
	return v.IntVal != 0
}

// IsFalse 假值判定：整数零的 Known/Possible
func (v Value) IsFalse() bool {
	if v.IsUninit() || !v.IsIntValue() || v.IsImpossible() {
		return false
	}
	return v.IntVal == 0
}

// EqualValue 判断两个值在类别与数值上是否一致（忽略知识等级）
func (v Value) EqualValue(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueFloat:
		return v.FloatVal == o.FloatVal
	case ValueTok:
		return v.TokRef == o.TokRef
	case ValueSymbolic:
		return v.TokRef == o.TokRef && v.IntVal == o.IntVal
	default:
		return v.IntVal == o.IntVal
	}
}

// String 调试输出，例如 "int(5) known" 或 "int(>0) impossible"
func (v Value) String() string {
	var sb strings.Builder
	switch v.Kind {
	case ValueUninit:
		return "unknown"
	case ValueInt:
		if v.IsImpossible() {
			switch v.Bound {
			case BoundUpper:
				fmt.Fprintf(&sb, "int(>%d)", v.IntVal)
			case BoundLower:
				fmt.Fprintf(&sb, "int(<%d)", v.IntVal)
			default:
				fmt.Fprintf(&sb, "int(!=%d)", v.IntVal)
			}
		} else {
			fmt.Fprintf(&sb, "int(%d)", v.IntVal)
		}
	case ValueFloat:
		fmt.Fprintf(&sb, "float(%v)", v.FloatVal)
	case ValueTok:
		if v.TokRef != nil {
			fmt.Fprintf(&sb, "tok(%s)", v.TokRef.ShortString())
		} else {
			sb.WriteString("tok(nil)")
		}
	case ValueContainerSize:
		if v.IsImpossible() {
			fmt.Fprintf(&sb, "size(!=%d)", v.IntVal)
		} else {
			fmt.Fprintf(&sb, "size(%d)", v.IntVal)
		}
	case ValueIteratorStart:
		fmt.Fprintf(&sb, "iter-start(%d)", v.IntVal)
	case ValueIteratorEnd:
		fmt.Fprintf(&sb, "iter-end(%d)", v.IntVal)
	case ValueSymbolic:
		anchor := "nil"
		if v.TokRef != nil {
			anchor = v.TokRef.ShortString()
		}
		if v.IntVal >= 0 {
			fmt.Fprintf(&sb, "symbolic(%s+%d)", anchor, v.IntVal)
		} else {
			fmt.Fprintf(&sb, "symbolic(%s%d)", anchor, v.IntVal)
		}
	}
	switch v.Knowledge {
	case Known:
		sb.WriteString(" known")
	case Impossible:
		sb.WriteString(" impossible")
	}
	return sb.String()
}
