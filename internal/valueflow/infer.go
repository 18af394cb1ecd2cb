package valueflow

import "math"

// maxEdgeTighten 区间端点被单点排除收紧的最大迭代次数
const maxEdgeTighten = 8

// IntegralInferModel 整数区间推断：把一侧的已知值与排除界折算成
// 区间，区间关系可判定时给出比较结果。无符号与布尔表达式的隐式
// 下界由求值器在收集值集时注入。
type IntegralInferModel struct{}

// interval 整数区间，端点缺失表示对应方向无界
type interval struct {
	min, max       int64
	hasMin, hasMax bool
	excluded       map[int64]bool
}

func intervalFromValues(values []Value) (interval, bool) {
	var iv interval
	any := false
	for _, v := range values {
		if !v.IsIntValue() {
			continue
		}
		if v.IsImpossible() {
			switch v.Bound {
			case BoundUpper:
				// 实际值 > IntVal
				if v.IntVal != math.MaxInt64 {
					iv.raiseMin(v.IntVal + 1)
					any = true
				}
			case BoundLower:
				// 实际值 < IntVal
				if v.IntVal != math.MinInt64 {
					iv.lowerMax(v.IntVal - 1)
					any = true
				}
			default:
				if iv.excluded == nil {
					iv.excluded = make(map[int64]bool)
				}
				if len(iv.excluded) < maxEdgeTighten {
					iv.excluded[v.IntVal] = true
				}
				any = true
			}
			continue
		}
		if v.IsKnown() {
			iv.raiseMin(v.IntVal)
			iv.lowerMax(v.IntVal)
			any = true
		}
	}
	if !any {
		return iv, false
	}
	// 单点排除命中端点时向内收紧
	for i := 0; i < maxEdgeTighten && iv.hasMin && iv.excluded[iv.min]; i++ {
		iv.min++
	}
	for i := 0; i < maxEdgeTighten && iv.hasMax && iv.excluded[iv.max]; i++ {
		iv.max--
	}
	if iv.hasMin && iv.hasMax && iv.min > iv.max {
		// 矛盾的信息源，放弃推断
		return iv, false
	}
	return iv, true
}

func (iv *interval) raiseMin(n int64) {
	if !iv.hasMin || n > iv.min {
		iv.min = n
		iv.hasMin = true
	}
}

func (iv *interval) lowerMax(n int64) {
	if !iv.hasMax || n < iv.max {
		iv.max = n
		iv.hasMax = true
	}
}

func (iv interval) isPoint() (int64, bool) {
	if iv.hasMin && iv.hasMax && iv.min == iv.max {
		return iv.min, true
	}
	return 0, false
}

// InferCompare 区间可分离或可重合判定时返回 Known 布尔
func (IntegralInferModel) InferCompare(op string, lhs, rhs []Value) (Value, bool) {
	li, lok := intervalFromValues(lhs)
	ri, rok := intervalFromValues(rhs)
	if !lok || !rok {
		return Unknown(), false
	}
	decide := func(b bool) (Value, bool) {
		return IntValue(boolToInt(b)), true
	}
	switch op {
	case "<":
		if li.hasMax && ri.hasMin && li.max < ri.min {
			return decide(true)
		}
		if li.hasMin && ri.hasMax && li.min >= ri.max {
			return decide(false)
		}
	case "<=":
		if li.hasMax && ri.hasMin && li.max <= ri.min {
			return decide(true)
		}
		if li.hasMin && ri.hasMax && li.min > ri.max {
			return decide(false)
		}
	case ">":
		if li.hasMin && ri.hasMax && li.min > ri.max {
			return decide(true)
		}
		if li.hasMax && ri.hasMin && li.max <= ri.min {
			return decide(false)
		}
	case ">=":
		if li.hasMin && ri.hasMax && li.min >= ri.max {
			return decide(true)
		}
		if li.hasMax && ri.hasMin && li.max < ri.min {
			return decide(false)
		}
	case "==":
		lp, lpok := li.isPoint()
		rp, rpok := ri.isPoint()
		if lpok && rpok {
			return decide(lp == rp)
		}
		if disjoint(li, ri) {
			return decide(false)
		}
		if lpok && ri.excluded[lp] {
			return decide(false)
		}
		if rpok && li.excluded[rp] {
			return decide(false)
		}
	case "!=":
		lp, lpok := li.isPoint()
		rp, rpok := ri.isPoint()
		if lpok && rpok {
			return decide(lp != rp)
		}
		if disjoint(li, ri) {
			return decide(true)
		}
		if lpok && ri.excluded[lp] {
			return decide(true)
		}
		if rpok && li.excluded[rp] {
			return decide(true)
		}
	}
	return Unknown(), false
}

func disjoint(a, b interval) bool {
	if a.hasMax && b.hasMin && a.max < b.min {
		return true
	}
	return b.hasMax && a.hasMin && b.max < a.min
}
