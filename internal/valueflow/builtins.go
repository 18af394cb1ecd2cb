package valueflow

import (
	"math"
	"strings"
)

// builtinFunc 内建纯函数：实参不满足前置条件时返回 Unknown，绝不猜测
type builtinFunc func(args []Value) Value

var builtinTable = buildBuiltinTable()

// executeBuiltin 查内建纯函数表求值。ok 表示命中表项（结果仍可能是
// Unknown），命中即视为纯调用。
func executeBuiltin(name string, args []Value) (Value, bool) {
	fn, ok := builtinTable[name]
	if !ok {
		return Unknown(), false
	}
	return fn(args), true
}

func buildBuiltinTable() map[string]builtinFunc {
	fns := make(map[string]builtinFunc)

	fns["strlen"] = func(args []Value) Value {
		s, ok := literalStringArg(args, 0, 1)
		if !ok {
			return Unknown()
		}
		return IntValue(int64(len(s)))
	}
	fns["strcmp"] = func(args []Value) Value {
		a, ok := literalStringArg(args, 0, 2)
		if !ok {
			return Unknown()
		}
		b, ok := literalStringArg(args, 1, 2)
		if !ok {
			return Unknown()
		}
		return IntValue(int64(strings.Compare(a, b)))
	}
	fns["strncmp"] = func(args []Value) Value {
		a, ok := literalStringArg(args, 0, 3)
		if !ok {
			return Unknown()
		}
		b, ok := literalStringArg(args, 1, 3)
		if !ok {
			return Unknown()
		}
		n, ok := definiteIntArg(args, 2, 3)
		if !ok || n < 0 {
			return Unknown()
		}
		if n < int64(len(a)) {
			a = a[:n]
		}
		if n < int64(len(b)) {
			b = b[:n]
		}
		return IntValue(int64(strings.Compare(a, b)))
	}

	unary := map[string]func(float64) float64{
		"sin": math.Sin, "cos": math.Cos, "tan": math.Tan,
		"asin": math.Asin, "acos": math.Acos, "atan": math.Atan,
		"sinh": math.Sinh, "cosh": math.Cosh, "tanh": math.Tanh,
		"exp": math.Exp, "log": math.Log, "log10": math.Log10, "log2": math.Log2,
		"sqrt": math.Sqrt, "cbrt": math.Cbrt, "fabs": math.Abs,
		"floor": math.Floor, "ceil": math.Ceil, "round": math.Round, "trunc": math.Trunc,
	}
	for name, f := range unary {
		f := f
		fns[name] = func(args []Value) Value {
			x, ok := definiteFloatArg(args, 0, 1)
			if !ok {
				return Unknown()
			}
			return floatResult(f(x))
		}
	}

	binary := map[string]func(float64, float64) float64{
		"pow": math.Pow, "atan2": math.Atan2, "fmod": math.Mod,
		"fmin": math.Min, "fmax": math.Max, "hypot": math.Hypot,
	}
	for name, f := range binary {
		f := f
		fns[name] = func(args []Value) Value {
			x, ok := definiteFloatArg(args, 0, 2)
			if !ok {
				return Unknown()
			}
			y, ok := definiteFloatArg(args, 1, 2)
			if !ok {
				return Unknown()
			}
			return floatResult(f(x, y))
		}
	}
	return fns
}

// literalStringArg 第 idx 个实参须是指向字符串字面量的引用值
func literalStringArg(args []Value, idx, arity int) (string, bool) {
	if len(args) != arity {
		return "", false
	}
	v := args[idx]
	if !v.IsTokValue() || v.IsImpossible() || v.TokRef == nil || v.TokRef.Kind != NodeString {
		return "", false
	}
	return v.TokRef.Str, true
}

// definiteIntArg 第 idx 个实参须是非排除的整数
func definiteIntArg(args []Value, idx, arity int) (int64, bool) {
	if len(args) != arity {
		return 0, false
	}
	v := args[idx]
	if !v.IsIntValue() || v.IsImpossible() {
		return 0, false
	}
	return v.IntVal, true
}

// definiteFloatArg 第 idx 个实参须是非排除的数值，整数提升为浮点
func definiteFloatArg(args []Value, idx, arity int) (float64, bool) {
	if len(args) != arity {
		return 0, false
	}
	v := args[idx]
	if v.IsImpossible() {
		return 0, false
	}
	return asFloat(v)
}

// floatResult 域错误产生的 NaN/Inf 不可信，收束为 Unknown
func floatResult(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unknown()
	}
	return FloatValue(f)
}
