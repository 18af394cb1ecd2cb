package detectors

import (
	"strconv"
	"strings"

	"govalflow/internal/valueflow"
)

// exprText 把表达式树还原成紧凑的源码形态，用于诊断消息。
// 只求可读，不保证括号与原文一致。
func exprText(n *valueflow.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case valueflow.NodeName, valueflow.NodeNumber, valueflow.NodeChar, valueflow.NodeBool:
		return n.Str
	case valueflow.NodeString:
		return strconv.Quote(n.Str)
	case valueflow.NodeCall:
		name := valueflow.CalleeName(n)
		if name == "" {
			name = exprText(n.Callee)
		}
		args := make([]string, 0, len(n.Args))
		for _, a := range n.Args {
			args = append(args, exprText(a))
		}
		return name + "(" + strings.Join(args, ",") + ")"
	case valueflow.NodeCast, valueflow.NodeDynCast:
		if n.Op1 != nil {
			return exprText(n.Op1)
		}
		return "?"
	}
	switch n.Op {
	case "[":
		return exprText(n.Op1) + "[" + exprText(n.Op2) + "]"
	case ".":
		return exprText(n.Op1) + "." + exprText(n.Op2)
	case "?":
		if n.Op2 != nil && n.Op2.Op == ":" {
			return exprText(n.Op1) + "?" + exprText(n.Op2.Op1) + ":" + exprText(n.Op2.Op2)
		}
	case "++", "--":
		if n.Postfix {
			return exprText(n.Op1) + n.Op
		}
		return n.Op + exprText(n.Op1)
	}
	if n.Op1 != nil && n.Op2 != nil {
		return exprText(n.Op1) + n.Op + exprText(n.Op2)
	}
	if n.Op1 != nil {
		return n.Op + exprText(n.Op1)
	}
	return n.ShortString()
}
