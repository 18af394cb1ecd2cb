package valueflow

import (
	"fmt"
	"strings"
)

// NodeKind 表达式节点的词法类别
type NodeKind int

const (
	// NodeOp 运算符节点，具体运算符在 Op 字段
	NodeOp NodeKind = iota
	// NodeName 标识符
	NodeName
	// NodeNumber 数字字面量，Str 保留原始文本
	NodeNumber
	// NodeString 字符串字面量，Str 为解码后的内容
	NodeString
	// NodeChar 字符字面量，Str 保留原始文本（含引号）
	NodeChar
	// NodeBool true/false 字面量
	NodeBool
	// NodeCall 函数调用，Callee 与 Args 有效
	NodeCall
	// NodeCast 可穿透的类型转换，Op1 为被转换表达式
	NodeCast
	// NodeDynCast 无法推理的类型转换（dynamic_cast 等）
	NodeDynCast
)

// Node 表达式图节点。表达式树由 Op1/Op2 构成，调用节点例外地使用
// Callee/Args。同一变量的不同出现共享 ExprID，结构同构的复合表达式亦然。
type Node struct {
	Kind NodeKind
	// Op 运算符文本，如 "+"、"=="、"="；非运算符节点为空
	Op  string
	Str string

	Op1    *Node
	Op2    *Node
	Callee *Node
	Args   []*Node
	Parent *Node

	// ExprID 表达式身份；0 表示无稳定身份（字面量、不可复用表达式）
	ExprID int
	// Values 由外部全局分析预先标注的值集
	Values []Value

	// Unsigned 表达式为无符号整数类型
	Unsigned bool
	// Pointer 表达式为指针或数组类型
	Pointer bool
	// Postfix 自增自减为后缀形式
	Postfix bool
	// CondRoot 节点作为 if/while/for 条件根
	CondRoot bool

	// Pos 文档序位置，用于 precedes 判定
	Pos int
	// Line/Col 源文件坐标，供诊断输出
	Line int
	Col  int

	// OwnerStmt 仅表达式树根节点回链到所属语句
	OwnerStmt *Stmt
}

// AddValue 追加一条预标注值
func (n *Node) AddValue(v Value) {
	n.Values = append(n.Values, v)
}

// KnownValueOf 在标注值集中查找指定类别的 Known 值
func (n *Node) KnownValueOf(kind ValueKind) (Value, bool) {
	for _, v := range n.Values {
		if v.Kind == kind && v.IsKnown() {
			return v, true
		}
	}
	return Value{}, false
}

// HasKnownIntValue 标注值集中是否存在 Known 整数
func (n *Node) HasKnownIntValue() bool {
	_, ok := n.KnownValueOf(ValueInt)
	return ok
}

// IsAssignOp 是否赋值类运算符
func (n *Node) IsAssignOp() bool {
	return isAssignOp(n.Op)
}

// IsComparisonOp 是否比较运算符
func (n *Node) IsComparisonOp() bool {
	return isComparisonOp(n.Op)
}

// IsUnaryOp 是否一元形态（只有 Op1）
func (n *Node) IsUnaryOp() bool {
	return n.Kind == NodeOp && n.Op1 != nil && n.Op2 == nil
}

// UsedAsBool 节点结果是否处于布尔语境：逻辑运算的操作数、条件根、
// 三目条件位
func (n *Node) UsedAsBool() bool {
	if n.CondRoot {
		return true
	}
	p := n.Parent
	if p == nil {
		return false
	}
	switch p.Op {
	case "!", "&&", "||":
		return true
	case "?":
		return p.Op1 == n
	}
	return false
}

// AstTop 沿 Parent 链上溯到表达式树根
func (n *Node) AstTop() *Node {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	return top
}

// EnclosingStmt 查找包含该节点的语句
func (n *Node) EnclosingStmt() *Stmt {
	return n.AstTop().OwnerStmt
}

// Precedes 文档序先于
func (n *Node) Precedes(o *Node) bool {
	if n == nil || o == nil {
		return false
	}
	return n.Pos < o.Pos
}

// ShortString 单节点的紧凑描述，供调试值打印
func (n *Node) ShortString() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case NodeName:
		return n.Str
	case NodeNumber, NodeChar, NodeBool:
		return n.Str
	case NodeString:
		return fmt.Sprintf("%q", n.Str)
	case NodeCall:
		return CalleeName(n) + "()"
	case NodeCast, NodeDynCast:
		return "cast"
	default:
		return n.Op
	}
}

// Visit 前序遍历以 n 为根的表达式树，f 返回 false 时剪枝该子树
func (n *Node) Visit(f func(*Node) bool) {
	if n == nil {
		return
	}
	if !f(n) {
		return
	}
	n.Op1.Visit(f)
	n.Op2.Visit(f)
	n.Callee.Visit(f)
	for _, a := range n.Args {
		a.Visit(f)
	}
}

// CalleeName 提取调用目标名：普通调用取标识符，成员调用取成员名
func CalleeName(call *Node) string {
	if call == nil || call.Callee == nil {
		return ""
	}
	c := call.Callee
	if c.Kind == NodeName {
		return c.Str
	}
	if c.Op == "." && c.Op2 != nil && c.Op2.Kind == NodeName {
		return c.Op2.Str
	}
	return ""
}

// StmtKind 语句类别
type StmtKind int

const (
	// StmtExpr 表达式语句
	StmtExpr StmtKind = iota
	// StmtDecl 变量声明（带初始化时 Expr 为赋值形态）
	StmtDecl
	// StmtReturn 返回语句，Expr 可为 nil
	StmtReturn
	// StmtIf 条件语句，Expr 为条件，Then/Else 为分支块
	StmtIf
	// StmtWhile while 循环
	StmtWhile
	// StmtFor for 循环，Init/Post 为初始化与步进
	StmtFor
	// StmtDoWhile do-while 循环，循环体至少执行一次
	StmtDoWhile
	// StmtBlock 匿名复合语句
	StmtBlock
	// StmtOpaque 无法建模的语句（switch、goto 目标等），回溯遇到即停
	StmtOpaque
)

// Stmt 语句节点
type Stmt struct {
	Kind StmtKind
	Expr *Node
	// Init/Post 仅 for 循环使用
	Init *Stmt
	Post *Stmt
	Then *Block
	Else *Block
	Body *Block
	// Block 语句所在作用域
	Block *Block
	// Pos 语句起始文档序；EndPos 覆盖其全部子结构
	Pos    int
	EndPos int
}

// BlockKind 作用域类别
type BlockKind int

const (
	// BlockFunction 函数体作用域
	BlockFunction BlockKind = iota
	// BlockIf if 分支作用域
	BlockIf
	// BlockElse else 分支作用域
	BlockElse
	// BlockWhile while 循环体
	BlockWhile
	// BlockFor for 循环体
	BlockFor
	// BlockDo do-while 循环体
	BlockDo
	// BlockAnon 匿名块
	BlockAnon
)

// Block 作用域。条件分支类作用域通过 Cond 引用控制条件，
// Else 块引用与对应 If 块相同的条件。
type Block struct {
	Kind   BlockKind
	Cond   *Node
	Stmts  []*Stmt
	Parent *Block
	// Owner 产生该作用域的语句；函数体为 nil
	Owner    *Stmt
	PosStart int
	PosEnd   int
}

// AddStmt 追加语句并维护回链
func (b *Block) AddStmt(s *Stmt) {
	s.Block = b
	b.Stmts = append(b.Stmts, s)
}

// IsLoop 是否循环作用域
func (b *Block) IsLoop() bool {
	return b.Kind == BlockWhile || b.Kind == BlockFor || b.Kind == BlockDo
}

// Function 函数定义
type Function struct {
	Name string
	// Params 形参名节点，携带 ExprID 供实参绑定
	Params []*Node
	Body   *Block
	// Virtual 虚函数不参与内联求值
	Virtual bool
	Graph   *Graph
}

// WalkStmts 前序遍历函数体全部语句
func (f *Function) WalkStmts(fn func(*Stmt) bool) {
	if f == nil || f.Body == nil {
		return
	}
	walkBlock(f.Body, fn)
}

func walkBlock(b *Block, fn func(*Stmt) bool) bool {
	if b == nil {
		return true
	}
	for _, s := range b.Stmts {
		if !walkStmt(s, fn) {
			return false
		}
	}
	return true
}

func walkStmt(s *Stmt, fn func(*Stmt) bool) bool {
	if s == nil {
		return true
	}
	if !fn(s) {
		return false
	}
	if s.Init != nil && !walkStmt(s.Init, fn) {
		return false
	}
	if s.Post != nil && !walkStmt(s.Post, fn) {
		return false
	}
	return walkBlock(s.Then, fn) && walkBlock(s.Else, fn) && walkBlock(s.Body, fn)
}

// WalkNodes 遍历函数体内全部表达式节点
func (f *Function) WalkNodes(fn func(*Node) bool) {
	f.WalkStmts(func(s *Stmt) bool {
		if s.Expr != nil {
			s.Expr.Visit(fn)
		}
		return true
	})
}

// Graph 表达式图 arena。集中分配节点与语句并派发文档序位置和
// 表达式身份，单个 Graph 不支持并发构建。
type Graph struct {
	nodes  []*Node
	nextID int
	// ids 身份键到 ExprID 的映射，同键共享身份
	ids     map[string]int
	nextPos int
}

// NewGraph 创建空图
func NewGraph() *Graph {
	return &Graph{nextID: 1, ids: make(map[string]int)}
}

// IDFor 取得身份键对应的 ExprID，首次出现时分配
func (g *Graph) IDFor(key string) int {
	if id, ok := g.ids[key]; ok {
		return id
	}
	id := g.nextID
	g.nextID++
	g.ids[key] = id
	return id
}

// NextPos 派发下一个文档序位置
func (g *Graph) NextPos() int {
	g.nextPos++
	return g.nextPos
}

// CurPos 当前文档序水位
func (g *Graph) CurPos() int {
	return g.nextPos
}

func (g *Graph) newNode(kind NodeKind, op, str string) *Node {
	n := &Node{Kind: kind, Op: op, Str: str, Pos: g.NextPos()}
	g.nodes = append(g.nodes, n)
	return n
}

// Name 构造标识符节点并按名字派发身份
func (g *Graph) Name(name string) *Node {
	n := g.newNode(NodeName, "", name)
	n.ExprID = g.IDFor("var:" + name)
	return n
}

// NamedVar 构造使用显式身份键的标识符节点，供作用域敏感的调用方使用
func (g *Graph) NamedVar(name, key string) *Node {
	n := g.newNode(NodeName, "", name)
	n.ExprID = g.IDFor(key)
	return n
}

// Num 构造数字字面量节点
func (g *Graph) Num(text string) *Node {
	return g.newNode(NodeNumber, "", text)
}

// Str 构造字符串字面量节点，content 为解码后的内容
func (g *Graph) Str(content string) *Node {
	return g.newNode(NodeString, "", content)
}

// Char 构造字符字面量节点，text 含引号
func (g *Graph) Char(text string) *Node {
	return g.newNode(NodeChar, "", text)
}

// Bool 构造布尔字面量节点
func (g *Graph) Bool(v bool) *Node {
	if v {
		return g.newNode(NodeBool, "", "true")
	}
	return g.newNode(NodeBool, "", "false")
}

// Binop 构造二元运算节点，两侧身份稳定时派发结构同构身份
func (g *Graph) Binop(op string, lhs, rhs *Node) *Node {
	n := g.newNode(NodeOp, op, "")
	n.Op1 = lhs
	n.Op2 = rhs
	lhs.Parent = n
	rhs.Parent = n
	g.assignStructuralID(n)
	return n
}

// Unop 构造一元运算节点
func (g *Graph) Unop(op string, operand *Node) *Node {
	n := g.newNode(NodeOp, op, "")
	n.Op1 = operand
	operand.Parent = n
	g.assignStructuralID(n)
	return n
}

// IncDec 构造自增自减节点
func (g *Graph) IncDec(op string, operand *Node, postfix bool) *Node {
	n := g.Unop(op, operand)
	n.Postfix = postfix
	return n
}

// Ternary 构造三目运算：cond ? thenv : elsev
func (g *Graph) Ternary(cond, thenv, elsev *Node) *Node {
	colon := g.newNode(NodeOp, ":", "")
	colon.Op1 = thenv
	colon.Op2 = elsev
	thenv.Parent = colon
	elsev.Parent = colon
	q := g.newNode(NodeOp, "?", "")
	q.Op1 = cond
	q.Op2 = colon
	cond.Parent = q
	colon.Parent = q
	return q
}

// Call 构造调用节点
func (g *Graph) Call(callee *Node, args ...*Node) *Node {
	n := g.newNode(NodeCall, "", "")
	n.Callee = callee
	callee.Parent = n
	n.Args = args
	for _, a := range args {
		a.Parent = n
	}
	g.assignCallID(n)
	return n
}

// CallNamed 构造以名字直接调用的节点
func (g *Graph) CallNamed(name string, args ...*Node) *Node {
	callee := g.newNode(NodeName, "", name)
	callee.ExprID = g.IDFor("fn:" + name)
	return g.Call(callee, args...)
}

// Member 构造成员访问节点 obj.field
func (g *Graph) Member(obj *Node, field string) *Node {
	fieldNode := g.newNode(NodeName, "", field)
	n := g.newNode(NodeOp, ".", "")
	n.Op1 = obj
	n.Op2 = fieldNode
	obj.Parent = n
	fieldNode.Parent = n
	if obj.ExprID != 0 {
		n.ExprID = g.IDFor(fmt.Sprintf("member:#%d:%s", obj.ExprID, field))
	}
	return n
}

// MemberCall 构造成员函数调用 obj.method(args...)
func (g *Graph) MemberCall(obj *Node, method string, args ...*Node) *Node {
	return g.Call(g.Member(obj, method), args...)
}

// Index 构造下标访问节点
func (g *Graph) Index(target, idx *Node) *Node {
	return g.Binop("[", target, idx)
}

// Cast 构造可穿透的类型转换节点
func (g *Graph) Cast(inner *Node) *Node {
	n := g.newNode(NodeCast, "cast", "")
	n.Op1 = inner
	inner.Parent = n
	return n
}

// DynCast 构造不可推理的类型转换节点
func (g *Graph) DynCast(inner *Node) *Node {
	n := g.newNode(NodeDynCast, "cast", "")
	if inner != nil {
		n.Op1 = inner
		inner.Parent = n
	}
	return n
}

// assignStructuralID 结构同构身份：运算符加两侧身份键。任一子节点
// 既无身份又非字面量时不派发。
func (g *Graph) assignStructuralID(n *Node) {
	if isAssignOp(n.Op) {
		// 赋值有副作用，不参与结构复用
		return
	}
	key := g.identityKey(n)
	if key == "" {
		return
	}
	n.ExprID = g.IDFor(key)
}

func (g *Graph) assignCallID(n *Node) {
	if n.Callee == nil || n.Callee.ExprID == 0 {
		return
	}
	parts := make([]string, 0, len(n.Args)+1)
	parts = append(parts, fmt.Sprintf("#%d", n.Callee.ExprID))
	for _, a := range n.Args {
		k := g.identityKey(a)
		if k == "" {
			return
		}
		parts = append(parts, k)
	}
	n.ExprID = g.IDFor("call:" + strings.Join(parts, ","))
}

func (g *Graph) identityKey(n *Node) string {
	if n == nil {
		return ""
	}
	if n.ExprID != 0 {
		return fmt.Sprintf("#%d", n.ExprID)
	}
	switch n.Kind {
	case NodeNumber, NodeChar, NodeBool:
		return "lit:" + n.Str
	case NodeString:
		return "str:" + n.Str
	case NodeOp:
		k1 := g.identityKey(n.Op1)
		if n.Op2 == nil {
			if k1 == "" {
				return ""
			}
			return "u" + n.Op + "(" + k1 + ")"
		}
		k2 := g.identityKey(n.Op2)
		if k1 == "" || k2 == "" {
			return ""
		}
		return n.Op + "(" + k1 + "," + k2 + ")"
	}
	return ""
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true,
	"%=": true, "&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

func isAssignOp(op string) bool {
	return assignOps[op]
}

func isComparisonOp(op string) bool {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func isArithOp(op string) bool {
	switch op {
	case "+", "-", "*", "/", "%", "<<", ">>", "&", "|", "^":
		return true
	}
	return false
}

// isBinaryEvalOp 可按二元求值规则处理的运算符
func isBinaryEvalOp(op string) bool {
	return isComparisonOp(op) || isArithOp(op)
}

// mirrorComparison 交换操作数方向后的等价比较符
func mirrorComparison(op string) string {
	switch op {
	case "<":
		return ">"
	case ">":
		return "<"
	case "<=":
		return ">="
	case ">=":
		return "<="
	}
	return op
}

// flattenSameOp 展开同运算符的叶子列表；子树中该运算符出现超过
// maxCount 次时返回 nil。
func flattenSameOp(expr *Node, maxCount int) []*Node {
	if expr == nil || expr.Op1 == nil || expr.Op2 == nil {
		return nil
	}
	count := 0
	expr.Visit(func(n *Node) bool {
		if n.Op == expr.Op {
			count++
		}
		return true
	})
	if count > maxCount {
		return nil
	}
	var leaves []*Node
	var rec func(n *Node)
	rec = func(n *Node) {
		if n == nil {
			return
		}
		if n.Op == expr.Op && n.Op1 != nil && n.Op2 != nil {
			rec(n.Op1)
			rec(n.Op2)
			return
		}
		leaves = append(leaves, n)
	}
	rec(expr)
	return leaves
}
