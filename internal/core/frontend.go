package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"govalflow/internal/valueflow"
)

// BuiltUnit 前端构建产物：一个翻译单元内全部函数的表达式图。
// 同一单元内的全部函数共享一张 Graph，全局变量在各函数间保持
// 相同的表达式身份。
type BuiltUnit struct {
	Unit      *ParsedUnit
	Graph     *valueflow.Graph
	Functions []*valueflow.Function
	// GlobalIDs 文件作用域名字的表达式身份，跨函数写入失效判定用
	GlobalIDs map[int]bool

	byName map[string]*valueflow.Function
}

// FunctionByName 按名称查找函数，重载/重名取首个定义
func (u *BuiltUnit) FunctionByName(name string) (*valueflow.Function, bool) {
	fn, ok := u.byName[name]
	return fn, ok
}

// BuildUnit 把解析好的翻译单元转换为表达式图。输入中的语法错误不会
// 中断构建：无法识别的片段降级为不可推理节点或不透明语句。
func BuildUnit(unit *ParsedUnit) *BuiltUnit {
	b := newGraphBuilder(unit)
	b.pushScope() // 文件作用域

	// 先收集宏、枚举、typedef 与全局声明，函数体内的引用才能携带常量值
	b.scanTopLevel(unit.Root)

	built := &BuiltUnit{
		Unit:      unit,
		Graph:     b.g,
		GlobalIDs: make(map[int]bool),
		byName:    make(map[string]*valueflow.Function),
	}
	b.collectFunctions(unit.Root, built)
	for _, key := range b.scopes[0] {
		built.GlobalIDs[b.g.IDFor(key)] = true
	}
	return built
}

// varTrait 声明处推导出的变量特征
type varTrait struct {
	unsigned bool
	pointer  bool
	// arrayLen 定长数组首维长度；-1 表示非定长数组
	arrayLen int64
	// hasConst 常量初始化可折叠，constVal 为折叠结果
	hasConst bool
	constVal int64
}

func noTrait() varTrait { return varTrait{arrayLen: -1} }

// builtinUnsignedTypes 常见无符号 typedef（C 标准库）
var builtinUnsignedTypes = map[string]bool{
	"size_t": true, "uintptr_t": true,
	"uint64_t": true, "uint32_t": true, "uint16_t": true, "uint8_t": true,
	"u_int": true, "u_long": true, "u_short": true, "u_char": true,
}

type graphBuilder struct {
	unit *ParsedUnit
	g    *valueflow.Graph
	// scopes 名字到身份键的作用域栈，scopes[0] 为文件作用域
	scopes []map[string]string
	traits map[string]varTrait
	// typedefs 用户 typedef 名到基础特征
	typedefs map[string]varTrait
	seq      int

	// 返回值模板编译模式：argN 识别为占位参数
	template bool
	tmplArgs []*valueflow.Node
}

func newGraphBuilder(unit *ParsedUnit) *graphBuilder {
	return &graphBuilder{
		unit:     unit,
		g:        valueflow.NewGraph(),
		traits:   make(map[string]varTrait),
		typedefs: make(map[string]varTrait),
	}
}

func (b *graphBuilder) pushScope() {
	b.scopes = append(b.scopes, make(map[string]string))
}

func (b *graphBuilder) popScope() {
	b.scopes = b.scopes[:len(b.scopes)-1]
}

// declare 在当前作用域登记名字并分配新的身份键
func (b *graphBuilder) declare(name string, t varTrait) string {
	b.seq++
	key := fmt.Sprintf("%s#%d", name, b.seq)
	b.scopes[len(b.scopes)-1][name] = key
	b.traits[key] = t
	return key
}

// lookup 自内向外解析名字。未声明的名字落到文件作用域的外部键，
// 同名外部引用在整个单元内共享身份。
func (b *graphBuilder) lookup(name string) (string, varTrait) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if key, ok := b.scopes[i][name]; ok {
			return key, b.traits[key]
		}
	}
	key := "ext:" + name
	b.scopes[0][name] = key
	if _, ok := b.traits[key]; !ok {
		b.traits[key] = noTrait()
	}
	return key, b.traits[key]
}

var templateArgPattern = regexp.MustCompile(`^arg(\d+)$`)

// nameRef 构造一次名字引用，按声明特征标注符号属性与已知值
func (b *graphBuilder) nameRef(name string, ts *sitter.Node) *valueflow.Node {
	if b.template {
		if m := templateArgPattern.FindStringSubmatch(name); m != nil {
			return b.templateArg(name, m[1], ts)
		}
	}
	key, t := b.lookup(name)
	n := b.g.NamedVar(name, key)
	n.Unsigned = t.unsigned
	n.Pointer = t.pointer
	if t.arrayLen >= 0 {
		n.AddValue(valueflow.ContainerSizeValue(t.arrayLen))
	}
	if t.hasConst {
		n.AddValue(valueflow.IntValue(t.constVal))
	}
	b.mark(n, ts)
	return n
}

// templateArg 登记 argN 占位参数，同一占位的多次出现共享身份
func (b *graphBuilder) templateArg(name, digits string, ts *sitter.Node) *valueflow.Node {
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 1 {
		return b.opaque(ts)
	}
	n := b.g.NamedVar(name, "tplarg:"+name)
	b.mark(n, ts)
	for len(b.tmplArgs) < idx {
		b.tmplArgs = append(b.tmplArgs, nil)
	}
	if b.tmplArgs[idx-1] == nil {
		b.tmplArgs[idx-1] = n
	}
	return n
}

// mark 标注源文件坐标（1 基）
func (b *graphBuilder) mark(n *valueflow.Node, ts *sitter.Node) *valueflow.Node {
	if ts != nil {
		n.Line = int(ts.StartPoint().Row) + 1
		n.Col = int(ts.StartPoint().Column) + 1
	}
	return n
}

// opaque 为无法识别的表达式构造不可推理节点
func (b *graphBuilder) opaque(ts *sitter.Node) *valueflow.Node {
	return b.mark(b.g.DynCast(nil), ts)
}

// text 取节点源码文本
func (b *graphBuilder) text(ts *sitter.Node) string {
	return b.unit.Text(ts)
}

// ----- 顶层扫描 -----

// scanTopLevel 收集文件作用域的常量知识：对象宏、枚举、typedef、
// 全局声明。命名空间与 extern "C" 块透明下钻。
func (b *graphBuilder) scanTopLevel(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "preproc_def":
			b.scanMacro(child)
		case "type_definition":
			b.scanTypedef(child)
		case "enum_specifier":
			b.scanEnum(child)
		case "declaration":
			b.scanGlobalDecl(child)
		case "namespace_definition", "linkage_specification", "declaration_list":
			b.scanTopLevel(child)
		case "preproc_ifdef", "preproc_if":
			// 条件编译块内的定义同样可见
			b.scanTopLevel(child)
		}
	}
}

// scanMacro 记录可折叠为整数的对象宏
func (b *graphBuilder) scanMacro(ts *sitter.Node) {
	nameTS := ts.ChildByFieldName("name")
	valueTS := ts.ChildByFieldName("value")
	if nameTS == nil || valueTS == nil {
		return
	}
	raw := strings.TrimSpace(b.text(valueTS))
	raw = strings.TrimRight(raw, "uUlL")
	raw = strings.Trim(raw, "()")
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
	if err != nil {
		return
	}
	t := noTrait()
	t.hasConst = true
	t.constVal = v
	b.declare(b.text(nameTS), t)
}

// scanTypedef 记录 typedef 基础特征，供后续类型推导消费
func (b *graphBuilder) scanTypedef(ts *sitter.Node) {
	typeTS := ts.ChildByFieldName("type")
	declTS := ts.ChildByFieldName("declarator")
	if typeTS == nil || declTS == nil {
		return
	}
	t := b.typeTraits(typeTS)
	nameTS, t := b.unwrapDeclarator(declTS, t)
	if nameTS == nil {
		return
	}
	b.typedefs[b.text(nameTS)] = t
}

// scanEnum 把枚举项登记为文件作用域整数常量
func (b *graphBuilder) scanEnum(ts *sitter.Node) {
	body := ts.ChildByFieldName("body")
	if body == nil {
		return
	}
	next := int64(0)
	for i := 0; i < int(body.NamedChildCount()); i++ {
		e := body.NamedChild(i)
		if e.Type() != "enumerator" {
			continue
		}
		nameTS := e.ChildByFieldName("name")
		if nameTS == nil {
			continue
		}
		if valueTS := e.ChildByFieldName("value"); valueTS != nil {
			if v, ok := b.foldInt(valueTS); ok {
				next = v
			} else {
				// 不可折叠的显式值使后续项也不可知
				return
			}
		}
		t := noTrait()
		t.hasConst = true
		t.constVal = next
		b.declare(b.text(nameTS), t)
		next++
	}
}

// scanGlobalDecl 登记全局变量；const 且初始化可折叠的携带常量值
func (b *graphBuilder) scanGlobalDecl(ts *sitter.Node) {
	typeTS := ts.ChildByFieldName("type")
	if typeTS == nil {
		return
	}
	if typeTS.Type() == "enum_specifier" {
		b.scanEnum(typeTS)
	}
	base := b.typeTraits(typeTS)
	isConst := hasConstQualifier(ts)
	for i := 0; i < int(ts.NamedChildCount()); i++ {
		child := ts.NamedChild(i)
		if child == typeTS || !isDeclaratorNode(child.Type()) {
			continue
		}
		nameTS, t := b.unwrapDeclarator(child, base)
		if nameTS == nil {
			continue
		}
		if isConst && !t.pointer {
			if valueTS := initValueOf(child); valueTS != nil {
				if v, ok := b.foldInt(valueTS); ok {
					t.hasConst = true
					t.constVal = v
				}
			}
		}
		b.declare(b.text(nameTS), t)
	}
}

// collectFunctions 深入命名空间收集全部函数定义
func (b *graphBuilder) collectFunctions(root *sitter.Node, built *BuiltUnit) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			if fn := b.buildFunction(child); fn != nil {
				built.Functions = append(built.Functions, fn)
				if _, dup := built.byName[fn.Name]; !dup {
					built.byName[fn.Name] = fn
				}
			}
		case "namespace_definition", "linkage_specification", "declaration_list",
			"preproc_ifdef", "preproc_if":
			b.collectFunctions(child, built)
		}
	}
}

// ----- 函数构建 -----

func (b *graphBuilder) buildFunction(ts *sitter.Node) *valueflow.Function {
	body := ts.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	funcDecl := findFunctionDeclarator(ts.ChildByFieldName("declarator"))
	if funcDecl == nil {
		return nil
	}
	name := b.functionName(funcDecl)
	if name == "" {
		return nil
	}

	fn := &valueflow.Function{Name: name, Graph: b.g}
	for i := 0; i < int(ts.ChildCount()); i++ {
		if ts.Child(i).Type() == "virtual" || ts.Child(i).Type() == "virtual_function_specifier" {
			fn.Virtual = true
		}
	}

	b.pushScope() // 参数作用域
	b.buildParams(funcDecl.ChildByFieldName("parameters"), fn)

	blk := &valueflow.Block{Kind: valueflow.BlockFunction, PosStart: b.g.NextPos()}
	fn.Body = blk
	b.pushScope()
	for i := 0; i < int(body.NamedChildCount()); i++ {
		b.buildStmt(body.NamedChild(i), blk)
	}
	b.popScope()
	blk.PosEnd = b.g.NextPos()
	b.popScope()
	return fn
}

// findFunctionDeclarator 穿过指针/括号包装找到函数声明符
func findFunctionDeclarator(ts *sitter.Node) *sitter.Node {
	for ts != nil {
		switch ts.Type() {
		case "function_declarator":
			return ts
		case "pointer_declarator", "reference_declarator":
			inner := ts.ChildByFieldName("declarator")
			if inner == nil {
				inner = ts.NamedChild(0)
			}
			ts = inner
		case "parenthesized_declarator":
			ts = ts.NamedChild(0)
		default:
			return nil
		}
	}
	return nil
}

func (b *graphBuilder) functionName(funcDecl *sitter.Node) string {
	d := funcDecl.ChildByFieldName("declarator")
	if d == nil {
		return ""
	}
	// 限定名（Foo::bar）保留全文
	return b.text(d)
}

func (b *graphBuilder) buildParams(list *sitter.Node, fn *valueflow.Function) {
	if list == nil {
		return
	}
	idx := 0
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		if p.Type() != "parameter_declaration" && p.Type() != "optional_parameter_declaration" {
			continue
		}
		t := noTrait()
		if typeTS := p.ChildByFieldName("type"); typeTS != nil {
			t = b.typeTraits(typeTS)
		}
		var nameText string
		var nameTS *sitter.Node
		if declTS := p.ChildByFieldName("declarator"); declTS != nil {
			nameTS, t = b.unwrapDeclarator(declTS, t)
		}
		if nameTS != nil {
			nameText = b.text(nameTS)
		} else {
			// 未命名参数占位，保持内联时的形参位置对应
			nameText = fmt.Sprintf("__p%d", idx)
		}
		key := b.declare(nameText, t)
		node := b.g.NamedVar(nameText, key)
		node.Unsigned = t.unsigned
		node.Pointer = t.pointer
		b.mark(node, p)
		fn.Params = append(fn.Params, node)
		idx++
	}
}

// ----- 语句构建 -----

func (b *graphBuilder) addStmt(parent *valueflow.Block, s *valueflow.Stmt) *valueflow.Stmt {
	s.Pos = b.g.NextPos()
	s.EndPos = s.Pos
	parent.AddStmt(s)
	if s.Expr != nil {
		s.Expr.OwnerStmt = s
	}
	return s
}

func (b *graphBuilder) newBlock(kind valueflow.BlockKind, cond *valueflow.Node, owner *valueflow.Stmt, parent *valueflow.Block) *valueflow.Block {
	return &valueflow.Block{Kind: kind, Cond: cond, Parent: parent, Owner: owner, PosStart: b.g.NextPos()}
}

func (b *graphBuilder) closeBlock(blk *valueflow.Block) {
	blk.PosEnd = b.g.NextPos()
	if blk.Owner != nil {
		blk.Owner.EndPos = blk.PosEnd
	}
}

// fillBody 把单语句或复合语句填入块。复合语句引入新声明作用域。
func (b *graphBuilder) fillBody(ts *sitter.Node, blk *valueflow.Block) {
	if ts == nil {
		return
	}
	if ts.Type() == "compound_statement" {
		b.pushScope()
		for i := 0; i < int(ts.NamedChildCount()); i++ {
			b.buildStmt(ts.NamedChild(i), blk)
		}
		b.popScope()
		return
	}
	b.buildStmt(ts, blk)
}

func (b *graphBuilder) buildStmt(ts *sitter.Node, parent *valueflow.Block) {
	if ts == nil || ts.Type() == "comment" {
		return
	}
	switch ts.Type() {
	case "compound_statement":
		s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtBlock})
		body := b.newBlock(valueflow.BlockAnon, nil, s, parent)
		s.Body = body
		b.fillBody(ts, body)
		b.closeBlock(body)

	case "expression_statement":
		expr := ts.NamedChild(0)
		if expr == nil || expr.Type() == "comment" {
			return
		}
		root := b.buildExpr(expr)
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtExpr, Expr: root})

	case "declaration":
		b.buildDeclaration(ts, parent)

	case "return_statement":
		var root *valueflow.Node
		if expr := firstExprChild(ts); expr != nil {
			root = b.buildExpr(expr)
		}
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtReturn, Expr: root})

	case "if_statement":
		b.buildIf(ts, parent)

	case "while_statement":
		cond := b.buildCondExpr(ts.ChildByFieldName("condition"))
		if cond == nil {
			cond = b.opaque(ts)
		}
		cond.CondRoot = true
		s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtWhile, Expr: cond})
		body := b.newBlock(valueflow.BlockWhile, cond, s, parent)
		s.Body = body
		b.fillBody(ts.ChildByFieldName("body"), body)
		b.closeBlock(body)

	case "do_statement":
		s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtDoWhile})
		body := b.newBlock(valueflow.BlockDo, nil, s, parent)
		s.Body = body
		b.fillBody(ts.ChildByFieldName("body"), body)
		// 条件在循环体之后求值，也按此顺序建图
		if cond := b.buildCondExpr(ts.ChildByFieldName("condition")); cond != nil {
			cond.CondRoot = true
			cond.OwnerStmt = s
			s.Expr = cond
			body.Cond = cond
		}
		b.closeBlock(body)

	case "for_statement":
		b.buildFor(ts, parent)

	case "switch_statement":
		b.buildSwitch(ts, parent)

	case "labeled_statement":
		// 标签是潜在跳转目标，先放置不透明屏障再正常构建内部语句
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque})
		for i := 0; i < int(ts.NamedChildCount()); i++ {
			child := ts.NamedChild(i)
			if child == ts.ChildByFieldName("label") {
				continue
			}
			b.buildStmt(child, parent)
		}

	case "break_statement", "continue_statement", "goto_statement":
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque})

	case "try_statement":
		s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque})
		body := b.newBlock(valueflow.BlockAnon, nil, s, parent)
		s.Body = body
		b.fillBody(ts.ChildByFieldName("body"), body)
		for i := 0; i < int(ts.NamedChildCount()); i++ {
			if c := ts.NamedChild(i); c.Type() == "catch_clause" {
				b.buildStmt(c.ChildByFieldName("body"), body)
			}
		}
		b.closeBlock(body)

	default:
		// switch 之外的跳转、内嵌汇编等一律不透明
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque})
	}
}

func (b *graphBuilder) buildIf(ts *sitter.Node, parent *valueflow.Block) {
	cond := b.buildCondExpr(ts.ChildByFieldName("condition"))
	if cond == nil {
		cond = b.opaque(ts)
	}
	cond.CondRoot = true
	s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtIf, Expr: cond})

	then := b.newBlock(valueflow.BlockIf, cond, s, parent)
	s.Then = then
	b.fillBody(ts.ChildByFieldName("consequence"), then)
	b.closeBlock(then)

	alt := ts.ChildByFieldName("alternative")
	if alt == nil {
		return
	}
	if alt.Type() == "else_clause" {
		alt = alt.NamedChild(0)
	}
	if alt == nil {
		return
	}
	elseBlk := b.newBlock(valueflow.BlockElse, cond, s, parent)
	s.Else = elseBlk
	b.fillBody(alt, elseBlk)
	b.closeBlock(elseBlk)
}

func (b *graphBuilder) buildFor(ts *sitter.Node, parent *valueflow.Block) {
	b.pushScope() // for 头声明属于循环作用域

	var initStmt *valueflow.Stmt
	if tsInit := ts.ChildByFieldName("initializer"); tsInit != nil {
		initStmt = b.buildForInit(tsInit)
	}
	var cond *valueflow.Node
	if tsCond := ts.ChildByFieldName("condition"); tsCond != nil {
		cond = b.buildCondExpr(tsCond)
	}
	s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtFor, Expr: cond, Init: initStmt})
	if cond != nil {
		cond.CondRoot = true
	}

	body := b.newBlock(valueflow.BlockFor, cond, s, parent)
	s.Body = body
	if initStmt != nil {
		initStmt.Block = body
	}
	b.fillBody(ts.ChildByFieldName("body"), body)

	// 步进在每轮循环体之后执行，文档序也排在体后
	if tsUpd := ts.ChildByFieldName("update"); tsUpd != nil {
		post := &valueflow.Stmt{Kind: valueflow.StmtExpr, Expr: b.buildExpr(tsUpd)}
		post.Pos = b.g.NextPos()
		post.EndPos = post.Pos
		post.Block = body
		if post.Expr != nil {
			post.Expr.OwnerStmt = post
		}
		s.Post = post
	}
	b.closeBlock(body)
	b.popScope()
}

// buildForInit 构建 for 初始化为游离语句；多声明符包装为匿名块
func (b *graphBuilder) buildForInit(ts *sitter.Node) *valueflow.Stmt {
	if ts.Type() == "declaration" {
		holder := &valueflow.Block{Kind: valueflow.BlockAnon, PosStart: b.g.NextPos()}
		b.buildDeclaration(ts, holder)
		holder.PosEnd = b.g.NextPos()
		if len(holder.Stmts) == 1 {
			s := holder.Stmts[0]
			s.Block = nil
			return s
		}
		s := &valueflow.Stmt{Kind: valueflow.StmtBlock, Body: holder}
		s.Pos = holder.PosStart
		s.EndPos = holder.PosEnd
		holder.Owner = s
		return s
	}
	root := b.buildExpr(ts)
	s := &valueflow.Stmt{Kind: valueflow.StmtExpr, Expr: root}
	s.Pos = b.g.NextPos()
	s.EndPos = s.Pos
	root.OwnerStmt = s
	return s
}

func (b *graphBuilder) buildSwitch(ts *sitter.Node, parent *valueflow.Block) {
	cond := b.buildCondExpr(ts.ChildByFieldName("condition"))
	s := b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque, Expr: cond})
	body := b.newBlock(valueflow.BlockAnon, nil, s, parent)
	s.Body = body
	if tsBody := ts.ChildByFieldName("body"); tsBody != nil {
		b.pushScope()
		for i := 0; i < int(tsBody.NamedChildCount()); i++ {
			c := tsBody.NamedChild(i)
			if c.Type() != "case_statement" {
				b.buildStmt(c, body)
				continue
			}
			valueTS := c.ChildByFieldName("value")
			for j := 0; j < int(c.NamedChildCount()); j++ {
				child := c.NamedChild(j)
				if child == valueTS {
					continue
				}
				b.buildStmt(child, body)
			}
		}
		b.popScope()
	}
	b.closeBlock(body)
}

// buildDeclaration 展开一条声明的全部声明符
func (b *graphBuilder) buildDeclaration(ts *sitter.Node, parent *valueflow.Block) {
	typeTS := ts.ChildByFieldName("type")
	if typeTS == nil {
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtOpaque})
		return
	}
	base := b.typeTraits(typeTS)
	isConst := hasConstQualifier(ts)

	for i := 0; i < int(ts.NamedChildCount()); i++ {
		child := ts.NamedChild(i)
		if child == typeTS || !isDeclaratorNode(child.Type()) {
			continue
		}
		nameTS, t := b.unwrapDeclarator(child, base)
		if nameTS == nil {
			continue
		}
		valueTS := initValueOf(child)
		if t.arrayLen < 0 && valueTS != nil {
			t.arrayLen = impliedArrayLen(child, valueTS, b.unit)
		}
		if isConst && !t.pointer && valueTS != nil {
			if v, ok := b.foldInt(valueTS); ok {
				t.hasConst = true
				t.constVal = v
			}
		}

		key := b.declare(b.text(nameTS), t)
		nameNode := b.g.NamedVar(b.text(nameTS), key)
		nameNode.Unsigned = t.unsigned
		nameNode.Pointer = t.pointer
		if t.arrayLen >= 0 {
			nameNode.AddValue(valueflow.ContainerSizeValue(t.arrayLen))
		}
		b.mark(nameNode, nameTS)

		var root *valueflow.Node
		if valueTS != nil {
			root = b.g.Binop("=", nameNode, b.buildExpr(valueTS))
			b.mark(root, child)
		} else {
			root = nameNode
		}
		b.addStmt(parent, &valueflow.Stmt{Kind: valueflow.StmtDecl, Expr: root})
	}
}

// ----- 表达式构建 -----

// buildCondExpr 穿过括号/条件子句包装取条件表达式
func (b *graphBuilder) buildCondExpr(ts *sitter.Node) *valueflow.Node {
	for ts != nil {
		switch ts.Type() {
		case "parenthesized_expression":
			ts = ts.NamedChild(0)
		case "condition_clause":
			inner := ts.ChildByFieldName("value")
			if inner == nil {
				inner = ts.NamedChild(0)
			}
			ts = inner
		default:
			return b.buildExpr(ts)
		}
	}
	return nil
}

func (b *graphBuilder) buildExpr(ts *sitter.Node) *valueflow.Node {
	if ts == nil {
		return b.opaque(nil)
	}
	switch ts.Type() {
	case "identifier", "field_identifier", "this":
		return b.nameRef(b.text(ts), ts)

	case "qualified_identifier":
		return b.nameRef(normalizeName(b.text(ts)), ts)

	case "number_literal":
		return b.mark(b.g.Num(b.text(ts)), ts)

	case "char_literal":
		return b.mark(b.g.Char(b.text(ts)), ts)

	case "string_literal":
		return b.mark(b.g.Str(decodeCString(b.text(ts))), ts)

	case "concatenated_string":
		var sb strings.Builder
		for i := 0; i < int(ts.NamedChildCount()); i++ {
			if c := ts.NamedChild(i); c.Type() == "string_literal" {
				sb.WriteString(decodeCString(b.text(c)))
			}
		}
		return b.mark(b.g.Str(sb.String()), ts)

	case "true":
		return b.mark(b.g.Bool(true), ts)
	case "false":
		return b.mark(b.g.Bool(false), ts)
	case "null", "nullptr":
		return b.mark(b.g.Num("0"), ts)

	case "parenthesized_expression":
		inner := ts.NamedChild(0)
		if inner == nil {
			return b.opaque(ts)
		}
		return b.buildExpr(inner)

	case "binary_expression", "assignment_expression":
		lhs := b.buildExpr(ts.ChildByFieldName("left"))
		op := b.operatorText(ts)
		rhs := b.buildExpr(ts.ChildByFieldName("right"))
		if op == "" {
			return b.opaque(ts)
		}
		return b.mark(b.g.Binop(op, lhs, rhs), ts)

	case "unary_expression", "pointer_expression":
		op := b.operatorText(ts)
		arg := b.buildExpr(ts.ChildByFieldName("argument"))
		if op == "" {
			return b.opaque(ts)
		}
		return b.mark(b.g.Unop(op, arg), ts)

	case "update_expression":
		argTS := ts.ChildByFieldName("argument")
		opTS := ts.ChildByFieldName("operator")
		if opTS == nil {
			for i := 0; i < int(ts.ChildCount()); i++ {
				if c := ts.Child(i); !c.IsNamed() {
					opTS = c
					break
				}
			}
		}
		if argTS == nil || opTS == nil {
			return b.opaque(ts)
		}
		op := b.text(opTS)
		if op != "++" && op != "--" {
			return b.opaque(ts)
		}
		postfix := opTS.StartByte() > argTS.StartByte()
		arg := b.buildExpr(argTS)
		return b.mark(b.g.IncDec(op, arg, postfix), ts)

	case "conditional_expression":
		cond := b.buildExpr(ts.ChildByFieldName("condition"))
		thenv := b.buildExpr(ts.ChildByFieldName("consequence"))
		elsev := b.buildExpr(ts.ChildByFieldName("alternative"))
		return b.mark(b.g.Ternary(cond, thenv, elsev), ts)

	case "comma_expression":
		lhs := b.buildExpr(ts.ChildByFieldName("left"))
		rhs := b.buildExpr(ts.ChildByFieldName("right"))
		return b.mark(b.g.Binop(",", lhs, rhs), ts)

	case "call_expression":
		return b.buildCall(ts)

	case "field_expression":
		obj := b.buildExpr(ts.ChildByFieldName("argument"))
		fieldTS := ts.ChildByFieldName("field")
		if fieldTS == nil {
			return b.opaque(ts)
		}
		return b.mark(b.g.Member(obj, b.text(fieldTS)), ts)

	case "subscript_expression":
		target := b.buildExpr(ts.ChildByFieldName("argument"))
		idxTS := subscriptIndex(ts)
		if idxTS == nil {
			return b.opaque(ts)
		}
		return b.mark(b.g.Index(target, b.buildExpr(idxTS)), ts)

	case "cast_expression":
		return b.mark(b.g.Cast(b.buildExpr(ts.ChildByFieldName("value"))), ts)

	case "static_cast_expression", "const_cast_expression", "reinterpret_cast_expression":
		// C++ 显式转换同样可穿透取内层值
		if v := ts.ChildByFieldName("value"); v != nil {
			return b.mark(b.g.Cast(b.buildExpr(v)), ts)
		}
		return b.opaque(ts)

	default:
		// sizeof、initializer_list、new/delete、lambda 等不可推理
		return b.opaque(ts)
	}
}

func (b *graphBuilder) buildCall(ts *sitter.Node) *valueflow.Node {
	fnTS := ts.ChildByFieldName("function")
	argsTS := ts.ChildByFieldName("arguments")
	if fnTS == nil {
		return b.opaque(ts)
	}

	buildArgs := func() []*valueflow.Node {
		var args []*valueflow.Node
		if argsTS == nil {
			return args
		}
		for i := 0; i < int(argsTS.NamedChildCount()); i++ {
			c := argsTS.NamedChild(i)
			if c.Type() == "comment" {
				continue
			}
			args = append(args, b.buildExpr(c))
		}
		return args
	}

	switch fnTS.Type() {
	case "identifier", "qualified_identifier":
		name := normalizeName(b.text(fnTS))
		return b.mark(b.g.CallNamed(name, buildArgs()...), ts)
	case "field_expression":
		obj := b.buildExpr(fnTS.ChildByFieldName("argument"))
		fieldTS := fnTS.ChildByFieldName("field")
		if fieldTS == nil {
			return b.opaque(ts)
		}
		return b.mark(b.g.MemberCall(obj, b.text(fieldTS), buildArgs()...), ts)
	default:
		callee := b.buildExpr(fnTS)
		return b.mark(b.g.Call(callee, buildArgs()...), ts)
	}
}

// operatorText 取 operator 字段文本；个别语法版本无此字段时退回
// 首个未命名子节点
func (b *graphBuilder) operatorText(ts *sitter.Node) string {
	if op := ts.ChildByFieldName("operator"); op != nil {
		return b.text(op)
	}
	for i := 0; i < int(ts.ChildCount()); i++ {
		c := ts.Child(i)
		if !c.IsNamed() {
			return c.Type()
		}
	}
	return ""
}

// ----- 类型与声明符推导 -----

// typeTraits 从类型节点推导符号属性，解析用户 typedef
func (b *graphBuilder) typeTraits(typeTS *sitter.Node) varTrait {
	t := noTrait()
	text := strings.TrimSpace(b.text(typeTS))
	if strings.HasPrefix(text, "unsigned") {
		t.unsigned = true
		return t
	}
	if builtinUnsignedTypes[text] {
		t.unsigned = true
		return t
	}
	if def, ok := b.typedefs[text]; ok {
		return def
	}
	return t
}

func isDeclaratorNode(typ string) bool {
	switch typ {
	case "init_declarator", "identifier", "field_identifier",
		"pointer_declarator", "array_declarator", "reference_declarator",
		"parenthesized_declarator", "function_declarator":
		return true
	}
	return false
}

// unwrapDeclarator 剥开声明符包装取得名字节点，沿途累积指针/数组特征。
// 多维数组记录首维长度。
func (b *graphBuilder) unwrapDeclarator(ts *sitter.Node, t varTrait) (*sitter.Node, varTrait) {
	for ts != nil {
		switch ts.Type() {
		case "init_declarator":
			ts = ts.ChildByFieldName("declarator")
		case "pointer_declarator":
			t.pointer = true
			inner := ts.ChildByFieldName("declarator")
			if inner == nil {
				inner = ts.NamedChild(0)
			}
			ts = inner
		case "reference_declarator":
			t.pointer = true
			inner := ts.ChildByFieldName("declarator")
			if inner == nil {
				inner = ts.NamedChild(0)
			}
			ts = inner
		case "array_declarator":
			t.pointer = true
			if sizeTS := ts.ChildByFieldName("size"); sizeTS != nil {
				if n, ok := b.foldInt(sizeTS); ok && n >= 0 {
					// 外层声明符是末维，最后写入的即首维
					t.arrayLen = n
				} else {
					t.arrayLen = -1
				}
			}
			ts = ts.ChildByFieldName("declarator")
		case "parenthesized_declarator":
			ts = ts.NamedChild(0)
		case "function_declarator":
			ts = ts.ChildByFieldName("declarator")
		case "identifier", "field_identifier", "type_identifier":
			return ts, t
		default:
			return nil, t
		}
	}
	return nil, t
}

// foldInt 把表达式折叠为常量整数。枚举与宏常量参与折叠。
func (b *graphBuilder) foldInt(ts *sitter.Node) (int64, bool) {
	expr := b.buildExpr(ts)
	return valueflow.ExecuteInt(expr, valueflow.NewProgramMemory(), nil)
}

// initValueOf 取声明符的初始化表达式
func initValueOf(declTS *sitter.Node) *sitter.Node {
	if declTS.Type() != "init_declarator" {
		return nil
	}
	return declTS.ChildByFieldName("value")
}

// impliedArrayLen 无显式长度的数组由初始化推断：初始化列表取项数，
// 字符串字面量含终止符
func impliedArrayLen(declTS, valueTS *sitter.Node, unit *ParsedUnit) int64 {
	d := declTS.ChildByFieldName("declarator")
	if d == nil || d.Type() != "array_declarator" {
		return -1
	}
	if d.ChildByFieldName("size") != nil {
		return -1
	}
	switch valueTS.Type() {
	case "initializer_list":
		return int64(valueTS.NamedChildCount())
	case "string_literal":
		return int64(len(decodeCString(unit.Text(valueTS)))) + 1
	}
	return -1
}

func hasConstQualifier(ts *sitter.Node) bool {
	for i := 0; i < int(ts.ChildCount()); i++ {
		if ts.Child(i).Type() == "type_qualifier" {
			return true
		}
	}
	return false
}

// subscriptIndex 兼容不同语法版本的下标字段命名
func subscriptIndex(ts *sitter.Node) *sitter.Node {
	if idx := ts.ChildByFieldName("index"); idx != nil {
		return idx
	}
	if idx := ts.ChildByFieldName("indices"); idx != nil {
		if idx.NamedChildCount() > 0 {
			return idx.NamedChild(0)
		}
		return idx
	}
	// 子节点形态 [object, "[", index, "]"]
	if ts.NamedChildCount() >= 2 {
		return ts.NamedChild(1)
	}
	return nil
}

func firstExprChild(ts *sitter.Node) *sitter.Node {
	for i := 0; i < int(ts.NamedChildCount()); i++ {
		if c := ts.NamedChild(i); c.Type() != "comment" {
			return c
		}
	}
	return nil
}

// normalizeName 剥掉 std:: 限定，知识库按裸名登记
func normalizeName(name string) string {
	return strings.TrimPrefix(name, "std::")
}

// decodeCString 解码 C 字符串字面量：剥引号与前缀，展开转义序列
func decodeCString(raw string) string {
	i := strings.IndexByte(raw, '"')
	j := strings.LastIndexByte(raw, '"')
	if i < 0 || j <= i {
		return ""
	}
	body := raw[i+1 : j]
	var sb strings.Builder
	for k := 0; k < len(body); k++ {
		c := body[k]
		if c != '\\' || k+1 >= len(body) {
			sb.WriteByte(c)
			continue
		}
		k++
		switch e := body[k]; e {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'a':
			sb.WriteByte(7)
		case 'b':
			sb.WriteByte(8)
		case 'f':
			sb.WriteByte(12)
		case 'v':
			sb.WriteByte(11)
		case '\\', '"', '\'', '?':
			sb.WriteByte(e)
		case 'x':
			v, used := 0, 0
			for used < 2 && k+1+used < len(body) && isHexDigit(body[k+1+used]) {
				v = v*16 + hexVal(body[k+1+used])
				used++
			}
			k += used
			sb.WriteByte(byte(v))
		default:
			if e >= '0' && e <= '7' {
				v, used := int(e-'0'), 0
				for used < 2 && k+1+used < len(body) && body[k+1+used] >= '0' && body[k+1+used] <= '7' {
					v = v*8 + int(body[k+1+used]-'0')
					used++
				}
				k += used
				sb.WriteByte(byte(v))
			} else {
				sb.WriteByte(e)
			}
		}
	}
	return sb.String()
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

// CompileReturnExpr 把知识库的返回值模板编译为可共享的表达式树。
// 模板中 arg1..argN 为实参占位符，编译后的模板不可变。
func CompileReturnExpr(src string) (*valueflow.ReturnExpr, error) {
	wrapped := []byte("long __tmpl__(void) { return " + src + "; }")
	unit, err := ParseSource(context.Background(), wrapped, "cpp")
	if err != nil {
		return nil, err
	}
	exprTS := findTemplateExpr(unit.Root)
	if exprTS == nil {
		return nil, fmt.Errorf("invalid return template: %q", src)
	}
	b := newGraphBuilder(unit)
	b.template = true
	b.pushScope()
	root := b.buildExpr(exprTS)
	if root == nil || root.Kind == valueflow.NodeDynCast {
		return nil, fmt.Errorf("unsupported return template: %q", src)
	}
	return &valueflow.ReturnExpr{Root: root, Args: b.tmplArgs}, nil
}

func findTemplateExpr(root *sitter.Node) *sitter.Node {
	var ret *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || ret != nil {
			return
		}
		if n.Type() == "return_statement" {
			ret = firstExprChild(n)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return ret
}
