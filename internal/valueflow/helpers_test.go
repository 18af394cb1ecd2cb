package valueflow

// 本文件提供测试用的图构建与协作者桩实现。

// fakeLibrary 测试知识库：容器成员按名字分类，纯函数与返回值模板
// 由用例注入。
type fakeLibrary struct {
	pure      map[string]bool
	templates map[string]*ReturnExpr
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{pure: make(map[string]bool), templates: make(map[string]*ReturnExpr)}
}

func (l *fakeLibrary) IsPure(name string) bool {
	return l.pure[name]
}

func (l *fakeLibrary) ReturnValue(name string) (*ReturnExpr, bool) {
	t, ok := l.templates[name]
	return t, ok
}

func (l *fakeLibrary) ContainerYield(member string) Yield {
	switch member {
	case "size", "length", "count":
		return YieldSize
	case "empty":
		return YieldEmpty
	case "front", "back", "at":
		return YieldItem
	case "begin":
		return YieldIteratorBegin
	case "end":
		return YieldIteratorEnd
	}
	return YieldNone
}

// fakeOracle 测试修改判定器，默认一切不变
type fakeOracle struct {
	changed       func(expr *Node, from, to int) bool
	changedByCall func(arg *Node, indirect int) bool
}

func (o *fakeOracle) Changed(expr *Node, from, to int) bool {
	if o.changed != nil {
		return o.changed(expr, from, to)
	}
	return false
}

func (o *fakeOracle) ChangedSkipDeadCode(expr *Node, from, to int, _ func(*Node) (int64, bool)) bool {
	return o.Changed(expr, from, to)
}

func (o *fakeOracle) ChangedByCall(arg *Node, indirect int) bool {
	if o.changedByCall != nil {
		return o.changedByCall(arg, indirect)
	}
	return false
}

// fakeResolver 名字到函数定义的直查表
type fakeResolver map[string]*Function

func (r fakeResolver) Resolve(name string) (*Function, bool) {
	fn, ok := r[name]
	return fn, ok
}

func newTestSettings() (*Settings, *fakeLibrary, *fakeOracle, fakeResolver) {
	lib := newFakeLibrary()
	oracle := &fakeOracle{}
	resolver := fakeResolver{}
	s := &Settings{
		Library:   lib,
		Oracle:    oracle,
		Infer:     IntegralInferModel{},
		Functions: resolver,
	}
	return s, lib, oracle, resolver
}

// fnBuilder 以源文档顺序构造函数体的测试辅助
type fnBuilder struct {
	g     *Graph
	fn    *Function
	stack []*Block
}

func newFnBuilder(g *Graph, name string) *fnBuilder {
	body := &Block{Kind: BlockFunction, PosStart: g.NextPos()}
	fn := &Function{Name: name, Body: body, Graph: g}
	return &fnBuilder{g: g, fn: fn, stack: []*Block{body}}
}

func (b *fnBuilder) cur() *Block {
	return b.stack[len(b.stack)-1]
}

func (b *fnBuilder) addStmt(s *Stmt) *Stmt {
	s.Pos = b.g.NextPos()
	s.EndPos = s.Pos
	b.cur().AddStmt(s)
	if s.Expr != nil {
		s.Expr.OwnerStmt = s
	}
	return s
}

// expr 追加表达式语句
func (b *fnBuilder) expr(n *Node) *Stmt {
	return b.addStmt(&Stmt{Kind: StmtExpr, Expr: n})
}

// assign 追加 lhs = rhs 语句
func (b *fnBuilder) assign(lhs, rhs *Node) *Stmt {
	return b.expr(b.g.Binop("=", lhs, rhs))
}

// ret 追加 return 语句
func (b *fnBuilder) ret(n *Node) *Stmt {
	return b.addStmt(&Stmt{Kind: StmtReturn, Expr: n})
}

func (b *fnBuilder) pushBlock(kind BlockKind, cond *Node, owner *Stmt) *Block {
	blk := &Block{Kind: kind, Cond: cond, Parent: b.cur(), Owner: owner, PosStart: b.g.NextPos()}
	b.stack = append(b.stack, blk)
	return blk
}

// beginIf 开始 if 分支体，cond 标记为条件根
func (b *fnBuilder) beginIf(cond *Node) *Stmt {
	cond.CondRoot = true
	s := b.addStmt(&Stmt{Kind: StmtIf, Expr: cond})
	s.Then = b.pushBlock(BlockIf, cond, s)
	return s
}

// beginElse 关闭 then 体并开始 else 体
func (b *fnBuilder) beginElse() {
	thenBlk := b.cur()
	thenBlk.PosEnd = b.g.NextPos()
	owner := thenBlk.Owner
	b.stack = b.stack[:len(b.stack)-1]
	elseBlk := &Block{Kind: BlockElse, Cond: owner.Expr, Parent: b.cur(), Owner: owner, PosStart: b.g.NextPos()}
	owner.Else = elseBlk
	b.stack = append(b.stack, elseBlk)
}

// beginWhile 开始 while 循环体
func (b *fnBuilder) beginWhile(cond *Node) *Stmt {
	cond.CondRoot = true
	s := b.addStmt(&Stmt{Kind: StmtWhile, Expr: cond})
	s.Body = b.pushBlock(BlockWhile, cond, s)
	return s
}

// beginDo 开始 do-while 循环体，cond 允许为 nil
func (b *fnBuilder) beginDo(cond *Node) *Stmt {
	s := b.addStmt(&Stmt{Kind: StmtDoWhile, Expr: cond})
	s.Body = b.pushBlock(BlockDo, cond, s)
	return s
}

// beginBlock 开始匿名块
func (b *fnBuilder) beginBlock() *Stmt {
	s := b.addStmt(&Stmt{Kind: StmtBlock})
	s.Body = b.pushBlock(BlockAnon, nil, s)
	return s
}

// forInit 构造 for 初始化语句，不进入任何块的语句序列
func (b *fnBuilder) forInit(lhs, rhs *Node) *Stmt {
	s := &Stmt{Kind: StmtDecl, Expr: b.g.Binop("=", lhs, rhs)}
	s.Pos = b.g.NextPos()
	s.EndPos = s.Pos
	s.Expr.OwnerStmt = s
	return s
}

// beginFor 开始 for 循环体，init 与 cond 可为 nil
func (b *fnBuilder) beginFor(init *Stmt, cond *Node) *Stmt {
	if cond != nil {
		cond.CondRoot = true
	}
	s := b.addStmt(&Stmt{Kind: StmtFor, Expr: cond, Init: init})
	s.Body = b.pushBlock(BlockFor, cond, s)
	if init != nil {
		init.Block = s.Body
	}
	return s
}

// setPost 体构造完后挂接 for 步进语句，文档序排在体后
func (b *fnBuilder) setPost(forStmt *Stmt, expr *Node) *Stmt {
	p := &Stmt{Kind: StmtExpr, Expr: expr}
	p.Pos = b.g.NextPos()
	p.EndPos = p.Pos
	expr.OwnerStmt = p
	p.Block = forStmt.Body
	forStmt.Post = p
	return p
}

// end 关闭当前块并回填覆盖范围
func (b *fnBuilder) end() {
	blk := b.cur()
	blk.PosEnd = b.g.NextPos()
	b.stack = b.stack[:len(b.stack)-1]
	if blk.Owner != nil {
		blk.Owner.EndPos = blk.PosEnd
	}
}

// param 注册形参
func (b *fnBuilder) param(name string) *Node {
	p := b.g.Name(name)
	b.fn.Params = append(b.fn.Params, p)
	return p
}
