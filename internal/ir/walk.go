package ir

// The analyses share two traversal shapes: the expressions a statement
// evaluates, and the nested statement blocks it controls. Keeping both in
// one place means a new statement kind only needs wiring here.

// StmtExprs calls fn for every expression the statement evaluates directly,
// in evaluation order. It does not descend into nested blocks.
func StmtExprs(s Stmt, fn func(Expr)) {
	visit := func(e Expr) {
		if e != nil {
			fn(e)
		}
	}
	switch st := s.(type) {
	case *Bind:
		visit(st.Value)
	case *Assign:
		visit(st.Value)
	case *SetField:
		visit(st.Object)
		visit(st.Value)
	case *SetIndex:
		visit(st.Collection)
		visit(st.Index)
		visit(st.Value)
	case *Push:
		visit(st.Collection)
		visit(st.Value)
	case *Pop:
		visit(st.Collection)
	case *AddTo:
		visit(st.Collection)
		visit(st.Value)
	case *RemoveFrom:
		visit(st.Collection)
		visit(st.Value)
	case *InsertAt:
		visit(st.Collection)
		visit(st.Index)
		visit(st.Value)
	case *RemoveAt:
		visit(st.Collection)
		visit(st.Index)
	case *Increase:
		visit(st.Target)
		visit(st.Amount)
	case *Decrease:
		visit(st.Target)
		visit(st.Amount)
	case *Resolve:
		visit(st.Target)
		visit(st.Value)
	case *If:
		visit(st.Cond)
	case *While:
		visit(st.Cond)
	case *ForEach:
		visit(st.Iterable)
	case *Return:
		visit(st.Value)
	case *ExprStmt:
		visit(st.X)
	case *Give:
		visit(st.Value)
	case *Show:
		visit(st.Value)
	case *Mount:
		visit(st.Path)
	case *Sync:
		visit(st.Topic)
	case *Sleep:
		visit(st.Duration)
	case *Listen:
		visit(st.Addr)
	case *Connect:
		visit(st.Addr)
	case *Send:
		visit(st.Channel)
		visit(st.Value)
	case *Receive:
		visit(st.Channel)
	case *Launch:
		if st.Call != nil {
			fn(st.Call)
		}
	case *Await:
		visit(st.Handle)
	case *Assert:
		visit(st.Cond)
	}
}

// SubExprs calls fn for every direct child expression of e.
func SubExprs(e Expr, fn func(Expr)) {
	visit := func(x Expr) {
		if x != nil {
			fn(x)
		}
	}
	switch ex := e.(type) {
	case *Binary:
		visit(ex.L)
		visit(ex.R)
	case *Unary:
		visit(ex.X)
	case *CallExpr:
		for _, a := range ex.Args {
			visit(a)
		}
	case *Index:
		visit(ex.Collection)
		visit(ex.Idx)
	case *FieldAccess:
		visit(ex.Object)
	case *ListLit:
		for _, el := range ex.Elems {
			visit(el)
		}
	case *New:
		for _, init := range ex.Inits {
			visit(init.Value)
		}
	case *Copy:
		visit(ex.Value)
	case *Len:
		visit(ex.Collection)
	case *Contains:
		visit(ex.Collection)
		visit(ex.Value)
	}
}

// WalkExpr calls fn for e and every expression beneath it, preorder.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	SubExprs(e, func(sub Expr) { WalkExpr(sub, fn) })
}

// ChildBlocks returns the statement blocks nested under s via control flow.
// Function bodies are not included: nested functions get independent
// analysis.
func ChildBlocks(s Stmt) [][]Stmt {
	switch st := s.(type) {
	case *If:
		if st.Else != nil {
			return [][]Stmt{st.Then, st.Else}
		}
		return [][]Stmt{st.Then}
	case *While:
		return [][]Stmt{st.Body}
	case *ForEach:
		return [][]Stmt{st.Body}
	case *Zone:
		return [][]Stmt{st.Body}
	case *Listen:
		return [][]Stmt{st.Body}
	default:
		return nil
	}
}

// WalkStmts calls fn for every statement in block and, recursively, every
// statement in its control-flow children. Function bodies are skipped.
func WalkStmts(block []Stmt, fn func(Stmt)) {
	for _, s := range block {
		fn(s)
		for _, child := range ChildBlocks(s) {
			WalkStmts(child, fn)
		}
	}
}
