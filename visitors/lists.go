package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// listWalker calls fn for every statement list in the program: the body,
// blocks, function bodies and switch cases. Lists are visited parent first.
type listWalker struct {
	ast.NoopVisitor
	fn func(list *[]ast.Statement)
}

func forEachList(p *ast.Program, fn func(list *[]ast.Statement)) {
	w := &listWalker{fn: fn}
	w.V = w
	body := []ast.Statement(p.Body)
	fn(&body)
	p.Body = body
	for i := range p.Body {
		w.VisitStatement(&p.Body[i])
	}
}

func (w *listWalker) VisitBlockStatement(n *ast.BlockStatement) {
	list := []ast.Statement(n.List)
	w.fn(&list)
	n.List = list
	for i := range n.List {
		w.VisitStatement(&n.List[i])
	}
}

func (w *listWalker) VisitStatement(n *ast.Statement) {
	if !utils.HasStmt(n) {
		return
	}
	if sw, ok := n.Stmt.(*ast.SwitchStatement); ok {
		w.VisitExpression(sw.Discriminant)
		for i := range sw.Body {
			list := []ast.Statement(sw.Body[i].Consequent)
			w.fn(&list)
			sw.Body[i].Consequent = list
			for j := range sw.Body[i].Consequent {
				w.VisitStatement(&sw.Body[i].Consequent[j])
			}
		}
		return
	}
	n.VisitChildrenWith(w)
}
