package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// usage records how each member expression in a program is used, keyed by
// the wrapper of the identifier or member node. It complements the binding
// index, which only knows that an identifier was read.
type usage struct {
	ast.NoopVisitor
	// memberOf maps an identifier that is the object of `id.x` / `id[x]` to
	// the member expression's wrapper.
	memberOf map[*ast.Expression]*ast.Expression
	// written holds member wrappers that are assigned, updated or deleted,
	// mapped to the writing expression.
	written map[*ast.Expression]*ast.Expression
	// callOf maps a callee wrapper to its call expression's wrapper.
	callOf map[*ast.Expression]*ast.Expression
	// stmtOf maps an assignment wrapper to the statement it forms on its own.
	stmtOf map[*ast.Expression]*ast.Statement
	// order numbers expression wrappers in pre-order.
	order map[*ast.Expression]int
}

func collectUsage(p *ast.Program) *usage {
	u := &usage{
		memberOf: make(map[*ast.Expression]*ast.Expression),
		written:  make(map[*ast.Expression]*ast.Expression),
		callOf:   make(map[*ast.Expression]*ast.Expression),
		stmtOf:   make(map[*ast.Expression]*ast.Statement),
		order:    make(map[*ast.Expression]int),
	}
	u.V = u
	p.VisitWith(u)
	return u
}

func (u *usage) VisitStatement(n *ast.Statement) {
	if es, ok := n.Stmt.(*ast.ExpressionStatement); ok && utils.HasExpr(es.Expression) {
		u.stmtOf[es.Expression] = n
	}
	n.VisitChildrenWith(u)
}

func (u *usage) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	u.order[n] = len(u.order)
	switch e := n.Expr.(type) {
	case *ast.MemberExpression:
		if utils.HasExpr(e.Object) {
			if _, ok := e.Object.Expr.(*ast.Identifier); ok {
				u.memberOf[e.Object] = n
			}
		}
	case *ast.AssignExpression:
		if utils.HasExpr(e.Left) {
			if _, ok := e.Left.Expr.(*ast.MemberExpression); ok {
				u.written[e.Left] = n
			}
		}
	case *ast.UpdateExpression:
		if utils.HasExpr(e.Operand) {
			if _, ok := e.Operand.Expr.(*ast.MemberExpression); ok {
				u.written[e.Operand] = n
			}
		}
	case *ast.UnaryExpression:
		if e.Operator.String() == "delete" && utils.HasExpr(e.Operand) {
			u.written[e.Operand] = n
		}
	case *ast.CallExpression:
		if utils.HasExpr(e.Callee) {
			u.callOf[e.Callee] = n
		}
	}
	n.VisitChildrenWith(u)
}

type memberUse struct {
	ref    scope.Reference
	member *ast.Expression
	prop   string
	call   *ast.Expression
	write  *ast.Expression
}

// memberUses classifies every read of b. It fails if any read is not the
// object of a static member access.
func (u *usage) memberUses(b *scope.Binding) ([]memberUse, bool) {
	out := make([]memberUse, 0, len(b.References))
	for _, ref := range b.References {
		m, ok := u.memberOf[ref.Site]
		if !ok {
			return nil, false
		}
		prop, ok := utils.MemberPropName(m.Expr.(*ast.MemberExpression).Property)
		if !ok {
			return nil, false
		}
		out = append(out, memberUse{
			ref:    ref,
			member: m,
			prop:   prop,
			call:   u.callOf[m],
			write:  u.written[m],
		})
	}
	return out, true
}
