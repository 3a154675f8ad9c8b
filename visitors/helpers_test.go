package visitors

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p, err := parser.ParseFile(src)
	require.NoError(t, err)
	return p
}

func render(p *ast.Program) string {
	return utils.Source(p.Body...)
}

// normalized prints src through the same generator as render.
func normalized(t *testing.T, src string) string {
	t.Helper()
	return render(parse(t, src))
}

type callCollector struct {
	ast.NoopVisitor
	names []string
}

func (c *callCollector) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	if call, ok := n.Expr.(*ast.CallExpression); ok {
		if name, ok := utils.IdentName(call.Callee); ok {
			c.names = append(c.names, name)
		}
	}
	n.VisitChildrenWith(c)
}

// calledNames lists the identifiers called anywhere in p, in source order.
func calledNames(p *ast.Program) []string {
	c := &callCollector{}
	c.V = c
	p.VisitWith(c)
	return c.names
}

type stmtCounter struct {
	ast.NoopVisitor
	match func(ast.Stmt) bool
	n     int
}

func (c *stmtCounter) VisitStatement(n *ast.Statement) {
	if !utils.HasStmt(n) {
		return
	}
	if c.match(n.Stmt) {
		c.n++
	}
	n.VisitChildrenWith(c)
}

func countStmts(p *ast.Program, match func(ast.Stmt) bool) int {
	c := &stmtCounter{match: match}
	c.V = c
	p.VisitWith(c)
	return c.n
}

func isLoop(s ast.Stmt) bool {
	switch s.(type) {
	case *ast.WhileStatement, *ast.ForStatement, *ast.DoWhileStatement:
		return true
	}
	return false
}

func isIf(s ast.Stmt) bool {
	_, ok := s.(*ast.IfStatement)
	return ok
}

// lastCallArgs returns the arguments of the call in the final statement.
func lastCallArgs(t *testing.T, p *ast.Program) ast.Expressions {
	t.Helper()
	require.NotEmpty(t, p.Body)
	es, ok := p.Body[len(p.Body)-1].Stmt.(*ast.ExpressionStatement)
	require.True(t, ok, "last statement is not an expression")
	call, ok := es.Expression.Expr.(*ast.CallExpression)
	require.True(t, ok, "last statement is not a call")
	return call.ArgumentList
}

func stringArg(t *testing.T, e ast.Expression) string {
	t.Helper()
	lit, ok := e.Expr.(*ast.StringLiteral)
	require.True(t, ok, "argument %s is not a string literal", utils.ExprSource(&e))
	return lit.Value
}
