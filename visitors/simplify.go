package visitors

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// foldableCall lists the calls the simplifier may evaluate. Calls the key
// extractors match on (fromCharCode, join, reverse, slice) are left alone.
func foldableCall(name string, args []evaluator.Value) bool {
	switch {
	case name == "parseInt", name == "parseFloat", name == "Number":
		return true
	case strings.HasPrefix(name, "Math."):
		return true
	case name == ".split":
		return len(args) == 1 && args[0].IsString() && args[0].Str != ""
	}
	return false
}

type simplifier struct {
	ast.NoopVisitor
	ev      evaluator.Evaluator
	changes int
}

func newSimplifier() *simplifier {
	s := &simplifier{ev: evaluator.Evaluator{AllowCall: foldableCall}}
	s.V = s
	return s
}

// Simplify folds constant expressions, canonicalises literals and prunes
// statically decided branches. It returns the number of rewrites; a second
// run over its own output returns zero.
func Simplify(p *ast.Program) int {
	s := newSimplifier()
	s.ev.Shadowed = boundNames(p)
	p.Body = s.simplifyList(p.Body)
	return s.changes
}

// boundNames reports names declared anywhere in p. Scoping is ignored, so a
// parameter named parseInt keeps every parseInt call from folding.
func boundNames(p *ast.Program) func(string) bool {
	names := make(map[string]bool)
	for _, b := range scope.Build(p).Bindings() {
		names[b.Name] = true
	}
	return func(name string) bool { return names[name] }
}

func (s *simplifier) VisitBlockStatement(n *ast.BlockStatement) {
	n.List = s.simplifyList(n.List)
}

func (s *simplifier) VisitStatement(n *ast.Statement) {
	if !utils.HasStmt(n) {
		return
	}
	if sw, ok := n.Stmt.(*ast.SwitchStatement); ok {
		s.VisitExpression(sw.Discriminant)
		for i := range sw.Body {
			if utils.HasExpr(sw.Body[i].Test) {
				s.VisitExpression(sw.Body[i].Test)
			}
			sw.Body[i].Consequent = s.simplifyList(sw.Body[i].Consequent)
		}
		return
	}
	n.VisitChildrenWith(s)
}

func (s *simplifier) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	n.VisitChildrenWith(s)

	switch e := n.Expr.(type) {
	case *ast.StringLiteral:
		n.Expr = &ast.StringLiteral{Value: e.Value}
	case *ast.NumberLiteral:
		n.Expr = &ast.NumberLiteral{Value: e.Value}
	case *ast.UnaryExpression:
		if e.Operator.String() == "!" && utils.HasExpr(e.Operand) {
			if obj, ok := e.Operand.Expr.(*ast.ObjectLiteral); ok && len(obj.Value) == 0 {
				n.Expr = &ast.BooleanLiteral{Value: false}
				s.changes++
				return
			}
		}
		s.fold(n)
	case *ast.LogicalExpression:
		s.foldLogical(n, e)
	case *ast.BinaryExpression, *ast.MemberExpression, *ast.CallExpression:
		s.fold(n)
	case *ast.ConditionalExpression:
		if !utils.HasExpr(e.Consequent) || !utils.HasExpr(e.Alternate) {
			return
		}
		test, ok := s.ev.Eval(e.Test)
		if !ok {
			return
		}
		if test.ToBoolean() {
			n.Expr = e.Consequent.Expr
		} else {
			n.Expr = e.Alternate.Expr
		}
		s.changes++
	}
}

func (s *simplifier) fold(n *ast.Expression) {
	v, ok := s.ev.Eval(n)
	if !ok {
		return
	}
	lit, ok := v.ToExpr()
	if !ok {
		return
	}
	n.Expr = lit
	s.changes++
}

// foldLogical shortens `&&`, `||` and `??` whose left side is known even when
// the right side is not.
func (s *simplifier) foldLogical(n *ast.Expression, e *ast.LogicalExpression) {
	if !utils.HasExpr(e.Left) || !utils.IsLiteral(e.Left.Expr) || !utils.HasExpr(e.Right) {
		return
	}
	left, ok := s.ev.Eval(e.Left)
	if !ok {
		return
	}
	if evaluator.ShortCircuits(e.Operator.String(), left) {
		n.Expr = e.Left.Expr
	} else {
		n.Expr = e.Right.Expr
	}
	s.changes++
}

func (s *simplifier) simplifyList(list []ast.Statement) []ast.Statement {
	out := make([]ast.Statement, 0, len(list))
	for i := range list {
		s.VisitStatement(&list[i])
		out = s.appendSimplified(out, list[i])
	}
	return out
}

// appendSimplified applies the statement-level rewrites to an already folded
// statement and appends the result.
func (s *simplifier) appendSimplified(out []ast.Statement, st ast.Statement) []ast.Statement {
	switch x := st.Stmt.(type) {
	case nil:
		return out
	case *ast.EmptyStatement:
		s.changes++
		return out
	case *ast.BlockStatement:
		if hasLexical(x.List) {
			return append(out, st)
		}
		s.changes++
		for _, inner := range x.List {
			out = s.appendSimplified(out, inner)
		}
		return out
	case *ast.IfStatement:
		taken, ok := literalTruth(x.Test)
		if !ok {
			return append(out, st)
		}
		s.changes++
		branch := x.Consequent
		if !taken {
			branch = x.Alternate
		}
		if !utils.HasStmt(branch) {
			return out
		}
		return s.appendSimplified(out, *branch)
	case *ast.WhileStatement:
		if taken, ok := literalTruth(x.Test); ok && !taken {
			s.changes++
			return out
		}
	}
	return append(out, st)
}

// literalTruth decides a branch test that is a literal or a comparison of two
// numeric literals.
func literalTruth(test *ast.Expression) (bool, bool) {
	if !utils.HasExpr(test) {
		return false, false
	}
	switch t := test.Expr.(type) {
	case *ast.BooleanLiteral, *ast.NumberLiteral, *ast.StringLiteral, *ast.NullLiteral:
		v, ok := evaluator.Eval(test)
		return v.ToBoolean(), ok
	case *ast.BinaryExpression:
		if !utils.HasExpr(t.Left) || !utils.HasExpr(t.Right) {
			return false, false
		}
		_, lok := t.Left.Expr.(*ast.NumberLiteral)
		_, rok := t.Right.Expr.(*ast.NumberLiteral)
		if !lok || !rok {
			return false, false
		}
		switch t.Operator.String() {
		case "<", ">", "<=", ">=", "==", "===", "!=", "!==":
			v, ok := evaluator.Eval(test)
			return v.ToBoolean(), ok
		}
	}
	return false, false
}

// hasLexical reports whether splicing list into its parent could change
// what a declaration is visible to.
func hasLexical(list []ast.Statement) bool {
	for i := range list {
		switch d := list[i].Stmt.(type) {
		case *ast.VariableDeclaration:
			if utils.DeclKind(d) != "var" {
				return true
			}
		case *ast.FunctionDeclaration, *ast.ClassDeclaration:
			return true
		}
	}
	return false
}
