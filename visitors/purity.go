package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// pureExpr reports whether evaluating e can have no observable effect.
// Member reads are excluded since getters and undefined objects can throw.
func pureExpr(e *ast.Expression) bool {
	if !utils.HasExpr(e) {
		return true
	}
	switch n := e.Expr.(type) {
	case *ast.StringLiteral, *ast.NumberLiteral, *ast.BooleanLiteral, *ast.NullLiteral,
		*ast.Identifier, *ast.FunctionLiteral, *ast.ArrowFunctionLiteral, *ast.ThisExpression:
		return true
	case *ast.ArrayLiteral:
		for i := range n.Value {
			if !pureExpr(&n.Value[i]) {
				return false
			}
		}
		return true
	case *ast.ObjectLiteral:
		for i := range n.Value {
			switch p := n.Value[i].Prop.(type) {
			case *ast.PropertyKeyed:
				if !pureExpr(p.Key) || !pureExpr(p.Value) {
					return false
				}
			default:
				return false
			}
		}
		return true
	case *ast.UnaryExpression:
		return n.Operator.String() != "delete" && pureExpr(n.Operand)
	case *ast.BinaryExpression:
		return pureExpr(n.Left) && pureExpr(n.Right)
	case *ast.LogicalExpression:
		return pureExpr(n.Left) && pureExpr(n.Right)
	case *ast.ConditionalExpression:
		return pureExpr(n.Test) && pureExpr(n.Consequent) && pureExpr(n.Alternate)
	case *ast.SequenceExpression:
		for i := range n.Sequence {
			if !pureExpr(&n.Sequence[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ReturnedString reports the string literal fn returns on every path, when
// the body does nothing but choose between returns of that literal. A body
// with other statements, or with a path that falls off the end, yields false.
func ReturnedString(fn *ast.FunctionLiteral) (string, bool) {
	if fn == nil || fn.Body == nil {
		return "", false
	}
	var (
		value string
		seen  bool
	)
	var walk func(list []ast.Statement) (terminates bool, ok bool)
	walk = func(list []ast.Statement) (bool, bool) {
		for i := range list {
			switch s := list[i].Stmt.(type) {
			case *ast.EmptyStatement:
			case *ast.ReturnStatement:
				if !utils.HasExpr(s.Argument) {
					return false, false
				}
				lit, ok := s.Argument.Expr.(*ast.StringLiteral)
				if !ok || (seen && lit.Value != value) {
					return false, false
				}
				value, seen = lit.Value, true
				return true, true
			case *ast.BlockStatement:
				term, ok := walk(s.List)
				if !ok {
					return false, false
				}
				if term {
					return true, true
				}
			case *ast.IfStatement:
				if !pureExpr(s.Test) {
					return false, false
				}
				thenTerm, ok := walk(utils.StmtList(s.Consequent))
				if !ok {
					return false, false
				}
				elseTerm, ok := walk(utils.StmtList(s.Alternate))
				if !ok {
					return false, false
				}
				if thenTerm && elseTerm {
					return true, true
				}
			case *ast.VariableDeclaration:
				for j := range s.List {
					if !pureExpr(s.List[j].Initializer) {
						return false, false
					}
				}
			default:
				return false, false
			}
		}
		return false, true
	}
	term, ok := walk(fn.Body.List)
	if !ok || !term || !seen {
		return "", false
	}
	return value, true
}
