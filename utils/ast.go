package utils

import (
	"math"
	"strconv"
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
)

// HasExpr reports whether e wraps an actual expression. The parser allocates
// wrappers for optional slots, so a non-nil pointer is not enough.
func HasExpr(e *ast.Expression) bool {
	return e != nil && e.Expr != nil
}

func HasStmt(s *ast.Statement) bool {
	return s != nil && s.Stmt != nil
}

func IdentName(e *ast.Expression) (string, bool) {
	if !HasExpr(e) {
		return "", false
	}
	id, ok := e.Expr.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name, true
}

func IsIdent(e *ast.Expression, name string) bool {
	got, ok := IdentName(e)
	return ok && got == name
}

func Ident(name string) *ast.Expression {
	return &ast.Expression{Expr: &ast.Identifier{Name: name}}
}

// MemberPropName returns the static property name of a member access, either
// `a.name` or `a["name"]`.
func MemberPropName(mp *ast.MemberProperty) (string, bool) {
	if mp == nil || mp.Prop == nil {
		return "", false
	}
	switch p := mp.Prop.(type) {
	case *ast.Identifier:
		return p.Name, true
	case *ast.ComputedProperty:
		if !HasExpr(p.Expr) {
			return "", false
		}
		switch key := p.Expr.Expr.(type) {
		case *ast.StringLiteral:
			return key.Value, true
		case *ast.NumberLiteral:
			return NumberKey(key.Value), true
		default:
			return "", false
		}
	default:
		return "", false
	}
}

// MemberIndex returns the integer index of `a[3]` or `a["3"]`.
func MemberIndex(mp *ast.MemberProperty) (int, bool) {
	if mp == nil {
		return 0, false
	}
	cp, ok := mp.Prop.(*ast.ComputedProperty)
	if !ok || !HasExpr(cp.Expr) {
		return 0, false
	}
	switch key := cp.Expr.Expr.(type) {
	case *ast.NumberLiteral:
		if key.Value < 0 || key.Value != math.Trunc(key.Value) || key.Value > math.MaxInt32 {
			return 0, false
		}
		return int(key.Value), true
	case *ast.StringLiteral:
		n, err := strconv.Atoi(key.Value)
		if err != nil || n < 0 || strconv.Itoa(n) != key.Value {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// PropertyKeyName returns the static name of an object literal key. A
// computed key only has one when it is a string or number literal.
func PropertyKeyName(prop *ast.PropertyKeyed) (string, bool) {
	if prop == nil || !HasExpr(prop.Key) {
		return "", false
	}
	switch k := prop.Key.Expr.(type) {
	case *ast.Identifier:
		if prop.Computed {
			return "", false
		}
		return k.Name, true
	case *ast.StringLiteral:
		return k.Value, true
	case *ast.NumberLiteral:
		return NumberKey(k.Value), true
	default:
		return "", false
	}
}

// NumberKey formats an integral float the way JS would when it is used as a
// property key.
func NumberKey(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// MemberPath flattens `a.b.c` into "a.b.c". Anything that is not a chain of
// identifiers and static keys yields false.
func MemberPath(e *ast.Expression) (string, bool) {
	if !HasExpr(e) {
		return "", false
	}
	switch n := e.Expr.(type) {
	case *ast.Identifier:
		return n.Name, true
	case *ast.MemberExpression:
		obj, ok := MemberPath(n.Object)
		if !ok {
			return "", false
		}
		prop, ok := MemberPropName(n.Property)
		if !ok {
			return "", false
		}
		return obj + "." + prop, true
	}
	return "", false
}

// MethodCall splits `recv.method(args)` into its parts.
func MethodCall(e *ast.Expression) (recv *ast.Expression, method string, args []ast.Expression, ok bool) {
	if !HasExpr(e) {
		return nil, "", nil, false
	}
	call, isCall := e.Expr.(*ast.CallExpression)
	if !isCall || !HasExpr(call.Callee) {
		return nil, "", nil, false
	}
	member, isMember := call.Callee.Expr.(*ast.MemberExpression)
	if !isMember || !HasExpr(member.Object) {
		return nil, "", nil, false
	}
	name, named := MemberPropName(member.Property)
	if !named {
		return nil, "", nil, false
	}
	return member.Object, name, call.ArgumentList, true
}

func UnwrapSequenceTail(expr ast.Expr) ast.Expr {
	for {
		seq, ok := expr.(*ast.SequenceExpression)
		if !ok || len(seq.Sequence) == 0 {
			return expr
		}
		expr = seq.Sequence[len(seq.Sequence)-1].Expr
	}
}

func DeclaratorName(d *ast.VariableDeclarator) (string, bool) {
	if d == nil || d.Target == nil || d.Target.Target == nil {
		return "", false
	}
	id, ok := d.Target.Target.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name, true
}

func FunctionName(fn *ast.FunctionLiteral) string {
	if fn == nil || fn.Name == nil {
		return ""
	}
	return fn.Name.Name
}

// StmtList returns the statements a branch executes: the block's list, or the
// statement itself.
func StmtList(s *ast.Statement) []ast.Statement {
	if !HasStmt(s) {
		return nil
	}
	if block, ok := s.Stmt.(*ast.BlockStatement); ok {
		return block.List
	}
	return []ast.Statement{*s}
}

func ExprStmt(e ast.Expr) ast.Statement {
	return ast.Statement{Stmt: &ast.ExpressionStatement{Expression: &ast.Expression{Expr: e}}}
}

func Block(list []ast.Statement) *ast.Statement {
	return &ast.Statement{Stmt: &ast.BlockStatement{List: list}}
}

// Source prints statements with the go-fast generator.
func Source(stmts ...ast.Statement) string {
	return generator.Generate(&ast.Program{Body: stmts})
}

// ExprSource prints a single expression without the trailing semicolon.
func ExprSource(e *ast.Expression) string {
	if !HasExpr(e) {
		return ""
	}
	out := strings.TrimSpace(Source(ast.Statement{Stmt: &ast.ExpressionStatement{Expression: e}}))
	out = strings.TrimSuffix(out, ";")
	return strings.TrimSpace(out)
}

// DeclKind returns "var", "let" or "const" for a declaration.
func DeclKind(decl *ast.VariableDeclaration) string {
	src := strings.TrimSpace(Source(ast.Statement{Stmt: decl}))
	switch {
	case strings.HasPrefix(src, "let"):
		return "let"
	case strings.HasPrefix(src, "const"):
		return "const"
	default:
		return "var"
	}
}

// IsLiteral reports whether e is a primitive literal.
func IsLiteral(e ast.Expr) bool {
	switch e.(type) {
	case *ast.StringLiteral, *ast.NumberLiteral, *ast.BooleanLiteral, *ast.NullLiteral:
		return true
	}
	return false
}

func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
