package keys

import (
	"fmt"
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// concatExtractor handles a function whose final statement returns a `+`
// chain of segment calls, object lookups and literals.
type concatExtractor struct{}

func (concatExtractor) Kind() Kind { return KindConcat }

func (concatExtractor) Attempt(site Site, t *Tables) (Outcome, bool, error) {
	fn := site.Func
	if fn == nil || fn.Body == nil || len(fn.Body.List) == 0 {
		return Outcome{}, false, nil
	}
	ret, ok := fn.Body.List[len(fn.Body.List)-1].Stmt.(*ast.ReturnStatement)
	if !ok || !utils.HasExpr(ret.Argument) {
		return Outcome{}, false, nil
	}
	operands := flattenConcat(ret.Argument, nil)
	if len(operands) < 2 || !hasIndirectOperand(operands) {
		return Outcome{}, false, nil
	}

	var (
		b       strings.Builder
		sources []string
	)
	for _, op := range operands {
		s, src, ok := segmentValue(op, t)
		if !ok {
			return Outcome{}, true, fmt.Errorf("segment %s of %s is unresolved", utils.ExprSource(op), siteName(site))
		}
		b.WriteString(s)
		if src != "" {
			sources = append(sources, src)
		}
	}
	return Outcome{Value: b.String(), Sources: sources}, true, nil
}

// flattenConcat lists the operands of a concatenation chain in order.
func flattenConcat(e *ast.Expression, out []*ast.Expression) []*ast.Expression {
	if bin, ok := e.Expr.(*ast.BinaryExpression); ok && concatOperator(bin.Operator.String()) &&
		utils.HasExpr(bin.Left) && utils.HasExpr(bin.Right) {
		out = flattenConcat(bin.Left, out)
		return flattenConcat(bin.Right, out)
	}
	return append(out, e)
}

// concatOperator accepts `|` as well, which some builds emit between segment
// calls in place of `+`.
func concatOperator(op string) bool {
	return op == "+" || op == "|"
}

func hasIndirectOperand(ops []*ast.Expression) bool {
	for _, op := range ops {
		switch op.Expr.(type) {
		case *ast.CallExpression, *ast.MemberExpression:
			return true
		}
	}
	return false
}

// segmentValue resolves one operand and names the table entry it came from.
func segmentValue(e *ast.Expression, t *Tables) (string, string, bool) {
	switch n := e.Expr.(type) {
	case *ast.StringLiteral:
		return n.Value, "", true
	case *ast.Identifier:
		s, target, ok := t.Literal(n.Name)
		return s, target, ok
	case *ast.CallExpression:
		if len(n.ArgumentList) != 0 {
			return "", "", false
		}
		if name, ok := utils.IdentName(n.Callee); ok {
			s, target, ok := t.Segment(name)
			return s, target, ok
		}
		return propertyValue(n.Callee, t)
	case *ast.MemberExpression:
		return propertyValue(e, t)
	}
	return "", "", false
}

func propertyValue(e *ast.Expression, t *Tables) (string, string, bool) {
	m, ok := e.Expr.(*ast.MemberExpression)
	if !ok {
		return "", "", false
	}
	obj, ok := utils.IdentName(m.Object)
	if !ok {
		return "", "", false
	}
	prop, ok := utils.MemberPropName(m.Property)
	if !ok {
		return "", "", false
	}
	s, ok := t.Property(obj, prop)
	return s, obj + "." + prop, ok
}

func siteName(site Site) string {
	if site.Name != "" {
		return site.Name
	}
	return "anonymous function"
}
