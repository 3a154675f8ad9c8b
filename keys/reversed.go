package keys

import (
	"fmt"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// reversedExtractor handles `s.split("").reverse().join("")` and
// `s.slice(a, b)` over a string literal or a name holding one. Slices only
// count when the source already looks like hex key material.
type reversedExtractor struct{}

func (reversedExtractor) Kind() Kind { return KindReversed }

func (reversedExtractor) Attempt(site Site, t *Tables) (Outcome, bool, error) {
	recv, method, args, ok := utils.MethodCall(site.Expr)
	if !ok {
		return Outcome{}, false, nil
	}
	switch method {
	case "join":
		src, ok := reverseSource(recv, args)
		if !ok {
			return Outcome{}, false, nil
		}
		s, name, ok := stringOperand(src, t)
		if !ok {
			return Outcome{}, true, fmt.Errorf("reversed string %s is unresolved", utils.ExprSource(src))
		}
		return Outcome{Value: reverseUnits(s), Sources: sourcesOf(name)}, true, nil
	case "slice":
		if len(args) == 0 || len(args) > 2 || !literalArgs(args) {
			return Outcome{}, false, nil
		}
		s, name, ok := stringOperand(recv, t)
		if !ok || !utils.IsHex(s) {
			return Outcome{}, false, nil
		}
		te := newTableEval(t)
		v, ok := te.eval(site.Expr)
		if !ok || v.Kind != evaluator.String {
			return Outcome{}, true, fmt.Errorf("slice of %s cannot be evaluated", utils.ExprSource(recv))
		}
		return Outcome{Value: v.Str, Sources: sourcesOf(name)}, true, nil
	}
	return Outcome{}, false, nil
}

// reverseSource unpacks `x.split("").reverse()` given the receiver and
// arguments of the outer join.
func reverseSource(recv *ast.Expression, joinArgs []ast.Expression) (*ast.Expression, bool) {
	if !isEmptyString(joinArgs) {
		return nil, false
	}
	inner, method, args, ok := utils.MethodCall(recv)
	if !ok || method != "reverse" || len(args) != 0 {
		return nil, false
	}
	src, method, args, ok := utils.MethodCall(inner)
	if !ok || method != "split" || !isEmptyString(args) {
		return nil, false
	}
	return src, true
}

func stringOperand(e *ast.Expression, t *Tables) (string, string, bool) {
	switch n := e.Expr.(type) {
	case *ast.StringLiteral:
		return n.Value, "", true
	case *ast.Identifier:
		return t.Literal(n.Name)
	}
	return "", "", false
}

func literalArgs(args []ast.Expression) bool {
	for i := range args {
		if !utils.HasExpr(&args[i]) {
			return false
		}
		if neg, ok := args[i].Expr.(*ast.UnaryExpression); ok && neg.Operator.String() == "-" && utils.HasExpr(neg.Operand) {
			if _, ok := neg.Operand.Expr.(*ast.NumberLiteral); ok {
				continue
			}
		}
		if !utils.IsLiteral(args[i].Expr) {
			return false
		}
	}
	return true
}

// reverseUnits reverses by UTF-16 unit, which is what split("") yields.
func reverseUnits(s string) string {
	v, _ := evaluator.CallMethod(evaluator.StringValue(s), "split", []evaluator.Value{evaluator.StringValue("")})
	rev, _ := evaluator.CallMethod(v, "reverse", nil)
	out, _ := evaluator.CallMethod(rev, "join", []evaluator.Value{evaluator.StringValue("")})
	return out.Str
}

func sourcesOf(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}
