package keys

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// tableEval evaluates expressions with identifiers bound to table entries,
// recording which table names were read.
type tableEval struct {
	t     *Tables
	bound map[string]evaluator.Value
	used  []string
	seen  map[string]bool
}

func newTableEval(t *Tables) *tableEval {
	return &tableEval{t: t, bound: make(map[string]evaluator.Value), seen: make(map[string]bool)}
}

func (te *tableEval) resolve(name string) (evaluator.Value, bool) {
	if v, ok := te.bound[name]; ok {
		return v, true
	}
	if arr, target, ok := te.t.Array(name); ok {
		te.note(target)
		return evaluator.ArrayValue(arr), true
	}
	if s, target, ok := te.t.Literal(name); ok {
		te.note(target)
		return evaluator.StringValue(s), true
	}
	return evaluator.Value{}, false
}

func (te *tableEval) note(name string) {
	if !te.seen[name] {
		te.seen[name] = true
		te.used = append(te.used, name)
	}
}

func (te *tableEval) eval(e *ast.Expression) (evaluator.Value, bool) {
	ev := evaluator.Evaluator{Resolve: te.resolve}
	return ev.Eval(e)
}

// arrayOperand resolves an identifier or literal array receiver.
func (te *tableEval) arrayOperand(e *ast.Expression) ([]evaluator.Value, bool) {
	if !utils.HasExpr(e) {
		return nil, false
	}
	switch e.Expr.(type) {
	case *ast.Identifier, *ast.ArrayLiteral:
	default:
		return nil, false
	}
	v, ok := te.eval(e)
	if !ok || v.Kind != evaluator.Array {
		return nil, false
	}
	return v.Elems, true
}

// isEmptyString matches a single `""` argument.
func isEmptyString(args []ast.Expression) bool {
	if len(args) != 1 {
		return false
	}
	lit, ok := args[0].Expr.(*ast.StringLiteral)
	return ok && lit.Value == ""
}

// joinStrings concatenates values that are all strings.
func joinStrings(values []evaluator.Value) (string, int, bool) {
	out := make([]byte, 0, len(values))
	for i, v := range values {
		if v.Kind != evaluator.String {
			return "", i, false
		}
		out = append(out, v.Str...)
	}
	return string(out), 0, true
}
