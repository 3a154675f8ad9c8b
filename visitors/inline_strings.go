package visitors

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// InlineResult counts the accessor calls InlineStrings replaced.
type InlineResult struct {
	Calls       int
	Unresolved  int
	Diagnostics []Diagnostic
}

// InlineStrings replaces every call through the string table that has
// literal arguments with the string it returns, and drops the shuffle call.
// Calls with computed arguments stay and are reported.
func InlineStrings(p *ast.Program, t *StringTable) InlineResult {
	if t == nil {
		return InlineResult{}
	}
	diags := &diagnostics{stage: "inline-strings"}
	if t.Shuffle != nil {
		forEachList(p, func(list *[]ast.Statement) {
			kept := (*list)[:0]
			for _, st := range *list {
				if call := selfInvoked(&st); call != nil && call == t.Shuffle {
					continue
				}
				kept = append(kept, st)
			}
			*list = kept
		})
	}

	v := &stringInliner{table: t, diags: diags}
	v.V = v
	p.VisitWith(v)
	return InlineResult{Calls: v.calls, Unresolved: v.unresolved, Diagnostics: diags.list}
}

type stringInliner struct {
	ast.NoopVisitor
	table      *StringTable
	diags      *diagnostics
	calls      int
	unresolved int
}

// VisitStatement skips the bodies of the accessor and its wrappers, whose
// calls forward parameters.
func (v *stringInliner) VisitStatement(n *ast.Statement) {
	if name, fn := declaredFunction(n); fn != nil && v.table.Handles(name) {
		return
	}
	n.VisitChildrenWith(v)
}

func (v *stringInliner) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	n.VisitChildrenWith(v)

	call, ok := n.Expr.(*ast.CallExpression)
	if !ok {
		return
	}
	name, ok := utils.IdentName(call.Callee)
	if !ok || !v.table.Handles(name) {
		return
	}
	args := make([]evaluator.Value, 0, len(call.ArgumentList))
	for i := range call.ArgumentList {
		val, ok := evaluator.Eval(&call.ArgumentList[i])
		if !ok {
			v.unresolved++
			v.diags.addf("call %s has a computed argument", shorten(utils.ExprSource(n), 80))
			return
		}
		args = append(args, val)
	}
	str, ok := v.table.Resolve(name, args)
	if !ok {
		v.unresolved++
		v.diags.addf("no table entry for %s", shorten(utils.ExprSource(n), 80))
		return
	}
	n.Expr = &ast.StringLiteral{Value: str}
	v.calls++
}

// shorten trims a printed snippet for a diagnostic.
func shorten(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
