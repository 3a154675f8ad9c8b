package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// MachineResult counts the state tests SolveStateMachines decided.
type MachineResult struct {
	Machines    int
	Tests       int
	Diagnostics []Diagnostic
}

// SolveStateMachines resolves a state variable that gates a straight run of
// `if (state === k)` blocks. Each decided test gets the known state value in
// place of the variable, so the branch folds away in Simplify.
func SolveStateMachines(p *ast.Program) MachineResult {
	diags := &diagnostics{stage: "state-machine"}
	ix := scope.Build(p)

	machines := make(map[*ast.VariableDeclaration][]*stateMachine)
	for _, b := range ix.Bindings() {
		if m, ok := newStateMachine(b); ok {
			machines[b.Declaration] = append(machines[b.Declaration], m)
		}
	}

	res := MachineResult{}
	if len(machines) == 0 {
		return res
	}
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			decl, ok := (*list)[i].Stmt.(*ast.VariableDeclaration)
			if !ok {
				continue
			}
			for _, m := range machines[decl] {
				complete := m.run((*list)[i+1:])
				if m.tests == 0 {
					continue
				}
				res.Machines++
				res.Tests += m.tests
				if !complete {
					diags.addf("state %s becomes unknown after %d tests", m.name, m.tests)
				}
			}
		}
	})
	res.Diagnostics = diags.list
	return res
}

type stateMachine struct {
	name  string
	value evaluator.Value
	tests int
}

// newStateMachine accepts a binding initialised with a literal whose every
// write is a whole statement `name = literal;` in the same function.
func newStateMachine(b *scope.Binding) (*stateMachine, bool) {
	if b.Declarator == nil || len(b.Declarators) != 1 || !utils.HasExpr(b.Declarator.Initializer) {
		return nil, false
	}
	v, ok := evaluator.Eval(b.Declarator.Initializer)
	if !ok || (v.Kind != evaluator.Number && v.Kind != evaluator.String) {
		return nil, false
	}
	home := functionOf(b.Scope)
	for _, w := range b.ConstantViolations {
		if w.Stmt == nil || functionOf(w.Scope) != home {
			return nil, false
		}
		assign, ok := w.Assign.(*ast.AssignExpression)
		if !ok || assign.Operator.String() != "=" {
			return nil, false
		}
		if _, ok := evaluator.Eval(assign.Right); !ok {
			return nil, false
		}
	}
	return &stateMachine{name: b.Name, value: v}, true
}

func functionOf(s *scope.Scope) *scope.Scope {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur.Function || cur.IsRoot() {
			return cur
		}
	}
	return nil
}

// run walks statements in execution order while the state is known. It
// returns false once a statement uses the state in a way it cannot follow.
func (m *stateMachine) run(list []ast.Statement) bool {
	for i := range list {
		st := &list[i]
		if v, ok := m.assignment(st); ok {
			m.value = v
			continue
		}
		if ifs, ok := st.Stmt.(*ast.IfStatement); ok {
			if taken, ok := m.decide(ifs.Test); ok {
				m.tests++
				branch := ifs.Consequent
				if !taken {
					branch = ifs.Alternate
				}
				if !m.run(utils.StmtList(branch)) {
					return false
				}
				continue
			}
		}
		if mentioned, _ := scanFlow(list[i:i+1], m.name); mentioned {
			return false
		}
	}
	return true
}

func (m *stateMachine) assignment(st *ast.Statement) (evaluator.Value, bool) {
	value, ok := assignedValue(st, m.name)
	if !ok {
		return evaluator.Value{}, false
	}
	if _, isDecl := st.Stmt.(*ast.VariableDeclaration); isDecl {
		return evaluator.Value{}, false
	}
	return evaluator.Eval(value)
}

// decide evaluates `state op literal` with the known state and writes the
// state value into the test.
func (m *stateMachine) decide(test *ast.Expression) (bool, bool) {
	if !utils.HasExpr(test) {
		return false, false
	}
	bin, ok := test.Expr.(*ast.BinaryExpression)
	if !ok {
		return false, false
	}
	switch bin.Operator.String() {
	case "===", "==", "!==", "!=":
	default:
		return false, false
	}
	site, other := bin.Left, bin.Right
	if !utils.IsIdent(site, m.name) {
		site, other = bin.Right, bin.Left
	}
	if !utils.IsIdent(site, m.name) {
		return false, false
	}
	lit, ok := evaluator.Eval(other)
	if !ok {
		return false, false
	}
	sub, ok := m.value.ToExpr()
	if !ok {
		return false, false
	}
	result, ok := evaluator.BinaryOp(bin.Operator.String(), m.value, lit)
	if !ok {
		return false, false
	}
	site.Expr = sub
	return result.ToBoolean(), true
}
