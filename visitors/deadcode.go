package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// DeadCodeResult summarises an EliminateDeadCode run.
type DeadCodeResult struct {
	Iterations  int
	Inlined     int
	Folded      int
	Removed     int
	Converged   bool
	Diagnostics []Diagnostic
}

// EliminateDeadCode inlines literal-returning object members, folds branches
// and removes declarations nobody reads, repeating until an iteration removes
// nothing or maxIterations is reached.
func EliminateDeadCode(p *ast.Program, maxIterations int) DeadCodeResult {
	if maxIterations <= 0 {
		maxIterations = 16
	}
	diags := &diagnostics{stage: "dead-code"}
	res := DeadCodeResult{}
	for res.Iterations < maxIterations {
		res.Iterations++
		res.Inlined += InlineObjectLiterals(p)
		res.Folded += Simplify(p)
		removed := removeUnread(p)
		res.Removed += removed
		if removed == 0 {
			res.Converged = true
			break
		}
	}
	if !res.Converged {
		diags.addf("no fixed point after %d iterations", maxIterations)
	}
	res.Diagnostics = diags.list
	return res
}

type deadSet struct {
	functions   map[*ast.FunctionLiteral]bool
	declarators map[*ast.VariableDeclarator]bool
	statements  map[*ast.Statement]bool
	// listed holds every statement that sits directly in a list, the only
	// statements removal can reach.
	listed map[*ast.Statement]bool
}

func (d *deadSet) size() int {
	return len(d.functions) + len(d.declarators) + len(d.statements)
}

// removeUnread drops function declarations and declarators whose binding is
// never read, together with the plain assignments to them. Reads from inside
// a function's own body do not keep it alive.
func removeUnread(p *ast.Program) int {
	ix := scope.Build(p)
	u := collectUsage(p)
	dead := &deadSet{
		functions:   make(map[*ast.FunctionLiteral]bool),
		declarators: make(map[*ast.VariableDeclarator]bool),
		statements:  make(map[*ast.Statement]bool),
		listed:      make(map[*ast.Statement]bool),
	}
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			dead.listed[&(*list)[i]] = true
		}
	})
	for _, b := range ix.Bindings() {
		markDead(b, ix, u, dead)
	}
	if dead.size() == 0 {
		return 0
	}

	removed := 0
	forEachList(p, func(list *[]ast.Statement) {
		kept := make([]ast.Statement, 0, len(*list))
		for i := range *list {
			st := &(*list)[i]
			if dead.statements[st] {
				removed++
				continue
			}
			switch s := st.Stmt.(type) {
			case *ast.FunctionDeclaration:
				if dead.functions[s.Function] {
					removed++
					continue
				}
			case *ast.VariableDeclaration:
				decls := s.List[:0:0]
				for j := range s.List {
					if dead.declarators[&s.List[j]] {
						removed++
						continue
					}
					decls = append(decls, s.List[j])
				}
				if len(decls) == 0 {
					continue
				}
				s.List = decls
			}
			kept = append(kept, *st)
		}
		*list = kept
	})
	return removed
}

func markDead(b *scope.Binding, ix *scope.Index, u *usage, dead *deadSet) {
	var own *scope.Scope
	switch {
	case b.Kind == scope.KindFunction && b.Function != nil && b.Declarator == nil:
		own = ix.FunctionScope(b.Function)
		if own == nil || b.Scope == own {
			// A named function expression binds its name inside itself.
			return
		}
	case b.Declarator != nil:
		for _, d := range b.Declarators {
			if !utils.HasExpr(d.Initializer) {
				continue
			}
			if fn, ok := d.Initializer.Expr.(*ast.FunctionLiteral); ok && len(b.Declarators) == 1 {
				own = ix.FunctionScope(fn)
				continue
			}
			if !pureExpr(d.Initializer) {
				return
			}
		}
	default:
		return
	}

	var writes []*ast.Statement
	for _, ref := range b.References {
		if own != nil && ref.Scope.Within(own) {
			continue
		}
		// `b[k] = pure;` only stores into b.
		stmt, ok := storeOnly(ref.Site, u)
		if !ok || !dead.listed[stmt] {
			return
		}
		writes = append(writes, stmt)
	}
	for _, w := range b.ConstantViolations {
		if own != nil && w.Scope != nil && w.Scope.Within(own) {
			continue
		}
		if w.Stmt == nil || !dead.listed[w.Stmt] {
			return
		}
		assign, ok := w.Assign.(*ast.AssignExpression)
		if !ok || !pureExpr(assign.Right) {
			return
		}
		writes = append(writes, w.Stmt)
	}

	if b.Declarator == nil {
		dead.functions[b.Function] = true
	}
	for _, d := range b.Declarators {
		dead.declarators[d] = true
	}
	for _, st := range writes {
		dead.statements[st] = true
	}
}

// storeOnly reports whether site is the object of `site[k] = pure;` standing
// alone as a statement, and returns that statement.
func storeOnly(site *ast.Expression, u *usage) (*ast.Statement, bool) {
	member, ok := u.memberOf[site]
	if !ok {
		return nil, false
	}
	write, ok := u.written[member]
	if !ok {
		return nil, false
	}
	assign, ok := write.Expr.(*ast.AssignExpression)
	if !ok || assign.Operator.String() != "=" || !pureExpr(assign.Right) {
		return nil, false
	}
	m := member.Expr.(*ast.MemberExpression)
	if cp, ok := m.Property.Prop.(*ast.ComputedProperty); ok && !pureExpr(cp.Expr) {
		return nil, false
	}
	stmt, ok := u.stmtOf[write]
	return stmt, ok
}
