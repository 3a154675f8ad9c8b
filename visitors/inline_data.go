package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// DataResult counts the rewrites of InlineData.
type DataResult struct {
	ArrayReads   int
	WrapperCalls int
	NumericProps int
	Diagnostics  []Diagnostic
}

// InlineData resolves arrays built by sequential indexed assignment and calls
// through pure forwarding wrappers.
func InlineData(p *ast.Program) DataResult {
	diags := &diagnostics{stage: "inline-data"}
	res := DataResult{
		NumericProps: InlineNumericObjects(p),
		ArrayReads:   inlineArrayBuilders(p, diags),
		WrapperCalls: inlineWrappers(p, diags),
	}
	res.Diagnostics = diags.list
	return res
}

type arrayEntry struct {
	value *ast.Expression
	// after is the pre-order position from which the entry is visible.
	after int
	// written entries come from an indexed write rather than the literal.
	written bool
}

type arrayCandidate struct {
	binding *scope.Binding
	origin  *ast.ArrayLiteral
	// originAt is the wrapper of the origin expression.
	originAt *ast.Expression
	entries  map[int]arrayEntry
}

func inlineArrayBuilders(p *ast.Program, diags *diagnostics) int {
	ix := scope.Build(p)
	u := collectUsage(p)

	candidates := make(map[*scope.Binding]*arrayCandidate)
	for _, b := range ix.Bindings() {
		if c, ok := arrayOrigin(b); ok {
			candidates[b] = c
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	// Writes count only as direct statements in the list that holds the
	// origin, after it, so every later read sees them unconditionally.
	writesSeen := make(map[*scope.Binding]map[*ast.Expression]bool)
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			c := originIn(candidates, &(*list)[i])
			if c == nil {
				continue
			}
			seen := make(map[*ast.Expression]bool)
			writesSeen[c.binding] = seen
			for idx, entry := range c.entries {
				entry.after = u.order[c.originAt]
				c.entries[idx] = entry
			}
			for j := i + 1; j < len(*list); j++ {
				idx, value, assign, ok := indexedWrite(&(*list)[j], c.binding, ix)
				if !ok {
					continue
				}
				seen[assign] = true
				if _, dup := c.entries[idx]; dup {
					c.entries[idx] = arrayEntry{}
					continue
				}
				c.entries[idx] = arrayEntry{value: value, after: u.order[assign], written: true}
			}
		}
	})

	replaced := 0
	for _, b := range ix.Bindings() {
		c, ok := candidates[b]
		if !ok {
			continue
		}
		uses, ok := u.memberUses(b)
		if !ok {
			continue
		}
		seen := writesSeen[b]
		valid := true
		for _, use := range uses {
			if use.call != nil {
				// Methods such as reverse or shift reorder the array.
				valid = false
				break
			}
			if use.write == nil {
				continue
			}
			if !seen[use.write] {
				valid = false
				break
			}
		}
		if !valid {
			diags.addf("array %s is modified outside its builder sequence", b.Name)
			continue
		}

		home := b.Scope.Enclosing()
		for _, use := range uses {
			if use.write != nil || use.call != nil {
				continue
			}
			idx, ok := utils.MemberIndex(use.member.Expr.(*ast.MemberExpression).Property)
			if !ok {
				continue
			}
			entry, ok := c.entries[idx]
			if !ok || entry.value == nil || u.order[use.member] < entry.after {
				continue
			}
			// A nested function may run before the writes, whatever its
			// position in the source.
			if entry.written && use.ref.Scope.Enclosing() != home {
				continue
			}
			use.member.Expr = entry.value.Clone().Expr
			replaced++
		}
	}
	return replaced
}

// arrayOrigin accepts a binding holding one array literal for its whole life:
// declared with it, or declared empty and assigned exactly once.
func arrayOrigin(b *scope.Binding) (*arrayCandidate, bool) {
	if b.Declarator == nil || len(b.Declarators) != 1 {
		return nil, false
	}
	var origin *ast.Expression
	switch {
	case utils.HasExpr(b.Declarator.Initializer) && b.Constant():
		origin = b.Declarator.Initializer
	case !utils.HasExpr(b.Declarator.Initializer) && len(b.ConstantViolations) == 1:
		v := b.ConstantViolations[0]
		assign, ok := v.Assign.(*ast.AssignExpression)
		if !ok || v.Stmt == nil || assign.Operator.String() != "=" {
			return nil, false
		}
		origin = assign.Right
	default:
		return nil, false
	}
	arr, ok := origin.Expr.(*ast.ArrayLiteral)
	if !ok {
		return nil, false
	}
	c := &arrayCandidate{binding: b, origin: arr, originAt: origin, entries: make(map[int]arrayEntry)}
	for i := range arr.Value {
		if utils.HasExpr(&arr.Value[i]) && utils.IsLiteral(arr.Value[i].Expr) {
			c.entries[i] = arrayEntry{value: &arr.Value[i]}
		}
	}
	return c, true
}

func originIn(candidates map[*scope.Binding]*arrayCandidate, st *ast.Statement) *arrayCandidate {
	switch s := st.Stmt.(type) {
	case *ast.VariableDeclaration:
		for _, c := range candidates {
			if c.binding.Declaration == s && c.originAt == c.binding.Declarator.Initializer {
				return c
			}
		}
	case *ast.ExpressionStatement:
		if !utils.HasExpr(s.Expression) {
			return nil
		}
		assign, ok := s.Expression.Expr.(*ast.AssignExpression)
		if !ok {
			return nil
		}
		for _, c := range candidates {
			if c.originAt == assign.Right {
				return c
			}
		}
	}
	return nil
}

// indexedWrite matches `name[k] = literal;` for the binding b.
func indexedWrite(st *ast.Statement, b *scope.Binding, ix *scope.Index) (int, *ast.Expression, *ast.Expression, bool) {
	es, ok := st.Stmt.(*ast.ExpressionStatement)
	if !ok || !utils.HasExpr(es.Expression) {
		return 0, nil, nil, false
	}
	assign, ok := es.Expression.Expr.(*ast.AssignExpression)
	if !ok || assign.Operator.String() != "=" || !utils.HasExpr(assign.Left) || !utils.HasExpr(assign.Right) {
		return 0, nil, nil, false
	}
	member, ok := assign.Left.Expr.(*ast.MemberExpression)
	if !ok || ix.BindingOf(member.Object) != b {
		return 0, nil, nil, false
	}
	idx, ok := utils.MemberIndex(member.Property)
	if !ok {
		return 0, nil, nil, false
	}
	if !utils.IsLiteral(assign.Right.Expr) {
		// A non-literal write still occupies the slot.
		return idx, nil, es.Expression, true
	}
	return idx, assign.Right, es.Expression, true
}

// wrapper is a function whose body is `return target(p1, ..., pn)`.
type wrapper struct {
	binding *scope.Binding
	params  int
	target  string
	// targetBinding is nil when the target is a global.
	targetBinding *scope.Binding
}

func inlineWrappers(p *ast.Program, diags *diagnostics) int {
	total := 0
	// Each round resolves one more link of a chain of wrappers.
	for round := 0; round < 8; round++ {
		n := inlineWrapperRound(p, diags)
		total += n
		if n == 0 {
			break
		}
	}
	return total
}

func inlineWrapperRound(p *ast.Program, diags *diagnostics) int {
	ix := scope.Build(p)
	u := collectUsage(p)

	wrappers := make(map[*scope.Binding]*wrapper)
	for _, b := range ix.Bindings() {
		if w, ok := forwardingWrapper(b, ix); ok {
			wrappers[b] = w
		}
	}

	replaced := 0
	for _, b := range ix.Bindings() {
		w, ok := wrappers[b]
		if !ok {
			continue
		}
		final, ok := resolveWrapperChain(w, wrappers)
		if !ok {
			diags.addf("wrapper chain through %s is cyclic", b.Name)
			continue
		}
		for _, ref := range b.References {
			callWrap, isCallee := u.callOf[ref.Site]
			if !isCallee {
				continue
			}
			call := callWrap.Expr.(*ast.CallExpression)
			if len(call.ArgumentList) > w.params {
				continue
			}
			// The target must mean the same thing where the call is.
			if ref.Scope.Lookup(final.target) != final.targetBinding {
				continue
			}
			ref.Site.Expr = &ast.Identifier{Name: final.target}
			replaced++
		}
	}
	return replaced
}

// resolveWrapperChain follows wrappers of wrappers to the last one, with a
// visited set so a cycle leaves the name unresolved.
func resolveWrapperChain(w *wrapper, wrappers map[*scope.Binding]*wrapper) (*wrapper, bool) {
	seen := map[*scope.Binding]bool{w.binding: true}
	cur := w
	for {
		next, ok := wrappers[cur.targetBinding]
		if cur.targetBinding == nil || !ok {
			return cur, true
		}
		if seen[next.binding] {
			return nil, false
		}
		seen[next.binding] = true
		if next.params < w.params {
			return cur, true
		}
		cur = next
	}
}

func forwardingWrapper(b *scope.Binding, ix *scope.Index) (*wrapper, bool) {
	if !b.Constant() {
		return nil, false
	}
	fn := b.Function
	if fn == nil && b.Declarator != nil && utils.HasExpr(b.Declarator.Initializer) {
		fn, _ = b.Declarator.Initializer.Expr.(*ast.FunctionLiteral)
	}
	if fn == nil || fn.Body == nil || len(fn.Body.List) != 1 {
		return nil, false
	}
	ret, ok := fn.Body.List[0].Stmt.(*ast.ReturnStatement)
	if !ok || !utils.HasExpr(ret.Argument) {
		return nil, false
	}
	call, ok := ret.Argument.Expr.(*ast.CallExpression)
	if !ok {
		return nil, false
	}
	target, ok := utils.IdentName(call.Callee)
	if !ok || target == b.Name {
		return nil, false
	}

	params := make([]string, 0, len(fn.ParameterList.List))
	for i := range fn.ParameterList.List {
		id, ok := fn.ParameterList.List[i].Target.Target.(*ast.Identifier)
		if !ok {
			return nil, false
		}
		params = append(params, id.Name)
	}
	if len(call.ArgumentList) != len(params) {
		return nil, false
	}
	for i, name := range params {
		if !utils.IsIdent(&call.ArgumentList[i], name) {
			return nil, false
		}
	}

	targetBinding := ix.BindingOf(call.Callee)
	fnScope := ix.FunctionScope(fn)
	if targetBinding != nil && fnScope != nil && targetBinding.Scope.Within(fnScope) {
		// The callee is a parameter or a local of the wrapper itself.
		return nil, false
	}
	return &wrapper{binding: b, params: len(params), target: target, targetBinding: targetBinding}, true
}
