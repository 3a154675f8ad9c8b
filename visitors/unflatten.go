package visitors

import (
	"errors"
	"fmt"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// UnflattenResult reports how many dispatch loops were rewritten.
type UnflattenResult struct {
	Loops       int
	Diagnostics []Diagnostic
}

// Unflatten replaces dispatch loops (a loop around one switch on a state
// variable) with the statement order their transitions encode. Loops whose
// transition graph cannot be linearized are left as they are.
func Unflatten(p *ast.Program) UnflattenResult {
	diags := &diagnostics{stage: "unflatten"}
	res := UnflattenResult{}
	forEachList(p, func(list *[]ast.Statement) {
		for i := 0; i < len(*list); i++ {
			loop, ok := matchDispatchLoop(&(*list)[i])
			if !ok {
				continue
			}
			stmts, err := loop.linearize((*list)[:i], (*list)[i+1:])
			if err != nil {
				diags.addf("dispatch loop on %s left unmodified: %v", loop.name, err)
				continue
			}
			rest := append(stmts, (*list)[i+1:]...)
			*list = append((*list)[:i:i], rest...)
			res.Loops++
			// Spliced case bodies may hold further dispatch loops.
			i--
		}
	})
	res.Diagnostics = diags.list
	return res
}

const (
	exitState   = "\x00exit"
	returnState = "\x00return"
	// sinkState is where the exit and every return meet.
	sinkState = "\x00sink"
)

type dispatchLoop struct {
	// name is the state variable, or the order array for indexed dispatch.
	name string
	// index is the counter of `order[index++]`.
	index string
	sw    *ast.SwitchStatement
	// exit is set for `while (state !== exit)`.
	exit    *evaluator.Value
	forever bool
	// trailingBreak is a `break` after the switch inside the loop body.
	trailingBreak bool
}

func matchDispatchLoop(st *ast.Statement) (*dispatchLoop, bool) {
	var test *ast.Expression
	var body *ast.Statement
	switch s := st.Stmt.(type) {
	case *ast.WhileStatement:
		test, body = s.Test, s.Body
	case *ast.ForStatement:
		if s.Initializer != nil || utils.HasExpr(s.Update) {
			return nil, false
		}
		test, body = s.Test, s.Body
	default:
		return nil, false
	}

	list := utils.StmtList(body)
	if len(list) == 0 || len(list) > 2 {
		return nil, false
	}
	sw, ok := list[0].Stmt.(*ast.SwitchStatement)
	if !ok || !utils.HasExpr(sw.Discriminant) {
		return nil, false
	}
	loop := &dispatchLoop{sw: sw}
	if len(list) == 2 {
		if _, ok := list[1].Stmt.(*ast.BreakStatement); !ok {
			return nil, false
		}
		loop.trailingBreak = true
	}

	switch d := sw.Discriminant.Expr.(type) {
	case *ast.Identifier:
		loop.name = d.Name
	case *ast.MemberExpression:
		order, index, ok := indexedDispatch(d)
		if !ok {
			return nil, false
		}
		loop.name, loop.index = order, index
	default:
		return nil, false
	}

	if !utils.HasExpr(test) {
		loop.forever = true
	} else if v, ok := evaluator.Eval(test); ok {
		if !v.ToBoolean() {
			return nil, false
		}
		loop.forever = true
	} else if bin, ok := test.Expr.(*ast.BinaryExpression); ok && loop.index == "" {
		op := bin.Operator.String()
		if (op != "!==" && op != "!=") || !utils.IsIdent(bin.Left, loop.name) {
			return nil, false
		}
		v, ok := evaluator.Eval(bin.Right)
		if !ok {
			return nil, false
		}
		loop.exit = &v
	} else {
		return nil, false
	}

	// An indexed dispatch needs the break that ends it once the order runs
	// out; a state dispatch with one would only ever run a single case.
	if (loop.index != "") != loop.trailingBreak {
		return nil, false
	}
	if loop.index != "" && !loop.forever {
		return nil, false
	}
	return loop, true
}

// indexedDispatch matches `order[i++]`.
func indexedDispatch(m *ast.MemberExpression) (string, string, bool) {
	order, ok := utils.IdentName(m.Object)
	if !ok || m.Property == nil {
		return "", "", false
	}
	cp, ok := m.Property.Prop.(*ast.ComputedProperty)
	if !ok || !utils.HasExpr(cp.Expr) {
		return "", "", false
	}
	upd, ok := cp.Expr.Expr.(*ast.UpdateExpression)
	if !ok || !upd.Postfix || upd.Operator.String() != "++" {
		return "", "", false
	}
	index, ok := utils.IdentName(upd.Operand)
	if !ok || index == order {
		return "", "", false
	}
	return order, index, true
}

func stateKey(v evaluator.Value) (string, error) {
	switch v.Kind {
	case evaluator.Number, evaluator.String:
		return v.Kind.String() + ":" + v.ToString(), nil
	}
	return "", fmt.Errorf("state value of type %s", v.Kind)
}

// caseBodies maps each case label to the index of the case whose statements
// run for it, following empty fallthrough labels. -1 means nothing runs.
func (l *dispatchLoop) caseBodies() (map[string]int, map[string]evaluator.Value, error) {
	bodies := make(map[string]int, len(l.sw.Body))
	values := make(map[string]evaluator.Value, len(l.sw.Body))
	for i := range l.sw.Body {
		c := &l.sw.Body[i]
		if !utils.HasExpr(c.Test) {
			return nil, nil, errors.New("switch has a default case")
		}
		v, ok := evaluator.Eval(c.Test)
		if !ok {
			return nil, nil, fmt.Errorf("case label %s is not a literal", utils.ExprSource(c.Test))
		}
		key, err := stateKey(v)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := bodies[key]; dup {
			return nil, nil, fmt.Errorf("duplicate case %s", v.ToString())
		}
		j := i
		for j < len(l.sw.Body) && len(l.sw.Body[j].Consequent) == 0 {
			j++
		}
		if j == len(l.sw.Body) {
			j = -1
		}
		bodies[key] = j
		values[key] = v
	}
	return bodies, values, nil
}

func (l *dispatchLoop) linearize(before, after []ast.Statement) ([]ast.Statement, error) {
	if mentioned, _ := scanFlow(after, l.name); mentioned {
		return nil, fmt.Errorf("%s is used after the loop", l.name)
	}
	if l.index != "" {
		if mentioned, _ := scanFlow(after, l.index); mentioned {
			return nil, fmt.Errorf("%s is used after the loop", l.index)
		}
		return l.linearizeIndexed(before)
	}
	return l.linearizeStates(before)
}

func (l *dispatchLoop) linearizeIndexed(before []ast.Statement) ([]ast.Statement, error) {
	orderExpr, err := initialValue(before, l.name)
	if err != nil {
		return nil, err
	}
	startExpr, err := initialValue(before, l.index)
	if err != nil {
		return nil, err
	}
	order, ok := evaluator.Eval(orderExpr)
	if !ok || order.Kind != evaluator.Array {
		return nil, fmt.Errorf("order %s is not a literal array", l.name)
	}
	start, ok := evaluator.Eval(startExpr)
	if !ok || start.Kind != evaluator.Number || start.Num < 0 || start.Num != float64(int(start.Num)) {
		return nil, fmt.Errorf("counter %s does not start at a literal index", l.index)
	}

	bodies, _, err := l.caseBodies()
	if err != nil {
		return nil, err
	}
	ran := make(map[int]bool)
	var out []ast.Statement
	for pos := int(start.Num); pos < len(order.Elems); pos++ {
		key, err := stateKey(order.Elems[pos])
		if err != nil {
			return nil, err
		}
		j, ok := bodies[key]
		if !ok || j < 0 {
			// No case matches, so the switch is skipped and the loop breaks.
			break
		}
		if ran[j] {
			return nil, fmt.Errorf("case %s runs twice", order.Elems[pos].ToString())
		}
		ran[j] = true

		list := l.sw.Body[j].Consequent
		last := len(list) - 1
		leave := false
		switch list[last].Stmt.(type) {
		case *ast.ContinueStatement:
			list = list[:last]
		case *ast.BreakStatement:
			list = list[:last]
			leave = true
		case *ast.ReturnStatement, *ast.ThrowStatement:
			leave = true
		default:
			return nil, fmt.Errorf("case %s falls through", order.Elems[pos].ToString())
		}
		if err := l.checkBody(list); err != nil {
			return nil, err
		}
		out = append(out, list...)
		if leave {
			break
		}
	}
	return out, nil
}

func (l *dispatchLoop) checkBody(list []ast.Statement) error {
	for _, name := range []string{l.name, l.index} {
		if name == "" {
			continue
		}
		mentioned, escapes := scanFlow(list, name)
		if mentioned {
			return fmt.Errorf("case body uses %s", name)
		}
		if escapes {
			return errors.New("case body breaks out of the dispatch loop")
		}
	}
	return nil
}

// initialValue finds the value name holds on entry to the statement after
// before, by walking back to the closest assignment.
func initialValue(before []ast.Statement, name string) (*ast.Expression, error) {
	for j := len(before) - 1; j >= 0; j-- {
		if e, ok := assignedValue(&before[j], name); ok {
			return e, nil
		}
		if mentioned, _ := scanFlow(before[j:j+1], name); mentioned {
			return nil, fmt.Errorf("%s changes before the loop", name)
		}
	}
	return nil, fmt.Errorf("no initial value for %s", name)
}

func assignedValue(st *ast.Statement, name string) (*ast.Expression, bool) {
	switch s := st.Stmt.(type) {
	case *ast.VariableDeclaration:
		var found *ast.Expression
		for i := range s.List {
			if n, ok := utils.DeclaratorName(&s.List[i]); ok && n == name && utils.HasExpr(s.List[i].Initializer) {
				found = s.List[i].Initializer
			}
		}
		return found, found != nil
	case *ast.ExpressionStatement:
		if !utils.HasExpr(s.Expression) {
			return nil, false
		}
		assign, ok := s.Expression.Expr.(*ast.AssignExpression)
		if !ok || assign.Operator.String() != "=" || !utils.IsIdent(assign.Left, name) {
			return nil, false
		}
		return assign.Right, utils.HasExpr(assign.Right)
	}
	return nil, false
}

// flatArm is one way out of a case: statements, then a jump to target or a
// return from the enclosing function.
type flatArm struct {
	body    []ast.Statement
	target  string
	returns bool
}

func (a flatArm) next() string {
	if a.returns {
		return returnState
	}
	return a.target
}

type flatCase struct {
	body []ast.Statement
	// test chooses between arms[0] and arms[1]; nil for a single arm.
	test *ast.Expression
	arms []flatArm
}

type flatGraph struct {
	loop    *dispatchLoop
	cases   map[string]*flatCase
	order   []string
	pdom    map[string]map[string]bool
	emitted map[string]bool
}

func (l *dispatchLoop) linearizeStates(before []ast.Statement) ([]ast.Statement, error) {
	entryExpr, err := initialValue(before, l.name)
	if err != nil {
		return nil, err
	}
	entry, ok := evaluator.Eval(entryExpr)
	if !ok {
		return nil, fmt.Errorf("entry state of %s is not a literal", l.name)
	}
	entryKey, err := stateKey(entry)
	if err != nil {
		return nil, err
	}

	g, err := l.buildGraph(entry)
	if err != nil {
		return nil, err
	}
	g.postDominators()
	for _, k := range g.order {
		if !g.reaches(k, exitState, nil) && !g.reaches(k, returnState, nil) {
			return nil, fmt.Errorf("state %s never leaves the loop", k)
		}
	}

	out, end, err := g.emit(g.resolve(entryKey), nil)
	if err != nil {
		return nil, err
	}
	if end != exitState && end != returnState {
		return nil, fmt.Errorf("linearization stopped at state %s", end)
	}
	return out, nil
}

// resolve maps a state key to a graph node or to the loop exit. A state with
// no case leaves a `while (state !== k)` loop only when it equals k; in an
// unconditional loop it is treated as the exit.
func (g *flatGraph) resolve(key string) string {
	if _, ok := g.cases[key]; ok {
		return key
	}
	return exitState
}

func (l *dispatchLoop) buildGraph(entry evaluator.Value) (*flatGraph, error) {
	bodies, values, err := l.caseBodies()
	if err != nil {
		return nil, err
	}
	exitKey := ""
	if l.exit != nil {
		if exitKey, err = stateKey(*l.exit); err != nil {
			return nil, err
		}
	}

	g := &flatGraph{loop: l, cases: make(map[string]*flatCase), emitted: make(map[string]bool)}
	entryKey, _ := stateKey(entry)
	queue := []string{entryKey}
	seen := map[string]bool{entryKey: true}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if key == exitKey {
			continue
		}
		j, ok := bodies[key]
		if !ok {
			if l.exit != nil {
				return nil, fmt.Errorf("state %s has no case", key)
			}
			continue
		}
		if j < 0 {
			return nil, fmt.Errorf("state %s runs no statements", key)
		}
		c, err := l.parseCase(l.sw.Body[j].Consequent, values[key])
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", values[key].ToString(), err)
		}
		g.cases[key] = c
		g.order = append(g.order, key)
		for _, arm := range c.arms {
			if !arm.returns && !seen[arm.target] {
				seen[arm.target] = true
				queue = append(queue, arm.target)
			}
		}
	}
	for _, c := range g.cases {
		for i := range c.arms {
			if !c.arms[i].returns {
				c.arms[i].target = g.resolve(c.arms[i].target)
			}
		}
	}
	return g, nil
}

func isLoopJump(st ast.Statement) bool {
	switch st.Stmt.(type) {
	case *ast.BreakStatement, *ast.ContinueStatement:
		return true
	}
	return false
}

func isReturn(st ast.Statement) bool {
	switch st.Stmt.(type) {
	case *ast.ReturnStatement, *ast.ThrowStatement:
		return true
	}
	return false
}

func (l *dispatchLoop) parseCase(list []ast.Statement, cur evaluator.Value) (*flatCase, error) {
	last := len(list) - 1
	switch {
	case isReturn(list[last]):
		if err := l.checkBody(list); err != nil {
			return nil, err
		}
		return &flatCase{arms: []flatArm{{body: list, returns: true}}}, nil
	case isLoopJump(list[last]):
		list = list[:last]
	default:
		return nil, errors.New("falls through")
	}

	// `if (t) { ...; state = a; break; } ...; state = b;`
	for i := range list {
		ifs, ok := list[i].Stmt.(*ast.IfStatement)
		if !ok || utils.HasStmt(ifs.Alternate) {
			continue
		}
		then := utils.StmtList(ifs.Consequent)
		if len(then) == 0 || !isLoopJump(then[len(then)-1]) && !isReturn(then[len(then)-1]) {
			continue
		}
		return l.branchCase(list[:i], ifs.Test, then, list[i+1:], cur)
	}

	if len(list) == 0 {
		return nil, errors.New("no state transition")
	}
	tail := list[len(list)-1]
	head := list[:len(list)-1]
	if ifs, ok := tail.Stmt.(*ast.IfStatement); ok && utils.HasStmt(ifs.Alternate) {
		return l.branchCase(head, ifs.Test, utils.StmtList(ifs.Consequent), utils.StmtList(ifs.Alternate), cur)
	}

	if assign, ok := l.stateAssign(tail); ok {
		if cond, ok := assign.Right.Expr.(*ast.ConditionalExpression); ok && assign.Operator.String() == "=" {
			a, err := l.armTarget(cond.Consequent, "=", cur)
			if err != nil {
				return nil, err
			}
			b, err := l.armTarget(cond.Alternate, "=", cur)
			if err != nil {
				return nil, err
			}
			if err := l.checkBody(head); err != nil {
				return nil, err
			}
			if mentioned, _ := scanFlow([]ast.Statement{utils.ExprStmt(cond.Test.Expr)}, l.name); mentioned {
				return nil, errors.New("branch test reads the state")
			}
			return &flatCase{body: head, test: cond.Test, arms: []flatArm{{target: a}, {target: b}}}, nil
		}
		target, err := l.armTarget(assign.Right, assign.Operator.String(), cur)
		if err != nil {
			return nil, err
		}
		if err := l.checkBody(head); err != nil {
			return nil, err
		}
		return &flatCase{body: head, arms: []flatArm{{target: target}}}, nil
	}
	return nil, errors.New("no state transition")
}

func (l *dispatchLoop) branchCase(head []ast.Statement, test *ast.Expression, then, els []ast.Statement, cur evaluator.Value) (*flatCase, error) {
	if err := l.checkBody(head); err != nil {
		return nil, err
	}
	if mentioned, _ := scanFlow([]ast.Statement{utils.ExprStmt(test.Expr)}, l.name); mentioned {
		return nil, errors.New("branch test reads the state")
	}
	a, err := l.parseArm(then, cur)
	if err != nil {
		return nil, err
	}
	b, err := l.parseArm(els, cur)
	if err != nil {
		return nil, err
	}
	return &flatCase{body: head, test: test, arms: []flatArm{a, b}}, nil
}

func (l *dispatchLoop) parseArm(list []ast.Statement, cur evaluator.Value) (flatArm, error) {
	if n := len(list); n > 0 && isLoopJump(list[n-1]) {
		list = list[:n-1]
	}
	if len(list) == 0 {
		return flatArm{}, errors.New("branch arm without a transition")
	}
	last := list[len(list)-1]
	if isReturn(last) {
		if err := l.checkBody(list); err != nil {
			return flatArm{}, err
		}
		return flatArm{body: list, returns: true}, nil
	}
	assign, ok := l.stateAssign(last)
	if !ok {
		return flatArm{}, errors.New("branch arm without a transition")
	}
	target, err := l.armTarget(assign.Right, assign.Operator.String(), cur)
	if err != nil {
		return flatArm{}, err
	}
	body := list[:len(list)-1]
	if err := l.checkBody(body); err != nil {
		return flatArm{}, err
	}
	return flatArm{body: body, target: target}, nil
}

func (l *dispatchLoop) stateAssign(st ast.Statement) (*ast.AssignExpression, bool) {
	es, ok := st.Stmt.(*ast.ExpressionStatement)
	if !ok || !utils.HasExpr(es.Expression) {
		return nil, false
	}
	assign, ok := es.Expression.Expr.(*ast.AssignExpression)
	if !ok || !utils.IsIdent(assign.Left, l.name) || !utils.HasExpr(assign.Right) {
		return nil, false
	}
	return assign, true
}

// armTarget computes the next state from `state op= value` while in state cur.
func (l *dispatchLoop) armTarget(value *ast.Expression, op string, cur evaluator.Value) (string, error) {
	v, ok := evaluator.Eval(value)
	if !ok {
		return "", fmt.Errorf("next state %s is not a literal", utils.ExprSource(value))
	}
	switch op {
	case "=":
	case "+=", "-=", "^=", "|=", "&=":
		v, ok = evaluator.BinaryOp(op[:1], cur, v)
		if !ok {
			return "", fmt.Errorf("cannot apply %s to state %s", op, cur.ToString())
		}
	default:
		return "", fmt.Errorf("unsupported state update %s", op)
	}
	return stateKey(v)
}

func (g *flatGraph) successors(key string) []string {
	c, ok := g.cases[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.arms))
	for _, arm := range c.arms {
		out = append(out, arm.next())
	}
	return out
}

// postDominators computes, for every state, the states every path from it
// passes through before leaving the loop. The exit and returns both flow into
// one virtual sink, so a branch whose arms all return still has a join.
func (g *flatGraph) postDominators() {
	all := make(map[string]bool, len(g.order)+3)
	for _, k := range g.order {
		all[k] = true
	}
	all[exitState] = true
	all[returnState] = true
	all[sinkState] = true

	g.pdom = make(map[string]map[string]bool, len(all))
	g.pdom[sinkState] = map[string]bool{sinkState: true}
	g.pdom[exitState] = map[string]bool{exitState: true, sinkState: true}
	g.pdom[returnState] = map[string]bool{returnState: true, sinkState: true}
	for _, k := range g.order {
		g.pdom[k] = copySet(all)
	}

	for changed := true; changed; {
		changed = false
		for _, k := range g.order {
			var meet map[string]bool
			for _, s := range g.successors(k) {
				if meet == nil {
					meet = copySet(g.pdom[s])
					continue
				}
				for m := range meet {
					if !g.pdom[s][m] {
						delete(meet, m)
					}
				}
			}
			if meet == nil {
				meet = copySet(all)
			}
			meet[k] = true
			if len(meet) != len(g.pdom[k]) {
				g.pdom[k] = meet
				changed = true
			}
		}
	}
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// join returns the closest state both arms of key's branch meet again at.
// Arms that only meet by returning, or only at the sink, have no join.
func (g *flatGraph) join(key string) (string, bool) {
	best, size := "", -1
	for d := range g.pdom[key] {
		if d == key {
			continue
		}
		if n := len(g.pdom[d]); n > size || n == size && d < best {
			best, size = d, n
		}
	}
	if size < 0 || best == sinkState || best == returnState {
		return "", false
	}
	return best, true
}

// reaches reports whether to is reachable from from without passing through
// any of the stop states.
func (g *flatGraph) reaches(from, to string, stops map[string]bool) bool {
	seen := map[string]bool{}
	queue := []string{from}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if k == to {
			return true
		}
		if seen[k] || stops[k] {
			continue
		}
		seen[k] = true
		queue = append(queue, g.successors(k)...)
	}
	return false
}

func withStop(stops map[string]bool, key string) map[string]bool {
	out := copySet(stops)
	out[key] = true
	return out
}

// emit linearizes the chain of states starting at from until it reaches the
// exit, a return, or one of the stop states, which it reports as the end.
func (g *flatGraph) emit(from string, stops map[string]bool) ([]ast.Statement, string, error) {
	var out []ast.Statement
	cur := from
	for {
		if cur == exitState || cur == returnState || stops[cur] {
			return out, cur, nil
		}
		if g.emitted[cur] {
			return nil, "", fmt.Errorf("state %s is reached along two paths", cur)
		}
		g.emitted[cur] = true
		c := g.cases[cur]

		if c.test == nil {
			out = append(out, c.body...)
			out = append(out, c.arms[0].body...)
			cur = c.arms[0].next()
			continue
		}

		back0 := !c.arms[0].returns && g.reaches(c.arms[0].target, cur, stops)
		back1 := !c.arms[1].returns && g.reaches(c.arms[1].target, cur, stops)
		if back0 && back1 {
			return nil, "", fmt.Errorf("both branches of state %s loop back", cur)
		}
		if back0 || back1 {
			loopArm, exitArm := 0, 1
			if back1 {
				loopArm, exitArm = 1, 0
			}
			loop, next, err := g.emitLoop(c, cur, loopArm, exitArm, withStop(stops, cur))
			if err != nil {
				return nil, "", err
			}
			out = append(out, loop...)
			cur = next
			continue
		}

		join, hasJoin := g.join(cur)
		armStops := stops
		if hasJoin {
			armStops = withStop(stops, join)
		}
		var arms [2][]ast.Statement
		end := ""
		for i, arm := range c.arms {
			stmts, armEnd, err := g.emitArm(arm, armStops)
			if err != nil {
				return nil, "", err
			}
			arms[i] = stmts
			if armEnd == returnState {
				continue
			}
			if end != "" && end != armEnd || hasJoin && armEnd != join {
				return nil, "", fmt.Errorf("branches of state %s do not meet again", cur)
			}
			end = armEnd
		}
		out = append(out, c.body...)
		out = append(out, ifStatement(c.test, arms[0], arms[1]))
		if end == "" {
			return out, returnState, nil
		}
		cur = end
	}
}

func (g *flatGraph) emitArm(arm flatArm, stops map[string]bool) ([]ast.Statement, string, error) {
	out := append([]ast.Statement(nil), arm.body...)
	if arm.returns {
		return out, returnState, nil
	}
	rest, end, err := g.emit(arm.target, stops)
	if err != nil {
		return nil, "", err
	}
	return append(out, rest...), end, nil
}

// emitLoop rebuilds a loop whose header is the branch state key. The loop arm
// runs back to the header; the exit arm leaves the loop.
func (g *flatGraph) emitLoop(c *flatCase, key string, loopArm, exitArm int, stops map[string]bool) ([]ast.Statement, string, error) {
	body, end, err := g.emitArm(c.arms[loopArm], stops)
	if err != nil {
		return nil, "", err
	}
	if end != key {
		return nil, "", fmt.Errorf("loop at state %s ends at %s", key, end)
	}
	exit := c.arms[exitArm]

	if len(c.body) == 0 && loopArm == 0 {
		loop := ast.Statement{Stmt: &ast.WhileStatement{Test: c.test, Body: utils.Block(body)}}
		return append([]ast.Statement{loop}, exit.body...), exit.next(), nil
	}

	leave := append([]ast.Statement(nil), exit.body...)
	if !exit.returns {
		leave = append(leave, ast.Statement{Stmt: &ast.BreakStatement{}})
	}
	arms := [2][]ast.Statement{}
	arms[loopArm], arms[exitArm] = body, leave
	inner := append(append([]ast.Statement(nil), c.body...), ifStatement(c.test, arms[0], arms[1]))
	loop := ast.Statement{Stmt: &ast.WhileStatement{
		Test: &ast.Expression{Expr: &ast.BooleanLiteral{Value: true}},
		Body: utils.Block(inner),
	}}
	if exit.returns {
		return []ast.Statement{loop}, returnState, nil
	}
	return []ast.Statement{loop}, exit.target, nil
}

func ifStatement(test *ast.Expression, then, els []ast.Statement) ast.Statement {
	ifs := &ast.IfStatement{Test: test, Consequent: utils.Block(then)}
	if len(els) > 0 {
		ifs.Alternate = utils.Block(els)
	}
	return ast.Statement{Stmt: ifs}
}

// flowScan looks for uses of a name and for break or continue statements that
// would leave the enclosing dispatch loop.
type flowScan struct {
	ast.NoopVisitor
	name      string
	loops     int
	switches  int
	mentioned bool
	escapes   bool
}

func scanFlow(list []ast.Statement, name string) (mentioned, escapes bool) {
	f := &flowScan{name: name}
	f.V = f
	for i := range list {
		f.VisitStatement(&list[i])
	}
	return f.mentioned, f.escapes
}

func (f *flowScan) VisitStatement(n *ast.Statement) {
	if !utils.HasStmt(n) {
		return
	}
	switch n.Stmt.(type) {
	case *ast.BreakStatement:
		if f.loops == 0 && f.switches == 0 {
			f.escapes = true
		}
	case *ast.ContinueStatement:
		if f.loops == 0 {
			f.escapes = true
		}
	case *ast.WhileStatement, *ast.DoWhileStatement, *ast.ForStatement, *ast.ForInStatement, *ast.ForOfStatement:
		f.loops++
		n.VisitChildrenWith(f)
		f.loops--
		return
	case *ast.SwitchStatement:
		f.switches++
		n.VisitChildrenWith(f)
		f.switches--
		return
	case *ast.FunctionDeclaration:
		f.inFunction(func() { n.VisitChildrenWith(f) })
		return
	}
	n.VisitChildrenWith(f)
}

func (f *flowScan) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	switch e := n.Expr.(type) {
	case *ast.Identifier:
		if e.Name == f.name {
			f.mentioned = true
		}
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		f.inFunction(func() { n.VisitChildrenWith(f) })
		return
	}
	n.VisitChildrenWith(f)
}

// inFunction runs visit with jumps counted as local to the function.
func (f *flowScan) inFunction(visit func()) {
	loops := f.loops
	f.loops = 1
	visit()
	f.loops = loops
}
