package visitors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// DecodeKind is the transformation the accessor applies to a table entry.
type DecodeKind uint8

const (
	DecodePlain DecodeKind = iota
	DecodeBase64
	DecodeRC4
	// DecodeScript means the accessor was evaluated by the fallback VM.
	DecodeScript
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeBase64:
		return "base64"
	case DecodeRC4:
		return "rc4"
	case DecodeScript:
		return "script"
	default:
		return "plain"
	}
}

// Decoder turns an accessor call into the string it returns.
type Decoder interface {
	Decode(index int, key string) (string, bool)
}

// StringOptions tunes SolveStrings.
type StringOptions struct {
	// MinTableSize is the smallest array of strings treated as a table.
	MinTableSize int
	// MaxRotations bounds the shuffle simulation.
	MaxRotations int
	// Fallback runs the decoder fragment when the static solver cannot. It
	// receives the fragment source and the accessor name.
	Fallback func(source, accessor string) (Decoder, error)
}

func (o StringOptions) withDefaults() StringOptions {
	if o.MinTableSize <= 0 {
		o.MinTableSize = 5
	}
	if o.MaxRotations <= 0 {
		o.MaxRotations = 20000
	}
	return o
}

// StringTable is a solved string table: every accessor name, alias and
// index-shifting wrapper resolves a call to a string.
type StringTable struct {
	Table     string
	Accessor  string
	Aliases   []string
	Offset    int
	Kind      DecodeKind
	Entries   []string
	Rotations int
	// Shuffle is the self-invoking call that rotates the table at runtime.
	Shuffle *ast.CallExpression

	names    map[string]bool
	wrappers map[string]shiftWrapper
	decoder  Decoder
}

// Names lists every identifier whose calls the table resolves.
func (t *StringTable) Names() []string {
	out := make([]string, 0, len(t.names)+len(t.wrappers))
	for name := range t.names {
		out = append(out, name)
	}
	for name := range t.wrappers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handles reports whether calls to name go through the table.
func (t *StringTable) Handles(name string) bool {
	if t.names[name] {
		return true
	}
	_, ok := t.wrappers[name]
	return ok
}

const maxWrapperDepth = 8

// Resolve returns the string a call name(args...) evaluates to.
func (t *StringTable) Resolve(name string, args []evaluator.Value) (string, bool) {
	for depth := 0; depth < maxWrapperDepth; depth++ {
		if t.names[name] {
			if len(args) == 0 || args[0].Kind != evaluator.Number {
				return "", false
			}
			index := args[0].Num
			if index != float64(int(index)) {
				return "", false
			}
			key := ""
			if len(args) > 1 && args[1].Kind == evaluator.String {
				key = args[1].Str
			}
			return t.decoder.Decode(int(index), key)
		}
		w, ok := t.wrappers[name]
		if !ok {
			return "", false
		}
		next := make([]evaluator.Value, len(w.args))
		for i, a := range w.args {
			v, ok := a.apply(args)
			if !ok {
				return "", false
			}
			next[i] = v
		}
		name, args = w.target, next
	}
	return "", false
}

// SolveStrings finds the string table, its accessor and its shuffle routine
// and resolves them statically. A program without a table yields nil.
func SolveStrings(p *ast.Program, opts StringOptions) (*StringTable, []Diagnostic) {
	opts = opts.withDefaults()
	diags := &diagnostics{stage: "string-table"}

	site, ok := findTable(p, opts.MinTableSize)
	if !ok {
		return nil, nil
	}
	acc, ok := findAccessor(p, site.name)
	if !ok {
		diags.addf("string table %s has no accessor", site.name)
		return nil, diags.list
	}

	t := &StringTable{
		Table:    site.name,
		Accessor: acc.name,
		Offset:   acc.offset,
		Kind:     acc.kind,
		Entries:  append([]string(nil), site.entries...),
		names:    collectAliases(p, acc.name),
	}
	for name := range t.names {
		if name != acc.name {
			t.Aliases = append(t.Aliases, name)
		}
	}
	sort.Strings(t.Aliases)
	t.wrappers = collectShiftWrappers(p, t.names)

	static := &staticDecoder{entries: t.Entries, offset: t.Offset, kind: t.Kind, codec: utils.NewCodec(acc.alphabet)}
	t.decoder = static

	shuffle := findShuffle(p, site.name)
	if shuffle != nil {
		t.Shuffle = shuffle.call
	}
	var err error
	if !acc.known {
		err = errors.New("accessor applies an unknown decode step")
	} else if shuffle != nil {
		err = t.rotate(static, shuffle, opts.MaxRotations)
	}
	if err == nil {
		static.cache = make(map[int]string)
		return t, diags.list
	}

	if opts.Fallback == nil {
		diags.addf("string table %s: %v", site.name, err)
		return nil, diags.list
	}
	stmts := []ast.Statement{*site.stmt, *acc.stmt}
	if shuffle != nil {
		stmts = append(stmts, *shuffle.stmt)
	}
	vm, vmErr := opts.Fallback(utils.Source(stmts...), acc.name)
	if vmErr != nil {
		diags.addf("string table %s: %v; fallback failed: %v", site.name, err, vmErr)
		return nil, diags.list
	}
	t.Kind = DecodeScript
	t.decoder = vm
	return t, diags.list
}

// rotate simulates the shuffle: move the first entry to the end until the
// checksum expression equals the target, or a fixed number of times.
func (t *StringTable) rotate(d *staticDecoder, s *shuffleSite, maxRotations int) error {
	if !utils.HasExpr(s.checksum) {
		if s.target < 0 || s.target > float64(maxRotations) || s.target != float64(int(s.target)) {
			return fmt.Errorf("rotation count %v out of range", s.target)
		}
		n := int(s.target)
		if len(d.entries) > 0 {
			n %= len(d.entries)
		}
		rotated := make([]string, 0, len(d.entries))
		rotated = append(rotated, d.entries[n:]...)
		d.entries = append(rotated, d.entries[:n]...)
		t.Entries, t.Rotations = d.entries, int(s.target)
		return nil
	}

	ev := evaluator.Evaluator{
		Call: func(call *ast.CallExpression, args []evaluator.Value) (evaluator.Value, bool) {
			name, ok := utils.IdentName(call.Callee)
			if !ok || !t.Handles(name) {
				return evaluator.Value{}, false
			}
			str, ok := t.Resolve(name, args)
			if !ok {
				return evaluator.Value{}, false
			}
			return evaluator.StringValue(str), true
		},
	}
	for i := 0; i <= maxRotations; i++ {
		if v, ok := ev.Eval(s.checksum); ok && v.Kind == evaluator.Number && v.Num == s.target {
			t.Entries, t.Rotations = d.entries, i
			return nil
		}
		if len(d.entries) == 0 {
			break
		}
		d.entries = append(d.entries[1:len(d.entries):len(d.entries)], d.entries[0])
	}
	return fmt.Errorf("checksum never reached %v within %d rotations", s.target, maxRotations)
}

type staticDecoder struct {
	entries []string
	offset  int
	kind    DecodeKind
	codec   *utils.Codec
	// cache is nil while the table is still rotating.
	cache map[int]string
}

func (d *staticDecoder) Decode(index int, key string) (string, bool) {
	pos := index - d.offset
	if pos < 0 || pos >= len(d.entries) {
		return "", false
	}
	if d.kind == DecodeRC4 {
		out, err := d.codec.DecodeRC4(d.entries[pos], key)
		return out, err == nil
	}
	if s, ok := d.cache[pos]; ok {
		return s, true
	}
	out := d.entries[pos]
	if d.kind == DecodeBase64 {
		var err error
		if out, err = d.codec.DecodeString(out); err != nil {
			return "", false
		}
	}
	if d.cache != nil {
		d.cache[pos] = out
	}
	return out, true
}

type tableSite struct {
	name    string
	entries []string
	stmt    *ast.Statement
}

// findTable picks the largest array of strings, held either by a variable or
// by a provider function that declares it and returns it.
func findTable(p *ast.Program, minSize int) (tableSite, bool) {
	var best tableSite
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			st := &(*list)[i]
			switch s := st.Stmt.(type) {
			case *ast.FunctionDeclaration:
				fn := s.Function
				if fn == nil || fn.Name == nil || fn.Body == nil || len(fn.ParameterList.List) != 0 {
					continue
				}
				for j := range fn.Body.List {
					decl, ok := fn.Body.List[j].Stmt.(*ast.VariableDeclaration)
					if !ok {
						continue
					}
					for k := range decl.List {
						if entries, ok := stringArray(decl.List[k].Initializer, minSize); ok && len(entries) > len(best.entries) {
							best = tableSite{name: fn.Name.Name, entries: entries, stmt: st}
						}
					}
				}
			case *ast.VariableDeclaration:
				for k := range s.List {
					name, ok := utils.DeclaratorName(&s.List[k])
					if !ok {
						continue
					}
					if entries, ok := stringArray(s.List[k].Initializer, minSize); ok && len(entries) > len(best.entries) {
						best = tableSite{name: name, entries: entries, stmt: st}
					}
				}
			}
		}
	})
	return best, best.name != ""
}

func stringArray(e *ast.Expression, minSize int) ([]string, bool) {
	if !utils.HasExpr(e) {
		return nil, false
	}
	switch e.Expr.(type) {
	case *ast.ArrayLiteral, *ast.CallExpression:
	default:
		return nil, false
	}
	v, ok := evaluator.Eval(e)
	if !ok || v.Kind != evaluator.Array || len(v.Elems) < minSize {
		return nil, false
	}
	out := make([]string, len(v.Elems))
	for i, el := range v.Elems {
		if el.Kind != evaluator.String {
			return nil, false
		}
		out[i] = el.Str
	}
	return out, true
}

type accessorSite struct {
	name     string
	offset   int
	kind     DecodeKind
	alphabet string
	// known is false when the accessor does work the static decoder cannot
	// reproduce.
	known bool
	stmt  *ast.Statement
}

// findAccessor finds the function that indexes the table, preferring one
// that shifts its index argument (`i = i - K`).
func findAccessor(p *ast.Program, table string) (accessorSite, bool) {
	var found, plain accessorSite
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			st := &(*list)[i]
			name, fn := declaredFunction(st)
			if fn == nil || name == table || fn.Body == nil || len(fn.ParameterList.List) == 0 {
				continue
			}
			facts := scanFunction(fn)
			if !facts.idents[table] {
				continue
			}
			site := accessorSite{name: name, stmt: st}
			site.classify(facts, table, len(fn.ParameterList.List))
			switch {
			case facts.hasOffset && found.name == "":
				site.offset = facts.offset
				found = site
			case !facts.hasOffset && plain.name == "" && returnsTableRead(fn, table):
				plain = site
			}
		}
	})
	if found.name != "" {
		return found, true
	}
	return plain, plain.name != ""
}

func declaredFunction(st *ast.Statement) (string, *ast.FunctionLiteral) {
	switch s := st.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Name != nil {
			return s.Function.Name.Name, s.Function
		}
	case *ast.VariableDeclaration:
		if len(s.List) != 1 || !utils.HasExpr(s.List[0].Initializer) {
			return "", nil
		}
		name, ok := utils.DeclaratorName(&s.List[0])
		fn, isFn := s.List[0].Initializer.Expr.(*ast.FunctionLiteral)
		if ok && isFn {
			return name, fn
		}
	}
	return "", nil
}

func (a *accessorSite) classify(facts *functionFacts, table string, params int) {
	for _, s := range facts.strs {
		if isAlphabet(s) {
			a.alphabet = s
			a.kind = DecodeBase64
			if params >= 2 && facts.nums[256] {
				a.kind = DecodeRC4
			}
			a.known = true
			return
		}
	}
	a.kind = DecodePlain
	a.known = true
	for _, callee := range facts.callees {
		if callee != a.name && callee != table {
			a.known = false
			return
		}
	}
}

// returnsTableRead matches a body of exactly `return table[param]`.
func returnsTableRead(fn *ast.FunctionLiteral, table string) bool {
	if len(fn.Body.List) != 1 {
		return false
	}
	ret, ok := fn.Body.List[0].Stmt.(*ast.ReturnStatement)
	if !ok || !utils.HasExpr(ret.Argument) {
		return false
	}
	m, ok := ret.Argument.Expr.(*ast.MemberExpression)
	if !ok || !utils.IsIdent(m.Object, table) || m.Property == nil {
		return false
	}
	cp, ok := m.Property.Prop.(*ast.ComputedProperty)
	if !ok {
		return false
	}
	first, ok := fn.ParameterList.List[0].Target.Target.(*ast.Identifier)
	return ok && utils.IsIdent(cp.Expr, first.Name)
}

func isAlphabet(s string) bool {
	if len(s) != len(utils.StringArrayAlphabet) {
		return false
	}
	seen := make(map[byte]bool, len(s))
	for i := 0; i < len(s); i++ {
		if seen[s[i]] || strings.IndexByte(utils.StringArrayAlphabet, s[i]) < 0 {
			return false
		}
		seen[s[i]] = true
	}
	return true
}

// functionFacts is what the accessor search needs to know about a function
// body.
type functionFacts struct {
	ast.NoopVisitor
	idents    map[string]bool
	strs      []string
	nums      map[float64]bool
	callees   []string
	offset    int
	hasOffset bool
}

func scanFunction(fn *ast.FunctionLiteral) *functionFacts {
	f := &functionFacts{idents: make(map[string]bool), nums: make(map[float64]bool)}
	f.V = f
	for i := range fn.Body.List {
		f.VisitStatement(&fn.Body.List[i])
	}
	return f
}

func (f *functionFacts) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	switch e := n.Expr.(type) {
	case *ast.Identifier:
		f.idents[e.Name] = true
	case *ast.StringLiteral:
		f.strs = append(f.strs, e.Value)
	case *ast.NumberLiteral:
		f.nums[e.Value] = true
	case *ast.CallExpression:
		name, _ := utils.IdentName(e.Callee)
		f.callees = append(f.callees, name)
	case *ast.AssignExpression:
		if k, ok := indexShift(e); ok && !f.hasOffset {
			f.offset, f.hasOffset = k, true
		}
	}
	n.VisitChildrenWith(f)
}

// indexShift matches `i = i - K` and `i -= K`.
func indexShift(e *ast.AssignExpression) (int, bool) {
	name, ok := utils.IdentName(e.Left)
	if !ok || !utils.HasExpr(e.Right) {
		return 0, false
	}
	var k *ast.Expression
	switch e.Operator.String() {
	case "-=":
		k = e.Right
	case "=":
		bin, ok := e.Right.Expr.(*ast.BinaryExpression)
		if !ok || bin.Operator.String() != "-" || !utils.IsIdent(bin.Left, name) {
			return 0, false
		}
		k = bin.Right
	default:
		return 0, false
	}
	v, ok := evaluator.Eval(k)
	if !ok || v.Kind != evaluator.Number || v.Num != float64(int(v.Num)) {
		return 0, false
	}
	return int(v.Num), true
}

// collectAliases follows `x = accessor`, `var x = accessor` and
// `x = (..., accessor)` to a fixed point.
func collectAliases(p *ast.Program, accessor string) map[string]bool {
	c := &aliasCollector{aliases: map[string]bool{accessor: true}}
	c.V = c
	for {
		before := len(c.aliases)
		p.VisitWith(c)
		if len(c.aliases) == before {
			return c.aliases
		}
	}
}

type aliasCollector struct {
	ast.NoopVisitor
	aliases map[string]bool
}

func (v *aliasCollector) VisitVariableDeclarator(n *ast.VariableDeclarator) {
	if name, ok := utils.DeclaratorName(n); ok && utils.HasExpr(n.Initializer) {
		if right, ok := utils.UnwrapSequenceTail(n.Initializer.Expr).(*ast.Identifier); ok && v.aliases[right.Name] {
			v.aliases[name] = true
		}
	}
	n.VisitChildrenWith(v)
}

func (v *aliasCollector) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)
	assign, ok := n.Expr.(*ast.AssignExpression)
	if !ok || assign.Operator.String() != "=" || !utils.HasExpr(assign.Right) {
		return
	}
	left, ok := utils.IdentName(assign.Left)
	if !ok {
		return
	}
	if right, ok := utils.UnwrapSequenceTail(assign.Right.Expr).(*ast.Identifier); ok && v.aliases[right.Name] {
		v.aliases[left] = true
	}
}

// shiftArg computes one argument of the inner call from the wrapper's
// arguments: args[param] + delta, or a constant.
type shiftArg struct {
	param int
	delta float64
	value *evaluator.Value
}

func (a shiftArg) apply(args []evaluator.Value) (evaluator.Value, bool) {
	if a.value != nil {
		return *a.value, true
	}
	if a.param >= len(args) {
		return evaluator.Value{Kind: evaluator.Undefined}, true
	}
	v := args[a.param]
	if a.delta == 0 {
		return v, true
	}
	if v.Kind != evaluator.Number {
		return evaluator.Value{}, false
	}
	return evaluator.NumberValue(v.Num + a.delta), true
}

type shiftWrapper struct {
	target string
	args   []shiftArg
}

// collectShiftWrappers finds functions whose body is `return acc(b - K, a)`
// for a table name acc, in any argument order.
func collectShiftWrappers(p *ast.Program, names map[string]bool) map[string]shiftWrapper {
	out := make(map[string]shiftWrapper)
	for changed := true; changed; {
		changed = false
		forEachList(p, func(list *[]ast.Statement) {
			for i := range *list {
				name, fn := declaredFunction(&(*list)[i])
				if fn == nil || names[name] {
					continue
				}
				if _, done := out[name]; done {
					continue
				}
				if w, ok := shiftWrapperOf(fn, func(n string) bool { _, isW := out[n]; return names[n] || isW }); ok {
					out[name] = w
					changed = true
				}
			}
		})
	}
	return out
}

func shiftWrapperOf(fn *ast.FunctionLiteral, known func(string) bool) (shiftWrapper, bool) {
	if fn.Body == nil || len(fn.Body.List) != 1 {
		return shiftWrapper{}, false
	}
	ret, ok := fn.Body.List[0].Stmt.(*ast.ReturnStatement)
	if !ok || !utils.HasExpr(ret.Argument) {
		return shiftWrapper{}, false
	}
	call, ok := ret.Argument.Expr.(*ast.CallExpression)
	if !ok {
		return shiftWrapper{}, false
	}
	target, ok := utils.IdentName(call.Callee)
	if !ok || !known(target) {
		return shiftWrapper{}, false
	}
	params := make(map[string]int, len(fn.ParameterList.List))
	for i := range fn.ParameterList.List {
		id, ok := fn.ParameterList.List[i].Target.Target.(*ast.Identifier)
		if !ok {
			return shiftWrapper{}, false
		}
		params[id.Name] = i
	}

	w := shiftWrapper{target: target}
	for i := range call.ArgumentList {
		arg, ok := shiftArgOf(&call.ArgumentList[i], params)
		if !ok {
			return shiftWrapper{}, false
		}
		w.args = append(w.args, arg)
	}
	return w, true
}

func shiftArgOf(e *ast.Expression, params map[string]int) (shiftArg, bool) {
	if name, ok := utils.IdentName(e); ok {
		idx, isParam := params[name]
		return shiftArg{param: idx}, isParam
	}
	if bin, ok := e.Expr.(*ast.BinaryExpression); ok {
		name, ok := utils.IdentName(bin.Left)
		idx, isParam := params[name]
		k, kok := evaluator.Eval(bin.Right)
		if !ok || !isParam || !kok || k.Kind != evaluator.Number {
			return shiftArg{}, false
		}
		switch bin.Operator.String() {
		case "-":
			return shiftArg{param: idx, delta: -k.Num}, true
		case "+":
			return shiftArg{param: idx, delta: k.Num}, true
		}
		return shiftArg{}, false
	}
	if v, ok := evaluator.Eval(e); ok {
		return shiftArg{value: &v}, true
	}
	return shiftArg{}, false
}

type shuffleSite struct {
	call     *ast.CallExpression
	stmt     *ast.Statement
	target   float64
	checksum *ast.Expression
}

// findShuffle finds the self-invoking function that receives the table and
// a numeric target.
func findShuffle(p *ast.Program, table string) *shuffleSite {
	var found *shuffleSite
	forEachList(p, func(list *[]ast.Statement) {
		for i := range *list {
			if found != nil {
				return
			}
			call := selfInvoked(&(*list)[i])
			if call == nil {
				continue
			}
			fn, _ := call.Callee.Expr.(*ast.FunctionLiteral)
			hasTable, target, hasTarget := false, 0.0, false
			for j := range call.ArgumentList {
				if utils.IsIdent(&call.ArgumentList[j], table) {
					hasTable = true
				}
				if num, ok := call.ArgumentList[j].Expr.(*ast.NumberLiteral); ok && !hasTarget {
					target, hasTarget = num.Value, true
				}
			}
			if !hasTable || !hasTarget || fn.Body == nil {
				continue
			}
			found = &shuffleSite{call: call, stmt: &(*list)[i], target: target}
			finder := &checksumFinder{}
			finder.V = finder
			for j := range fn.Body.List {
				finder.VisitStatement(&fn.Body.List[j])
			}
			found.checksum = finder.expr
		}
	})
	return found
}

// selfInvoked returns the call of `(function () {...})(...)` or
// `!function () {...}(...)` in statement position.
func selfInvoked(st *ast.Statement) *ast.CallExpression {
	es, ok := st.Stmt.(*ast.ExpressionStatement)
	if !ok || !utils.HasExpr(es.Expression) {
		return nil
	}
	e := es.Expression.Expr
	if un, ok := e.(*ast.UnaryExpression); ok && utils.HasExpr(un.Operand) {
		e = un.Operand.Expr
	}
	call, ok := e.(*ast.CallExpression)
	if !ok || !utils.HasExpr(call.Callee) {
		return nil
	}
	if _, ok := call.Callee.Expr.(*ast.FunctionLiteral); !ok {
		return nil
	}
	return call
}

// checksumFinder takes the first assigned expression that calls parseInt.
type checksumFinder struct {
	ast.NoopVisitor
	expr *ast.Expression
}

func (v *checksumFinder) VisitVariableDeclarator(n *ast.VariableDeclarator) {
	if v.expr == nil && utils.HasExpr(n.Initializer) && containsParseInt(n.Initializer) {
		v.expr = n.Initializer
		return
	}
	n.VisitChildrenWith(v)
}

func (v *checksumFinder) VisitExpression(n *ast.Expression) {
	if v.expr != nil || !utils.HasExpr(n) {
		return
	}
	if assign, ok := n.Expr.(*ast.AssignExpression); ok && assign.Operator.String() == "=" && containsParseInt(assign.Right) {
		v.expr = assign.Right
		return
	}
	n.VisitChildrenWith(v)
}

func containsParseInt(expr *ast.Expression) bool {
	found := false
	var walk func(e *ast.Expression)
	walk = func(e *ast.Expression) {
		if !utils.HasExpr(e) || found {
			return
		}
		switch node := e.Expr.(type) {
		case *ast.CallExpression:
			if utils.IsIdent(node.Callee, "parseInt") {
				found = true
				return
			}
			walk(node.Callee)
			for i := range node.ArgumentList {
				walk(&node.ArgumentList[i])
			}
		case *ast.BinaryExpression:
			walk(node.Left)
			walk(node.Right)
		case *ast.LogicalExpression:
			walk(node.Left)
			walk(node.Right)
		case *ast.UnaryExpression:
			walk(node.Operand)
		}
	}
	walk(expr)
	return found
}
