package keys

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
	"github.com/Eggwite/megacloud-key-extractor/visitors"
)

// Property is one entry of an object literal: a string value, or a function
// whose returned string is resolved on lookup.
type Property struct {
	Value string
	Fn    *ast.FunctionLiteral
}

// Tables is the snapshot the extractors read. It is built once per program by
// Collect and never changed afterwards.
type Tables struct {
	// Arrays maps a name to the literal array it holds, including arrays
	// completed by `name[i] = literal` writes in order.
	Arrays map[string][]evaluator.Value
	// Segments maps a function name to the string it returns on every path.
	Segments map[string]string
	// Objects maps an object name to its properties.
	Objects map[string]map[string]Property
	// Aliases maps a name to the name assigned to it verbatim.
	Aliases map[string]string
	// Strings maps a name to the last string literal assigned to it.
	Strings map[string]string
}

// Collect builds the tables in one pre-order walk of p.
func Collect(p *ast.Program) *Tables {
	c := &collector{t: &Tables{
		Arrays:   make(map[string][]evaluator.Value),
		Segments: make(map[string]string),
		Objects:  make(map[string]map[string]Property),
		Aliases:  make(map[string]string),
		Strings:  make(map[string]string),
	}}
	c.V = c
	p.VisitWith(c)
	return c.t
}

// ResolveAlias follows the alias chain from name. A chain that runs into a
// cycle resolves to name itself.
func (t *Tables) ResolveAlias(name string) string {
	seen := map[string]bool{name: true}
	cur := name
	for {
		next, ok := t.Aliases[cur]
		if !ok {
			return cur
		}
		if seen[next] {
			return name
		}
		seen[next] = true
		cur = next
	}
}

// Array looks name up directly and then through its aliases.
func (t *Tables) Array(name string) ([]evaluator.Value, string, bool) {
	if arr, ok := t.Arrays[name]; ok {
		return arr, name, true
	}
	target := t.ResolveAlias(name)
	arr, ok := t.Arrays[target]
	return arr, target, ok
}

func (t *Tables) Segment(name string) (string, string, bool) {
	if s, ok := t.Segments[name]; ok {
		return s, name, true
	}
	target := t.ResolveAlias(name)
	s, ok := t.Segments[target]
	return s, target, ok
}

// Literal returns the string literal name holds.
func (t *Tables) Literal(name string) (string, string, bool) {
	if s, ok := t.Strings[name]; ok {
		return s, name, true
	}
	target := t.ResolveAlias(name)
	s, ok := t.Strings[target]
	return s, target, ok
}

// Property resolves obj.prop, chasing obj through the alias table. A method
// resolves when it returns one string on every path.
func (t *Tables) Property(obj, prop string) (string, bool) {
	props, ok := t.Objects[obj]
	if !ok {
		props, ok = t.Objects[t.ResolveAlias(obj)]
	}
	if !ok {
		return "", false
	}
	p, ok := props[prop]
	if !ok {
		return "", false
	}
	if p.Fn != nil {
		return visitors.ReturnedString(p.Fn)
	}
	return p.Value, true
}

type collector struct {
	ast.NoopVisitor
	t *Tables
}

func (c *collector) VisitStatement(n *ast.Statement) {
	if fd, ok := n.Stmt.(*ast.FunctionDeclaration); ok && fd.Function != nil {
		if name := utils.FunctionName(fd.Function); name != "" {
			c.bind(name, &ast.Expression{Expr: fd.Function})
		}
	}
	n.VisitChildrenWith(c)
}

func (c *collector) VisitVariableDeclarator(n *ast.VariableDeclarator) {
	if name, ok := utils.DeclaratorName(n); ok && utils.HasExpr(n.Initializer) {
		c.bind(name, n.Initializer)
	}
	n.VisitChildrenWith(c)
}

func (c *collector) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	if assign, ok := n.Expr.(*ast.AssignExpression); ok && assign.Operator.String() == "=" && utils.HasExpr(assign.Right) {
		switch left := assign.Left.Expr.(type) {
		case *ast.Identifier:
			c.bind(left.Name, assign.Right)
		case *ast.MemberExpression:
			c.store(left, assign.Right)
		}
	}
	n.VisitChildrenWith(c)
}

// bind records what name holds after `name = value`. Each assignment replaces
// whatever the name held before.
func (c *collector) bind(name string, value *ast.Expression) {
	c.forget(name)
	switch v := utils.UnwrapSequenceTail(value.Expr).(type) {
	case *ast.Identifier:
		if v.Name != name {
			c.t.Aliases[name] = v.Name
		}
	case *ast.StringLiteral:
		c.t.Strings[name] = v.Value
	case *ast.ArrayLiteral:
		if arr, ok := evaluator.Eval(&ast.Expression{Expr: v}); ok && arr.Kind == evaluator.Array {
			c.t.Arrays[name] = arr.Elems
		}
	case *ast.FunctionLiteral:
		if s, ok := visitors.ReturnedString(v); ok {
			c.t.Segments[name] = s
		}
	case *ast.ObjectLiteral:
		c.t.Objects[name] = objectProperties(v)
	}
}

func (c *collector) forget(name string) {
	delete(c.t.Aliases, name)
	delete(c.t.Strings, name)
	delete(c.t.Arrays, name)
	delete(c.t.Segments, name)
	delete(c.t.Objects, name)
}

// store applies `arr[i] = literal` to a known array and `obj.k = value` to a
// known object. A write the table cannot follow drops the entry.
func (c *collector) store(m *ast.MemberExpression, value *ast.Expression) {
	name, ok := utils.IdentName(m.Object)
	if !ok {
		return
	}
	if arr, ok := c.t.Arrays[name]; ok {
		idx, isIdx := utils.MemberIndex(m.Property)
		v, isLit := evaluator.Eval(value)
		switch {
		case !isIdx || !isLit || idx > len(arr):
			delete(c.t.Arrays, name)
		case idx == len(arr):
			c.t.Arrays[name] = append(arr[:len(arr):len(arr)], v)
		default:
			next := append([]evaluator.Value(nil), arr...)
			next[idx] = v
			c.t.Arrays[name] = next
		}
		return
	}
	if props, ok := c.t.Objects[name]; ok {
		key, ok := utils.MemberPropName(m.Property)
		if !ok {
			delete(c.t.Objects, name)
			return
		}
		switch v := value.Expr.(type) {
		case *ast.StringLiteral:
			props[key] = Property{Value: v.Value}
		case *ast.FunctionLiteral:
			props[key] = Property{Fn: v}
		default:
			delete(props, key)
		}
	}
}

func objectProperties(obj *ast.ObjectLiteral) map[string]Property {
	out := make(map[string]Property)
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok || !utils.HasExpr(prop.Value) {
			continue
		}
		key, ok := utils.PropertyKeyName(prop)
		if !ok {
			continue
		}
		switch v := prop.Value.Expr.(type) {
		case *ast.StringLiteral:
			out[key] = Property{Value: v.Value}
		case *ast.FunctionLiteral:
			out[key] = Property{Fn: v}
		}
	}
	return out
}
