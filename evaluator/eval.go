// Package evaluator folds JavaScript expression trees into values when every
// operand is statically known.
package evaluator

import (
	"math"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// Evaluator evaluates expressions conservatively. Every method returns false
// as its second result instead of guessing.
type Evaluator struct {
	// Resolve supplies values for identifiers. Unset or false means unknown.
	Resolve func(name string) (Value, bool)
	// Shadowed reports names the program binds itself. A shadowed name never
	// reaches the global of the same name.
	Shadowed func(name string) bool
	// Call intercepts calls before the built-in library is consulted.
	Call func(call *ast.CallExpression, args []Value) (Value, bool)
	// AllowCall limits which built-in calls may be evaluated, by dotted path
	// such as "Math.floor" or by method name such as ".split". Nil allows all.
	AllowCall func(name string, args []Value) bool
}

// Eval evaluates e with a default Evaluator.
func Eval(e *ast.Expression) (Value, bool) {
	var ev Evaluator
	return ev.Eval(e)
}

func (ev *Evaluator) Eval(e *ast.Expression) (Value, bool) {
	if !utils.HasExpr(e) {
		return Value{}, false
	}
	return ev.evalExpr(e.Expr, 0)
}

// shadowed reports whether name is bound by the program rather than global.
func (ev *Evaluator) shadowed(name string) bool {
	if ev.Shadowed != nil && ev.Shadowed(name) {
		return true
	}
	if ev.Resolve != nil {
		_, ok := ev.Resolve(name)
		return ok
	}
	return false
}

const maxDepth = 256

func (ev *Evaluator) evalExpr(e ast.Expr, depth int) (Value, bool) {
	if depth > maxDepth {
		return Value{}, false
	}
	depth++

	switch n := e.(type) {
	case *ast.NumberLiteral:
		return NumberValue(n.Value), true
	case *ast.StringLiteral:
		return StringValue(n.Value), true
	case *ast.BooleanLiteral:
		return BoolValue(n.Value), true
	case *ast.NullLiteral:
		return Value{Kind: Null}, true
	case *ast.Identifier:
		if ev.Resolve != nil {
			if v, ok := ev.Resolve(n.Name); ok {
				return v, true
			}
		}
		if ev.shadowed(n.Name) {
			return Value{}, false
		}
		switch n.Name {
		case "undefined":
			return Value{Kind: Undefined}, true
		case "NaN":
			return NumberValue(math.NaN()), true
		case "Infinity":
			return NumberValue(math.Inf(1)), true
		}
		return Value{}, false
	case *ast.ArrayLiteral:
		elems := make([]Value, 0, len(n.Value))
		for i := range n.Value {
			if !utils.HasExpr(&n.Value[i]) {
				return Value{}, false
			}
			if _, spread := n.Value[i].Expr.(*ast.SpreadElement); spread {
				return Value{}, false
			}
			v, ok := ev.evalExpr(n.Value[i].Expr, depth)
			if !ok {
				return Value{}, false
			}
			elems = append(elems, v)
		}
		return ArrayValue(elems), true
	case *ast.UnaryExpression:
		return ev.evalUnary(n, depth)
	case *ast.BinaryExpression:
		return ev.evalBinary(n, depth)
	case *ast.LogicalExpression:
		return ev.evalLogical(n, depth)
	case *ast.ConditionalExpression:
		if !utils.HasExpr(n.Test) || !utils.HasExpr(n.Consequent) || !utils.HasExpr(n.Alternate) {
			return Value{}, false
		}
		test, ok := ev.evalExpr(n.Test.Expr, depth)
		if !ok {
			return Value{}, false
		}
		if test.ToBoolean() {
			return ev.evalExpr(n.Consequent.Expr, depth)
		}
		return ev.evalExpr(n.Alternate.Expr, depth)
	case *ast.SequenceExpression:
		if len(n.Sequence) == 0 {
			return Value{}, false
		}
		// Only a sequence of literals followed by a value is side-effect free.
		for i := 0; i < len(n.Sequence)-1; i++ {
			if !utils.IsLiteral(n.Sequence[i].Expr) {
				return Value{}, false
			}
		}
		return ev.evalExpr(n.Sequence[len(n.Sequence)-1].Expr, depth)
	case *ast.MemberExpression:
		return ev.evalMember(n, depth)
	case *ast.CallExpression:
		return ev.evalCall(n, depth)
	}
	return Value{}, false
}

func (ev *Evaluator) evalUnary(n *ast.UnaryExpression, depth int) (Value, bool) {
	if !utils.HasExpr(n.Operand) {
		return Value{}, false
	}
	op := n.Operator.String()
	if op == "delete" {
		return Value{}, false
	}
	operand, ok := ev.evalExpr(n.Operand.Expr, depth)
	if !ok {
		return Value{}, false
	}
	switch op {
	case "!":
		return BoolValue(!operand.ToBoolean()), true
	case "-":
		return NumberValue(-operand.ToNumber()), true
	case "+":
		return NumberValue(operand.ToNumber()), true
	case "~":
		return NumberValue(float64(^ToInt32(operand.ToNumber()))), true
	case "typeof":
		switch operand.Kind {
		case Null, Array:
			return StringValue("object"), true
		default:
			return StringValue(operand.Kind.String()), true
		}
	case "void":
		return Value{Kind: Undefined}, true
	}
	return Value{}, false
}

func (ev *Evaluator) evalBinary(n *ast.BinaryExpression, depth int) (Value, bool) {
	if !utils.HasExpr(n.Left) || !utils.HasExpr(n.Right) {
		return Value{}, false
	}
	left, ok := ev.evalExpr(n.Left.Expr, depth)
	if !ok {
		return Value{}, false
	}
	right, ok := ev.evalExpr(n.Right.Expr, depth)
	if !ok {
		return Value{}, false
	}
	return BinaryOp(n.Operator.String(), left, right)
}

// evalLogical short-circuits: the right side is only evaluated, and only has
// to be known, when the left side does not decide the result.
func (ev *Evaluator) evalLogical(n *ast.LogicalExpression, depth int) (Value, bool) {
	if !utils.HasExpr(n.Left) || !utils.HasExpr(n.Right) {
		return Value{}, false
	}
	left, ok := ev.evalExpr(n.Left.Expr, depth)
	if !ok {
		return Value{}, false
	}
	if ShortCircuits(n.Operator.String(), left) {
		return left, true
	}
	return ev.evalExpr(n.Right.Expr, depth)
}

// ShortCircuits reports whether a logical operator returns its left operand
// without evaluating the right one.
func ShortCircuits(op string, left Value) bool {
	switch op {
	case "&&":
		return !left.ToBoolean()
	case "||":
		return left.ToBoolean()
	case "??":
		return left.Kind != Null && left.Kind != Undefined
	}
	return false
}

// BinaryOp applies a binary operator to two known values.
func BinaryOp(op string, left, right Value) (Value, bool) {
	switch op {
	case "+":
		lp, rp := left.ToPrimitive(), right.ToPrimitive()
		if lp.Kind == String || rp.Kind == String {
			return StringValue(lp.ToString() + rp.ToString()), true
		}
		return NumberValue(lp.ToNumber() + rp.ToNumber()), true
	case "-":
		return NumberValue(left.ToNumber() - right.ToNumber()), true
	case "*":
		return NumberValue(left.ToNumber() * right.ToNumber()), true
	case "/":
		return NumberValue(left.ToNumber() / right.ToNumber()), true
	case "%":
		l, r := left.ToNumber(), right.ToNumber()
		if r == 0 || math.IsInf(l, 0) {
			return NumberValue(math.NaN()), true
		}
		return NumberValue(math.Mod(l, r)), true
	case "**":
		return NumberValue(math.Pow(left.ToNumber(), right.ToNumber())), true
	case "&":
		return NumberValue(float64(ToInt32(left.ToNumber()) & ToInt32(right.ToNumber()))), true
	case "|":
		return NumberValue(float64(ToInt32(left.ToNumber()) | ToInt32(right.ToNumber()))), true
	case "^":
		return NumberValue(float64(ToInt32(left.ToNumber()) ^ ToInt32(right.ToNumber()))), true
	case "<<":
		return NumberValue(float64(ToInt32(left.ToNumber()) << (ToUint32(right.ToNumber()) & 31))), true
	case ">>":
		return NumberValue(float64(ToInt32(left.ToNumber()) >> (ToUint32(right.ToNumber()) & 31))), true
	case ">>>":
		return NumberValue(float64(ToUint32(left.ToNumber()) >> (ToUint32(right.ToNumber()) & 31))), true
	case "==":
		eq, ok := LooseEquals(left, right)
		return BoolValue(eq), ok
	case "!=":
		eq, ok := LooseEquals(left, right)
		return BoolValue(!eq), ok
	case "===":
		eq, ok := StrictEquals(left, right)
		return BoolValue(eq), ok
	case "!==":
		eq, ok := StrictEquals(left, right)
		return BoolValue(!eq), ok
	case "<", ">", "<=", ">=":
		return compare(op, left.ToPrimitive(), right.ToPrimitive()), true
	}
	return Value{}, false
}

func compare(op string, l, r Value) Value {
	if l.Kind == String && r.Kind == String {
		c := compareUnits(utf16Units(l.Str), utf16Units(r.Str))
		switch op {
		case "<":
			return BoolValue(c < 0)
		case ">":
			return BoolValue(c > 0)
		case "<=":
			return BoolValue(c <= 0)
		default:
			return BoolValue(c >= 0)
		}
	}
	a, b := l.ToNumber(), r.ToNumber()
	if math.IsNaN(a) || math.IsNaN(b) {
		return BoolValue(false)
	}
	switch op {
	case "<":
		return BoolValue(a < b)
	case ">":
		return BoolValue(a > b)
	case "<=":
		return BoolValue(a <= b)
	default:
		return BoolValue(a >= b)
	}
}

func compareUnits(a, b []uint16) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func (ev *Evaluator) evalMember(n *ast.MemberExpression, depth int) (Value, bool) {
	if !utils.HasExpr(n.Object) || n.Property == nil {
		return Value{}, false
	}
	obj, ok := ev.evalExpr(n.Object.Expr, depth)
	if !ok {
		return Value{}, false
	}

	var key Value
	switch p := n.Property.Prop.(type) {
	case *ast.Identifier:
		key = StringValue(p.Name)
	case *ast.ComputedProperty:
		if !utils.HasExpr(p.Expr) {
			return Value{}, false
		}
		key, ok = ev.evalExpr(p.Expr.Expr, depth)
		if !ok {
			return Value{}, false
		}
	default:
		return Value{}, false
	}
	return Index(obj, key)
}

// Index reads obj[key] for strings and arrays. Only "length" and integer
// indices are understood.
func Index(obj, key Value) (Value, bool) {
	if obj.Kind != String && obj.Kind != Array {
		return Value{}, false
	}
	name := key.ToString()
	if key.Kind != String && key.Kind != Number {
		return Value{}, false
	}
	if name == "length" {
		if obj.Kind == String {
			return NumberValue(float64(len(utf16Units(obj.Str)))), true
		}
		return NumberValue(float64(len(obj.Elems))), true
	}

	idx := StringToNumber(name)
	if math.IsNaN(idx) || idx != math.Trunc(idx) || idx < 0 || NumberToString(idx) != name {
		return Value{}, false
	}
	i := int(idx)
	switch obj.Kind {
	case String:
		units := utf16Units(obj.Str)
		if i >= len(units) {
			return Value{Kind: Undefined}, true
		}
		return StringValue(fromUnits(units[i : i+1])), true
	default:
		if i >= len(obj.Elems) {
			return Value{Kind: Undefined}, true
		}
		return obj.Elems[i], true
	}
}
