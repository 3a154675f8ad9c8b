package evaluator

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

func (ev *Evaluator) allowed(name string, args []Value) bool {
	return ev.AllowCall == nil || ev.AllowCall(name, args)
}

func (ev *Evaluator) evalArgs(list ast.Expressions, depth int) ([]Value, bool) {
	args := make([]Value, 0, len(list))
	for i := range list {
		if !utils.HasExpr(&list[i]) {
			return nil, false
		}
		if spread, ok := list[i].Expr.(*ast.SpreadElement); ok {
			if !utils.HasExpr(spread.Expression) {
				return nil, false
			}
			v, ok := ev.evalExpr(spread.Expression.Expr, depth)
			if !ok || v.Kind != Array {
				return nil, false
			}
			args = append(args, v.Elems...)
			continue
		}
		v, ok := ev.evalExpr(list[i].Expr, depth)
		if !ok {
			return nil, false
		}
		args = append(args, v)
	}
	return args, true
}

func (ev *Evaluator) evalCall(n *ast.CallExpression, depth int) (Value, bool) {
	if !utils.HasExpr(n.Callee) {
		return Value{}, false
	}

	if ev.Call != nil {
		args, ok := ev.evalArgs(n.ArgumentList, depth)
		if ok {
			if v, ok := ev.Call(n, args); ok {
				return v, true
			}
		}
	}

	// Global functions and static members, e.g. parseInt(...) or Math.floor(...).
	if path, ok := utils.MemberPath(n.Callee); ok {
		if _, isIdent := n.Callee.Expr.(*ast.Identifier); isIdent || isGlobalObject(path) {
			root := path
			if i := strings.IndexByte(path, '.'); i >= 0 {
				root = path[:i]
			}
			if ev.shadowed(root) {
				return Value{}, false
			}
			args, ok := ev.evalArgs(n.ArgumentList, depth)
			if !ok || !ev.allowed(path, args) {
				return Value{}, false
			}
			return CallGlobal(path, args)
		}
	}

	member, ok := n.Callee.Expr.(*ast.MemberExpression)
	if !ok || !utils.HasExpr(member.Object) {
		return Value{}, false
	}
	method, ok := utils.MemberPropName(member.Property)
	if !ok {
		return Value{}, false
	}
	recv, ok := ev.evalExpr(member.Object.Expr, depth)
	if !ok {
		return Value{}, false
	}
	args, ok := ev.evalArgs(n.ArgumentList, depth)
	if !ok || !ev.allowed("."+method, args) {
		return Value{}, false
	}
	return CallMethod(recv, method, args)
}

func isGlobalObject(path string) bool {
	return strings.HasPrefix(path, "Math.") || strings.HasPrefix(path, "String.") || strings.HasPrefix(path, "Number.")
}

func argAt(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Value{Kind: Undefined}
}

// CallGlobal evaluates a call to a known global function.
func CallGlobal(path string, args []Value) (Value, bool) {
	switch path {
	case "parseInt", "Number.parseInt":
		radix := 0
		if len(args) > 1 && args[1].Kind != Undefined {
			radix = int(ToInt32(args[1].ToNumber()))
		}
		return NumberValue(ParseInt(argAt(args, 0).ToString(), radix)), true
	case "parseFloat", "Number.parseFloat":
		return NumberValue(ParseFloat(argAt(args, 0).ToString())), true
	case "Number":
		if len(args) == 0 {
			return NumberValue(0), true
		}
		return NumberValue(args[0].ToNumber()), true
	case "String":
		if len(args) == 0 {
			return StringValue(""), true
		}
		return StringValue(args[0].ToString()), true
	case "Boolean":
		return BoolValue(argAt(args, 0).ToBoolean()), true
	case "String.fromCharCode":
		units := make([]uint16, len(args))
		for i, a := range args {
			units[i] = uint16(ToUint32(a.ToNumber()))
		}
		return StringValue(fromUnits(units)), true
	case "isNaN":
		return BoolValue(math.IsNaN(argAt(args, 0).ToNumber())), true
	}

	if !strings.HasPrefix(path, "Math.") {
		return Value{}, false
	}
	x := argAt(args, 0).ToNumber()
	switch strings.TrimPrefix(path, "Math.") {
	case "floor":
		return NumberValue(math.Floor(x)), true
	case "ceil":
		return NumberValue(math.Ceil(x)), true
	case "round":
		return NumberValue(math.Floor(x + 0.5)), true
	case "trunc":
		return NumberValue(math.Trunc(x)), true
	case "abs":
		return NumberValue(math.Abs(x)), true
	case "sqrt":
		return NumberValue(math.Sqrt(x)), true
	case "sign":
		switch {
		case math.IsNaN(x) || x == 0:
			return NumberValue(x), true
		case x > 0:
			return NumberValue(1), true
		default:
			return NumberValue(-1), true
		}
	case "pow":
		return NumberValue(math.Pow(x, argAt(args, 1).ToNumber())), true
	case "max", "min":
		isMax := path == "Math.max"
		res := math.Inf(1)
		if isMax {
			res = math.Inf(-1)
		}
		for _, a := range args {
			v := a.ToNumber()
			if math.IsNaN(v) {
				return NumberValue(v), true
			}
			if (isMax && v > res) || (!isMax && v < res) {
				res = v
			}
		}
		return NumberValue(res), true
	}
	return Value{}, false
}

// CallMethod evaluates a method call on a known string or array.
func CallMethod(recv Value, method string, args []Value) (Value, bool) {
	switch recv.Kind {
	case String:
		return stringMethod(recv.Str, method, args)
	case Array:
		return arrayMethod(recv.Elems, method, args)
	case Number:
		if method == "toString" {
			if len(args) == 0 || argAt(args, 0).ToNumber() == 10 {
				return StringValue(NumberToString(recv.Num)), true
			}
			radix := int(argAt(args, 0).ToNumber())
			if radix < 2 || radix > 36 || recv.Num != math.Trunc(recv.Num) || math.Abs(recv.Num) > 1<<53 {
				return Value{}, false
			}
			return StringValue(strconv.FormatInt(int64(recv.Num), radix)), true
		}
	}
	return Value{}, false
}

// relIndex resolves a possibly negative slice bound against length.
func relIndex(v Value, length int, def int) int {
	if v.Kind == Undefined {
		return def
	}
	f := math.Trunc(v.ToNumber())
	if math.IsNaN(f) {
		f = 0
	}
	if f < 0 {
		f += float64(length)
		if f < 0 {
			f = 0
		}
	}
	if f > float64(length) {
		f = float64(length)
	}
	return int(f)
}

func clampIndex(v Value, length int, def int) int {
	if v.Kind == Undefined {
		return def
	}
	f := math.Trunc(v.ToNumber())
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > float64(length) {
		f = float64(length)
	}
	return int(f)
}

func stringMethod(s, method string, args []Value) (Value, bool) {
	units := utf16Units(s)
	switch method {
	case "charCodeAt":
		i := clampIndex(argAt(args, 0), len(units)+1, 0)
		if i >= len(units) {
			return NumberValue(math.NaN()), true
		}
		return NumberValue(float64(units[i])), true
	case "charAt":
		i := clampIndex(argAt(args, 0), len(units)+1, 0)
		if i >= len(units) {
			return StringValue(""), true
		}
		return StringValue(fromUnits(units[i : i+1])), true
	case "split":
		sep := argAt(args, 0)
		if sep.Kind == Undefined {
			return ArrayValue([]Value{StringValue(s)}), true
		}
		if sep.Kind != String || len(args) > 1 {
			return Value{}, false
		}
		var parts []string
		if sep.Str == "" {
			for _, u := range units {
				parts = append(parts, fromUnits([]uint16{u}))
			}
		} else {
			parts = strings.Split(s, sep.Str)
		}
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = StringValue(p)
		}
		return ArrayValue(out), true
	case "slice":
		start := relIndex(argAt(args, 0), len(units), 0)
		end := relIndex(argAt(args, 1), len(units), len(units))
		if start >= end {
			return StringValue(""), true
		}
		return StringValue(fromUnits(units[start:end])), true
	case "substring":
		start := clampIndex(argAt(args, 0), len(units), 0)
		end := clampIndex(argAt(args, 1), len(units), len(units))
		if start > end {
			start, end = end, start
		}
		return StringValue(fromUnits(units[start:end])), true
	case "substr":
		start := relIndex(argAt(args, 0), len(units), 0)
		n := len(units) - start
		if l := argAt(args, 1); l.Kind != Undefined {
			n = clampIndex(l, len(units)-start, n)
		}
		return StringValue(fromUnits(units[start : start+n])), true
	case "toUpperCase":
		return StringValue(strings.ToUpper(s)), true
	case "toLowerCase":
		return StringValue(strings.ToLower(s)), true
	case "indexOf":
		return NumberValue(float64(indexUnits(units, utf16Units(argAt(args, 0).ToString())))), true
	case "concat":
		var sb strings.Builder
		sb.WriteString(s)
		for _, a := range args {
			sb.WriteString(a.ToString())
		}
		return StringValue(sb.String()), true
	case "toString", "valueOf":
		return StringValue(s), true
	case "trim":
		return StringValue(strings.TrimSpace(s)), true
	}
	return Value{}, false
}

func indexUnits(hay, needle []uint16) int {
	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j := range needle {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func arrayMethod(elems []Value, method string, args []Value) (Value, bool) {
	switch method {
	case "join":
		sep := ","
		if a := argAt(args, 0); a.Kind != Undefined {
			sep = a.ToString()
		}
		return StringValue(joinValues(elems, sep)), true
	case "reverse":
		out := make([]Value, len(elems))
		for i, el := range elems {
			out[len(elems)-1-i] = el
		}
		return ArrayValue(out), true
	case "slice":
		start := relIndex(argAt(args, 0), len(elems), 0)
		end := relIndex(argAt(args, 1), len(elems), len(elems))
		if start >= end {
			return ArrayValue(nil), true
		}
		out := make([]Value, end-start)
		copy(out, elems[start:end])
		return ArrayValue(out), true
	case "concat":
		out := append([]Value(nil), elems...)
		for _, a := range args {
			if a.Kind == Array {
				out = append(out, a.Elems...)
			} else {
				out = append(out, a)
			}
		}
		return ArrayValue(out), true
	case "indexOf":
		needle := argAt(args, 0)
		for i, el := range elems {
			if eq, ok := StrictEquals(el, needle); ok && eq {
				return NumberValue(float64(i)), true
			}
		}
		return NumberValue(-1), true
	case "toString":
		return StringValue(joinValues(elems, ",")), true
	}
	return Value{}, false
}

const jsWhitespace = " \t\n\r\v\f\u00a0\ufeff"

var leadingFloat = regexp.MustCompile(`^[+-]?(?:Infinity|\d+\.?\d*(?:[eE][+-]?\d+)?|\.\d+(?:[eE][+-]?\d+)?)`)

// ParseFloat implements the global parseFloat.
func ParseFloat(s string) float64 {
	m := leadingFloat.FindString(strings.TrimLeft(s, jsWhitespace))
	if m == "" {
		return math.NaN()
	}
	return StringToNumber(m)
}

// ParseInt implements the global parseInt, including radix detection and
// parsing of the longest valid digit prefix.
func ParseInt(s string, radix int) float64 {
	s = strings.TrimLeft(s, jsWhitespace)
	sign := 1.0
	if s != "" && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}

	stripPrefix := true
	switch {
	case radix == 0:
		radix = 10
	case radix < 2 || radix > 36:
		return math.NaN()
	case radix != 16:
		stripPrefix = false
	}
	if stripPrefix && len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
		radix = 16
	}

	result, n := 0.0, 0
	for ; n < len(s); n++ {
		d := digitVal(s[n])
		if d >= radix {
			break
		}
		result = result*float64(radix) + float64(d)
	}
	if n == 0 {
		return math.NaN()
	}
	return sign * result
}

func digitVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}
