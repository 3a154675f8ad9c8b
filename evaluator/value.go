package evaluator

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/t14raptor/go-fast/ast"
)

type Kind uint8

const (
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Array
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	default:
		return "undefined"
	}
}

// Value is a statically known JS value. Arrays hold their elements by value;
// identity comparisons between arrays are never decided.
type Value struct {
	Kind  Kind
	Num   float64
	Str   string
	Bool  bool
	Elems []Value
}

func NumberValue(v float64) Value { return Value{Kind: Number, Num: v} }
func StringValue(s string) Value  { return Value{Kind: String, Str: s} }
func BoolValue(b bool) Value      { return Value{Kind: Bool, Bool: b} }
func ArrayValue(el []Value) Value { return Value{Kind: Array, Elems: el} }

func (v Value) IsNumber() bool { return v.Kind == Number }
func (v Value) IsString() bool { return v.Kind == String }

func (v Value) ToBoolean() bool {
	switch v.Kind {
	case Bool:
		return v.Bool
	case Number:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case String:
		return v.Str != ""
	case Array:
		return true
	default:
		return false
	}
}

func (v Value) ToNumber() float64 {
	switch v.Kind {
	case Bool:
		if v.Bool {
			return 1
		}
		return 0
	case Number:
		return v.Num
	case String:
		return StringToNumber(v.Str)
	case Null:
		return 0
	case Array:
		return StringToNumber(v.ToString())
	default:
		return math.NaN()
	}
}

func (v Value) ToString() string {
	switch v.Kind {
	case Bool:
		if v.Bool {
			return "true"
		}
		return "false"
	case Number:
		return NumberToString(v.Num)
	case String:
		return v.Str
	case Null:
		return "null"
	case Array:
		return joinValues(v.Elems, ",")
	default:
		return "undefined"
	}
}

// ToPrimitive collapses arrays to their joined string, the result of the
// default valueOf/toString pair for plain arrays.
func (v Value) ToPrimitive() Value {
	if v.Kind == Array {
		return StringValue(v.ToString())
	}
	return v
}

func joinValues(elems []Value, sep string) string {
	parts := make([]string, len(elems))
	for i, el := range elems {
		if el.Kind == Undefined || el.Kind == Null {
			continue
		}
		parts[i] = el.ToString()
	}
	return strings.Join(parts, sep)
}

// ToExpr converts v back to a literal node. NaN, the infinities, negative
// zero and undefined have no literal form and are reported as not foldable.
func (v Value) ToExpr() (ast.Expr, bool) {
	switch v.Kind {
	case Number:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) || (v.Num == 0 && math.Signbit(v.Num)) {
			return nil, false
		}
		return &ast.NumberLiteral{Value: v.Num}, true
	case String:
		return &ast.StringLiteral{Value: v.Str}, true
	case Bool:
		return &ast.BooleanLiteral{Value: v.Bool}, true
	case Null:
		return &ast.NullLiteral{}, true
	case Array:
		out := make(ast.Expressions, len(v.Elems))
		for i, el := range v.Elems {
			expr, ok := el.ToExpr()
			if !ok {
				return nil, false
			}
			out[i] = ast.Expression{Expr: expr}
		}
		return &ast.ArrayLiteral{Value: out}, true
	}
	return nil, false
}

var decimalLiteral = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*(?:[eE][+-]?\d+)?|\.\d+(?:[eE][+-]?\d+)?)$`)

// StringToNumber implements Number(string).
func StringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil || strings.Contains(s, "_") {
				return math.NaN()
			}
			return float64(n)
		}
	}
	if !decimalLiteral.MatchString(s) {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// NumberToString implements Number.prototype.toString() for radix 10.
func NumberToString(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	if v < 0 {
		return "-" + NumberToString(-v)
	}

	// Shortest round-trip digits and the decimal exponent.
	mant := strconv.FormatFloat(v, 'e', -1, 64)
	ePos := strings.IndexByte(mant, 'e')
	digits := strings.Replace(mant[:ePos], ".", "", 1)
	exp, _ := strconv.Atoi(mant[ePos+1:])
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}

	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	e := n - 1
	if e < 0 {
		e = -e
	}
	if k == 1 {
		return digits + "e" + sign + strconv.Itoa(e)
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + strconv.Itoa(e)
}

// ToInt32 implements the ECMAScript ToInt32 conversion.
func ToInt32(f float64) int32 {
	return int32(ToUint32(f))
}

func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func fromUnits(u []uint16) string {
	return string(utf16.Decode(u))
}

// StrictEquals implements ===. The second result is false when the answer
// depends on object identity.
func StrictEquals(a, b Value) (bool, bool) {
	if a.Kind != b.Kind {
		return false, true
	}
	switch a.Kind {
	case Undefined, Null:
		return true, true
	case Bool:
		return a.Bool == b.Bool, true
	case Number:
		return a.Num == b.Num, true
	case String:
		return a.Str == b.Str, true
	}
	return false, false
}

// LooseEquals implements ==.
func LooseEquals(a, b Value) (bool, bool) {
	if a.Kind == b.Kind {
		return StrictEquals(a, b)
	}
	nullish := func(v Value) bool { return v.Kind == Null || v.Kind == Undefined }
	switch {
	case nullish(a) && nullish(b):
		return true, true
	case nullish(a) || nullish(b):
		return false, true
	case a.Kind == Array && b.Kind == Array:
		return false, false
	case a.Kind == Array:
		return LooseEquals(a.ToPrimitive(), b)
	case b.Kind == Array:
		return LooseEquals(a, b.ToPrimitive())
	case a.Kind == Bool:
		return LooseEquals(NumberValue(a.ToNumber()), b)
	case b.Kind == Bool:
		return LooseEquals(a, NumberValue(b.ToNumber()))
	}
	return a.ToNumber() == b.ToNumber(), true
}
