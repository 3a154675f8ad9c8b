package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
)

func parseExpr(t *testing.T, src string) *ast.Expression {
	t.Helper()
	p, err := parser.ParseFile("(" + src + ");")
	require.NoError(t, err)
	stmt, ok := p.Body[0].Stmt.(*ast.ExpressionStatement)
	require.True(t, ok)
	return stmt.Expression
}

func evalString(t *testing.T, src string) Value {
	t.Helper()
	v, ok := Eval(parseExpr(t, src))
	require.True(t, ok, "expected %s to fold", src)
	return v
}

func TestEvalFolds(t *testing.T) {
	tests := []struct {
		src  string
		want Value
	}{
		{`1 + 2 * 3`, NumberValue(7)},
		{`"1" + 2`, StringValue("12")},
		{`1 + "2" + 3`, StringValue("123")},
		{`7 % 4`, NumberValue(3)},
		{`-7 % 4`, NumberValue(-3)},
		{`2 ** 10`, NumberValue(1024)},
		{`0xff & 0x0f`, NumberValue(15)},
		{`-1 >>> 28`, NumberValue(15)},
		{`1 << 31`, NumberValue(-2147483648)},
		{`~5`, NumberValue(-6)},
		{`"10" < "9"`, BoolValue(true)},
		{`10 < 9`, BoolValue(false)},
		{`1 == "1"`, BoolValue(true)},
		{`1 === "1"`, BoolValue(false)},
		{`null == undefined`, BoolValue(true)},
		{`!""`, BoolValue(true)},
		{`typeof "a"`, StringValue("string")},
		{`typeof null`, StringValue("object")},
		{`0 || "fallback"`, StringValue("fallback")},
		{`"" && unknown`, StringValue("")},
		{`1 && 2`, NumberValue(2)},
		{`null ?? 5`, NumberValue(5)},
		{`0 ?? 5`, NumberValue(0)},
		{`true ? "yes" : "no"`, StringValue("yes")},
		{`[1, 2, 3].length`, NumberValue(3)},
		{`"abc"[1]`, StringValue("b")},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.src))
		})
	}
}

func TestEvalBuiltins(t *testing.T) {
	tests := []struct {
		src  string
		want Value
	}{
		{`String.fromCharCode(104, 105)`, StringValue("hi")},
		{`parseInt("ff", 16)`, NumberValue(255)},
		{`parseInt("12px")`, NumberValue(12)},
		{`Math.floor(7 / 2)`, NumberValue(3)},
		{`Math.max(1, 9, 4)`, NumberValue(9)},
		{`"olleh".split("").reverse().join("")`, StringValue("hello")},
		{`"abcdef".slice(-3)`, StringValue("def")},
		{`"abcdef".substring(4, 1)`, StringValue("bcd")},
		{`"abcdef".substr(1, 2)`, StringValue("bc")},
		{`"a".charCodeAt(0)`, NumberValue(97)},
		{`"a,b".split(",").concat(["c"]).join("-")`, StringValue("a-b-c")},
		{`[3, 4, 5].indexOf(4)`, NumberValue(1)},
		{`(255).toString(16)`, StringValue("ff")},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.src))
		})
	}
}

func TestEvalRefusesUnknowns(t *testing.T) {
	for _, src := range []string{
		`x + 1`,
		`1 && x`,
		`foo()`,
		`"a".unknownMethod()`,
		`[1, 2] === [1, 2]`,
		`delete a.b`,
		`(sideEffect(), 1)`,
	} {
		t.Run(src, func(t *testing.T) {
			_, ok := Eval(parseExpr(t, src))
			assert.False(t, ok)
		})
	}
}

func TestIndexOutOfRange(t *testing.T) {
	v, ok := Index(StringValue("ab"), NumberValue(5))
	require.True(t, ok)
	assert.Equal(t, Undefined, v.Kind)

	v, ok = Index(ArrayValue([]Value{NumberValue(1)}), NumberValue(1))
	require.True(t, ok)
	assert.Equal(t, Undefined, v.Kind)

	_, ok = Index(StringValue("ab"), NumberValue(-1))
	assert.False(t, ok)
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, float64(10), ParseInt("  10", 0))
	assert.Equal(t, float64(16), ParseInt("0x10", 0))
	assert.Equal(t, float64(-5), ParseInt("-5", 10))
	assert.True(t, math.IsNaN(ParseInt("zz", 10)))
}

func TestToExpr(t *testing.T) {
	e, ok := StringValue("s").ToExpr()
	require.True(t, ok)
	assert.Equal(t, "s", e.(*ast.StringLiteral).Value)

	_, ok = NumberValue(math.NaN()).ToExpr()
	assert.False(t, ok)
	_, ok = NumberValue(math.Copysign(0, -1)).ToExpr()
	assert.False(t, ok)
	_, ok = Value{Kind: Undefined}.ToExpr()
	assert.False(t, ok)
	_, ok = ArrayValue([]Value{NumberValue(1), {Kind: Undefined}}).ToExpr()
	assert.False(t, ok)
}

func TestResolveAndShadowing(t *testing.T) {
	ev := Evaluator{Resolve: func(name string) (Value, bool) {
		if name == "k" {
			return NumberValue(2), true
		}
		if name == "String" {
			return StringValue("shadowed"), true
		}
		return Value{}, false
	}}

	v, ok := ev.Eval(parseExpr(t, `k * 21`))
	require.True(t, ok)
	assert.Equal(t, NumberValue(42), v)

	_, ok = ev.Eval(parseExpr(t, `String.fromCharCode(65)`))
	assert.False(t, ok)
}

func TestShadowedGlobals(t *testing.T) {
	ev := Evaluator{Shadowed: func(name string) bool {
		return name == "parseInt" || name == "Math" || name == "undefined"
	}}

	for _, src := range []string{`parseInt("12")`, `Math.floor(2.5)`, `undefined`} {
		_, ok := ev.Eval(parseExpr(t, src))
		assert.False(t, ok, src)
	}

	v, ok := ev.Eval(parseExpr(t, `parseFloat("1.5")`))
	require.True(t, ok)
	assert.Equal(t, NumberValue(1.5), v)
}

func TestAllowCall(t *testing.T) {
	ev := Evaluator{AllowCall: func(name string, _ []Value) bool {
		return name == ".join"
	}}

	v, ok := ev.Eval(parseExpr(t, `["a", "b"].join("")`))
	require.True(t, ok)
	assert.Equal(t, StringValue("ab"), v)

	_, ok = ev.Eval(parseExpr(t, `"ab".split("")`))
	assert.False(t, ok)
	_, ok = ev.Eval(parseExpr(t, `Math.floor(1.5)`))
	assert.False(t, ok)
}

func TestCallHook(t *testing.T) {
	ev := Evaluator{Call: func(call *ast.CallExpression, args []Value) (Value, bool) {
		if len(args) == 1 {
			return StringValue("decoded-" + args[0].ToString()), true
		}
		return Value{}, false
	}}

	v, ok := ev.Eval(parseExpr(t, `decode(7)`))
	require.True(t, ok)
	assert.Equal(t, StringValue("decoded-7"), v)
}
