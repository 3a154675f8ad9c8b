package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
)

func TestSimplifyFoldsConstants(t *testing.T) {
	p := parse(t, `f(1 + 2 * 3, "ab" + "cd", 7 % 4, -(2 - 5));`)
	assert.Greater(t, Simplify(p), 0)

	args := lastCallArgs(t, p)
	require.Len(t, args, 4)
	var nums []float64
	for _, i := range []int{0, 2, 3} {
		lit, ok := args[i].Expr.(*ast.NumberLiteral)
		require.True(t, ok, "argument %d not folded", i)
		nums = append(nums, lit.Value)
	}
	assert.Equal(t, []float64{7, 3, 3}, nums)
	assert.Equal(t, "abcd", stringArg(t, args[1]))
}

func TestSimplifyPrunesDecidedBranches(t *testing.T) {
	p := parse(t, `
		if (1 < 2) { a(); } else { b(); }
		if (0) { c(); }
		if (3 >= 4) { d(); } else { e(); }
		while (false) { g(); }
	`)
	Simplify(p)
	assert.Equal(t, []string{"a", "e"}, calledNames(p))
	assert.Zero(t, countStmts(p, isIf))
	assert.Zero(t, countStmts(p, isLoop))
}

func TestSimplifyComparisonSemantics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"string comparison is lexicographic", `if ("10" < "9") { a(); } else { b(); }`, "a"},
		{"NaN is not equal to itself", `if (0 / 0 === 0 / 0) { a(); } else { b(); }`, "b"},
		{"loose equality coerces", `if (1 == "1") { a(); } else { b(); }`, "a"},
		{"strict equality does not coerce", `if (1 === "1") { a(); } else { b(); }`, "b"},
		{"null is loosely undefined", `if (null == void 0) { a(); } else { b(); }`, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parse(t, tt.src)
			Simplify(p)
			assert.Equal(t, []string{tt.want}, calledNames(p))
		})
	}
}

func TestSimplifyLeavesUnknownTests(t *testing.T) {
	src := `if (x === y) { a(); } else { b(); }`
	p := parse(t, src)
	assert.Zero(t, Simplify(p))
	assert.Equal(t, normalized(t, src), render(p))
}

func TestSimplifyKeepsLexicalBlocks(t *testing.T) {
	p := parse(t, `if (true) { let x = 1; use(x); } use(x);`)
	Simplify(p)
	require.Len(t, p.Body, 2)
	_, ok := p.Body[0].Stmt.(*ast.BlockStatement)
	assert.True(t, ok, "block holding let was spliced")
}

func TestSimplifyIsIdempotent(t *testing.T) {
	p := parse(t, `
		var x = 2 * 3;
		if (x > 1) { f("a" + "b"); }
		while (0) { g(); }
		var o = !{};
		var y = true && h();
		switch (x) { case 1 + 1: k(); break; }
	`)
	require.Greater(t, Simplify(p), 0)
	first := render(p)

	assert.Zero(t, Simplify(p))
	assert.Equal(t, first, render(p))
}

func TestSimplifyFoldsLogicalOperators(t *testing.T) {
	p := parse(t, `if (!![] && 1 < 2) { a(); } else { b(); }`)
	Simplify(p)
	assert.Equal(t, []string{"a"}, calledNames(p))
	assert.Zero(t, countStmts(p, isIf))

	p = parse(t, `f(0 || "fallback", null ?? 3, "" && g(), true && h());`)
	Simplify(p)
	args := lastCallArgs(t, p)
	require.Len(t, args, 4)
	assert.Equal(t, "fallback", stringArg(t, args[0]))
	lit, ok := args[1].Expr.(*ast.NumberLiteral)
	require.True(t, ok)
	assert.Equal(t, float64(3), lit.Value)
	assert.Equal(t, "", stringArg(t, args[2]))
	assert.Equal(t, []string{"f", "h"}, calledNames(p))
}

func TestSimplifyLeavesShadowedGlobals(t *testing.T) {
	p := parse(t, `
		function parseInt(x) { return 7; }
		use(parseInt("12"), Math.floor(2.5));
	`)
	Simplify(p)

	args := lastCallArgs(t, p)
	require.Len(t, args, 2)
	_, ok := args[0].Expr.(*ast.CallExpression)
	assert.True(t, ok, "shadowed parseInt was folded")
	lit, ok := args[1].Expr.(*ast.NumberLiteral)
	require.True(t, ok)
	assert.Equal(t, float64(2), lit.Value)
}
