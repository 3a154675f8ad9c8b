package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEliminateDeadCodeChain(t *testing.T) {
	p := parse(t, `
		function A() { return B(); }
		function B() { return C(); }
		function C() { return 1; }
		A();
	`)
	res := EliminateDeadCode(p, 16)
	assert.Zero(t, res.Removed, "A is still called")
	assert.True(t, res.Converged)
	require.Len(t, p.Body, 4)

	// Another pass drops the only call to A.
	p.Body = p.Body[:3]

	res = EliminateDeadCode(p, 16)
	assert.Equal(t, 3, res.Removed)
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 4)
	assert.Empty(t, p.Body)
}

func TestEliminateDeadCodeKeepsSideEffects(t *testing.T) {
	p := parse(t, `
		var unused = 1 + 2;
		var called = sideEffect();
		var obj = [];
		obj[0] = 1;
		var kept = source;
		use(kept);
	`)
	res := EliminateDeadCode(p, 16)
	assert.True(t, res.Converged)
	assert.Equal(t, normalized(t, `var called = sideEffect(); var kept = source; use(kept);`), render(p))
}

func TestEliminateDeadCodeRecursiveFunction(t *testing.T) {
	p := parse(t, `
		function loop(n) { return n > 0 ? loop(n - 1) : 0; }
		var f = function g() { return g; };
	`)
	EliminateDeadCode(p, 16)
	assert.Empty(t, p.Body)
}

func TestEliminateDeadCodeInlinesObjectMethods(t *testing.T) {
	p := parse(t, `
		var o = { k: function () { return "abc"; } };
		use(o.k());
	`)
	res := EliminateDeadCode(p, 16)
	assert.Equal(t, 1, res.Inlined)
	require.Len(t, p.Body, 1)
	assert.Equal(t, "abc", stringArg(t, lastCallArgs(t, p)[0]))
}

func TestEliminateDeadCodeIterationBound(t *testing.T) {
	p := parse(t, `
		function A() { return B(); }
		function B() { return 1; }
	`)
	res := EliminateDeadCode(p, 1)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "dead-code", res.Diagnostics[0].Stage)
	assert.Equal(t, "no fixed point after 1 iterations", res.Diagnostics[0].Message)
}

func TestEliminateDeadCodeKeepsComputedKeys(t *testing.T) {
	src := `var k = "x"; var o = {[k]: 1}; use(o);`
	p := parse(t, src)
	res := EliminateDeadCode(p, 16)
	assert.Zero(t, res.Removed)
	assert.Equal(t, normalized(t, src), render(p))
}
