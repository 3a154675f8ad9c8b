package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveStateMachines(t *testing.T) {
	p := parse(t, `
		function f() {
			var st = 1;
			if (st === 1) { a(); st = 2; }
			if (st === 2) { b(); st = 3; }
			if (st === 1) { c(); }
			if (st !== 3) { e(); }
			if (st === 3) { d(); }
		}
	`)
	res := SolveStateMachines(p)
	assert.Equal(t, 1, res.Machines)
	assert.Equal(t, 5, res.Tests)
	assert.Empty(t, res.Diagnostics)

	Simplify(p)
	assert.Zero(t, countStmts(p, isIf))
	assert.Equal(t, []string{"a", "b", "d"}, calledNames(p))
}

func TestSolveStateMachinesStopsAtUnknownUse(t *testing.T) {
	p := parse(t, `
		var st = "x";
		if (st == "x") { a(); }
		log(st);
		if (st == "x") { b(); }
	`)
	res := SolveStateMachines(p)
	assert.Equal(t, 1, res.Tests)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "state st becomes unknown after 1 tests", res.Diagnostics[0].Message)

	Simplify(p)
	assert.Equal(t, 1, countStmts(p, isIf))
}

func TestSolveStateMachinesIgnoresComputedWrites(t *testing.T) {
	p := parse(t, `
		var st = 0;
		if (st === 0) { a(); }
		st = next();
	`)
	res := SolveStateMachines(p)
	assert.Zero(t, res.Machines)
	assert.Zero(t, res.Tests)
}
