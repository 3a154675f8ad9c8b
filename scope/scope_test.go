package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
)

func build(t *testing.T, src string) (*ast.Program, *Index) {
	t.Helper()
	p, err := parser.ParseFile(src)
	require.NoError(t, err)
	return p, Build(p)
}

func TestFunctionDeclarationsAreHoisted(t *testing.T) {
	_, ix := build(t, `use(f); function f() { return 1; }`)

	f := ix.RootBinding("f")
	require.NotNil(t, f)
	assert.Equal(t, KindFunction, f.Kind)
	assert.NotNil(t, f.Function)
	assert.Len(t, f.References, 1)
	assert.Empty(t, ix.GlobalReferences("f"))
	assert.Len(t, ix.GlobalReferences("use"), 1)
}

func TestVarEscapesBlocksButLetDoesNot(t *testing.T) {
	_, ix := build(t, `{ var a = 1; let b = 2; } use(a, b);`)

	a := ix.RootBinding("a")
	require.NotNil(t, a)
	assert.Equal(t, KindVar, a.Kind)
	assert.Len(t, a.References, 1)

	assert.Nil(t, ix.RootBinding("b"))
	assert.Len(t, ix.GlobalReferences("b"), 1)
}

func TestParametersShadowOuterBindings(t *testing.T) {
	p, ix := build(t, `var x = 1; function g(x) { return x; } use(x);`)

	outer := ix.RootBinding("x")
	require.NotNil(t, outer)
	assert.Len(t, outer.References, 1)

	fn := p.Body[1].Stmt.(*ast.FunctionDeclaration).Function
	inner := ix.FunctionScope(fn).Bindings["x"]
	require.NotNil(t, inner)
	assert.Equal(t, KindParam, inner.Kind)
	assert.Len(t, inner.References, 1)
	assert.NotSame(t, outer, inner)
}

func TestAssignmentsAreViolationsNotReads(t *testing.T) {
	p, ix := build(t, `var c = 1; c = 2;`)

	c := ix.RootBinding("c")
	require.NotNil(t, c)
	assert.False(t, c.EverRead())
	assert.False(t, c.Constant())
	require.Len(t, c.ConstantViolations, 1)
	assert.Same(t, &p.Body[1], c.ConstantViolations[0].Stmt)
}

func TestUpdateIsReadAndViolation(t *testing.T) {
	_, ix := build(t, `var n = 0; n++;`)

	n := ix.RootBinding("n")
	require.NotNil(t, n)
	assert.True(t, n.EverRead())
	assert.Len(t, n.ConstantViolations, 1)
}

func TestNamedFunctionExpressionBindsInsideItself(t *testing.T) {
	p, ix := build(t, `var h = function inner() { return inner; };`)

	assert.Nil(t, ix.RootBinding("inner"))
	h := ix.RootBinding("h")
	require.NotNil(t, h)
	assert.True(t, h.Constant())

	decl := p.Body[0].Stmt.(*ast.VariableDeclaration)
	fn := decl.List[0].Initializer.Expr.(*ast.FunctionLiteral)
	self := ix.FunctionBinding(fn)
	require.NotNil(t, self)
	assert.Equal(t, "inner", self.Name)
	assert.Same(t, ix.FunctionScope(fn), self.Scope)
	assert.Len(t, self.References, 1)
}

func TestCatchParameterIsBlockScoped(t *testing.T) {
	_, ix := build(t, `try { risky(); } catch (e) { use(e); } use(e);`)

	assert.Nil(t, ix.RootBinding("e"))
	assert.Len(t, ix.GlobalReferences("e"), 1)
}

func TestBindingsInDeclarationOrder(t *testing.T) {
	_, ix := build(t, `var first = 1; function second() {} let third = 3;`)

	var names []string
	for _, b := range ix.Bindings() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func TestRecursiveReadsStayInside(t *testing.T) {
	p, ix := build(t, `function r(n) { return n ? r(n - 1) : 0; } r(3);`)

	r := ix.RootBinding("r")
	require.NotNil(t, r)
	assert.Len(t, r.References, 2)

	fn := p.Body[0].Stmt.(*ast.FunctionDeclaration).Function
	assert.Equal(t, 1, r.ReadsOutside(ix.FunctionScope(fn)))
	assert.Equal(t, 2, r.ReadsOutside(nil))
}

func TestIsGlobal(t *testing.T) {
	p, ix := build(t, `var local = 1; use(local);`)

	call := p.Body[1].Stmt.(*ast.ExpressionStatement).Expression.Expr.(*ast.CallExpression)
	assert.True(t, ix.IsGlobal(call.Callee))
	assert.False(t, ix.IsGlobal(&call.ArgumentList[0]))
	assert.Same(t, ix.RootBinding("local"), ix.BindingOf(&call.ArgumentList[0]))
}

func TestComputedKeysAreReads(t *testing.T) {
	_, ix := build(t, `var k = "x"; use({[k]: 1, k: 2});`)

	k := ix.RootBinding("k")
	require.NotNil(t, k)
	assert.Len(t, k.References, 1)
}
