// Package scope builds a binding index over a go-fast program: which
// declaration every identifier resolves to, where it is read and where it is
// reassigned.
package scope

import (
	"sort"

	"github.com/t14raptor/go-fast/ast"
)

type Kind uint8

const (
	KindVar Kind = iota
	KindLet
	KindConst
	KindFunction
	KindParam
	KindCatch
	KindClass
)

func (k Kind) String() string {
	switch k {
	case KindLet:
		return "let"
	case KindConst:
		return "const"
	case KindFunction:
		return "function"
	case KindParam:
		return "param"
	case KindCatch:
		return "catch"
	case KindClass:
		return "class"
	default:
		return "var"
	}
}

// Scope is a function or block scope. The parent link is not an owner: the
// Index owns every scope.
type Scope struct {
	parent   *Scope
	Function bool
	Bindings map[string]*Binding
}

func (s *Scope) Parent() *Scope { return s.parent }

// Lookup walks outward to the nearest binding of name.
func (s *Scope) Lookup(name string) *Binding {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.Bindings[name]; ok {
			return b
		}
	}
	return nil
}

// IsRoot reports whether s is the program scope.
func (s *Scope) IsRoot() bool { return s.parent == nil }

// Reference is one occurrence of an identifier in expression position.
type Reference struct {
	Site  *ast.Expression
	Scope *Scope
	// Stmt is set for constant violations that form a whole expression
	// statement, `x = ...;`.
	Stmt *ast.Statement
	// Assign is the assignment or update expression for a violation.
	Assign ast.Expr
}

type Binding struct {
	Name  string
	Kind  Kind
	Scope *Scope

	// Declarator is set for var/let/const bindings and Declaration for the
	// statement holding it. Redeclarations of a var append to Declarators.
	Declarator  *ast.VariableDeclarator
	Declaration *ast.VariableDeclaration
	Declarators []*ast.VariableDeclarator
	// Function is set for function declarations and named function
	// expressions.
	Function *ast.FunctionLiteral

	References         []Reference
	ConstantViolations []Reference

	order int
}

// EverRead reports whether any reference reads the binding.
func (b *Binding) EverRead() bool {
	return len(b.References) > 0
}

// Constant reports whether the binding is never reassigned after its
// declaration.
func (b *Binding) Constant() bool {
	return len(b.ConstantViolations) == 0
}

// ReadsOutside counts reads that are not lexically inside fn. A recursive
// function that is only called by itself has zero outside reads.
func (b *Binding) ReadsOutside(fn *Scope) int {
	if fn == nil {
		return len(b.References)
	}
	n := 0
	for _, ref := range b.References {
		if !ref.Scope.Within(fn) {
			n++
		}
	}
	return n
}

// Enclosing returns the nearest function scope around s, or the root.
func (s *Scope) Enclosing() *Scope {
	cur := s
	for !cur.Function && cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Within reports whether s is inner or equal to other.
func (s *Scope) Within(other *Scope) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Index is the result of one analysis run. It is discarded after any tree
// rewrite that adds or removes references.
type Index struct {
	Root *Scope

	bindings    []*Binding
	sites       map[*ast.Expression]*Binding
	declarators map[*ast.VariableDeclarator]*Binding
	functions   map[*ast.FunctionLiteral]*Binding
	fnScopes    map[*ast.FunctionLiteral]*Scope
	globals     map[string][]Reference
}

// BindingOf returns the binding an identifier expression resolves to, or nil
// for globals and non-identifiers.
func (ix *Index) BindingOf(e *ast.Expression) *Binding {
	return ix.sites[e]
}

func (ix *Index) DeclaratorBinding(d *ast.VariableDeclarator) *Binding {
	return ix.declarators[d]
}

func (ix *Index) FunctionBinding(fn *ast.FunctionLiteral) *Binding {
	return ix.functions[fn]
}

// FunctionScope returns the scope created for fn's parameters and body.
func (ix *Index) FunctionScope(fn *ast.FunctionLiteral) *Scope {
	return ix.fnScopes[fn]
}

// Bindings returns every binding in declaration order.
func (ix *Index) Bindings() []*Binding {
	out := make([]*Binding, len(ix.bindings))
	copy(out, ix.bindings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// RootBinding returns the program-level binding for name.
func (ix *Index) RootBinding(name string) *Binding {
	return ix.Root.Bindings[name]
}

// GlobalReferences returns reads of name that resolved to no binding.
func (ix *Index) GlobalReferences(name string) []Reference {
	return ix.globals[name]
}

// IsGlobal reports whether e is an identifier resolving to no binding.
func (ix *Index) IsGlobal(e *ast.Expression) bool {
	if e == nil {
		return false
	}
	if _, ok := e.Expr.(*ast.Identifier); !ok {
		return false
	}
	return ix.sites[e] == nil
}
