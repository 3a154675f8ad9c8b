package scope

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

type pendingRef struct {
	name      string
	ref       Reference
	read      bool
	violation bool
}

type builder struct {
	ast.NoopVisitor
	ix       *Index
	cur      *Scope
	pending  []pendingRef
	stmt     *ast.Statement
	stmtExpr *ast.Expression
	declared map[*ast.VariableDeclaration]bool
}

// Build analyses p. References are resolved after the walk, so hoisted
// declarations are visible to uses that precede them.
func Build(p *ast.Program) *Index {
	root := &Scope{Function: true, Bindings: make(map[string]*Binding)}
	ix := &Index{
		Root:        root,
		sites:       make(map[*ast.Expression]*Binding),
		declarators: make(map[*ast.VariableDeclarator]*Binding),
		functions:   make(map[*ast.FunctionLiteral]*Binding),
		fnScopes:    make(map[*ast.FunctionLiteral]*Scope),
		globals:     make(map[string][]Reference),
	}

	b := &builder{ix: ix, cur: root, declared: make(map[*ast.VariableDeclaration]bool)}
	b.V = b
	for i := range p.Body {
		b.VisitStatement(&p.Body[i])
	}
	b.resolve()
	return ix
}

func (b *builder) resolve() {
	for _, p := range b.pending {
		binding := p.ref.Scope.Lookup(p.name)
		if binding == nil {
			if p.read {
				b.ix.globals[p.name] = append(b.ix.globals[p.name], p.ref)
			}
			continue
		}
		if p.ref.Site != nil {
			b.ix.sites[p.ref.Site] = binding
		}
		if p.read {
			binding.References = append(binding.References, p.ref)
		}
		if p.violation {
			binding.ConstantViolations = append(binding.ConstantViolations, p.ref)
		}
	}
	b.pending = nil
}

func (b *builder) push(fn bool) *Scope {
	s := &Scope{parent: b.cur, Function: fn, Bindings: make(map[string]*Binding)}
	b.cur = s
	return s
}

func (b *builder) pop() {
	b.cur = b.cur.parent
}

func (b *builder) functionScope() *Scope {
	s := b.cur
	for !s.Function {
		s = s.parent
	}
	return s
}

func (b *builder) declare(s *Scope, name string, kind Kind) (*Binding, bool) {
	if existing, ok := s.Bindings[name]; ok {
		return existing, false
	}
	binding := &Binding{Name: name, Kind: kind, Scope: s, order: len(b.ix.bindings)}
	s.Bindings[name] = binding
	b.ix.bindings = append(b.ix.bindings, binding)
	return binding, true
}

func (b *builder) addRef(site *ast.Expression, name string) {
	b.pending = append(b.pending, pendingRef{name: name, ref: Reference{Site: site, Scope: b.cur}, read: true})
}

func (b *builder) VisitStatement(n *ast.Statement) {
	if !utils.HasStmt(n) {
		return
	}
	switch s := n.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function == nil {
			return
		}
		if name := utils.FunctionName(s.Function); name != "" {
			binding, fresh := b.declare(b.functionScope(), name, KindFunction)
			if !fresh {
				binding.ConstantViolations = append(binding.ConstantViolations, Reference{Scope: b.cur})
			}
			binding.Function = s.Function
			b.ix.functions[s.Function] = binding
		}
		b.visitFunction(s.Function, false)
	case *ast.VariableDeclaration:
		b.declareVars(s)
	case *ast.ExpressionStatement:
		prevStmt, prevExpr := b.stmt, b.stmtExpr
		b.stmt, b.stmtExpr = n, s.Expression
		b.VisitExpression(s.Expression)
		b.stmt, b.stmtExpr = prevStmt, prevExpr
	case *ast.BlockStatement:
		b.VisitBlockStatement(s)
	case *ast.TryStatement:
		if s.Body != nil {
			b.VisitBlockStatement(s.Body)
		}
		if s.Catch != nil {
			b.push(false)
			if s.Catch.Parameter != nil {
				if id, ok := s.Catch.Parameter.Target.(*ast.Identifier); ok {
					b.declare(b.cur, id.Name, KindCatch)
				}
			}
			if s.Catch.Body != nil {
				for i := range s.Catch.Body.List {
					b.VisitStatement(&s.Catch.Body.List[i])
				}
			}
			b.pop()
		}
		if s.Finally != nil {
			b.VisitBlockStatement(s.Finally)
		}
	case *ast.ForStatement, *ast.ForInStatement:
		b.push(false)
		n.VisitChildrenWith(b)
		b.pop()
	default:
		n.VisitChildrenWith(b)
	}
}

// VisitVariableDeclaration catches declarations outside statement position,
// such as loop initializers.
func (b *builder) VisitVariableDeclaration(n *ast.VariableDeclaration) {
	b.declareVars(n)
}

func (b *builder) declareVars(decl *ast.VariableDeclaration) {
	if b.declared[decl] {
		return
	}
	b.declared[decl] = true

	kind := KindVar
	target := b.functionScope()
	switch utils.DeclKind(decl) {
	case "let":
		kind, target = KindLet, b.cur
	case "const":
		kind, target = KindConst, b.cur
	}

	for i := range decl.List {
		d := &decl.List[i]
		if name, ok := utils.DeclaratorName(d); ok {
			binding, fresh := b.declare(target, name, kind)
			binding.Declarators = append(binding.Declarators, d)
			if fresh {
				binding.Declarator = d
				binding.Declaration = decl
			} else if utils.HasExpr(d.Initializer) {
				binding.ConstantViolations = append(binding.ConstantViolations, Reference{Scope: b.cur})
			}
			b.ix.declarators[d] = binding
		}
		if utils.HasExpr(d.Initializer) {
			b.VisitExpression(d.Initializer)
		}
	}
}

func (b *builder) VisitBlockStatement(n *ast.BlockStatement) {
	if n == nil {
		return
	}
	b.push(false)
	for i := range n.List {
		b.VisitStatement(&n.List[i])
	}
	b.pop()
}

func (b *builder) visitFunction(fn *ast.FunctionLiteral, expression bool) {
	s := b.push(true)
	b.ix.fnScopes[fn] = s

	if expression {
		if name := utils.FunctionName(fn); name != "" {
			binding, _ := b.declare(s, name, KindFunction)
			binding.Function = fn
			b.ix.functions[fn] = binding
		}
	}
	for i := range fn.ParameterList.List {
		if id, ok := fn.ParameterList.List[i].Target.Target.(*ast.Identifier); ok {
			b.declare(s, id.Name, KindParam)
		}
	}
	if fn.Body != nil {
		for i := range fn.Body.List {
			b.VisitStatement(&fn.Body.List[i])
		}
	}
	b.pop()
}

func (b *builder) VisitExpression(n *ast.Expression) {
	if !utils.HasExpr(n) {
		return
	}
	switch e := n.Expr.(type) {
	case *ast.Identifier:
		b.addRef(n, e.Name)
	case *ast.FunctionLiteral:
		b.visitFunction(e, true)
	case *ast.ArrowFunctionLiteral:
		s := b.push(true)
		for i := range e.ParameterList.List {
			if id, ok := e.ParameterList.List[i].Target.Target.(*ast.Identifier); ok {
				b.declare(s, id.Name, KindParam)
			}
		}
		n.VisitChildrenWith(b)
		b.pop()
	case *ast.AssignExpression:
		if name, ok := utils.IdentName(e.Left); ok {
			b.addViolation(n, e.Left, name, false, e)
			b.VisitExpression(e.Right)
			return
		}
		n.VisitChildrenWith(b)
	case *ast.UpdateExpression:
		if name, ok := utils.IdentName(e.Operand); ok {
			b.addViolation(n, e.Operand, name, true, e)
			return
		}
		n.VisitChildrenWith(b)
	case *ast.MemberExpression:
		b.VisitExpression(e.Object)
		if e.Property != nil {
			if cp, ok := e.Property.Prop.(*ast.ComputedProperty); ok {
				b.VisitExpression(cp.Expr)
			}
		}
	case *ast.ObjectLiteral:
		for i := range e.Value {
			switch p := e.Value[i].Prop.(type) {
			case *ast.PropertyKeyed:
				if _, named := utils.IdentName(p.Key); p.Computed || !named {
					b.VisitExpression(p.Key)
				}
				b.VisitExpression(p.Value)
			case *ast.PropertyShort:
				// `{a}` reads a; the site is synthetic, so it never matches
				// a walk over the tree and blocks inlining of a.
				b.addRef(&ast.Expression{Expr: &ast.Identifier{Name: p.Name.Name}}, p.Name.Name)
			case *ast.SpreadElement:
				b.VisitExpression(p.Expression)
			}
		}
	default:
		n.VisitChildrenWith(b)
	}
}

// addViolation records a write to name. whole is the assignment or update
// expression and site the identifier being written.
func (b *builder) addViolation(whole, site *ast.Expression, name string, read bool, assign ast.Expr) {
	ref := Reference{Site: site, Scope: b.cur, Assign: assign}
	if b.stmtExpr == whole {
		ref.Stmt = b.stmt
	}
	b.pending = append(b.pending, pendingRef{name: name, ref: ref, read: read, violation: true})
}
