package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/scope"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// objectInit returns the object literal a binding is initialised with, if
// that is its only value.
func objectInit(b *scope.Binding) (*ast.ObjectLiteral, bool) {
	if b == nil || b.Declarator == nil || !b.Constant() || !utils.HasExpr(b.Declarator.Initializer) {
		return nil, false
	}
	obj, ok := b.Declarator.Initializer.Expr.(*ast.ObjectLiteral)
	return obj, ok
}

func captureNumericObjectMap(obj *ast.ObjectLiteral) (map[string]*ast.Expression, bool) {
	out := make(map[string]*ast.Expression)
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok {
			return nil, false
		}
		keyName, ok := utils.PropertyKeyName(prop)
		if !ok || !utils.HasExpr(prop.Value) {
			return nil, false
		}
		if !isInlineableNumber(prop.Value.Expr) {
			return nil, false
		}
		out[keyName] = prop.Value
	}
	if len(out) < 2 {
		return nil, false
	}
	return out, true
}

func isInlineableNumber(e ast.Expr) bool {
	switch v := e.(type) {
	case *ast.NumberLiteral:
		return true
	case *ast.UnaryExpression:
		if !utils.HasExpr(v.Operand) {
			return false
		}
		_, ok := v.Operand.Expr.(*ast.NumberLiteral)
		return ok && (v.Operator.String() == "-" || v.Operator.String() == "+")
	default:
		return false
	}
}

// InlineNumericObjects replaces `WK.a` with the number stored under `a` for
// objects whose properties are all numeric and which are never written or
// passed around.
func InlineNumericObjects(p *ast.Program) int {
	ix := scope.Build(p)
	u := collectUsage(p)

	replaced := 0
	for _, b := range ix.Bindings() {
		obj, ok := objectInit(b)
		if !ok {
			continue
		}
		props, ok := captureNumericObjectMap(obj)
		if !ok {
			continue
		}
		uses, ok := u.memberUses(b)
		if !ok || !allReads(uses, props) {
			continue
		}
		for _, use := range uses {
			use.member.Expr = props[use.prop].Clone().Expr
			replaced++
		}
	}
	return replaced
}

func allReads(uses []memberUse, props map[string]*ast.Expression) bool {
	for _, use := range uses {
		if use.write != nil || use.call != nil {
			return false
		}
		if _, ok := props[use.prop]; !ok {
			return false
		}
	}
	return true
}

// objectProp is a property whose value is known: a string literal, or a
// function that returns one string literal on every path.
type objectProp struct {
	value  string
	method bool
}

func captureLiteralProps(obj *ast.ObjectLiteral) map[string]objectProp {
	out := make(map[string]objectProp)
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok || !utils.HasExpr(prop.Value) {
			continue
		}
		keyName, ok := utils.PropertyKeyName(prop)
		if !ok {
			continue
		}
		switch v := prop.Value.Expr.(type) {
		case *ast.StringLiteral:
			out[keyName] = objectProp{value: v.Value}
		case *ast.FunctionLiteral:
			if s, ok := ReturnedString(v); ok {
				out[keyName] = objectProp{value: s, method: true}
			}
		}
	}
	return out
}

// InlineObjectLiterals inlines `obj.k()` and `obj.k` for constant objects
// whose property k is a string literal or a method returning one. Call
// arguments must be free of side effects. Objects used in any other way are
// skipped entirely.
func InlineObjectLiterals(p *ast.Program) int {
	ix := scope.Build(p)
	u := collectUsage(p)

	replaced := 0
	for _, b := range ix.Bindings() {
		obj, ok := objectInit(b)
		if !ok {
			continue
		}
		props := captureLiteralProps(obj)
		if len(props) == 0 {
			continue
		}
		uses, ok := u.memberUses(b)
		if !ok {
			continue
		}
		safe := true
		for _, use := range uses {
			if use.write != nil {
				safe = false
				break
			}
		}
		if !safe {
			continue
		}

		for _, use := range uses {
			prop, ok := props[use.prop]
			if !ok {
				continue
			}
			switch {
			case prop.method && use.call != nil:
				call := use.call.Expr.(*ast.CallExpression)
				if !argsPure(call.ArgumentList) {
					continue
				}
				use.call.Expr = &ast.StringLiteral{Value: prop.value}
				replaced++
			case !prop.method && use.call == nil:
				use.member.Expr = &ast.StringLiteral{Value: prop.value}
				replaced++
			}
		}
	}
	return replaced
}

func argsPure(args ast.Expressions) bool {
	for i := range args {
		if !pureExpr(&args[i]) {
			return false
		}
	}
	return true
}
