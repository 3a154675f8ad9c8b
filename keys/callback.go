package keys

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// callback is a one-parameter function passed to map, reduced to the
// expression it returns.
type callback struct {
	param string
	body  *ast.Expression
}

// compact drops all whitespace so printed forms compare regardless of layout.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// text is the printed body without whitespace.
func (c callback) text() string {
	return compact(utils.ExprSource(c.body))
}

// callbackOf accepts `function (x) { return e; }` and `x => e` (or an arrow
// with a block body holding only `return e;`).
func callbackOf(e *ast.Expression) (callback, bool) {
	if !utils.HasExpr(e) {
		return callback{}, false
	}
	switch fn := e.Expr.(type) {
	case *ast.FunctionLiteral:
		return returnOnly(fn)
	case *ast.ArrowFunctionLiteral:
		if len(fn.ParameterList.List) != 1 {
			return callback{}, false
		}
		id, ok := fn.ParameterList.List[0].Target.Target.(*ast.Identifier)
		if !ok {
			return callback{}, false
		}
		return arrowAsFunction(e, id.Name)
	}
	return callback{}, false
}

func returnOnly(fn *ast.FunctionLiteral) (callback, bool) {
	if fn.Body == nil || len(fn.Body.List) != 1 || len(fn.ParameterList.List) != 1 {
		return callback{}, false
	}
	id, ok := fn.ParameterList.List[0].Target.Target.(*ast.Identifier)
	if !ok {
		return callback{}, false
	}
	ret, ok := fn.Body.List[0].Stmt.(*ast.ReturnStatement)
	if !ok || !utils.HasExpr(ret.Argument) {
		return callback{}, false
	}
	return callback{param: id.Name, body: ret.Argument}, true
}

// arrowAsFunction reprints an arrow as an equivalent function expression and
// parses that, which yields its body in the same shape as returnOnly sees.
func arrowAsFunction(e *ast.Expression, param string) (callback, bool) {
	src := utils.ExprSource(e)
	arrow := strings.Index(src, "=>")
	if arrow < 0 {
		return callback{}, false
	}
	body := strings.TrimSpace(src[arrow+2:])
	if !strings.HasPrefix(body, "{") {
		body = "{ return " + body + "; }"
	}

	p, err := parser.ParseFile("function cb(" + param + ") " + body)
	if err != nil || len(p.Body) != 1 {
		return callback{}, false
	}
	fd, ok := p.Body[0].Stmt.(*ast.FunctionDeclaration)
	if !ok || fd.Function == nil {
		return callback{}, false
	}
	return returnOnly(fd.Function)
}
