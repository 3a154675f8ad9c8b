package keys

import (
	"fmt"
	"math"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// charCodeExtractor handles String.fromCharCode over literal codes, either
// spread from a table array, passed directly, or mapped from hex strings.
type charCodeExtractor struct{}

func (charCodeExtractor) Kind() Kind { return KindCharCode }

func (x charCodeExtractor) Attempt(site Site, t *Tables) (Outcome, bool, error) {
	if !utils.HasExpr(site.Expr) {
		return Outcome{}, false, nil
	}
	call, ok := site.Expr.Expr.(*ast.CallExpression)
	if !ok {
		return Outcome{}, false, nil
	}
	if path, ok := utils.MemberPath(call.Callee); ok && path == "String.fromCharCode" {
		return fromCharCode(call, t)
	}
	if recv, ok := hexMapReceiver(site.Expr); ok {
		return hexCharMap(recv, t)
	}
	return Outcome{}, false, nil
}

// hexMapReceiver returns arr for `arr.map(x => String.fromCharCode(parseInt(x, 16)))`.
func hexMapReceiver(e *ast.Expression) (*ast.Expression, bool) {
	recv, method, args, ok := utils.MethodCall(e)
	if !ok || method != "map" || len(args) != 1 {
		return nil, false
	}
	cb, ok := callbackOf(&args[0])
	if !ok || !isHexCharCallback(cb) {
		return nil, false
	}
	return recv, true
}

func fromCharCode(call *ast.CallExpression, t *Tables) (Outcome, bool, error) {
	if len(call.ArgumentList) == 0 {
		return Outcome{}, false, nil
	}
	te := newTableEval(t)
	var codes []evaluator.Value
	if spread, ok := call.ArgumentList[0].Expr.(*ast.SpreadElement); ok && len(call.ArgumentList) == 1 {
		arr, ok := te.arrayOperand(spread.Expression)
		if !ok {
			return Outcome{}, true, fmt.Errorf("spread %s is not a literal array", utils.ExprSource(spread.Expression))
		}
		codes = arr
	} else {
		for i := range call.ArgumentList {
			num, ok := call.ArgumentList[i].Expr.(*ast.NumberLiteral)
			if !ok {
				return Outcome{}, true, fmt.Errorf("argument %d is not a literal char code", i)
			}
			codes = append(codes, evaluator.NumberValue(num.Value))
		}
	}
	s, err := codesToString(codes)
	if err != nil {
		return Outcome{}, true, err
	}
	return Outcome{Value: s, Sources: te.used}, true, nil
}

func codesToString(codes []evaluator.Value) (string, error) {
	for i, c := range codes {
		if c.Kind != evaluator.Number || c.Num < 0 || c.Num > math.MaxUint16 || c.Num != math.Trunc(c.Num) {
			return "", fmt.Errorf("element %d is not a char code", i)
		}
	}
	v, _ := evaluator.CallGlobal("String.fromCharCode", codes)
	return v.Str, nil
}

// isHexCharCallback matches `x => String.fromCharCode(parseInt(x, 16))`.
func isHexCharCallback(cb callback) bool {
	return cb.text() == "String.fromCharCode(parseInt("+cb.param+",16))"
}

func hexCharMap(recv *ast.Expression, t *Tables) (Outcome, bool, error) {
	te := newTableEval(t)
	elems, ok := te.arrayOperand(recv)
	if !ok {
		return Outcome{}, true, fmt.Errorf("map receiver %s is not a literal array", utils.ExprSource(recv))
	}
	codes := make([]evaluator.Value, len(elems))
	for i, el := range elems {
		if el.Kind != evaluator.String {
			return Outcome{}, true, fmt.Errorf("element %d of %s is not a string", i, utils.ExprSource(recv))
		}
		n := evaluator.ParseInt(el.Str, 16)
		if math.IsNaN(n) {
			return Outcome{}, true, fmt.Errorf("element %d of %s is not hex", i, utils.ExprSource(recv))
		}
		codes[i] = evaluator.NumberValue(n)
	}
	s, err := codesToString(codes)
	if err != nil {
		return Outcome{}, true, err
	}
	return Outcome{Value: s, Sources: te.used}, true, nil
}
