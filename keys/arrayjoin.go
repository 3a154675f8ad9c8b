package keys

import (
	"fmt"

	"github.com/t14raptor/go-fast/ast"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// arrayJoinExtractor handles `arr.join("")` over a string table array, and
// `arr.map(cb).join("")` where cb can be evaluated per element, such as the
// gather idiom `indices.map(i => source[i])`.
type arrayJoinExtractor struct{}

func (arrayJoinExtractor) Kind() Kind { return KindArrayJoin }

func (arrayJoinExtractor) Attempt(site Site, t *Tables) (Outcome, bool, error) {
	recv, method, args, ok := utils.MethodCall(site.Expr)
	if !ok || method != "join" || !isEmptyString(args) {
		return Outcome{}, false, nil
	}

	te := newTableEval(t)
	if inner, method, args, ok := utils.MethodCall(recv); ok && method == "map" && len(args) == 1 {
		cb, ok := callbackOf(&args[0])
		if !ok || isHexCharCallback(cb) {
			return Outcome{}, false, nil
		}
		return mapJoin(te, inner, cb)
	}

	elems, ok := te.arrayOperand(recv)
	if !ok {
		switch recv.Expr.(type) {
		case *ast.Identifier, *ast.ArrayLiteral:
			return Outcome{}, true, fmt.Errorf("%s is not a literal string array", utils.ExprSource(recv))
		}
		return Outcome{}, false, nil
	}
	s, bad, ok := joinStrings(elems)
	if !ok {
		return Outcome{}, true, fmt.Errorf("element %d of %s is not a string", bad, utils.ExprSource(recv))
	}
	return Outcome{Value: s, Sources: te.used}, true, nil
}

func mapJoin(te *tableEval, recv *ast.Expression, cb callback) (Outcome, bool, error) {
	elems, ok := te.arrayOperand(recv)
	if !ok {
		return Outcome{}, true, fmt.Errorf("map receiver %s is not a literal array", utils.ExprSource(recv))
	}
	mapped := make([]evaluator.Value, len(elems))
	for i, el := range elems {
		te.bound[cb.param] = el
		v, ok := te.eval(cb.body)
		if !ok {
			return Outcome{}, true, fmt.Errorf("callback %s cannot be evaluated for element %d", cb.text(), i)
		}
		if v.Kind == evaluator.Undefined {
			// An index outside the source array.
			return Outcome{}, true, fmt.Errorf("element %d of %s maps outside its source", i, utils.ExprSource(recv))
		}
		mapped[i] = v
	}
	delete(te.bound, cb.param)
	s, bad, ok := joinStrings(mapped)
	if !ok {
		return Outcome{}, true, fmt.Errorf("mapped element %d of %s is not a string", bad, utils.ExprSource(recv))
	}
	return Outcome{Value: s, Sources: te.used}, true, nil
}
