// Package keys finds AES key candidates in a simplified program. Collect
// snapshots the literal tables once; each extractor then reads that snapshot
// at every site of a second pre-order walk.
package keys

import (
	"fmt"

	"github.com/t14raptor/go-fast/ast"
	"go.uber.org/zap"

	"github.com/Eggwite/megacloud-key-extractor/utils"
	"github.com/Eggwite/megacloud-key-extractor/visitors"
)

const stage = "extract-key"

// Candidate is one built string with its provenance and classification.
type Candidate struct {
	Value     string
	Extractor Kind
	Sources   []string
	Class     Class
	Length    int
}

// Result groups candidates by class in discovery order.
type Result struct {
	Found       []Candidate
	NonHex      []Candidate
	WrongLength []Candidate
	Diagnostics []visitors.Diagnostic
}

// Keys returns the accepted key values.
func (r *Result) Keys() []string {
	out := make([]string, len(r.Found))
	for i, c := range r.Found {
		out[i] = c.Value
	}
	return out
}

// Merge appends the candidates of other that r does not already hold, keeping
// r's order first. Diagnostics stay r's own.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	seen := make(map[seenKey]bool)
	for _, list := range [][]Candidate{r.Found, r.NonHex, r.WrongLength} {
		for _, c := range list {
			seen[seenKey{class: c.Class, value: c.Value, kind: c.Extractor}] = true
		}
	}
	keep := func(dst []Candidate, src []Candidate) []Candidate {
		for _, c := range src {
			key := seenKey{class: c.Class, value: c.Value, kind: c.Extractor}
			if !seen[key] {
				seen[key] = true
				dst = append(dst, c)
			}
		}
		return dst
	}
	r.Found = keep(r.Found, other.Found)
	r.NonHex = keep(r.NonHex, other.NonHex)
	r.WrongLength = keep(r.WrongLength, other.WrongLength)
}

// Options configures an Engine.
type Options struct {
	// Exhaustive keeps scanning after the first accepted key.
	Exhaustive bool
	// Extractors defaults to DefaultExtractors.
	Extractors []Extractor
}

// Engine runs the extractors over a program.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if len(opts.Extractors) == 0 {
		opts.Extractors = DefaultExtractors()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger}
}

// Extract never modifies p.
func (e *Engine) Extract(p *ast.Program) *Result {
	t := Collect(p)
	e.logger.Debug("tables collected",
		zap.Int("arrays", len(t.Arrays)),
		zap.Int("segments", len(t.Segments)),
		zap.Int("objects", len(t.Objects)),
		zap.Int("aliases", len(t.Aliases)),
	)

	w := &siteWalker{
		engine: e,
		tables: t,
		result: &Result{},
		names:  make(map[*ast.FunctionLiteral]string),
		seen:   make(map[seenKey]bool),
	}
	w.V = w
	p.VisitWith(w)

	r := w.result
	e.logger.Info("extraction finished",
		zap.Int("found", len(r.Found)),
		zap.Int("non_hex", len(r.NonHex)),
		zap.Int("wrong_length", len(r.WrongLength)),
		zap.Int("diagnostics", len(r.Diagnostics)),
	)
	return r
}

type seenKey struct {
	class Class
	value string
	kind  Kind
}

type siteWalker struct {
	ast.NoopVisitor
	engine *Engine
	tables *Tables
	result *Result
	// names holds the binding a function expression was assigned to.
	names map[*ast.FunctionLiteral]string
	seen  map[seenKey]bool
	done  bool
}

func (w *siteWalker) VisitStatement(n *ast.Statement) {
	if w.done {
		return
	}
	if fd, ok := n.Stmt.(*ast.FunctionDeclaration); ok && fd.Function != nil {
		w.attempt(Site{Func: fd.Function, Name: utils.FunctionName(fd.Function)})
	}
	n.VisitChildrenWith(w)
}

func (w *siteWalker) VisitVariableDeclarator(n *ast.VariableDeclarator) {
	if w.done {
		return
	}
	if name, ok := utils.DeclaratorName(n); ok && utils.HasExpr(n.Initializer) {
		if fn, ok := n.Initializer.Expr.(*ast.FunctionLiteral); ok {
			w.names[fn] = name
		}
	}
	n.VisitChildrenWith(w)
}

func (w *siteWalker) VisitExpression(n *ast.Expression) {
	if w.done || !utils.HasExpr(n) {
		return
	}
	if fn, ok := n.Expr.(*ast.FunctionLiteral); ok {
		name, named := w.names[fn]
		if !named {
			name = utils.FunctionName(fn)
		}
		w.attempt(Site{Func: fn, Name: name})
	}
	w.attempt(Site{Expr: n})
	if recv, ok := hexMapReceiver(n); ok {
		// The callback belongs to the site just attempted.
		w.VisitExpression(recv)
		return
	}
	n.VisitChildrenWith(w)
}

func (w *siteWalker) attempt(site Site) {
	for _, x := range w.engine.opts.Extractors {
		if w.done {
			return
		}
		out, matched, err := x.Attempt(site, w.tables)
		if !matched {
			continue
		}
		if err != nil {
			w.result.Diagnostics = append(w.result.Diagnostics, visitors.Diagnostic{
				Stage:   stage,
				Message: fmt.Sprintf("%s: %v", x.Kind(), err),
			})
			w.engine.logger.Debug("unresolved key site", zap.String("extractor", string(x.Kind())), zap.Error(err))
			continue
		}
		w.add(x.Kind(), out)
	}
}

func (w *siteWalker) add(kind Kind, out Outcome) {
	class, length := Validate(out.Value)
	key := seenKey{class: class, value: out.Value, kind: kind}
	if w.seen[key] {
		return
	}
	w.seen[key] = true

	c := Candidate{Value: out.Value, Extractor: kind, Sources: out.Sources, Class: class, Length: length}
	switch class {
	case ClassFound:
		w.result.Found = append(w.result.Found, c)
		w.engine.logger.Info("key found", zap.String("extractor", string(kind)), zap.Strings("sources", out.Sources))
		if !w.engine.opts.Exhaustive {
			w.done = true
		}
	case ClassNonHex:
		w.result.NonHex = append(w.result.NonHex, c)
	case ClassWrongLength:
		w.result.WrongLength = append(w.result.WrongLength, c)
	}
}
