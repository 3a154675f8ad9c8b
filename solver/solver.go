// Package solver runs the deobfuscation passes over one script and hands the
// simplified tree to the key extraction engine.
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/t14raptor/go-fast/ast"
	fastgen "github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
	"go.uber.org/zap"

	"github.com/Eggwite/megacloud-key-extractor/keys"
	"github.com/Eggwite/megacloud-key-extractor/sandbox"
	"github.com/Eggwite/megacloud-key-extractor/visitors"
)

var (
	// ErrParse marks input that is not a valid script.
	ErrParse = errors.New("parse error")
	// ErrNoProgram marks empty input.
	ErrNoProgram = errors.New("no program")
)

// Stage names, in execution order.
const (
	StageNormalize    = "normalize"
	StageUnflatten    = "unflatten"
	StageInlineData   = "inline-data"
	StageSolveStrings = "solve-strings"
	StageInlineTable  = "inline-strings"
	StageDeadCode     = "dead-code"
	StageExtract      = "extract-key"
)

// Options tunes a Pipeline. Zero values select the defaults of each pass.
type Options struct {
	Exhaustive       bool
	MaxDCEIterations int
	MinTableSize     int
	MaxRotations     int
	VMTimeout        time.Duration
	UseVMFallback    bool
}

// Stats counts what each pass changed.
type Stats struct {
	Folded        int
	Loops         int
	ArrayReads    int
	WrapperCalls  int
	NumericProps  int
	TableEntries  int
	StringCalls   int
	Machines      int
	MachineTests  int
	DCEIterations int
	Removed       int
	Converged     bool
}

// Result is the outcome of one run.
type Result struct {
	Input string
	Keys  *keys.Result
	// Simplified is the program as printed after dead-code elimination.
	Simplified  string
	Diagnostics []visitors.Diagnostic
	Stats       Stats
	Duration    time.Duration
}

type Pipeline struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, logger: logger}
}

// Run parses src and runs every stage on it. input names the source in the
// result and in log lines.
func (p *Pipeline) Run(ctx context.Context, input, src string) (*Result, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("failed at stage parse: %s: %w", input, ErrNoProgram)
	}
	prog, err := parser.ParseFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed at stage parse: %w: %v", ErrParse, err)
	}
	return p.RunProgram(ctx, input, prog)
}

type stage struct {
	name string
	run  func(*run) error
}

// run carries one program through the stages.
type run struct {
	prog  *ast.Program
	table *visitors.StringTable
	// early holds the keys read before dead-code elimination.
	early  *keys.Result
	result *Result
	logger *zap.Logger
}

func (r *run) diagnose(list []visitors.Diagnostic) {
	for _, d := range list {
		r.logger.Debug("diagnostic", zap.String("stage", d.Stage), zap.String("message", d.Message))
	}
	r.result.Diagnostics = append(r.result.Diagnostics, list...)
}

// RunProgram runs every stage on an already parsed program. A stage that
// panics fails the run like any other fatal error.
func (p *Pipeline) RunProgram(ctx context.Context, input string, prog *ast.Program) (*Result, error) {
	if prog == nil {
		return nil, fmt.Errorf("failed at stage parse: %s: %w", input, ErrNoProgram)
	}
	start := time.Now()
	r := &run{prog: prog, result: &Result{Input: input}}

	for _, st := range p.stages() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("failed at stage %s: %w", st.name, err)
		}
		r.logger = p.logger.Named(st.name).With(zap.String("input", input))
		if err := runStage(st, r); err != nil {
			p.logger.Error("stage failed", zap.String("stage", st.name), zap.String("input", input), zap.Error(err))
			return nil, fmt.Errorf("failed at stage %s: %w", st.name, err)
		}
	}

	r.result.Duration = time.Since(start)
	p.logger.Info("run finished",
		zap.String("input", input),
		zap.Int("keys", len(r.result.Keys.Found)),
		zap.Int("diagnostics", len(r.result.Diagnostics)),
		zap.Duration("duration", r.result.Duration),
	)
	return r.result, nil
}

func runStage(st stage, r *run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return st.run(r)
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{StageNormalize, p.normalize},
		{StageUnflatten, p.unflatten},
		{StageInlineData, p.inlineData},
		{StageSolveStrings, p.solveStrings},
		{StageInlineTable, p.inlineStrings},
		{StageDeadCode, p.eliminateDeadCode},
		{StageExtract, p.extract},
	}
}

// normalize canonicalises literals and folds known calls so later passes
// match on one surface form.
func (p *Pipeline) normalize(r *run) error {
	r.result.Stats.Folded += visitors.Simplify(r.prog)
	r.logger.Debug("normalized", zap.Int("rewrites", r.result.Stats.Folded))
	return nil
}

func (p *Pipeline) unflatten(r *run) error {
	res := visitors.Unflatten(r.prog)
	r.result.Stats.Loops = res.Loops
	r.diagnose(res.Diagnostics)
	r.logger.Debug("unflattened", zap.Int("loops", res.Loops))
	return nil
}

func (p *Pipeline) inlineData(r *run) error {
	res := visitors.InlineData(r.prog)
	r.result.Stats.ArrayReads = res.ArrayReads
	r.result.Stats.WrapperCalls = res.WrapperCalls
	r.result.Stats.NumericProps = res.NumericProps
	r.diagnose(res.Diagnostics)
	r.logger.Debug("data inlined",
		zap.Int("array_reads", res.ArrayReads),
		zap.Int("wrapper_calls", res.WrapperCalls),
		zap.Int("numeric_props", res.NumericProps),
	)
	return nil
}

func (p *Pipeline) solveStrings(r *run) error {
	opts := visitors.StringOptions{
		MinTableSize: p.opts.MinTableSize,
		MaxRotations: p.opts.MaxRotations,
	}
	if p.opts.UseVMFallback {
		opts.Fallback = sandbox.Fallback(p.opts.VMTimeout, r.logger.Named("vm"))
	}
	table, diags := visitors.SolveStrings(r.prog, opts)
	r.diagnose(diags)
	if table != nil {
		r.table = table
		r.result.Stats.TableEntries = len(table.Entries)
		r.logger.Debug("string table solved",
			zap.String("table", table.Table),
			zap.String("accessor", table.Accessor),
			zap.Stringer("decode", table.Kind),
			zap.Int("rotations", table.Rotations),
		)
	}

	machines := visitors.SolveStateMachines(r.prog)
	r.result.Stats.Machines = machines.Machines
	r.result.Stats.MachineTests = machines.Tests
	r.diagnose(machines.Diagnostics)
	if machines.Tests > 0 {
		r.result.Stats.Folded += visitors.Simplify(r.prog)
	}
	return nil
}

func (p *Pipeline) inlineStrings(r *run) error {
	if r.table == nil {
		return nil
	}
	res := visitors.InlineStrings(r.prog, r.table)
	r.result.Stats.StringCalls = res.Calls
	r.diagnose(res.Diagnostics)
	r.logger.Debug("strings inlined", zap.Int("calls", res.Calls), zap.Int("unresolved", res.Unresolved))
	return nil
}

func (p *Pipeline) eliminateDeadCode(r *run) error {
	// Elimination inlines object members into their callers and folds the
	// result, which leaves nothing for the object lookups to resolve against.
	r.early = p.keyEngine(r).Extract(r.prog)

	res := visitors.EliminateDeadCode(r.prog, p.opts.MaxDCEIterations)
	r.result.Stats.DCEIterations = res.Iterations
	r.result.Stats.Removed = res.Removed
	r.result.Stats.Converged = res.Converged
	r.result.Stats.Folded += res.Folded
	r.diagnose(res.Diagnostics)
	r.result.Simplified = fastgen.Generate(r.prog)
	r.logger.Debug("dead code eliminated",
		zap.Int("iterations", res.Iterations),
		zap.Int("removed", res.Removed),
		zap.Bool("converged", res.Converged),
	)
	return nil
}

func (p *Pipeline) keyEngine(r *run) *keys.Engine {
	return keys.NewEngine(keys.Options{Exhaustive: p.opts.Exhaustive}, r.logger)
}

// extract reads keys off the final tree and adds what the pass before
// elimination saw. A key already found there ends a non-exhaustive run.
func (p *Pipeline) extract(r *run) error {
	res := r.early
	if res == nil || len(res.Found) == 0 || p.opts.Exhaustive {
		res = p.keyEngine(r).Extract(r.prog)
		res.Merge(r.early)
	}
	r.result.Keys = res
	r.diagnose(res.Diagnostics)
	return nil
}
