// Package sandbox evaluates an isolated string-table decoder in an otto VM
// when the static solver cannot model it. Every run is bounded by a watchdog
// that interrupts the VM once the timeout passes.
package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robertkrimen/otto"
	"go.uber.org/zap"

	"github.com/Eggwite/megacloud-key-extractor/visitors"
)

// ErrTimeout is returned when a script runs past the configured timeout.
var ErrTimeout = errors.New("sandbox: script timed out")

// DefaultTimeout bounds each run when none is configured.
const DefaultTimeout = 2 * time.Second

// VM holds one loaded decoder fragment. It is safe for concurrent use; calls
// are serialised on the underlying interpreter.
type VM struct {
	vm       *otto.Otto
	accessor string
	timeout  time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]string
}

type cacheKey struct {
	index int
	key   string
}

// Load runs source in a fresh VM and checks that accessor is a function.
func Load(source, accessor string, timeout time.Duration, logger *zap.Logger) (*VM, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &VM{
		vm:       otto.New(),
		accessor: accessor,
		timeout:  timeout,
		logger:   logger,
		cache:    make(map[cacheKey]string),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.run(func() (otto.Value, error) { return v.vm.Run(source) }); err != nil {
		return nil, fmt.Errorf("sandbox: load decoder: %w", err)
	}
	fn, err := v.vm.Get(accessor)
	if err != nil {
		return nil, fmt.Errorf("sandbox: lookup %s: %w", accessor, err)
	}
	if !fn.IsFunction() {
		return nil, fmt.Errorf("sandbox: %s is not a function", accessor)
	}
	logger.Debug("decoder loaded", zap.String("accessor", accessor), zap.Int("source_bytes", len(source)))
	return v, nil
}

// Fallback adapts Load to the string solver's fallback hook.
func Fallback(timeout time.Duration, logger *zap.Logger) func(source, accessor string) (visitors.Decoder, error) {
	return func(source, accessor string) (visitors.Decoder, error) {
		return Load(source, accessor, timeout, logger)
	}
}

// Decode calls the accessor with index, and with key when it is non-empty.
// Results that are not strings count as failures.
func (v *VM) Decode(index int, key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ck := cacheKey{index: index, key: key}
	if s, ok := v.cache[ck]; ok {
		return s, true
	}

	args := []interface{}{index}
	if key != "" {
		args = append(args, key)
	}
	val, err := v.run(func() (otto.Value, error) { return v.vm.Call(v.accessor, nil, args...) })
	if err != nil {
		v.logger.Debug("decoder call failed", zap.Int("index", index), zap.Error(err))
		return "", false
	}
	if !val.IsString() {
		return "", false
	}
	s, err := val.ToString()
	if err != nil {
		return "", false
	}
	v.cache[ck] = s
	return s, true
}

// run executes fn under the watchdog. The interrupt channel is replaced on
// every run so a late timer cannot stop the next one.
func (v *VM) run(fn func() (otto.Value, error)) (val otto.Value, err error) {
	interrupt := make(chan func(), 1)
	v.vm.Interrupt = interrupt
	timer := time.AfterFunc(v.timeout, func() {
		interrupt <- func() { panic(ErrTimeout) }
	})
	defer func() {
		timer.Stop()
		if r := recover(); r != nil {
			if r == ErrTimeout {
				err = ErrTimeout
				return
			}
			panic(r)
		}
	}()
	return fn()
}
