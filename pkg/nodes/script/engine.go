// Package script runs user JavaScript inside sandboxed goja runtimes. It backs
// the script node type and script-based cycle exit conditions.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// SecurityLevel selects the sandbox restrictions applied to each runtime.
type SecurityLevel string

const (
	SecurityStrict     SecurityLevel = "strict"
	SecurityStandard   SecurityLevel = "standard"
	SecurityPermissive SecurityLevel = "permissive"
)

// Config holds engine settings.
type Config struct {
	// PoolSize bounds the number of live runtimes
	PoolSize int
	// MaxReuse recreates a runtime after this many uses
	MaxReuse int
	// Timeout applies to calls that carry no deadline of their own
	Timeout time.Duration
	// Security selects the sandbox level
	Security SecurityLevel
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize: 8,
		MaxReuse: 1000,
		Timeout:  5 * time.Second,
		Security: SecurityStandard,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithPoolSize bounds the number of live runtimes.
func WithPoolSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.config.PoolSize = n
		}
	}
}

// WithMaxReuse recreates a runtime after n calls.
func WithMaxReuse(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.config.MaxReuse = n
		}
	}
}

// WithTimeout sets the default call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.config.Timeout = d
		}
	}
}

// WithSecurityLevel sets the sandbox level.
func WithSecurityLevel(level SecurityLevel) Option {
	return func(e *Engine) {
		e.config.Security = level
	}
}

// WithLogger sets the logger that receives console output from scripts.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Stats describes the runtime pool.
type Stats struct {
	Live     int
	Idle     int
	Created  int64
	Acquired int64
}

// Engine runs scripts on a bounded pool of sandboxed runtimes.
// It is safe for concurrent use.
type Engine struct {
	config   Config
	logger   *zap.Logger
	pool     chan *pooledVM
	slots    chan struct{}
	done     chan struct{}
	programs sync.Map

	created  atomic.Int64
	acquired atomic.Int64

	mu     sync.Mutex
	closed bool
}

type pooledVM struct {
	rt       *goja.Runtime
	uses     int
	baseline map[string]struct{}
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	switch e.config.Security {
	case SecurityStrict, SecurityStandard, SecurityPermissive:
	default:
		return nil, fmt.Errorf("invalid security level %q", e.config.Security)
	}
	if e.config.MaxReuse <= 0 {
		e.config.MaxReuse = DefaultConfig().MaxReuse
	}
	e.pool = make(chan *pooledVM, e.config.PoolSize)
	// one slot per live runtime, idle or in use
	e.slots = make(chan struct{}, e.config.PoolSize)
	return e, nil
}

// Close releases every idle runtime. Calls after Close fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	for {
		select {
		case vm := <-e.pool:
			e.destroy(vm)
		default:
			return nil
		}
	}
}

// Stats returns a snapshot of the pool counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Live:     len(e.slots),
		Idle:     len(e.pool),
		Created:  e.created.Load(),
		Acquired: e.acquired.Load(),
	}
}

// Call compiles body as a function with a single parameter named param,
// invokes it with arg and returns the exported result.
func (e *Engine) Call(ctx context.Context, body, param string, arg any) (any, error) {
	program, err := e.compile(body, param)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	vm, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.release(vm)

	return e.run(ctx, vm, program, arg)
}

func (e *Engine) run(ctx context.Context, vm *pooledVM, program *goja.Program, arg any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Type: ErrorInternal, Message: fmt.Sprintf("panic during execution: %v", r)}
		}
	}()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			vm.rt.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	fnValue, err := vm.rt.RunProgram(program)
	if err != nil {
		return nil, parseError(ctx, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, &Error{Type: ErrorInternal, Message: "compiled script is not callable"}
	}
	value, err := fn(goja.Undefined(), vm.rt.ToValue(arg))
	if err != nil {
		return nil, parseError(ctx, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// Compile checks body for syntax errors and caches the result.
func (e *Engine) Compile(body, param string) error {
	_, err := e.compile(body, param)
	return err
}

func (e *Engine) compile(body, param string) (*goja.Program, error) {
	src := fmt.Sprintf("(function(%s) {\n%s\n})", param, body)
	if cached, ok := e.programs.Load(src); ok {
		return cached.(*goja.Program), nil
	}
	program, err := goja.Compile("script", src, false)
	if err != nil {
		return nil, parseCompileError(err)
	}
	e.programs.Store(src, program)
	return program, nil
}

func (e *Engine) acquire(ctx context.Context) (*pooledVM, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errEngineClosed
	}
	e.acquired.Add(1)

	select {
	case vm := <-e.pool:
		return vm, nil
	default:
	}

	// Wait for an idle runtime or for a free slot. Retired runtimes give
	// their slot back, so a waiter can always make progress.
	select {
	case vm := <-e.pool:
		return vm, nil
	case e.slots <- struct{}{}:
		vm, err := e.create()
		if err != nil {
			<-e.slots
			return nil, err
		}
		return vm, nil
	case <-e.done:
		return nil, errEngineClosed
	case <-ctx.Done():
		return nil, &Error{Type: ErrorTimeout, Message: "no script runtime available", Err: ctx.Err()}
	}
}

func (e *Engine) release(vm *pooledVM) {
	vm.uses++
	if vm.uses >= e.config.MaxReuse || e.reset(vm) != nil {
		e.destroy(vm)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.destroy(vm)
		return
	}
	select {
	case e.pool <- vm:
	default:
		e.destroy(vm)
	}
}

func (e *Engine) create() (*pooledVM, error) {
	rt := goja.New()
	if err := e.sandbox(rt); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}
	baseline := make(map[string]struct{})
	for _, key := range rt.GlobalObject().Keys() {
		baseline[key] = struct{}{}
	}
	e.created.Add(1)
	return &pooledVM{rt: rt, baseline: baseline}, nil
}

// reset removes globals a script leaked and clears any pending interrupt.
func (e *Engine) reset(vm *pooledVM) error {
	vm.rt.ClearInterrupt()
	global := vm.rt.GlobalObject()
	for _, key := range global.Keys() {
		if _, ok := vm.baseline[key]; ok {
			continue
		}
		if err := global.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) destroy(vm *pooledVM) {
	if vm == nil {
		return
	}
	vm.rt = nil
	select {
	case <-e.slots:
	default:
	}
}

var errEngineClosed = errors.New("script engine is closed")
