package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func process(t *testing.T, engine *Engine, params map[string]any) node.Output {
	t.Helper()
	reg := node.NewRegistry()
	require.NoError(t, Register(reg, engine))
	desc, err := reg.Resolve(TypeScript)
	require.NoError(t, err)
	return desc.Executor.Process(context.Background(), node.Input{NodeID: "js", NodeType: TypeScript, Params: params})
}

func TestScriptNode(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name   string
		script string
		input  any
		want   map[string]any
	}{
		{
			name:   "object becomes output",
			script: "return {sum: input.a + input.b, product: input.a * input.b};",
			input:  map[string]any{"a": 5, "b": 3},
			want:   map[string]any{"sum": int64(8), "product": int64(15)},
		},
		{
			name:   "scalar wrapped",
			script: "return input.value * 2;",
			input:  map[string]any{"value": 10},
			want:   map[string]any{"result": int64(20)},
		},
		{
			name:   "string",
			script: "return 'hello ' + input;",
			input:  "world",
			want:   map[string]any{"result": "hello world"},
		},
		{
			name:   "no return",
			script: "var x = 1;",
			want:   map[string]any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := process(t, engine, map[string]any{"script": tt.script, "input": tt.input})
			require.NoError(t, out.Error)
			assert.Equal(t, tt.want, out.Data)
		})
	}
}

func TestScriptNode_Errors(t *testing.T) {
	engine := newEngine(t)

	out := process(t, engine, map[string]any{"script": "return {"})
	var scriptErr *Error
	require.True(t, errors.As(out.Error, &scriptErr))
	assert.Equal(t, ErrorSyntax, scriptErr.Type)

	out = process(t, engine, map[string]any{"script": "throw new Error('boom');"})
	require.True(t, errors.As(out.Error, &scriptErr))
	assert.Equal(t, ErrorRuntime, scriptErr.Type)
	assert.Contains(t, scriptErr.Message, "boom")
}

func TestScriptNode_Timeout(t *testing.T) {
	engine := newEngine(t)

	start := time.Now()
	out := process(t, engine, map[string]any{"script": "while (true) {}", "timeout_ms": 50})
	var scriptErr *Error
	require.True(t, errors.As(out.Error, &scriptErr))
	assert.Equal(t, ErrorTimeout, scriptErr.Type)
	assert.True(t, errors.Is(out.Error, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)

	// the interrupted runtime is usable again
	out = process(t, engine, map[string]any{"script": "return 1;"})
	require.NoError(t, out.Error)
}

func TestEngine_CancelledContext(t *testing.T) {
	engine := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Call(ctx, "while (true) {}", "input", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Sandbox(t *testing.T) {
	engine := newEngine(t, WithSecurityLevel(SecurityStrict))

	v, err := engine.Call(context.Background(), "return typeof require;", "input", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)

	_, err = engine.Call(context.Background(), "return eval('1+1');", "input", nil)
	var scriptErr *Error
	require.True(t, errors.As(err, &scriptErr))
	assert.Equal(t, ErrorSecurity, scriptErr.Type)

	v, err = engine.Call(context.Background(), "Math.max = null; return typeof Math.max;", "input", nil)
	require.NoError(t, err)
	assert.Equal(t, "function", v)
}

func TestEngine_ResetsLeakedGlobals(t *testing.T) {
	engine := newEngine(t, WithPoolSize(1))

	_, err := engine.Call(context.Background(), "leaked = 42;", "input", nil)
	require.NoError(t, err)

	v, err := engine.Call(context.Background(), "return typeof leaked;", "input", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)

	stats := engine.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(2), stats.Acquired)
	assert.Equal(t, 1, stats.Idle)
}

func TestEngine_RetiredRuntimeFreesSlotForWaiter(t *testing.T) {
	engine := newEngine(t, WithPoolSize(1), WithMaxReuse(1))

	busy := make(chan error, 1)
	go func() {
		_, err := engine.Call(context.Background(),
			"var end = Date.now() + 200; while (Date.now() < end) {} return 1;", "input", nil)
		busy <- err
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := engine.Call(ctx, "return input + 1;", "input", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	require.NoError(t, <-busy)

	stats := engine.Stats()
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, 0, stats.Live)
}

func TestEngine_ConcurrentCallsWithLowReuse(t *testing.T) {
	engine := newEngine(t, WithPoolSize(2), WithMaxReuse(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			_, err := engine.Call(ctx, "return input * 2;", "input", i)
			errs <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, engine.Stats().Live, 2)
}

func TestEngine_Closed(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, err = engine.Call(context.Background(), "return 1;", "input", nil)
	assert.Error(t, err)
}

func TestNewEngine_InvalidSecurity(t *testing.T) {
	_, err := NewEngine(WithSecurityLevel("lax"))
	assert.Error(t, err)
}

func TestPredicate(t *testing.T) {
	engine := newEngine(t)

	pred, err := Predicate(engine, "output.counter >= 3")
	require.NoError(t, err)

	stop, err := pred(map[string]any{"counter": 2})
	require.NoError(t, err)
	assert.False(t, stop)

	stop, err = pred(map[string]any{"counter": 3})
	require.NoError(t, err)
	assert.True(t, stop)

	stop, err = pred(map[string]any{})
	require.NoError(t, err)
	assert.False(t, stop)

	_, err = Predicate(engine, "output.counter >=")
	assert.Error(t, err)
}

func TestScriptMapNode(t *testing.T) {
	engine := newEngine(t, WithPoolSize(4))
	reg := node.NewRegistry()
	require.NoError(t, Register(reg, engine))
	desc, err := reg.Resolve(TypeScriptMap)
	require.NoError(t, err)

	for _, strategy := range []string{"sequential", "parallel"} {
		t.Run(strategy, func(t *testing.T) {
			out := desc.Executor.Process(context.Background(), node.Input{
				NodeID: "m",
				Params: node.Params{
					"script":         "return item * item;",
					"items":          []any{1, 2, 3, 4},
					"strategy":       strategy,
					"max_concurrent": 2,
				},
			})
			require.NoError(t, out.Error)
			assert.Equal(t, []any{int64(1), int64(4), int64(9), int64(16)}, out.Data["results"])
			assert.Equal(t, 4, out.Data["count"])
		})
	}

	t.Run("item failure", func(t *testing.T) {
		out := desc.Executor.Process(context.Background(), node.Input{
			Params: node.Params{"script": "if (item > 1) { throw new Error('too big'); } return item;", "items": []any{1, 2}},
		})
		require.Error(t, out.Error)
		assert.Contains(t, out.Error.Error(), "item 1")
	})

	t.Run("bad strategy", func(t *testing.T) {
		out := desc.Executor.Process(context.Background(), node.Input{
			Params: node.Params{"script": "return item;", "items": []any{1}, "strategy": "batch"},
		})
		assert.Error(t, out.Error)
	})
}
