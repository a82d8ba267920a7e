package handler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/engine/fallback"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/modelpack/modelpacktest"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// countingRegistry wraps the fallback operators so tests can tell whether any
// operator was invoked.
func countingRegistry(calls *atomic.Int32) *engine.Registry {
	r := engine.NewRegistry(nil)
	for name, factory := range fallback.Operators() {
		r.Register(name, func(config engine.OperatorConfig) (engine.Operator, error) {
			op, err := factory(config)
			if err != nil {
				return nil, err
			}
			return &counting{Operator: op, calls: calls}, nil
		})
	}
	return r
}

type counting struct {
	engine.Operator
	calls *atomic.Int32
}

func (c *counting) Compute(ctx context.Context, inputs []*tensor.Tensor, attrs map[string]any) (*engine.Result, error) {
	c.calls.Add(1)
	return c.Operator.Compute(ctx, inputs, attrs)
}

func newHandler(t *testing.T, b *modelpacktest.Builder, calls *atomic.Int32) *Handler {
	t.Helper()
	h, err := New(b.Load(t), countingRegistry(calls), modelpack.DefaultDeviceMap())
	if err != nil {
		t.Fatalf("building handler: %v", err)
	}
	return h
}

func TestComputeTrimsToDeclaredOutputs(t *testing.T) {
	b := modelpacktest.RowSum()
	// Declare an output nothing produces; it must be dropped, not invented.
	b.Manifest.Outputs = append(b.Manifest.Outputs, modelpack.IOSpec{Name: "never", ContentType: modelpack.ContentNDJSON, DType: "Array[float32]"})

	var calls atomic.Int32
	h := newHandler(t, b, &calls)
	if err := h.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
	for i := 0; i < 2; i++ {
		got, err := h.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected only y, got %v", got)
		}
		if want := tensor.MustOf([]int{1}, []float32{6}); !want.Equal(got["y"]) {
			t.Errorf("expected y=%v, got %v", want, got["y"])
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 operator calls, got %d", calls.Load())
	}
}

func TestComputeBeforeWarmup(t *testing.T) {
	var calls atomic.Int32
	h := newHandler(t, modelpacktest.RowSum(), &calls)
	x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
	if _, err := h.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil); !errors.Is(err, errdefs.ErrNotWarmedUp) {
		t.Errorf("expected not warmed up, got %v", err)
	}
}

func TestInputValidation(t *testing.T) {
	grid := map[string]struct {
		inputs map[string]*tensor.Tensor
		kind   error
	}{
		"unknown input": {
			map[string]*tensor.Tensor{"z": tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})},
			errdefs.ErrUnknownField,
		},
		"nil input": {
			map[string]*tensor.Tensor{"x": nil},
			errdefs.ErrMissingInput,
		},
		"wrong dtype": {
			map[string]*tensor.Tensor{"x": tensor.MustOf([]int{1, 3}, []int32{1, 2, 3})},
			errdefs.ErrDtypeMismatch,
		},
		"wrong rank": {
			map[string]*tensor.Tensor{"x": tensor.MustOf([]int{3}, []float32{1, 2, 3})},
			errdefs.ErrShapeMismatch,
		},
		"wrong fixed dimension": {
			map[string]*tensor.Tensor{"x": tensor.MustOf([]int{1, 2}, []float32{1, 2})},
			errdefs.ErrShapeMismatch,
		},
		"missing input": {
			map[string]*tensor.Tensor{},
			errdefs.ErrMissingInput,
		},
	}
	for name, g := range grid {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			h := newHandler(t, modelpacktest.RowSum(), &calls)
			if err := h.Warmup(context.Background()); err != nil {
				t.Fatalf("warmup: %v", err)
			}
			_, err := h.Compute(context.Background(), g.inputs, nil)
			if !errors.Is(err, g.kind) {
				t.Errorf("expected %v, got %v", g.kind, err)
			}
			if calls.Load() != 0 {
				t.Errorf("expected no operator calls, got %d", calls.Load())
			}
		})
	}
}

func TestSymbolicDimensionsAcceptAnyExtent(t *testing.T) {
	var calls atomic.Int32
	h := newHandler(t, modelpacktest.RowSum(), &calls)
	if err := h.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	x := tensor.MustOf([]int{4, 3}, make([]float32, 12))
	if _, err := h.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUnsupportedContent(t *testing.T) {
	for name, mutate := range map[string]func(spec *modelpack.IOSpec){
		"json":        func(spec *modelpack.IOSpec) { spec.ContentType = modelpack.ContentJSON },
		"ndcontainer": func(spec *modelpack.IOSpec) { spec.DType = "NDContainer[Foo]" },
	} {
		t.Run(name, func(t *testing.T) {
			b := modelpacktest.RowSum()
			mutate(&b.Manifest.Inputs[0])
			var calls atomic.Int32
			h := newHandler(t, b, &calls)
			if err := h.Warmup(context.Background()); err != nil {
				t.Fatalf("warmup: %v", err)
			}
			x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
			_, err := h.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil)
			if !errors.Is(err, errdefs.ErrUnsupportedContent) {
				t.Errorf("expected unsupported content, got %v", err)
			}
			if calls.Load() != 0 {
				t.Errorf("expected no operator calls, got %d", calls.Load())
			}
		})
	}
}

func TestUnsupportedVariants(t *testing.T) {
	for _, variant := range []string{modelpack.VariantPyfunc, "training"} {
		b := modelpacktest.RowSum()
		b.Manifest.Variant = variant
		_, err := New(b.Load(t), engine.NewRegistry(fallback.Operators()), modelpack.DefaultDeviceMap())
		if !errors.Is(err, errdefs.ErrUnsupportedVariant) {
			t.Errorf("%s: expected unsupported variant, got %v", variant, err)
		}
	}
}

func TestUnknownOperatorFailsAtConstruction(t *testing.T) {
	b := modelpacktest.RowSum()
	b.Ops[0].Op = "Missing_v1"
	_, err := New(b.Load(t), engine.NewRegistry(fallback.Operators()), modelpack.DefaultDeviceMap())
	if !errors.Is(err, errdefs.ErrUnknownOperator) {
		t.Errorf("expected unknown operator, got %v", err)
	}
}
