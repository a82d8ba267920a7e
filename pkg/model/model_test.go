package model

import (
	"context"
	"errors"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/modelpack/modelpacktest"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

func TestLifecycle(t *testing.T) {
	b := modelpacktest.RowSum()
	b.Manifest.Name = "rowsum"
	b.Files = map[string][]byte{modelpack.MetaFile: []byte(`[{"id":"m","producer":"p","producer_version":"1","producer_tags":[],"payload":{}}]`)}

	m, err := FromBytes(b.Bytes(t))
	if err != nil {
		t.Fatalf("loading model: %v", err)
	}
	if m.Manifest().Name != "rowsum" {
		t.Errorf("unexpected manifest %+v", m.Manifest())
	}
	if meta, err := m.Metadata(); err != nil || len(meta) != 1 {
		t.Errorf("unexpected metadata %v, %v", meta, err)
	}
	if _, err := m.Dtypes(); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("expected schema error for missing dtypes.json, got %v", err)
	}

	x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
	inputs := map[string]*tensor.Tensor{"x": x}
	if _, err := m.Compute(context.Background(), inputs, nil); !errors.Is(err, errdefs.ErrNotWarmedUp) {
		t.Errorf("expected not warmed up, got %v", err)
	}
	if m.Ready() {
		t.Errorf("model must not be ready before warmup")
	}

	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("second warmup: %v", err)
	}

	got, err := m.Compute(context.Background(), inputs, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if want := tensor.MustOf([]int{1}, []float32{6}); !want.Equal(got["y"]) {
		t.Errorf("expected %v, got %v", want, got["y"])
	}
}

func TestManifestIsACopy(t *testing.T) {
	m, err := FromBytes(modelpacktest.RowSum().Bytes(t))
	if err != nil {
		t.Fatalf("loading model: %v", err)
	}
	manifest := m.Manifest()
	manifest.Inputs[0].Name = "changed"
	manifest.Inputs[0].Shape[1].Size = 99
	if got := m.Manifest().Inputs[0]; got.Name != "x" || got.Shape[1].Size != 3 {
		t.Errorf("manifest was modified through a copy: %+v", got)
	}
}

type warmCounter struct {
	warmups int
}

func (w *warmCounter) Warmup(context.Context) error { w.warmups++; return nil }

func (w *warmCounter) Compute(_ context.Context, inputs []*tensor.Tensor, _ map[string]any) (*engine.Result, error) {
	return &engine.Result{Values: []*tensor.Tensor{tensor.MustOf([]int{1}, []float32{42})}}, nil
}

func TestWithOperatorsOverridesBuiltins(t *testing.T) {
	op := &warmCounter{}
	m, err := FromBytes(modelpacktest.RowSum().Bytes(t),
		WithOperators(map[string]engine.Factory{
			"RowSum_v1": func(engine.OperatorConfig) (engine.Operator, error) { return op, nil },
		}),
		WithDeviceMap(modelpack.DeviceMap{Accelerator: "cuda"}),
	)
	if err != nil {
		t.Fatalf("loading model: %v", err)
	}
	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("second warmup: %v", err)
	}
	if op.warmups != 1 {
		t.Errorf("expected one operator warmup, got %d", op.warmups)
	}

	x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
	got, err := m.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if want := tensor.MustOf([]int{1}, []float32{42}); !want.Equal(got["y"]) {
		t.Errorf("expected custom operator output, got %v", got["y"])
	}
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	data := make([]byte, 512)
	copy(data, "not an archive")
	if _, err := FromBytes(data); !errors.Is(err, errdefs.ErrFormat) {
		t.Errorf("expected format error, got %v", err)
	}
}
