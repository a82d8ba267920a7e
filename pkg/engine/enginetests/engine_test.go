package enginetests

import (
	"context"
	"math"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/model"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/modelpack/modelpacktest"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

func TestEngine(t *testing.T) {
	b := modelpacktest.RowSum()
	b.Manifest.Outputs = append(b.Manifest.Outputs, modelpack.IOSpec{
		Name:        "normed",
		ContentType: modelpack.ContentNDJSON,
		DType:       "Array[float32]",
		Shape:       []modelpack.Dim{{Symbol: "N"}, {Size: 3}},
	})
	b.Ops = append(b.Ops, modelpack.OpInstanceConfig{ID: "norm", Op: "RMSNorm_v1"})
	b.Nodes = append(b.Nodes, modelpack.PipelineNode{OpInstanceID: "norm", Inputs: []string{"x"}, Outputs: []string{"normed"}})

	m, err := model.FromBytes(b.Bytes(t))
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}
	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("failed to warm up: %v", err)
	}

	x := tensor.MustOf([]int{1, 3}, []float32{1, 2, 3})
	var first map[string]*tensor.Tensor
	for i := 0; i < 2; i++ {
		response, err := m.Compute(context.Background(), map[string]*tensor.Tensor{"x": x}, nil)
		if err != nil {
			t.Fatalf("failed to compute: %v", err)
		}
		t.Logf("response: %v", response)

		if len(response) != 2 {
			t.Fatalf("expected 2 results, got %d", len(response))
		}

		sums, err := tensor.Values[float32](response["y"])
		if err != nil {
			t.Fatalf("reading y: %v", err)
		}
		if !FloatingPointEqual(sums, []float32{6}) {
			t.Errorf("expected [6], got %+v", sums)
		}

		values, err := tensor.Values[float32](response["normed"])
		if err != nil {
			t.Fatalf("reading normed: %v", err)
		}
		expected := []float32{0.46290955, 0.9258191, 1.3887286}
		if !FloatingPointEqual(values, expected) {
			t.Errorf("expected %+v, got %+v", expected, values)
		}

		if first == nil {
			first = response
			continue
		}
		for name, v := range first {
			if !v.Equal(response[name]) {
				t.Errorf("%s differs between calls: %v vs %v", name, v, response[name])
			}
		}
	}
}

func FloatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
