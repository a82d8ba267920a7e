package fallback

import (
	"fmt"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// rows views a float32 tensor as rows along its last axis.
type rows struct {
	shape  []int
	values []float32
	width  int
}

func float32Rows(t *tensor.Tensor) (*rows, error) {
	if t.Rank() == 0 {
		return nil, errdefs.Newf(errdefs.ErrShapeMismatch, "expected at least one dimension, got a scalar")
	}
	values, err := tensor.Values[float32](t)
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	return &rows{shape: shape, values: values, width: shape[len(shape)-1]}, nil
}

func (r *rows) count() int {
	n := 1
	for _, dim := range r.shape[:len(r.shape)-1] {
		n *= dim
	}
	return n
}

func (r *rows) row(i int) []float32 {
	return r.values[i*r.width : (i+1)*r.width]
}

func expectInputs(inputs []*tensor.Tensor, n int) error {
	if len(inputs) != n {
		return errdefs.Newf(errdefs.ErrSchema, "expected %d inputs, got %d", n, len(inputs))
	}
	for i, in := range inputs {
		if in == nil {
			return errdefs.Newf(errdefs.ErrMissingInput, "input %d is nil", i)
		}
	}
	return nil
}

// float32Attribute casts an attribute value with the usual tensor cast rules, so
// numbers supplied as strings (e.g. pipeline node overrides) are accepted.
func float32Attribute(name string, v any) (float32, error) {
	f, err := tensor.Cast(v, tensor.Float32)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", name, err)
	}
	return f.(float32), nil
}
