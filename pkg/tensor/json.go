package tensor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireTensor struct {
	DType DType `json:"dtype"`
	Shape []int `json:"shape"`
	Data  any   `json:"data"`
}

// MarshalJSON encodes the tensor as {"dtype": ..., "shape": [...], "data": [...]}
// with data flattened in row-major order.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	shape := t.shape
	if shape == nil {
		shape = []int{}
	}
	return json.Marshal(wireTensor{DType: t.dtype, Shape: shape, Data: t.data})
}

// UnmarshalJSON accepts the MarshalJSON form; data may be flat or nested.
func (t *Tensor) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var w wireTensor
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if w.DType == "" {
		return fmt.Errorf("tensor is missing dtype")
	}

	var values []any
	switch data := w.Data.(type) {
	case nil:
	case []any:
		values = flatten(data, nil)
	default:
		values = []any{data}
	}

	decoded, err := New(w.Shape, values, w.DType)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

func flatten(in []any, out []any) []any {
	for _, v := range in {
		if nested, ok := v.([]any); ok {
			out = flatten(nested, out)
			continue
		}
		out = append(out, v)
	}
	return out
}
