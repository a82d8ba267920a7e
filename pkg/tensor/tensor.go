// Package tensor implements the typed, row-major multi-dimensional arrays that
// flow between operators.
package tensor

import (
	"fmt"
	"slices"
	"strings"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// DType is the element type of a Tensor.
type DType string

const (
	Float32 DType = "float32"
	Int32   DType = "int32"
	Int64   DType = "int64"
	String  DType = "string"
	Bool    DType = "bool"
)

// DTypes lists every supported element type.
var DTypes = []DType{Float32, Int32, Int64, String, Bool}

// ParseDType returns the DType named s.
func ParseDType(s string) (DType, error) {
	dt := DType(s)
	if !dt.Valid() {
		return "", errdefs.Newf(errdefs.ErrDtypeMismatch, "unsupported dtype %q", s)
	}
	return dt, nil
}

func (d DType) Valid() bool {
	return slices.Contains(DTypes, d)
}

func (d DType) String() string {
	return string(d)
}

// Element is the set of Go types backing a Tensor.
type Element interface {
	float32 | int32 | int64 | string | bool
}

// Tensor is a shaped array of a single dtype, stored flat in row-major order.
//
// The flat storage is one of []float32, []int32, []int64, []string or []bool,
// matching the dtype.
type Tensor struct {
	shape []int
	dtype DType
	data  any
}

// New builds a tensor from loosely typed values, casting every element to dtype.
func New(shape []int, values []any, dtype DType) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, errdefs.Newf(errdefs.ErrDtypeMismatch, "unsupported dtype %q", dtype)
	}
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	if len(values) != size {
		return nil, errdefs.Newf(errdefs.ErrShapeMismatch, "data length (%d) does not match the size of the shape %v (%d)", len(values), shape, size)
	}

	data := makeData(dtype, size)
	for i, v := range values {
		if err := store(data, i, v); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return &Tensor{shape: slices.Clone(shape), dtype: dtype, data: data}, nil
}

// Of builds a tensor directly from typed values. The values are copied.
func Of[T Element](shape []int, values []T) (*Tensor, error) {
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	if len(values) != size {
		return nil, errdefs.Newf(errdefs.ErrShapeMismatch, "data length (%d) does not match the size of the shape %v (%d)", len(values), shape, size)
	}
	return &Tensor{shape: slices.Clone(shape), dtype: dtypeOf[T](), data: slices.Clone(values)}, nil
}

// MustOf is like Of but panics on error; intended for fixtures and tests.
func MustOf[T Element](shape []int, values []T) *Tensor {
	t, err := Of(shape, values)
	if err != nil {
		panic(err)
	}
	return t
}

// Values returns a copy of the flat data of t, which must hold elements of type T.
func Values[T Element](t *Tensor) ([]T, error) {
	data, ok := t.data.([]T)
	if !ok {
		return nil, errdefs.Newf(errdefs.ErrDtypeMismatch, "tensor holds %s, not %s", t.dtype, dtypeOf[T]())
	}
	return slices.Clone(data), nil
}

func dtypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	case int64:
		return Int64
	case string:
		return String
	default:
		return Bool
	}
}

func shapeSize(shape []int) (int, error) {
	size := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, errdefs.Newf(errdefs.ErrShapeMismatch, "dimension %d has negative extent %d", i, dim)
		}
		size *= dim
	}
	return size, nil
}

func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

func (t *Tensor) Rank() int { return len(t.shape) }

// Size is the number of elements; a rank-0 tensor has size 1.
func (t *Tensor) Size() int { return length(t.data) }

// Flat returns the flat data as loosely typed values.
func (t *Tensor) Flat() []any {
	out := make([]any, t.Size())
	for i := range out {
		out[i] = load(t.data, i)
	}
	return out
}

func (t *Tensor) offset(coords []int) (int, error) {
	if len(coords) != len(t.shape) {
		return 0, errdefs.Newf(errdefs.ErrBounds, "expected %d indices, got %d", len(t.shape), len(coords))
	}
	index := 0
	stride := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		if coords[i] < 0 || coords[i] >= t.shape[i] {
			return 0, errdefs.Newf(errdefs.ErrBounds, "index %d out of bounds for dimension %d with extent %d", coords[i], i, t.shape[i])
		}
		index += coords[i] * stride
		stride *= t.shape[i]
	}
	return index, nil
}

// Get returns the element at the given coordinates.
func (t *Tensor) Get(coords ...int) (any, error) {
	i, err := t.offset(coords)
	if err != nil {
		return nil, err
	}
	return load(t.data, i), nil
}

// Set casts value to the tensor's dtype and stores it at the given coordinates.
func (t *Tensor) Set(value any, coords ...int) error {
	i, err := t.offset(coords)
	if err != nil {
		return err
	}
	return store(t.data, i, value)
}

// AsType returns a new tensor with every element cast to dtype.
func (t *Tensor) AsType(dtype DType) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, errdefs.Newf(errdefs.ErrDtypeMismatch, "unsupported dtype for casting: %q", dtype)
	}
	return New(t.shape, t.Flat(), dtype)
}

// Equal reports whether both tensors have the same dtype, shape and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.dtype != o.dtype || !slices.Equal(t.shape, o.shape) {
		return false
	}
	switch a := t.data.(type) {
	case []float32:
		return slices.Equal(a, o.data.([]float32))
	case []int32:
		return slices.Equal(a, o.data.([]int32))
	case []int64:
		return slices.Equal(a, o.data.([]int64))
	case []string:
		return slices.Equal(a, o.data.([]string))
	case []bool:
		return slices.Equal(a, o.data.([]bool))
	}
	return false
}

// String renders the tensor as nested rows.
func (t *Tensor) String() string {
	if len(t.shape) == 0 {
		return fmt.Sprint(load(t.data, 0))
	}
	var b strings.Builder
	t.format(&b, t.shape, 0, "")
	return b.String()
}

func (t *Tensor) format(b *strings.Builder, shape []int, offset int, indent string) {
	if len(shape) == 1 {
		b.WriteString("[")
		for i := 0; i < shape[0]; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprint(b, load(t.data, offset+i))
		}
		b.WriteString("]")
		return
	}

	stride := 1
	for _, d := range shape[1:] {
		stride *= d
	}
	b.WriteString("[\n")
	for i := 0; i < shape[0]; i++ {
		b.WriteString(indent + "  ")
		t.format(b, shape[1:], offset+i*stride, indent+"  ")
		if i < shape[0]-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(indent + "]")
}
