package tensor

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

func makeData(dtype DType, size int) any {
	switch dtype {
	case Float32:
		return make([]float32, size)
	case Int32:
		return make([]int32, size)
	case Int64:
		return make([]int64, size)
	case String:
		return make([]string, size)
	default:
		return make([]bool, size)
	}
}

func length(data any) int {
	switch d := data.(type) {
	case []float32:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []string:
		return len(d)
	case []bool:
		return len(d)
	}
	return 0
}

func load(data any, i int) any {
	switch d := data.(type) {
	case []float32:
		return d[i]
	case []int32:
		return d[i]
	case []int64:
		return d[i]
	case []string:
		return d[i]
	case []bool:
		return d[i]
	}
	return nil
}

func store(data any, i int, v any) error {
	switch d := data.(type) {
	case []float32:
		return assign(d, i, v, toFloat32)
	case []int32:
		return assign(d, i, v, toInt32)
	case []int64:
		return assign(d, i, v, toInt64)
	case []string:
		return assign(d, i, v, toString)
	case []bool:
		return assign(d, i, v, toBool)
	}
	return nil
}

// assign leaves d[i] untouched when v cannot be cast.
func assign[T any](d []T, i int, v any, cast func(any) (T, error)) error {
	x, err := cast(v)
	if err != nil {
		return err
	}
	d[i] = x
	return nil
}

// Cast converts a single value to the native Go type of dtype.
func Cast(v any, dtype DType) (any, error) {
	switch dtype {
	case Float32:
		return toFloat32(v)
	case Int32:
		return toInt32(v)
	case Int64:
		return toInt64(v)
	case String:
		return toString(v)
	case Bool:
		return toBool(v)
	}
	return nil, errdefs.Newf(errdefs.ErrDtypeMismatch, "unsupported dtype %q", dtype)
}

func castError(v any, dtype DType) error {
	return errdefs.Newf(errdefs.ErrDtypeMismatch, "cannot cast %#v to %s", v, dtype)
}

// number reduces any numeric or boolean value to a float64, also reporting the exact
// integer value when there is one.
func number(v any) (f float64, i int64, isInt bool, ok bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), 0, false, true
	case float64:
		return n, 0, false, true
	case int:
		return float64(n), int64(n), true, true
	case int8:
		return float64(n), int64(n), true, true
	case int16:
		return float64(n), int64(n), true, true
	case int32:
		return float64(n), int64(n), true, true
	case int64:
		return float64(n), n, true, true
	case uint8:
		return float64(n), int64(n), true, true
	case uint16:
		return float64(n), int64(n), true, true
	case uint32:
		return float64(n), int64(n), true, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return float64(n), 0, false, true
		}
		return float64(n), int64(n), true, true
	case uint64:
		if n > math.MaxInt64 {
			return float64(n), 0, false, true
		}
		return float64(n), int64(n), true, true
	case bool:
		if n {
			return 1, 1, true, true
		}
		return 0, 0, true, true
	}
	return 0, 0, false, false
}

func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case json.Number:
		return strings.TrimSpace(string(s)), true
	}
	return "", false
}

func toFloat32(v any) (float32, error) {
	if f, _, _, ok := number(v); ok {
		return float32(f), nil
	}
	if s, ok := text(v); ok {
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, castError(v, Float32)
		}
		return float32(f), nil
	}
	return 0, castError(v, Float32)
}

func toInt32(v any) (int32, error) {
	f, i, isInt, ok := number(v)
	if !ok {
		s, isText := text(v)
		if !isText {
			return 0, castError(v, Int32)
		}
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			i, isInt = parsed, true
		} else if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			f = parsed
		} else {
			return 0, castError(v, Int32)
		}
	}
	if !isInt {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, castError(v, Int32)
		}
		f = math.Trunc(f)
		if f < math.MinInt32 || f > math.MaxInt32 {
			return 0, castError(v, Int32)
		}
		return int32(f), nil
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, castError(v, Int32)
	}
	return int32(i), nil
}

// toInt64 only accepts values with an exact integer representation.
func toInt64(v any) (int64, error) {
	f, i, isInt, ok := number(v)
	if ok {
		if isInt {
			return i, nil
		}
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, castError(v, Int64)
		}
		return int64(f), nil
	}
	if s, ok := text(v); ok {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, castError(v, Int64)
		}
		return parsed, nil
	}
	return 0, castError(v, Int64)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return string(s), nil
	case float32:
		return formatFloat(float64(s), 32), nil
	case float64:
		return formatFloat(s, 64), nil
	case bool:
		return strconv.FormatBool(s), nil
	}
	if _, i, isInt, ok := number(v); ok && isInt {
		return strconv.FormatInt(i, 10), nil
	}
	if n, ok := v.(uint64); ok {
		return strconv.FormatUint(n, 10), nil
	}
	if n, ok := v.(uint); ok {
		return strconv.FormatUint(uint64(n), 10), nil
	}
	return "", castError(v, String)
}

// formatFloat renders the shortest representation that round-trips, in positional
// notation for moderate magnitudes and exponent notation otherwise.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-7 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}
	return strconv.FormatFloat(f, 'e', -1, bits)
}

// toBool applies truthiness: non-zero numbers and non-empty strings are true.
func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return b != "", nil
	case json.Number:
		f, err := b.Float64()
		if err != nil {
			return b != "", nil
		}
		return f != 0 && !math.IsNaN(f), nil
	}
	if f, _, _, ok := number(v); ok {
		return f != 0 && !math.IsNaN(f), nil
	}
	return false, castError(v, Bool)
}
