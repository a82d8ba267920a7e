// Package fallback provides pure-Go reference operators, so that simple packages
// can be served without an external inference engine.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// Operators returns the factories of every operator in this package, keyed by
// operator type.
func Operators() map[string]engine.Factory {
	return map[string]engine.Factory{
		"Identity_v1":    NewIdentity,
		"RowSum_v1":      NewRowSum,
		"LinearScale_v1": NewLinearScale,
		"RMSNorm_v1":     NewRMSNorm,
	}
}

// Identity returns its inputs unchanged.
type Identity struct {
	*engine.OperatorBase
}

func NewIdentity(config engine.OperatorConfig) (engine.Operator, error) {
	return &Identity{OperatorBase: engine.NewOperatorBase(config)}, nil
}

func (o *Identity) Warmup(ctx context.Context) error {
	o.MarkWarm()
	return nil
}

func (o *Identity) Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*engine.Result, error) {
	if err := o.CheckWarm(); err != nil {
		return nil, err
	}
	return &engine.Result{Values: inputs}, nil
}

// RowSum sums a float32 tensor along its last axis, dropping that axis.
type RowSum struct {
	*engine.OperatorBase
}

func NewRowSum(config engine.OperatorConfig) (engine.Operator, error) {
	return &RowSum{OperatorBase: engine.NewOperatorBase(config)}, nil
}

func (o *RowSum) Warmup(ctx context.Context) error {
	o.MarkWarm()
	return nil
}

func (o *RowSum) Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*engine.Result, error) {
	if err := o.CheckWarm(); err != nil {
		return nil, err
	}
	if err := expectInputs(inputs, 1); err != nil {
		return nil, err
	}
	r, err := float32Rows(inputs[0])
	if err != nil {
		return nil, err
	}

	sums := make([]float32, r.count())
	for i := range sums {
		for _, v := range r.row(i) {
			sums[i] += v
		}
	}
	out, err := tensor.Of(r.shape[:len(r.shape)-1], sums)
	if err != nil {
		return nil, err
	}
	return &engine.Result{Values: []*tensor.Tensor{out}}, nil
}

// LinearScale computes x*scale + bias elementwise.
//
// Parameters come from, in increasing precedence: the optional params.json artifact,
// the static attributes, and the "scale" and "bias" dynamic attributes.
type LinearScale struct {
	*engine.OperatorBase

	scale float32
	bias  float32
}

type linearScaleParams struct {
	Scale *float32 `json:"scale"`
	Bias  *float32 `json:"bias"`
}

func NewLinearScale(config engine.OperatorConfig) (engine.Operator, error) {
	return &LinearScale{OperatorBase: engine.NewOperatorBase(config), scale: 1}, nil
}

func (o *LinearScale) Warmup(ctx context.Context) error {
	if artifact, found := o.Artifact("params.json"); found {
		var params linearScaleParams
		if err := json.Unmarshal(artifact.Data, &params); err != nil {
			return errdefs.Wrapf(errdefs.ErrSchema, err, "parsing %s", artifact.Path)
		}
		if params.Scale != nil {
			o.scale = *params.Scale
		}
		if params.Bias != nil {
			o.bias = *params.Bias
		}
	}

	for name, dst := range map[string]*float32{"scale": &o.scale, "bias": &o.bias} {
		v, found := o.Config.Attributes[name]
		if !found {
			continue
		}
		f, err := float32Attribute(name, v)
		if err != nil {
			return err
		}
		*dst = f
	}

	o.MarkWarm()
	return nil
}

func (o *LinearScale) Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*engine.Result, error) {
	if err := o.CheckWarm(); err != nil {
		return nil, err
	}
	if err := expectInputs(inputs, 1); err != nil {
		return nil, err
	}

	scale, bias := o.scale, o.bias
	resolved := o.ResolveDynamicAttributes(dynamicAttributes)
	if v := resolved["scale"]; v != nil {
		f, err := float32Attribute("scale", v)
		if err != nil {
			return nil, err
		}
		scale = f
	}
	if v := resolved["bias"]; v != nil {
		f, err := float32Attribute("bias", v)
		if err != nil {
			return nil, err
		}
		bias = f
	}

	values, err := tensor.Values[float32](inputs[0])
	if err != nil {
		return nil, err
	}
	for i := range values {
		values[i] = values[i]*scale + bias
	}
	out, err := tensor.Of(inputs[0].Shape(), values)
	if err != nil {
		return nil, err
	}
	return &engine.Result{Values: []*tensor.Tensor{out}}, nil
}

// RMSNorm normalizes each row along the last axis by its root mean square.
type RMSNorm struct {
	*engine.OperatorBase

	epsilon float32
}

func NewRMSNorm(config engine.OperatorConfig) (engine.Operator, error) {
	o := &RMSNorm{OperatorBase: engine.NewOperatorBase(config), epsilon: 1e-5}
	if v, found := config.Attributes["epsilon"]; found {
		epsilon, err := float32Attribute("epsilon", v)
		if err != nil {
			return nil, err
		}
		if epsilon <= 0 {
			return nil, errdefs.Newf(errdefs.ErrSchema, "epsilon must be positive, got %v", epsilon)
		}
		o.epsilon = epsilon
	}
	return o, nil
}

func (o *RMSNorm) Warmup(ctx context.Context) error {
	o.MarkWarm()
	return nil
}

func (o *RMSNorm) Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*engine.Result, error) {
	if err := o.CheckWarm(); err != nil {
		return nil, err
	}
	if err := expectInputs(inputs, 1); err != nil {
		return nil, err
	}
	r, err := float32Rows(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("rms norm: %w", err)
	}

	for i := 0; i < r.count(); i++ {
		values := r.row(i)
		sumX2 := float32(0)
		for _, v := range values {
			sumX2 += v * v
		}
		mean := sumX2 / float32(len(values))
		rms := float32(1.0 / math.Sqrt(float64(mean)+float64(o.epsilon)))
		for j := range values {
			values[j] *= rms
		}
	}
	out, err := tensor.Of(r.shape, r.values)
	if err != nil {
		return nil, err
	}
	return &engine.Result{Values: []*tensor.Tensor{out}}, nil
}
