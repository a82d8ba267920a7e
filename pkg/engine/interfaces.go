package engine

import (
	"context"

	"k8s.io/examples/AI/modelpack/pkg/archive"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// Operator is a stateful unit of computation supplied by the embedding application.
//
// Warmup is called exactly once, after construction and before any Compute. Compute
// receives inputs ordered as the instance's declared input ports and must return
// values ordered as its declared output ports. Compute must not reset warm state.
type Operator interface {
	Warmup(ctx context.Context) error
	Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*Result, error)
}

// Result is the output of a single Operator.Compute call.
type Result struct {
	Values   []*tensor.Tensor
	Metadata map[string]any
}

// OperatorConfig is everything an operator instance is constructed from.
type OperatorConfig struct {
	ID string

	// Artifacts are the archive entries under ops_artifacts/<ID>/.
	Artifacts []archive.Entry

	Attributes        map[string]any
	DynamicAttributes map[string]modelpack.AttributeBinding
	Device            modelpack.DeviceConfig

	InputSpecs  []modelpack.PortSpec
	OutputSpecs []modelpack.PortSpec
}

// Factory constructs an operator instance.
type Factory func(config OperatorConfig) (Operator, error)

// Variant executes a package's declared graph over its operator instances.
type Variant interface {
	Warmup(ctx context.Context) error
	Compute(ctx context.Context, inputs map[string]*tensor.Tensor, dynamicAttributes map[string]any) (map[string]*tensor.Tensor, error)
}
