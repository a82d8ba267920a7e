package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// Instance is a constructed operator together with the config it was built from.
// Compute calls on the same instance are serialized.
type Instance struct {
	Config   modelpack.OpInstanceConfig
	Operator Operator

	mu sync.Mutex
}

// Compute runs the operator and checks it honoured its declared output arity.
func (i *Instance) Compute(ctx context.Context, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result, err := i.Operator.Compute(ctx, inputs, dynamicAttributes)
	if err != nil {
		return nil, fmt.Errorf("computing operator %q: %w", i.Config.ID, err)
	}
	if result == nil {
		return nil, errdefs.Newf(errdefs.ErrOperatorResult, "operator %q returned no result", i.Config.ID)
	}
	if len(i.Config.Outputs) != 0 && len(result.Values) != len(i.Config.Outputs) {
		return nil, errdefs.Newf(errdefs.ErrOperatorResult, "operator %q returned %d values, declared %d outputs", i.Config.ID, len(result.Values), len(i.Config.Outputs))
	}
	for j, v := range result.Values {
		if v == nil {
			return nil, errdefs.Newf(errdefs.ErrOperatorResult, "operator %q returned nil for output %d", i.Config.ID, j)
		}
	}
	return result, nil
}

// OperatorSet holds every operator instance declared by a package, keyed by id.
// It is the part of construction shared by all variant kinds.
type OperatorSet struct {
	instances map[string]*Instance
	order     []string
}

// NewOperatorSet constructs one operator per ops.json entry. It fails on the first
// instance whose operator type is not registered or whose factory fails.
func NewOperatorSet(pkg *modelpack.Package, registry *Registry, devices modelpack.DeviceMap) (*OperatorSet, error) {
	s := &OperatorSet{instances: make(map[string]*Instance)}
	for _, op := range pkg.Ops() {
		factory, err := registry.Lookup(op.Op)
		if err != nil {
			return nil, fmt.Errorf("operator instance %q: %w", op.ID, err)
		}
		operator, err := factory(OperatorConfig{
			ID:                op.ID,
			Artifacts:         pkg.ArtifactsFor(op.ID),
			Attributes:        op.Attributes,
			DynamicAttributes: op.DynamicAttributes,
			Device:            devices.For(op.ID),
			InputSpecs:        op.Inputs,
			OutputSpecs:       op.Outputs,
		})
		if err != nil {
			return nil, fmt.Errorf("constructing operator instance %q (%s): %w", op.ID, op.Op, err)
		}
		if operator == nil {
			return nil, fmt.Errorf("constructing operator instance %q (%s): factory returned nil", op.ID, op.Op)
		}
		s.instances[op.ID] = &Instance{Config: op, Operator: operator}
		s.order = append(s.order, op.ID)
	}
	return s, nil
}

// Get returns the instance with the given id.
func (s *OperatorSet) Get(id string) (*Instance, bool) {
	i, found := s.instances[id]
	return i, found
}

// IDs returns instance ids in declaration order.
func (s *OperatorSet) IDs() []string {
	return s.order
}

// Warmup warms every instance once, in declaration order.
func (s *OperatorSet) Warmup(ctx context.Context) error {
	log := klog.FromContext(ctx)

	for _, id := range s.order {
		instance := s.instances[id]
		start := time.Now()
		if err := instance.Operator.Warmup(ctx); err != nil {
			return fmt.Errorf("warming up operator %q: %w", id, err)
		}
		log.V(2).Info("warmed up operator", "id", id, "op", instance.Config.Op, "duration", time.Since(start))
	}
	return nil
}
