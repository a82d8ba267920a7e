// Package handler is the entry point for running a loaded package: it selects the
// variant, validates caller inputs against the manifest and trims the outputs.
package handler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/engine/pipeline"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

var tracer = otel.Tracer("modelpack.handler")

// Handler runs a single loaded package.
type Handler struct {
	pkg     *modelpack.Package
	variant engine.Variant
	warm    atomic.Bool
}

// New selects and constructs the package's variant. Operator instances are built
// here, so unknown operator types and unsupported variants fail immediately.
func New(pkg *modelpack.Package, registry *engine.Registry, devices modelpack.DeviceMap) (*Handler, error) {
	var variant engine.Variant
	switch kind := pkg.Manifest().Variant; kind {
	case modelpack.VariantPipeline:
		v, err := pipeline.New(pkg, registry, devices)
		if err != nil {
			return nil, err
		}
		variant = v
	case modelpack.VariantPyfunc:
		return nil, errdefs.Newf(errdefs.ErrUnsupportedVariant, "the %q variant requires an embedded interpreter and is not supported", kind)
	default:
		return nil, errdefs.Newf(errdefs.ErrUnsupportedVariant, "unknown variant %q", kind)
	}
	return &Handler{pkg: pkg, variant: variant}, nil
}

// Warmup warms every operator instance. It must succeed before Compute is called.
func (h *Handler) Warmup(ctx context.Context) error {
	log := klog.FromContext(ctx)

	start := time.Now()
	if err := h.variant.Warmup(ctx); err != nil {
		return err
	}
	h.warm.Store(true)
	log.Info("warmed up package", "variant", h.pkg.Manifest().Variant, "operators", len(h.pkg.Ops()), "duration", time.Since(start))
	return nil
}

// Compute validates inputs, runs the variant and returns the declared outputs it
// produced, keyed by name.
func (h *Handler) Compute(ctx context.Context, inputs map[string]*tensor.Tensor, dynamicAttributes map[string]any) (map[string]*tensor.Tensor, error) {
	if !h.warm.Load() {
		return nil, errdefs.Newf(errdefs.ErrNotWarmedUp, "compute called before warmup")
	}

	callID := uuid.NewString()
	log := klog.FromContext(ctx).WithValues("call", callID)
	ctx = klog.NewContext(ctx, log)

	ctx, span := tracer.Start(ctx, "Compute", trace.WithAttributes(
		attribute.String("modelpack.call_id", callID),
		attribute.Int("modelpack.inputs", len(inputs)),
	))
	defer span.End()

	outputs, err := h.compute(ctx, inputs, dynamicAttributes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		log.V(2).Info("compute failed", "err", err)
		return nil, err
	}
	span.SetStatus(otelcodes.Ok, "")
	return outputs, nil
}

func (h *Handler) compute(ctx context.Context, inputs map[string]*tensor.Tensor, dynamicAttributes map[string]any) (map[string]*tensor.Tensor, error) {
	for name, t := range inputs {
		if err := h.validateInput(name, t); err != nil {
			return nil, err
		}
	}

	if dynamicAttributes == nil {
		dynamicAttributes = map[string]any{}
	}
	values, err := h.variant.Compute(ctx, inputs, dynamicAttributes)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]*tensor.Tensor, len(h.pkg.Manifest().Outputs))
	for _, spec := range h.pkg.Manifest().Outputs {
		if v, found := values[spec.Name]; found {
			outputs[spec.Name] = v
		}
	}
	return outputs, nil
}

func (h *Handler) validateInput(name string, t *tensor.Tensor) error {
	spec, found := h.pkg.Input(name)
	if !found {
		return errdefs.Newf(errdefs.ErrUnknownField, "input %q is not declared by the manifest", name)
	}
	if t == nil {
		return errdefs.Newf(errdefs.ErrMissingInput, "input %q has no value", name)
	}

	dtype, err := spec.ArrayDType()
	if err != nil {
		return fmt.Errorf("input %q: %w", name, err)
	}
	if t.DType() != dtype {
		return errdefs.Newf(errdefs.ErrDtypeMismatch, "input %q: expected %s, got %s", name, dtype, t.DType())
	}

	if len(spec.Shape) == 0 {
		return nil
	}
	shape := t.Shape()
	if len(shape) != len(spec.Shape) {
		return errdefs.Newf(errdefs.ErrShapeMismatch, "input %q: expected shape %v, got %v", name, spec.Shape, shape)
	}
	for i, dim := range spec.Shape {
		if !dim.IsSymbolic() && dim.Size != shape[i] {
			return errdefs.Newf(errdefs.ErrShapeMismatch, "input %q: expected shape %v, got %v", name, spec.Shape, shape)
		}
	}
	return nil
}
