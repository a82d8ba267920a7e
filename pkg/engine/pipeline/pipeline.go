// Package pipeline implements the pipeline variant: an ordered list of nodes, each
// running one operator instance over named values.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

var tracer = otel.Tracer("modelpack.pipeline")

var (
	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelpack_pipeline_node_duration_seconds",
		Help:    "Time spent computing a single pipeline node",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"op"})

	nodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelpack_pipeline_node_failures_total",
		Help: "Pipeline node computations that returned an error",
	}, []string{"op"})
)

// node binds a pipeline graph step to its operator instance.
type node struct {
	config   modelpack.PipelineNode
	instance *engine.Instance
}

func (n *node) Inputs() []string                          { return n.config.Inputs }
func (n *node) Outputs() []string                         { return n.config.Outputs }
func (n *node) ExtraDynamicAttributes() map[string]string { return n.config.ExtraDynAttrs }

// Variant is the pipeline variant of a loaded package.
type Variant struct {
	operators *engine.OperatorSet
	nodes     []*node
}

var _ engine.Variant = &Variant{}

// New constructs every operator instance of pkg and resolves the pipeline graph
// against them. Nodes must be listed in dependency order.
func New(pkg *modelpack.Package, registry *engine.Registry, devices modelpack.DeviceMap) (*Variant, error) {
	operators, err := engine.NewOperatorSet(pkg, registry, devices)
	if err != nil {
		return nil, err
	}

	config, err := pkg.PipelineConfig()
	if err != nil {
		return nil, err
	}

	v := &Variant{operators: operators}
	for i, n := range config.Nodes {
		instance, found := operators.Get(n.OpInstanceID)
		if !found {
			return nil, errdefs.Newf(errdefs.ErrSchema, "pipeline node %d references unknown operator instance %q", i, n.OpInstanceID)
		}
		if want := len(instance.Config.Inputs); want != 0 && want != len(n.Inputs) {
			return nil, errdefs.Newf(errdefs.ErrSchema, "pipeline node %d passes %d values to operator %q, which declares %d inputs", i, len(n.Inputs), n.OpInstanceID, want)
		}
		if want := len(instance.Config.Outputs); want != 0 && want != len(n.Outputs) {
			return nil, errdefs.Newf(errdefs.ErrSchema, "pipeline node %d names %d outputs of operator %q, which declares %d outputs", i, len(n.Outputs), n.OpInstanceID, want)
		}
		v.nodes = append(v.nodes, &node{config: n, instance: instance})
	}

	var inputs []string
	for _, in := range pkg.Manifest().Inputs {
		inputs = append(inputs, in.Name)
	}
	if err := engine.ValidateOrder(inputs, v.nodes); err != nil {
		return nil, fmt.Errorf("validating pipeline graph: %w", err)
	}
	return v, nil
}

// Warmup warms every operator instance, including those no node references.
func (v *Variant) Warmup(ctx context.Context) error {
	return v.operators.Warmup(ctx)
}

// Compute evaluates the graph and returns every value it holds afterwards,
// inputs and intermediates included.
func (v *Variant) Compute(ctx context.Context, inputs map[string]*tensor.Tensor, dynamicAttributes map[string]any) (map[string]*tensor.Tensor, error) {
	return engine.ComputeDAG(ctx, inputs, v.nodes, computeNode, resultValues, dynamicAttributes)
}

func computeNode(ctx context.Context, n *node, inputs []*tensor.Tensor, dynamicAttributes map[string]any) (*engine.Result, error) {
	op := n.instance.Config.Op
	id := n.instance.Config.ID

	ctx, span := tracer.Start(ctx, id, trace.WithAttributes(
		attribute.String("modelpack.op", op),
		attribute.StringSlice("modelpack.inputs", n.config.Inputs),
		attribute.StringSlice("modelpack.outputs", n.config.Outputs),
	))
	defer span.End()

	start := time.Now()
	result, err := n.instance.Compute(ctx, inputs, dynamicAttributes)
	duration := time.Since(start)
	nodeDuration.WithLabelValues(op).Observe(duration.Seconds())

	if err != nil {
		nodeFailures.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(otelcodes.Ok, "")

	klog.FromContext(ctx).V(4).Info("computed pipeline node", "id", id, "op", op, "duration", duration)
	return result, nil
}

func resultValues(r *engine.Result) []*tensor.Tensor {
	return r.Values
}
