// Package model loads a packaged model from its archive bytes and serves it.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/engine"
	"k8s.io/examples/AI/modelpack/pkg/engine/fallback"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/handler"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

type options struct {
	operators map[string]engine.Factory
	devices   modelpack.DeviceMap
}

// Option configures a Model.
type Option func(*options)

// WithOperators registers additional operator factories. They take precedence over
// the built-in reference operators of the same name.
func WithOperators(operators map[string]engine.Factory) Option {
	return func(o *options) {
		for name, f := range operators {
			o.operators[name] = f
		}
	}
}

// WithDeviceMap sets the accelerator assignment. The default runs everything on the CPU.
func WithDeviceMap(devices modelpack.DeviceMap) Option {
	return func(o *options) {
		o.devices = devices
	}
}

// Model is a loaded package. It can be inspected immediately and computed on once
// Warmup has succeeded.
type Model struct {
	pkg  *modelpack.Package
	opts options

	mu      sync.Mutex
	handler *handler.Handler
}

// FromBytes parses an archive and its package descriptor.
func FromBytes(data []byte, opts ...Option) (*Model, error) {
	o := options{
		operators: fallback.Operators(),
		devices:   modelpack.DefaultDeviceMap(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	pkg, err := modelpack.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return &Model{pkg: pkg, opts: o}, nil
}

// Package returns the parsed package descriptor.
func (m *Model) Package() *modelpack.Package {
	return m.pkg
}

// Manifest returns a copy of the manifest that callers may modify freely.
func (m *Model) Manifest() *modelpack.Manifest {
	b, err := json.Marshal(m.pkg.Manifest())
	if err != nil {
		panic(fmt.Sprintf("manifest must round-trip through JSON: %v", err))
	}
	var manifest modelpack.Manifest
	if err := json.Unmarshal(b, &manifest); err != nil {
		panic(fmt.Sprintf("manifest must round-trip through JSON: %v", err))
	}
	return &manifest
}

// Metadata returns the entries of meta.json.
func (m *Model) Metadata() ([]modelpack.MetaEntry, error) {
	return m.pkg.Metadata()
}

// Dtypes returns the decoded dtypes.json.
func (m *Model) Dtypes() (map[string]any, error) {
	return m.pkg.Dtypes()
}

// Warmup constructs the operator instances and warms them. Calling it again after
// a success is a no-op; after a failure it starts over.
func (m *Model) Warmup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler != nil {
		return nil
	}

	log := klog.FromContext(ctx)
	log.Info("warming up model", "name", m.pkg.Manifest().Name, "version", m.pkg.Manifest().Version, "accelerator", m.opts.devices.Accelerator)

	h, err := handler.New(m.pkg, engine.NewRegistry(m.opts.operators), m.opts.devices)
	if err != nil {
		return err
	}
	if err := h.Warmup(ctx); err != nil {
		return err
	}
	m.handler = h
	return nil
}

// Compute runs the model on the given inputs.
func (m *Model) Compute(ctx context.Context, inputs map[string]*tensor.Tensor, dynamicAttributes map[string]any) (map[string]*tensor.Tensor, error) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		return nil, errdefs.Newf(errdefs.ErrNotWarmedUp, "model must be warmed up before compute")
	}
	return h.Compute(ctx, inputs, dynamicAttributes)
}

// Ready reports whether Warmup has succeeded.
func (m *Model) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}
