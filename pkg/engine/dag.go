package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// Node is one step of a dataflow graph: it consumes and produces named values.
type Node interface {
	Inputs() []string
	Outputs() []string
	// ExtraDynamicAttributes override the caller's dynamic attributes for this node only.
	ExtraDynamicAttributes() map[string]string
}

// ComputeFunc runs a single node over its resolved inputs.
type ComputeFunc[N Node, V, R any] func(ctx context.Context, node N, inputs []V, dynamicAttributes map[string]any) (R, error)

// ValuesFunc extracts the positional output values from a node result.
type ValuesFunc[V, R any] func(result R) []V

// ValidateOrder checks that nodes are listed in dependency order: every consumed
// value is an initial value or produced by an earlier node, and no value has more
// than one producer.
func ValidateOrder[N Node](initial []string, nodes []N) error {
	available := make(map[string]int, len(initial))
	for _, name := range initial {
		available[name] = -1
	}
	for i, node := range nodes {
		for _, name := range node.Inputs() {
			if _, found := available[name]; !found {
				return errdefs.Newf(errdefs.ErrSchema, "node %d consumes %q, which is neither a graph input nor produced by an earlier node", i, name)
			}
		}
		for _, name := range node.Outputs() {
			if producer, found := available[name]; found {
				if producer < 0 {
					return errdefs.Newf(errdefs.ErrSchema, "node %d produces %q, which is a graph input", i, name)
				}
				return errdefs.Newf(errdefs.ErrSchema, "node %d produces %q, which node %d already produces", i, name, producer)
			}
			available[name] = i
		}
	}
	return nil
}

// future is the eventual result of one node computation.
type future[R any] struct {
	node   int
	done   chan struct{}
	result R
	err    error
}

func launch[R any](ctx context.Context, node int, fn func(ctx context.Context) (R, error)) *future[R] {
	f := &future[R]{node: node, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("node %d panicked: %v", node, r)
			}
		}()
		f.result, f.err = fn(ctx)
	}()
	return f
}

func (f *future[R]) wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// slot is a value that is either resolved, or pending at position index of an
// in-flight result.
type slot[V, R any] struct {
	value   V
	pending *future[R]
	index   int
}

// ComputeDAG evaluates nodes in their declared order.
//
// A node is launched as soon as it is visited, without waiting for it to finish;
// its outputs are recorded as pending slots. Visiting a node first awaits the
// pending slots it consumes, so independent branches run concurrently while real
// dependencies are serialized. The result holds every initial and produced value.
// A failing node fails the whole evaluation and no partial result is returned.
func ComputeDAG[N Node, V, R any](ctx context.Context, inputs map[string]V, nodes []N, compute ComputeFunc[N, V, R], values ValuesFunc[V, R], dynamicAttributes map[string]any) (map[string]V, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := make(map[string]*slot[V, R], len(inputs))
	for name, v := range inputs {
		state[name] = &slot[V, R]{value: v}
	}

	launched := make([]*future[R], 0, len(nodes))
	for i, node := range nodes {
		if err := resolve(ctx, state, node.Inputs(), nil, values); err != nil {
			return nil, err
		}

		args := make([]V, len(node.Inputs()))
		for j, name := range node.Inputs() {
			s, found := state[name]
			if !found {
				return nil, errdefs.Newf(errdefs.ErrMissingInput, "node %d consumes %q, which has not been supplied or produced", i, name)
			}
			args[j] = s.value
		}

		attrs := mergeAttributes(dynamicAttributes, node.ExtraDynamicAttributes())
		f := launch(ctx, i, func(ctx context.Context) (R, error) {
			return compute(ctx, node, args, attrs)
		})
		launched = append(launched, f)

		for j, name := range node.Outputs() {
			state[name] = &slot[V, R]{pending: f, index: j}
		}
	}

	// Drain every launched node, including those whose outputs nobody consumed.
	names := slices.Sorted(maps.Keys(state))
	if err := resolve(ctx, state, names, launched, values); err != nil {
		return nil, err
	}

	out := make(map[string]V, len(state))
	for name, s := range state {
		out[name] = s.value
	}
	return out, nil
}

// resolve awaits, together, every distinct computation behind the named pending
// slots (plus any extra futures) and replaces those slots with concrete values.
func resolve[V, R any](ctx context.Context, state map[string]*slot[V, R], names []string, extra []*future[R], values ValuesFunc[V, R]) error {
	var pending []*future[R]
	seen := make(map[*future[R]]bool)
	add := func(f *future[R]) {
		if !seen[f] {
			seen[f] = true
			pending = append(pending, f)
		}
	}
	for _, name := range names {
		if s, found := state[name]; found && s.pending != nil {
			add(s.pending)
		}
	}
	for _, f := range extra {
		add(f)
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]R, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range pending {
		g.Go(func() error {
			r, err := f.wait(gctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byFuture := make(map[*future[R]][]V, len(pending))
	for i, f := range pending {
		byFuture[f] = values(results[i])
	}
	for _, name := range names {
		s, found := state[name]
		if !found || s.pending == nil {
			continue
		}
		vals := byFuture[s.pending]
		if s.index >= len(vals) {
			return errdefs.Newf(errdefs.ErrOperatorResult, "node %d returned %d values but %q is output %d", s.pending.node, len(vals), name, s.index)
		}
		state[name] = &slot[V, R]{value: vals[s.index]}
	}
	return nil
}

func mergeAttributes(base map[string]any, extra map[string]string) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
