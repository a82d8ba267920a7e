package engine

import (
	"strings"
	"sync/atomic"

	"k8s.io/examples/AI/modelpack/pkg/archive"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// OperatorBase carries the behaviour shared by most operators. Embed it by pointer
// (or keep the embedding struct behind a pointer) so the warm flag is not copied.
type OperatorBase struct {
	Config OperatorConfig

	warm atomic.Bool
}

func NewOperatorBase(config OperatorConfig) *OperatorBase {
	return &OperatorBase{Config: config}
}

// MarkWarm records that warmup completed.
func (b *OperatorBase) MarkWarm() {
	b.warm.Store(true)
}

// CheckWarm fails with ErrNotWarmedUp until MarkWarm has been called.
func (b *OperatorBase) CheckWarm() error {
	if !b.warm.Load() {
		return errdefs.Newf(errdefs.ErrNotWarmedUp, "operator %q computed before warmup", b.Config.ID)
	}
	return nil
}

// ResolveDynamicAttributes maps caller-supplied attributes onto the operator's local
// names. A local name takes the value supplied under its bound source name, or the
// binding's default when the source is absent or unnamed.
func (b *OperatorBase) ResolveDynamicAttributes(supplied map[string]any) map[string]any {
	resolved := make(map[string]any, len(b.Config.DynamicAttributes))
	for local, binding := range b.Config.DynamicAttributes {
		if binding.Name != "" {
			if v, found := supplied[binding.Name]; found && v != nil {
				resolved[local] = v
				continue
			}
		}
		resolved[local] = binding.DefaultValue
	}
	return resolved
}

// RequireDynamicAttributes fails with ErrMissingAttribute if any of names resolved to nil.
func (b *OperatorBase) RequireDynamicAttributes(resolved map[string]any, names ...string) error {
	var missing []string
	for _, name := range names {
		if resolved[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) != 0 {
		return errdefs.Newf(errdefs.ErrMissingAttribute, "operator %q is missing dynamic attributes %s", b.Config.ID, strings.Join(missing, ", "))
	}
	return nil
}

// Artifact returns the artifact whose path relative to the operator's artifact
// directory is name.
func (b *OperatorBase) Artifact(name string) (archive.Entry, bool) {
	for _, e := range b.Config.Artifacts {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Path, "/"+b.Config.ID+"/"+name) {
			return e, true
		}
	}
	return archive.Entry{}, false
}
