// Package modelpack decodes the package descriptor stored inside a model archive:
// the manifest, the operator instances, the variant graph and optional metadata.
package modelpack

import (
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/examples/AI/modelpack/pkg/archive"
	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// Well-known paths inside an archive.
const (
	ManifestFile      = "manifest.json"
	OpsFile           = "ops.json"
	VariantConfigFile = "variant_config.json"
	MetaFile          = "meta.json"
	DtypesFile        = "dtypes.json"
	ArtifactsDir      = "ops_artifacts/"
)

// Package is a decoded, validated model package. It is read-only once loaded.
type Package struct {
	entries []archive.Entry
	files   map[string][]byte

	manifest      Manifest
	ops           []OpInstanceConfig
	variantConfig json.RawMessage

	inputs  map[string]IOSpec
	outputs map[string]IOSpec
}

// FromBytes parses an archive buffer and loads the package it contains.
func FromBytes(data []byte) (*Package, error) {
	entries, err := archive.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing archive: %w", err)
	}
	return Load(entries)
}

// Load builds a Package from archive entries.
func Load(entries []archive.Entry) (*Package, error) {
	p := &Package{
		entries: entries,
		files:   make(map[string][]byte),
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, found := p.files[e.Path]; !found {
			p.files[e.Path] = e.Data
		}
	}

	if err := p.loadManifest(); err != nil {
		return nil, err
	}
	if err := p.loadOps(); err != nil {
		return nil, err
	}

	variantConfig, err := p.requireFile(VariantConfigFile)
	if err != nil {
		return nil, err
	}
	if !json.Valid(variantConfig) {
		return nil, errdefs.Newf(errdefs.ErrSchema, "%s is not valid JSON", VariantConfigFile)
	}
	p.variantConfig = variantConfig

	return p, nil
}

func (p *Package) requireFile(path string) ([]byte, error) {
	data, found := p.files[path]
	if !found {
		return nil, errdefs.Newf(errdefs.ErrSchema, "file %s not found in package", path)
	}
	return data, nil
}

func (p *Package) loadManifest() error {
	data, err := p.requireFile(ManifestFile)
	if err != nil {
		return err
	}
	if err := decodeStrict(ManifestFile, data, &p.manifest); err != nil {
		return err
	}
	if err := validateStruct(ManifestFile, &p.manifest); err != nil {
		return err
	}

	p.inputs, err = indexSpecs("input", p.manifest.Inputs)
	if err != nil {
		return err
	}
	p.outputs, err = indexSpecs("output", p.manifest.Outputs)
	if err != nil {
		return err
	}
	return nil
}

func indexSpecs(kind string, specs []IOSpec) (map[string]IOSpec, error) {
	index := make(map[string]IOSpec, len(specs))
	for _, spec := range specs {
		if _, found := index[spec.Name]; found {
			return nil, errdefs.Newf(errdefs.ErrSchema, "duplicate %s name %q in %s", kind, spec.Name, ManifestFile)
		}
		index[spec.Name] = spec
	}
	return index, nil
}

func (p *Package) loadOps() error {
	data, err := p.requireFile(OpsFile)
	if err != nil {
		return err
	}
	if err := decodeStrict(OpsFile, data, &p.ops); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.ops))
	for i := range p.ops {
		op := &p.ops[i]
		if err := validateStruct(fmt.Sprintf("%s[%d]", OpsFile, i), op); err != nil {
			return err
		}
		if seen[op.ID] {
			return errdefs.Newf(errdefs.ErrSchema, "duplicate operator instance id %q", op.ID)
		}
		seen[op.ID] = true
	}
	return nil
}

// Manifest returns the decoded manifest. Callers must not modify it.
func (p *Package) Manifest() *Manifest {
	return &p.manifest
}

// Ops returns the operator instance configurations in declaration order.
func (p *Package) Ops() []OpInstanceConfig {
	return p.ops
}

// Entries returns every archive entry of the package.
func (p *Package) Entries() []archive.Entry {
	return p.entries
}

// File returns the content of the first file entry with the given path.
func (p *Package) File(path string) ([]byte, bool) {
	data, found := p.files[path]
	return data, found
}

func (p *Package) Input(name string) (IOSpec, bool) {
	spec, found := p.inputs[name]
	return spec, found
}

func (p *Package) Output(name string) (IOSpec, bool) {
	spec, found := p.outputs[name]
	return spec, found
}

// ArtifactsFor returns the entries under ops_artifacts/<opInstanceID>/, excluding
// the directory entry itself.
func (p *Package) ArtifactsFor(opInstanceID string) []archive.Entry {
	prefix := ArtifactsDir + opInstanceID + "/"
	var artifacts []archive.Entry
	for _, e := range p.entries {
		if strings.HasPrefix(e.Path, prefix) && e.Path != prefix {
			artifacts = append(artifacts, e)
		}
	}
	return artifacts
}

// PipelineConfig decodes variant_config.json as a pipeline graph.
func (p *Package) PipelineConfig() (*PipelineConfig, error) {
	config := &PipelineConfig{}
	if err := decodeStrict(VariantConfigFile, p.variantConfig, config); err != nil {
		return nil, err
	}
	if err := validateStruct(VariantConfigFile, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Metadata decodes the optional meta.json.
func (p *Package) Metadata() ([]MetaEntry, error) {
	data, err := p.requireFile(MetaFile)
	if err != nil {
		return nil, err
	}
	var meta []MetaEntry
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errdefs.Wrapf(errdefs.ErrSchema, err, "decoding %s", MetaFile)
	}
	return meta, nil
}

// Dtypes decodes the optional dtypes.json.
func (p *Package) Dtypes() (map[string]any, error) {
	data, err := p.requireFile(DtypesFile)
	if err != nil {
		return nil, err
	}
	var dtypes map[string]any
	if err := json.Unmarshal(data, &dtypes); err != nil {
		return nil, errdefs.Wrapf(errdefs.ErrSchema, err, "decoding %s", DtypesFile)
	}
	return dtypes, nil
}
