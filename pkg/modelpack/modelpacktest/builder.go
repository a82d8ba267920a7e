// Package modelpacktest assembles model package archives in memory for tests.
package modelpacktest

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/archive"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
)

// Builder describes the package to assemble.
type Builder struct {
	Manifest modelpack.Manifest
	Ops      []modelpack.OpInstanceConfig
	Nodes    []modelpack.PipelineNode

	// VariantConfig replaces the pipeline graph built from Nodes when set.
	VariantConfig any

	// Artifacts maps operator instance id to file name to content.
	Artifacts map[string]map[string][]byte

	// Files are extra top-level files, e.g. meta.json.
	Files map[string][]byte

	// Omit lists well-known files to leave out of the archive.
	Omit []string
}

// Entries returns the archive entries of the package.
func (b *Builder) Entries(t testing.TB) []archive.Entry {
	t.Helper()

	variantConfig := b.VariantConfig
	if variantConfig == nil {
		variantConfig = modelpack.PipelineConfig{Nodes: b.Nodes}
	}
	ops := b.Ops
	if ops == nil {
		ops = []modelpack.OpInstanceConfig{}
	}

	files := map[string][]byte{
		modelpack.ManifestFile:      mustJSON(t, b.Manifest),
		modelpack.OpsFile:           mustJSON(t, ops),
		modelpack.VariantConfigFile: mustJSON(t, variantConfig),
	}
	for path, data := range b.Files {
		files[path] = data
	}
	for _, path := range b.Omit {
		delete(files, path)
	}

	var entries []archive.Entry
	for _, path := range sortedKeys(files) {
		entries = append(entries, archive.Entry{Path: path, Kind: archive.KindFile, Data: files[path]})
	}

	if len(b.Artifacts) != 0 {
		entries = append(entries, archive.Entry{Path: modelpack.ArtifactsDir, Kind: archive.KindDirectory})
	}
	for _, opID := range sortedKeys(b.Artifacts) {
		dir := modelpack.ArtifactsDir + opID + "/"
		entries = append(entries, archive.Entry{Path: dir, Kind: archive.KindDirectory})
		for _, name := range sortedKeys(b.Artifacts[opID]) {
			entries = append(entries, archive.Entry{Path: dir + name, Kind: archive.KindFile, Data: b.Artifacts[opID][name]})
		}
	}
	return entries
}

// Bytes returns the serialized archive.
func (b *Builder) Bytes(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := archive.Write(&buf, b.Entries(t)); err != nil {
		t.Fatalf("writing archive: %v", err)
	}
	return buf.Bytes()
}

// Load returns the loaded package, failing the test on error.
func (b *Builder) Load(t testing.TB) *modelpack.Package {
	t.Helper()
	pkg, err := modelpack.FromBytes(b.Bytes(t))
	if err != nil {
		t.Fatalf("loading package: %v", err)
	}
	return pkg
}

// RowSum describes a package with one float32 input x of shape [N, 3] and an output
// y computed by a single RowSum_v1 node.
func RowSum() *Builder {
	return &Builder{
		Manifest: modelpack.Manifest{
			Variant:         modelpack.VariantPipeline,
			ProducerName:    "modelpacktest",
			ProducerVersion: "0.0.1",
			Inputs: []modelpack.IOSpec{{
				Name:        "x",
				ContentType: modelpack.ContentNDJSON,
				DType:       "Array[float32]",
				Shape:       []modelpack.Dim{{Symbol: "N"}, {Size: 3}},
			}},
			Outputs: []modelpack.IOSpec{{
				Name:        "y",
				ContentType: modelpack.ContentNDJSON,
				DType:       "Array[float32]",
				Shape:       []modelpack.Dim{{Symbol: "N"}},
			}},
		},
		Ops: []modelpack.OpInstanceConfig{{
			ID:      "row_sum",
			Op:      "RowSum_v1",
			Inputs:  []modelpack.PortSpec{{DType: "float32", Shape: []modelpack.Dim{{Symbol: "N"}, {Size: 3}}}},
			Outputs: []modelpack.PortSpec{{DType: "float32", Shape: []modelpack.Dim{{Symbol: "N"}}}},
		}},
		Nodes: []modelpack.PipelineNode{{
			OpInstanceID: "row_sum",
			Inputs:       []string{"x"},
			Outputs:      []string{"y"},
		}},
	}
}

func mustJSON(t testing.TB, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding %T: %v", v, err)
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
