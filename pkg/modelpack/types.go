package modelpack

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Variant kinds a manifest may declare.
const (
	VariantPipeline = "pipeline"
	VariantPyfunc   = "pyfunc"
)

// Content types of a manifest input or output.
const (
	ContentJSON   = "JSON"
	ContentNDJSON = "NDJSON"
)

// Manifest is the decoded manifest.json.
type Manifest struct {
	Variant           string        `json:"variant" validate:"required"`
	Name              string        `json:"name,omitempty"`
	Version           string        `json:"version,omitempty"`
	Description       string        `json:"description,omitempty"`
	ProducerName      string        `json:"producer_name"`
	ProducerVersion   string        `json:"producer_version"`
	ProducerTags      []string      `json:"producer_tags"`
	Inputs            []IOSpec      `json:"inputs" validate:"dive"`
	Outputs           []IOSpec      `json:"outputs" validate:"dive"`
	DynamicAttributes []Declaration `json:"dynamic_attributes" validate:"dive"`
	EnvVars           []Declaration `json:"env_vars" validate:"dive"`
}

// IOSpec declares one named input or output of the package.
type IOSpec struct {
	Name        string   `json:"name" validate:"required"`
	ContentType string   `json:"content_type" validate:"required,oneof=JSON NDJSON"`
	DType       string   `json:"dtype" validate:"required"`
	Shape       []Dim    `json:"shape,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Declaration names a dynamic attribute or environment variable the package understands.
type Declaration struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Dim is a single shape dimension: either a fixed extent or a symbolic name.
type Dim struct {
	Size   int
	Symbol string
}

func (d Dim) IsSymbolic() bool {
	return d.Symbol != ""
}

func (d Dim) String() string {
	if d.IsSymbolic() {
		return d.Symbol
	}
	return strconv.Itoa(d.Size)
}

func (d Dim) MarshalJSON() ([]byte, error) {
	if d.IsSymbolic() {
		return json.Marshal(d.Symbol)
	}
	return json.Marshal(d.Size)
}

func (d *Dim) UnmarshalJSON(b []byte) error {
	var symbol string
	if err := json.Unmarshal(b, &symbol); err == nil {
		if symbol == "" {
			return fmt.Errorf("symbolic dimension must not be empty")
		}
		*d = Dim{Symbol: symbol}
		return nil
	}
	var size int
	if err := json.Unmarshal(b, &size); err != nil {
		return fmt.Errorf("dimension must be an integer or a name, got %s", b)
	}
	if size < 0 {
		return fmt.Errorf("dimension must not be negative, got %d", size)
	}
	*d = Dim{Size: size}
	return nil
}

// PortSpec describes one input or output port of an operator instance.
type PortSpec struct {
	DType string `json:"dtype"`
	Shape []Dim  `json:"shape"`
}

// AttributeBinding maps an operator-local dynamic attribute onto a caller-supplied one.
type AttributeBinding struct {
	// Name is the caller-facing attribute name; empty means the default always applies.
	Name         string `json:"name"`
	DefaultValue any    `json:"defaultValue"`
}

// OpInstanceConfig is one entry of ops.json.
type OpInstanceConfig struct {
	ID                string                      `json:"id" validate:"required,opid"`
	Op                string                      `json:"op" validate:"required"`
	Inputs            []PortSpec                  `json:"inputs"`
	Outputs           []PortSpec                  `json:"outputs"`
	Attributes        map[string]any              `json:"attributes"`
	DynamicAttributes map[string]AttributeBinding `json:"dynamicAttributes"`
}

// PipelineNode is one step of a pipeline graph.
type PipelineNode struct {
	OpInstanceID  string            `json:"op_instance_id" validate:"required,opid"`
	Inputs        []string          `json:"inputs" validate:"dive,required"`
	Outputs       []string          `json:"outputs" validate:"dive,required"`
	ExtraDynAttrs map[string]string `json:"extra_dynattrs"`
}

// PipelineConfig is variant_config.json for the pipeline variant.
type PipelineConfig struct {
	Nodes []PipelineNode `json:"nodes" validate:"dive"`
}

// MetaEntry is one element of the optional meta.json.
type MetaEntry struct {
	ID              string         `json:"id"`
	Producer        string         `json:"producer"`
	ProducerVersion string         `json:"producer_version"`
	ProducerTags    []string       `json:"producer_tags"`
	Payload         map[string]any `json:"payload"`
}

// DeviceMap assigns accelerators to operator instances. It is supplied by the
// embedding application rather than read from the archive.
type DeviceMap struct {
	Accelerator         string                    `json:"accelerator" yaml:"accelerator"`
	NodeDeviceMap       map[string]map[string]any `json:"node_device_map" yaml:"nodeDeviceMap"`
	VariantDeviceConfig map[string]any            `json:"variant_device_config,omitempty" yaml:"variantDeviceConfig"`
}

// DefaultDeviceMap runs everything on the CPU.
func DefaultDeviceMap() DeviceMap {
	return DeviceMap{Accelerator: "cpu", NodeDeviceMap: map[string]map[string]any{}}
}

// DeviceConfig is the device assignment of a single operator instance.
type DeviceConfig struct {
	Accelerator  string
	DeviceConfig map[string]any
}

// For returns the device assignment of the given operator instance.
func (m DeviceMap) For(opInstanceID string) DeviceConfig {
	return DeviceConfig{
		Accelerator:  m.Accelerator,
		DeviceConfig: m.NodeDeviceMap[opInstanceID],
	}
}
