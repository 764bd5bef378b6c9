package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
)

//go:embed asyncapi.yaml
var asyncAPIDocument []byte

// Schema names in components.schemas
// Channel ids in the embedded document
const (
	ChannelInventoryUpdates    = "inventoryUpdates"
	ChannelInventoryDeadLetter = "inventoryUpdatesDeadLetter"
)

const (
	SchemaInventoryChange       = "InventoryChangeMessage"
	SchemaInventoryDeadLettered = "InventoryDeadLetteredEvent"
)

// ErrMalformedJSON is returned when a payload is not JSON at all
var ErrMalformedJSON = errors.New("payload is not valid JSON")

// asyncAPIDoc is the part of an AsyncAPI 3 document the validator reads
type asyncAPIDoc struct {
	AsyncAPI string `yaml:"asyncapi"`
	Info     struct {
		Title   string `yaml:"title"`
		Version string `yaml:"version"`
	} `yaml:"info"`
	Channels map[string]struct {
		Address string `yaml:"address"`
	} `yaml:"channels"`
	Components struct {
		Schemas map[string]interface{} `yaml:"schemas"`
	} `yaml:"components"`
}

// Validator checks message payloads against the schemas of an AsyncAPI document
type Validator struct {
	schemas   map[string]*jsonschema.Schema
	addresses map[string]string
	version   string
}

// NewValidator builds a validator from the embedded asyncapi.yaml
func NewValidator() (*Validator, error) {
	return NewValidatorFromBytes(asyncAPIDocument)
}

// NewValidatorFromBytes builds a validator from an AsyncAPI YAML document.
// Every schema under components.schemas must compile.
func NewValidatorFromBytes(document []byte) (*Validator, error) {
	var doc asyncAPIDoc
	if err := yaml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse AsyncAPI document: %w", err)
	}
	if len(doc.Components.Schemas) == 0 {
		return nil, errors.New("AsyncAPI document has no component schemas")
	}

	compiler := jsonschema.NewCompiler()
	schemas := make(map[string]*jsonschema.Schema, len(doc.Components.Schemas))

	for name, raw := range doc.Components.Schemas {
		// Round-trip through JSON so YAML scalars become the types jsonschema expects.
		schemaJSON, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema %s: %w", name, err)
		}
		schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema %s: %w", name, err)
		}

		uri := fmt.Sprintf("asyncapi://schemas/%s", name)
		if err := compiler.AddResource(uri, schemaDoc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		schemas[name] = compiled
	}

	addresses := make(map[string]string, len(doc.Channels))
	for name, ch := range doc.Channels {
		addresses[name] = ch.Address
	}

	return &Validator{schemas: schemas, addresses: addresses, version: doc.Info.Version}, nil
}

// Validate checks payload against the named schema. A payload that is not JSON
// returns an error wrapping ErrMalformedJSON; a schema violation returns a
// VALIDATION_ERROR AppError.
func (v *Validator) Validate(schemaName string, payload []byte) error {
	schema, ok := v.schemas[schemaName]
	if !ok {
		return fmt.Errorf("no schema named %s", schemaName)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if err := schema.Validate(instance); err != nil {
		return apperrors.ErrValidation(fmt.Sprintf("payload does not match %s", schemaName)).Wrap(err)
	}
	return nil
}

// ValidateInventoryChange checks an inbound inventory-updates payload
func (v *Validator) ValidateInventoryChange(payload []byte) error {
	return v.Validate(SchemaInventoryChange, payload)
}

// SchemaNames returns the compiled schema names, sorted
func (v *Validator) SchemaNames() []string {
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChannelAddress returns the broker address of an AsyncAPI channel
func (v *Validator) ChannelAddress(channel string) (string, bool) {
	address, ok := v.addresses[channel]
	return address, ok
}

// Version returns info.version of the document
func (v *Validator) Version() string {
	return v.version
}
