package provider

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// CredentialField describes one key of a provider's credential object.
type CredentialField struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Required    bool   `yaml:"required" json:"required"`
	Secret      bool   `yaml:"secret" json:"secret"`
}

// Info describes a provider for API discovery.
type Info struct {
	Type         models.SourceType `yaml:"type" json:"type"`
	DisplayName  string            `yaml:"display_name" json:"display_name"`
	Description  string            `yaml:"description" json:"description"`
	PushOnly     bool              `yaml:"push_only" json:"push_only"`
	Credentials  []CredentialField `yaml:"credentials" json:"credentials"`
	ConfigSchema map[string]any    `yaml:"config_schema" json:"config_schema"`
}

type catalogFile struct {
	Providers []Info `yaml:"providers"`
}

// CatalogEntry pairs provider Info with its compiled config schema.
type CatalogEntry struct {
	Info   Info
	schema *jsonschema.Schema
}

// ValidateConfig checks config against the provider's JSON Schema.
func (e *CatalogEntry) ValidateConfig(config map[string]any) error {
	if e.schema == nil {
		return nil
	}
	if config == nil {
		config = map[string]any{}
	}

	// Round-trip through JSON so numbers match what the validator expects.
	raw, err := json.Marshal(config)
	if err != nil {
		return apperrors.NewConfigurationError("config is not valid JSON: %v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return apperrors.NewConfigurationError("config is not valid JSON: %v", err)
	}

	if err := e.schema.Validate(inst); err != nil {
		return apperrors.NewConfigurationError("invalid %s config: %v", e.Info.Type, err)
	}
	return nil
}

// MissingCredentials returns the names of required credential fields absent from creds.
func (e *CatalogEntry) MissingCredentials(creds map[string]any) []string {
	var missing []string
	for _, f := range e.Info.Credentials {
		if f.Required && StringField(creds, f.Name) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// LoadCatalog parses the embedded catalog and compiles every config schema.
func LoadCatalog() (map[models.SourceType]*CatalogEntry, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) (map[models.SourceType]*CatalogEntry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	entries := make(map[models.SourceType]*CatalogEntry, len(file.Providers))

	for _, info := range file.Providers {
		if !models.IsValidSourceType(string(info.Type)) {
			return nil, fmt.Errorf("provider catalog lists unknown type %q", info.Type)
		}
		if _, dup := entries[info.Type]; dup {
			return nil, fmt.Errorf("provider catalog lists %q twice", info.Type)
		}

		entry := &CatalogEntry{Info: info}
		if info.ConfigSchema != nil {
			schema, err := compileSchema(compiler, info)
			if err != nil {
				return nil, err
			}
			entry.schema = schema
		}
		entries[info.Type] = entry
	}

	return entries, nil
}

func compileSchema(compiler *jsonschema.Compiler, info Info) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(info.ConfigSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s config schema: %w", info.Type, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s config schema: %w", info.Type, err)
	}

	location := fmt.Sprintf("https://zoku-engine.local/schemas/%s-config.json", info.Type)
	if err := compiler.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("failed to add %s config schema: %w", info.Type, err)
	}
	schema, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s config schema: %w", info.Type, err)
	}
	return schema, nil
}
