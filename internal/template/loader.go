package template

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

//go:embed templates.yaml
var defaultTemplatesYAML []byte

type templateFile struct {
	Templates map[OrderType]map[OperationType]Template `yaml:"templates"`
}

// LoadFile reads a template definition file, validates it against the
// embedded CUE schema and builds a Store.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	store, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", path, err)
	}
	return store, nil
}

// Load parses template YAML. The raw document is validated against the
// CUE schema first, so a typo'd operator or a template without a body is
// rejected at startup instead of surfacing mid-cycle as a render failure.
func Load(data []byte) (*Store, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse template yaml: %w", err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	return NewStore(file.Templates), nil
}

// DefaultStore returns the built-in templates, used when the operator has
// not customized any.
func DefaultStore() *Store {
	store, err := Load(defaultTemplatesYAML)
	if err != nil {
		// The embedded defaults are validated by tests; failing to load
		// them is a build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded default templates invalid: %v", err))
	}
	return store
}

func validateAgainstSchema(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile template schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode template document: %w", err)
	}

	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("template definition invalid: %w", err)
	}
	return nil
}
