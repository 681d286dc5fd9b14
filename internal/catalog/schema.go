package catalog

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const documentSchemaURL = "https://alburaq.example/schemas/catalog-document.json"

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["products"],
  "properties": {
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "category"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "category": {"type": "string"},
          "description": {"type": "string"},
          "image": {"type": "string"},
          "features": {"type": "array", "items": {"type": "string"}},
          "images": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "lastUpdated": {"type": ["string", "null"]},
    "version": {"type": "string"}
  }
}`

// Validator checks catalog documents ({"products": [...]}) before they are
// accepted by the endpoint or imported from a file.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		return nil, errors.Wrap(err, "parse catalog schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(documentSchemaURL, doc); err != nil {
		return nil, errors.Wrap(err, "register catalog schema")
	}
	schema, err := compiler.Compile(documentSchemaURL)
	if err != nil {
		return nil, errors.Wrap(err, "compile catalog schema")
	}
	return &Validator{schema: schema}, nil
}

func (v *Validator) ValidateDocument(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}
	if err := v.schema.Validate(inst); err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}
	return nil
}

// ValidateProducts checks ids are present and unique within the list.
func ValidateProducts(products []Product) error {
	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			return errors.Wrap(ErrInvalidInput, "product without id")
		}
		if _, dup := seen[p.ID]; dup {
			return errors.Wrapf(ErrInvalidInput, "duplicate product id %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
