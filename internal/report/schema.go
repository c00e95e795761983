package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed analysis_result.schema.json
var contractSchema string

const contractSchemaURL = "https://mulerift.schemas.local/analysis_result.schema.json"

func compileContract() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(contractSchemaURL, strings.NewReader(contractSchema)); err != nil {
		return nil, fmt.Errorf("contract schema load failed: %w", err)
	}
	schema, err := c.Compile(contractSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("contract schema compile failed: %w", err)
	}
	return schema, nil
}

// validateDocument checks an encoded document against the contract schema.
func validateDocument(schema *jsonschema.Schema, doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("document is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
