package hug

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request describes a change submitted for audit.
type Request struct {
	ChangedResourceIDs []string `json:"changed_resource_ids"`
	ChangeDescription  string   `json:"change_description"`
}

//go:embed request.schema.json
var requestSchemaJSON []byte

const requestSchemaURL = "https://govkernel.schemas.local/hug/request.schema.json"

var requestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(requestSchemaURL, bytes.NewReader(requestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("hug schema load failed: %w", err)
	}
	return c.Compile(requestSchemaURL)
})

// DecodeRequest validates data against the request schema before decoding it.
func DecodeRequest(data []byte) (Request, error) {
	schema, err := requestSchema()
	if err != nil {
		return Request{}, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Request{}, fmt.Errorf("hug request: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Request{}, fmt.Errorf("hug request: schema validation failed: %w", err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("hug request: %w", err)
	}
	return req, nil
}
