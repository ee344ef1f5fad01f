package queue

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed message.schema.json
var messageSchemaJSON string

const messageSchemaName = "dedupe_message.schema.json"

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidatePayload checks payload against the message schema and decodes it.
func ValidatePayload(payload []byte) (Message, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return Message{}, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return Message{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return Message{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(bytes.TrimSpace(payload), &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := validateSemantics(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(messageSchemaName, strings.NewReader(messageSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(messageSchemaName)
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
