package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const taskSchema = `{
  "type": "object",
  "required": ["message_id", "job_id", "filepath", "retries"],
  "properties": {
    "message_id":  {"type": "string", "minLength": 1},
    "job_id":      {"type": "integer", "minimum": 1},
    "filepath":    {"type": "string"},
    "retries":     {"type": "integer", "minimum": 0},
    "enqueued_at": {"type": "string"}
  }
}`

const resultSchema = `{
  "type": "object",
  "required": ["message_id", "job_id", "status", "filepath", "retries", "claimed_retries"],
  "properties": {
    "message_id":        {"type": "string", "minLength": 1},
    "job_id":            {"type": "integer", "minimum": 1},
    "status":            {"enum": ["duplicate", "completed", "failed"]},
    "extracted_text":    {"type": ["string", "null"]},
    "structured_fields": {"type": ["object", "null"]},
    "filepath":          {"type": "string"},
    "retries":           {"type": "integer", "minimum": 0},
    "claimed_retries":   {"type": "integer", "minimum": 0},
    "error":             {"type": "string"},
    "finished_at":       {"type": "string"}
  }
}`

// Codec turns messages into JSON bodies and back, validating every decoded
// body against a JSON schema.
type Codec[T any] struct {
	schema *jsonschema.Schema
}

func compile(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func NewCodec[T any](name, schemaSrc string) (Codec[T], error) {
	s, err := compile(name, schemaSrc)
	if err != nil {
		return Codec[T]{}, err
	}
	return Codec[T]{schema: s}, nil
}

// TaskCodec validates task messages.
func TaskCodec() (Codec[TaskMessage], error) {
	return NewCodec[TaskMessage]("task.json", taskSchema)
}

// ResultCodec validates result messages.
func ResultCodec() (Codec[ResultMessage], error) {
	return NewCodec[ResultMessage]("result.json", resultSchema)
}

func (c Codec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (c Codec[T]) Decode(data []byte) (T, error) {
	var zero T
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return zero, fmt.Errorf("unmarshal message: %w", err)
	}
	if c.schema != nil {
		if err := c.schema.Validate(raw); err != nil {
			return zero, fmt.Errorf("message does not match schema: %w", err)
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("unmarshal message: %w", err)
	}
	return v, nil
}
