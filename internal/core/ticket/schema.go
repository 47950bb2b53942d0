package ticket

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ResponseSchema は LLM に要求する JSON 出力の構造を表す
type ResponseSchema struct {
	Name        string
	Description string
	Schema      map[string]any

	validator *gojsonschema.Schema
}

// TicketResponseSchemaName は TicketResponse スキーマの名前
const TicketResponseSchemaName = "ticket_response"

// TicketResponseSchema は TicketResponse の JSON Schema を返す
func TicketResponseSchema() (*ResponseSchema, error) {
	enum := make([]any, len(Actions))
	for i, a := range Actions {
		enum[i] = string(a)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": "A clear and concise answer to the customer's question based on the provided context",
			},
			"references": map[string]any{
				"type":        "array",
				"description": "List of document references",
				"items":       map[string]any{"type": "string"},
			},
			"action_required": map[string]any{
				"type":        "string",
				"description": "Exactly one value from the action list",
				"enum":        enum,
			},
		},
		"required":             []any{"answer", "references", "action_required"},
		"additionalProperties": false,
	}

	return NewResponseSchema(TicketResponseSchemaName, "Structured resolution of a customer support ticket", schema)
}

// NewResponseSchema は JSON Schema をコンパイルして ResponseSchema を作成する
func NewResponseSchema(name, description string, schema map[string]any) (*ResponseSchema, error) {
	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &ResponseSchema{
		Name:        name,
		Description: description,
		Schema:      schema,
		validator:   validator,
	}, nil
}

// Validate は JSON テキストがスキーマに適合するか検証する
func (s *ResponseSchema) Validate(text string) error {
	if s.validator == nil {
		return fmt.Errorf("schema %s is not compiled", s.Name)
	}

	result, err := s.validator.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("response does not match schema %s: %s", s.Name, strings.Join(msgs, "; "))
	}
	return nil
}
