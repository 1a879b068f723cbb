package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lctools "github.com/tmc/langchaingo/tools"
)

// FromLangChain wraps a langchaingo tool. langchaingo tools take a single
// string input, so the call expects an "input" argument and falls back to
// the JSON encoding of all arguments.
func FromLangChain(t lctools.Tool) Tool {
	schema := NewJSONSchema()
	AddProperty(schema, "input", JSONSchemaProperty{Type: "string", Description: "Input passed to the tool"})
	AddRequired(schema, "input")

	return Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schema,
		Kind:        KindFrontend,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			input, ok := args["input"].(string)
			if !ok {
				raw, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("encode arguments: %w", err)
				}
				input = string(raw)
			}
			return t.Call(ctx, input)
		},
	}
}

// ToLLMTools converts advertised definitions into langchaingo function tools
func ToLLMTools(defs []Definition) []llms.Tool {
	out := make([]llms.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}
