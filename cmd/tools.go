package cmd

import (
	"context"
	"time"

	lctools "github.com/tmc/langchaingo/tools"

	"github.com/killallgit/threadline/pkg/tools"
)

// builtinTools are registered for every thread the CLI runs.
func builtinTools() []tools.Tool {
	clockSchema := tools.NewJSONSchema()
	tools.AddProperty(clockSchema, "timezone", tools.JSONSchemaProperty{
		Type:        "string",
		Description: "IANA time zone, for example Europe/Oslo. Defaults to UTC.",
	})

	approvalSchema := tools.NewJSONSchema()
	tools.AddProperty(approvalSchema, "question", tools.JSONSchemaProperty{
		Type:        "string",
		Description: "What the user is asked to approve",
	})
	tools.AddRequired(approvalSchema, "question")

	return []tools.Tool{
		{
			Name:        "clock",
			Description: "Returns the current time",
			Parameters:  clockSchema,
			Execute:     clock,
		},
		tools.FromLangChain(lctools.Calculator{}),
		tools.ReadFile("."),
		{
			// No handler: the call stays pending until /result answers it.
			Name:        "ask_user",
			Description: "Asks the user to approve or answer a question",
			Parameters:  approvalSchema,
		},
	}
}

func clock(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if name, ok := args["timezone"].(string); ok && name != "" {
		var err error
		if loc, err = time.LoadLocation(name); err != nil {
			return nil, err
		}
	}
	return map[string]any{"time": time.Now().In(loc).Format(time.RFC3339)}, nil
}
