package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/LunaDeerTech/Agentex/config"
)

// SchemaCmd generates a JSON Schema from the config structs. Output goes to
// stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://github.com/LunaDeerTech/Agentex/schemas/config.json"
	schema.Title = "Agentex Configuration Schema"
	schema.Description = "Configuration schema for the agentex agent server"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []any{
		map[string]any{
			"llm": map[string]any{
				"provider": "anthropic",
				"model":    "claude-sonnet-4-20250514",
				"api_key":  "${ANTHROPIC_API_KEY}",
			},
			"agent": map[string]any{
				"type":          "react",
				"system_prompt": "You are a helpful assistant.",
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
