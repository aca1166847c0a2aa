package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rigproject/rig/pkg/rtp"
)

// toolSchemas holds the compiled input/output validators for one tool.
// The error schema is deliberately not enforced: typed failures surface
// verbatim.
type toolSchemas struct {
	input  *jsonschema.Schema
	output *jsonschema.Schema
}

func compileToolSchemas(name string, def rtp.ToolDef) (*toolSchemas, error) {
	input, err := compileSchema(name, "input", def.InputSchema)
	if err != nil {
		return nil, err
	}
	output, err := compileSchema(name, "output", def.OutputSchema)
	if err != nil {
		return nil, err
	}
	return &toolSchemas{input: input, output: output}, nil
}

func compileSchema(tool, kind string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://rig.schemas.local/tools/%s/%s.schema.json", tool, kind)
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("tool %s: load %s schema: %w", tool, kind, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile %s schema: %w", tool, kind, err)
	}
	return compiled, nil
}

func (s *toolSchemas) validateInput(args map[string]any) error {
	if s == nil || s.input == nil {
		return nil
	}
	return validateAgainst(s.input, args)
}

func (s *toolSchemas) validateOutput(out map[string]any) error {
	if s == nil || s.output == nil {
		return nil
	}
	return validateAgainst(s.output, out)
}

// validateAgainst round-trips the value through JSON so that Go-native
// numbers validate the same way wire-decoded ones do. Failure messages
// keep the validator's JSON-pointer text.
func validateAgainst(schema *jsonschema.Schema, v any) error {
	if v == nil {
		v = map[string]any{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("value not JSON-encodable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
