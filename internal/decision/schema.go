package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"apiguardian/types"
)

// PlanResponse is the shape the reasoning backend must return.
type PlanResponse struct {
	Actions []PlanAction `json:"actions"`
}

// PlanAction mirrors types.Action on the wire. Enum constraints are enforced
// twice: in the generated JSON schema sent with the prompt, and semantically
// after parsing.
type PlanAction struct {
	Kind   string            `json:"kind" jsonschema:"enum=scan,enum=compliance_check,enum=remediate_file,enum=config_change"`
	Target string            `json:"target" jsonschema:"minLength=1"`
	Params map[string]string `json:"params,omitempty"`
	Risk   string            `json:"risk" jsonschema:"enum=low,enum=medium,enum=high"`
	Reason string            `json:"reason,omitempty"`
}

// planSchema generates the JSON schema string for PlanResponse.
func planSchema() (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&PlanResponse{})
	// The gojsonschema validator does not understand the 2020-12 draft tag;
	// without a $schema it falls back to keyword auto-detection.
	schema.Version = ""

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan schema: %w", err)
	}
	return string(raw), nil
}

// extractJSON strips markdown code fences and surrounding prose from a
// backend response, returning the outermost JSON object.
func extractJSON(response string) string {
	trimmed := strings.TrimSpace(response)

	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		trimmed = trimmed[idx+len("```json"):]
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
	} else if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+len("```"):]
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// parseAndValidate checks a raw backend response against the plan schema and
// the closed enums, returning typed actions or an error. Any violation is a
// failure; the caller degrades to the fallback planner.
func (e *Engine) parseAndValidate(raw string, endpoint types.EndpointDescriptor) ([]types.Action, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	result, err := gojsonschema.Validate(e.schemaLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("response violates plan schema: %s", strings.Join(details, "; "))
	}

	var response PlanResponse
	if err := json.Unmarshal([]byte(doc), &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Actions) == 0 {
		return nil, fmt.Errorf("response contains no actions")
	}

	actions := make([]types.Action, 0, len(response.Actions))
	for i, pa := range response.Actions {
		kind := types.ActionKind(pa.Kind)
		risk := types.RiskLevel(pa.Risk)
		if !types.ValidActionKind(kind) {
			return nil, fmt.Errorf("action %d: unknown kind %q", i, pa.Kind)
		}
		if !types.ValidRiskLevel(risk) {
			return nil, fmt.Errorf("action %d: unknown risk level %q", i, pa.Risk)
		}
		if err := validateTarget(kind, pa.Target, endpoint); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}

		actions = append(actions, types.Action{
			Kind:             kind,
			Target:           pa.Target,
			Params:           pa.Params,
			Risk:             risk,
			RequiresApproval: kind.Mutating() && risk != types.RiskLow,
			Reason:           pa.Reason,
		})
	}
	return actions, nil
}

// validateTarget ensures the target references the analyzed endpoint or, for
// mutating kinds, a plausible file path.
func validateTarget(kind types.ActionKind, target string, endpoint types.EndpointDescriptor) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("empty target")
	}
	if kind.Mutating() {
		if strings.Contains(target, "..") {
			return fmt.Errorf("target %q contains path traversal", target)
		}
		if !strings.Contains(target, ".") {
			return fmt.Errorf("mutating target %q is not a file path", target)
		}
		return nil
	}
	if target != endpoint.ID && target != endpoint.Path {
		return fmt.Errorf("target %q does not reference the analyzed endpoint", target)
	}
	return nil
}
