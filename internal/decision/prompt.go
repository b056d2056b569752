package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"apiguardian/types"
)

// buildPrompt assembles the structured analysis prompt from the endpoint
// descriptor, the business context and any recalled prior analyses.
func buildPrompt(endpoint types.EndpointDescriptor, bctx types.BusinessContext, priorAnalyses []string) string {
	endpointJSON, err := json.MarshalIndent(endpoint, "", "  ")
	if err != nil {
		endpointJSON = []byte(fmt.Sprintf("%+v", endpoint))
	}

	var sb strings.Builder
	sb.WriteString("You are an API security expert. Analyze this API endpoint and produce a ranked plan of security actions.\n\n")

	sb.WriteString("ENDPOINT DESCRIPTOR:\n")
	sb.Write(endpointJSON)
	sb.WriteString("\n\n")

	sb.WriteString("BUSINESS CONTEXT:\n")
	fmt.Fprintf(&sb, "- Industry: %s\n", orUnknown(bctx.Industry, endpoint.Industry))
	fmt.Fprintf(&sb, "- Data sensitivity: %s\n", orUnknown(bctx.DataSensitivity, ""))
	if len(bctx.ComplianceHints) > 0 {
		fmt.Fprintf(&sb, "- Compliance hints: %s\n", strings.Join(bctx.ComplianceHints, ", "))
	}
	if bctx.Notes != "" {
		fmt.Fprintf(&sb, "- Notes: %s\n", bctx.Notes)
	}
	if endpoint.BusinessContext != "" {
		fmt.Fprintf(&sb, "- Endpoint context: %s\n", endpoint.BusinessContext)
	}
	sb.WriteString("\n")

	if len(priorAnalyses) > 0 {
		sb.WriteString("SIMILAR PRIOR ANALYSES:\n")
		for _, prior := range priorAnalyses {
			fmt.Fprintf(&sb, "- %s\n", prior)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`TASK:
Produce an ordered list of security actions for this endpoint.

Rules:
- Action kinds are limited to: scan, compliance_check, remediate_file, config_change.
- scan and compliance_check actions must target the endpoint id.
- remediate_file and config_change actions must target a concrete file path and include the parameters needed to apply and verify the change.
- Risk level must be one of: low, medium, high, derived from the severity of the underlying issue.
- Order actions so scans precede the remediations that depend on their findings.
- Classify issues using OWASP API Security Top 10 (2023) categories.`)

	return sb.String()
}

func orUnknown(primary, secondary string) string {
	if primary != "" {
		return primary
	}
	if secondary != "" {
		return secondary
	}
	return "unknown"
}
