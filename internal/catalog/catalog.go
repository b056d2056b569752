// Package catalog holds the static rule set that maps endpoint shape to
// OWASP API Top 10 (2023) vulnerability categories and the compliance
// frameworks implicated per industry. The catalog is pure data plus lookup;
// it performs no I/O after construction.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"apiguardian/types"
)

//go:embed rules.yaml
var rulesYAML []byte

// ActionTemplate is the catalog's suggestion of what to do about a rule hit.
// The "{endpoint}" placeholder in Target resolves to the endpoint ID.
type ActionTemplate struct {
	Kind   types.ActionKind  `yaml:"kind"`
	Target string            `yaml:"target"`
	Params map[string]string `yaml:"params"`
}

// Rule is one endpoint-shape rule. Rules are independent: each contributes
// zero or more findings and they never suppress one another.
type Rule struct {
	ID          string           `yaml:"id"`
	Category    string           `yaml:"category"`
	Title       string           `yaml:"title"`
	Severity    types.Severity   `yaml:"severity"`
	Condition   string           `yaml:"condition"`
	Description string           `yaml:"description"`
	Actions     []ActionTemplate `yaml:"actions"`
}

type ruleFile struct {
	Rules      []Rule              `yaml:"rules"`
	Frameworks map[string][]string `yaml:"frameworks"`
}

// Catalog is the compiled rule set.
type Catalog struct {
	rules      []Rule
	frameworks map[string][]string
	evaluator  *conditionEvaluator
}

// New parses the embedded rule file and compiles every rule condition.
func New() (*Catalog, error) {
	var file ruleFile
	if err := yaml.Unmarshal(rulesYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rule catalog is empty")
	}

	evaluator, err := newConditionEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	for _, rule := range file.Rules {
		if !types.ValidSeverity(rule.Severity) {
			return nil, fmt.Errorf("rule %s: unknown severity %q", rule.ID, rule.Severity)
		}
		for _, tmpl := range rule.Actions {
			if !types.ValidActionKind(tmpl.Kind) {
				return nil, fmt.Errorf("rule %s: unknown action kind %q", rule.ID, tmpl.Kind)
			}
		}
		if err := evaluator.Compile(rule.ID, rule.Condition); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}

	return &Catalog{
		rules:      file.Rules,
		frameworks: file.Frameworks,
		evaluator:  evaluator,
	}, nil
}

// Rules returns the rule set in catalog order.
func (c *Catalog) Rules() []Rule {
	return c.rules
}

// RuleByID returns the rule with the given id.
func (c *Catalog) RuleByID(id string) (Rule, bool) {
	for _, r := range c.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// FrameworksForIndustry returns the compliance frameworks implicated by an
// industry tag, sorted. Unknown industries map to the default entry.
func (c *Catalog) FrameworksForIndustry(industry string) []string {
	key := strings.ToLower(strings.TrimSpace(industry))
	frameworks, ok := c.frameworks[key]
	if !ok {
		frameworks = c.frameworks["default"]
	}
	out := make([]string, len(frameworks))
	copy(out, frameworks)
	sort.Strings(out)
	return out
}

// Scan evaluates every rule against the endpoint and returns the findings in
// catalog order. A rule whose condition fails to evaluate is skipped, never
// fatal: a malformed descriptor must still yield a well-formed (possibly
// empty) result.
func (c *Catalog) Scan(endpoint types.EndpointDescriptor) []types.Finding {
	data := endpointToMap(endpoint)
	frameworks := c.FrameworksForIndustry(endpoint.Industry)

	findings := make([]types.Finding, 0)
	for _, rule := range c.rules {
		matched, err := c.evaluator.Evaluate(rule.ID, data)
		if err != nil {
			log.Printf("  ⚠️  Rule %s evaluation failed for %s: %v", rule.ID, endpoint.Path, err)
			continue
		}
		if !matched {
			continue
		}
		findings = append(findings, types.Finding{
			RuleID:      rule.ID,
			Category:    rule.Category,
			Title:       rule.Title,
			Description: rule.Description,
			Severity:    rule.Severity,
			Endpoint:    endpoint.ID,
			Frameworks:  frameworks,
		})
	}
	return findings
}

// endpointToMap converts a descriptor into the CEL activation shape via a
// JSON round trip, so conditions see exactly the wire field names. Missing
// security/parameters fields normalize to empty lists.
func endpointToMap(endpoint types.EndpointDescriptor) map[string]interface{} {
	raw, err := json.Marshal(endpoint)
	if err != nil {
		return map[string]interface{}{}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}
	}
	if data["security"] == nil {
		data["security"] = []interface{}{}
	}
	if data["parameters"] == nil {
		data["parameters"] = []interface{}{}
	}
	if data["method"] != nil {
		data["method"] = strings.ToUpper(endpoint.Method)
	}
	if data["industry"] != nil {
		data["industry"] = strings.ToLower(endpoint.Industry)
	}
	return data
}
