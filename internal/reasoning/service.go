// Package reasoning wraps the external LLM-style reasoning service behind the
// types.ReasoningBackend capability. It manages an ordered list of provider
// attempts and enforces the prompt token budget before any network call.
package reasoning

import (
	"context"
	"fmt"
	"log"

	gollm "github.com/guiperry/gollm_cerebras"
	gollmconfig "github.com/guiperry/gollm_cerebras/config"
	"github.com/guiperry/gollm_cerebras/llm"

	"apiguardian/internal/config"
)

// Attempt pairs an initialized LLM instance with the credentials that built it.
type Attempt struct {
	Instance llm.LLM
	Creds    config.ProviderCredentials
}

// Service implements types.ReasoningBackend over one or more provider
// attempts tried in configuration order.
type Service struct {
	attempts     []Attempt
	promptBudget int
}

// NewService initializes LLM instances for every configured provider.
// Providers that fail to initialize are skipped; at least one working
// provider is required.
func NewService(cfg config.ReasoningConfig) (*Service, error) {
	attempts := make([]Attempt, 0, len(cfg.Providers))
	for _, creds := range cfg.Providers {
		log.Printf("ReasoningService: configuring provider=%s model=%s", creds.Provider, creds.Model)

		opts := []gollmconfig.ConfigOption{
			gollmconfig.SetProvider(creds.Provider),
			gollmconfig.SetAPIKey(creds.APIKey),
			gollmconfig.SetModel(creds.Model),
			gollmconfig.SetMaxTokens(cfg.MaxTokens),
		}

		instance, err := gollm.NewLLM(opts...)
		if err != nil {
			log.Printf("[WARN] ReasoningService: failed to create LLM for %s/%s: %v. Skipping.", creds.Provider, creds.Model, err)
			continue
		}

		initialized, ok := instance.(llm.LLM)
		if !ok {
			log.Printf("[WARN] ReasoningService: instance for %s is not of type llm.LLM. Skipping.", creds.Model)
			continue
		}

		attempts = append(attempts, Attempt{Instance: initialized, Creds: creds})
	}

	if len(attempts) == 0 {
		return nil, fmt.Errorf("reasoning service: no providers could be initialized")
	}

	return &Service{attempts: attempts, promptBudget: cfg.PromptBudget}, nil
}

// buildStructuredPrompt lays out the prompt so the JSON instructions and the
// schema come first and the analysis content last. Only the content section is
// trimmed to the budget; the schema must survive trimming intact, otherwise
// the response cannot validate.
func buildStructuredPrompt(content, schema, model string, budget int) string {
	header := fmt.Sprintf("Respond ONLY with a valid JSON object strictly adhering to the following JSON schema:\n```json\n%s\n```\n\nAnalyze the following content:\n\n---\n", schema)
	footer := "\n---"

	if budget > 0 {
		remaining := budget - EstimateTokens(header+footer, model)
		if remaining > 0 {
			content = TrimToTokenBudget(content, model, remaining)
		}
	}
	return header + content + footer
}

// GenerateStructuredOutput asks each provider in order for a JSON response
// conforming to the supplied schema. The first successful response wins. The
// caller is responsible for schema validation; backends are not trusted.
func (s *Service) GenerateStructuredOutput(ctx context.Context, content string, schema string) (string, error) {
	var lastErr error
	for _, attempt := range s.attempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		budgeted := buildStructuredPrompt(content, schema, attempt.Creds.Model, s.promptBudget)
		p := llm.NewPrompt(budgeted)

		response, err := attempt.Instance.Generate(ctx, p)
		if err != nil {
			log.Printf("[WARN] ReasoningService: provider %s failed: %v. Trying next.", attempt.Creds.Provider, err)
			lastErr = err
			continue
		}
		return response, nil
	}

	return "", fmt.Errorf("all reasoning providers failed: %w", lastErr)
}

// Providers returns the provider names in attempt order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.attempts))
	for i, a := range s.attempts {
		names[i] = a.Creds.Provider
	}
	return names
}
