package goreason

import (
	"context"
	"fmt"
	"os"

	"github.com/llmc-dev/rag-core/backend"
	"github.com/llmc-dev/rag-core/embedder"
	"github.com/llmc-dev/rag-core/llm"
	"github.com/llmc-dev/rag-core/reliability"
	"github.com/llmc-dev/rag-core/router"
)

// buildAdapter constructs the backend.Adapter matching a chain member's
// configured provider family.
func buildAdapter(member ChainMemberConfig, apiKey string) (backend.Adapter, error) {
	switch member.Provider {
	case "openai_compat", "":
		return backend.NewOpenAICompatAdapter(backend.OpenAICompatConfig{
			BaseURL: member.URL,
			APIKey:  apiKey,
			Model:   member.Model,
		}), nil
	case "anthropic":
		return backend.NewAnthropicAdapter(backend.AnthropicConfig{
			BaseURL: member.URL,
			APIKey:  apiKey,
			Model:   member.Model,
		}), nil
	case "genai":
		return backend.NewGenAIAdapter(backend.GenAIConfig{
			BaseURL: member.URL,
			APIKey:  apiKey,
			Model:   member.Model,
		}), nil
	default:
		return nil, fmt.Errorf("goreason: unknown enrichment provider %q for chain member %q", member.Provider, member.Name)
	}
}

// BuildRouter assembles a router.Router from the `[enrichment]` config
// section: one reliability-wrapped adapter per enabled chain member,
// grouped by ChainName into router.Chain values.
func (c *Config) BuildRouter() (*router.Router, error) {
	grouped := map[string][]router.Member{}
	var order []string
	seen := map[string]bool{}

	for _, m := range c.Enrichment.Chain {
		chainName := m.ChainName
		if chainName == "" {
			chainName = "default"
		}
		if !seen[chainName] {
			seen[chainName] = true
			order = append(order, chainName)
		}

		if !m.Enabled {
			grouped[chainName] = append(grouped[chainName], router.Member{Name: m.Name, Tier: m.Tier, Role: m.Role, Enabled: false})
			continue
		}

		adapter, err := buildAdapter(m, c.apiKey(m.Provider))
		if err != nil {
			return nil, err
		}
		wrapped := reliability.New(adapter, c.reliabilityConfig(m))
		grouped[chainName] = append(grouped[chainName], router.Member{
			Name:    m.Name,
			Tier:    m.Tier,
			Role:    m.Role,
			Enabled: true,
			Backend: wrapped,
		})
	}

	chains := make([]router.Chain, 0, len(order))
	for _, name := range order {
		chains = append(chains, router.Chain{Name: name, Members: grouped[name]})
	}

	fallback := c.Enrichment.Fallback
	if fallback == "" && len(order) > 0 {
		fallback = order[0]
	}

	return router.New(router.Config{
		Chains:   chains,
		Routes:   c.Enrichment.Routing,
		Fallback: fallback,
	}), nil
}

// embedProviderBackend adapts an llm.Provider (a multi-vendor embedding
// client) to embedder.Backend, converting its raw [][]float32 response
// into []embedder.Vector.
type embedProviderBackend struct {
	provider llm.Provider
}

func (e embedProviderBackend) Embed(ctx context.Context, texts []string) ([]embedder.Vector, error) {
	raw, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]embedder.Vector, len(raw))
	for i, v := range raw {
		out[i] = v
	}
	return out, nil
}

// BuildEmbedder assembles an embedder.Embedder from the `[rag]` section,
// routing embedding calls through the multi-vendor llm.Provider client.
func (c *Config) BuildEmbedder() (*embedder.Embedder, error) {
	provider, err := llm.NewProvider(llm.Config{
		Provider: c.Rag.EmbeddingProvider,
		Model:    c.Rag.EmbeddingModel,
		BaseURL:  c.Rag.EmbeddingBaseURL,
		APIKey:   os.Getenv(c.Rag.EmbeddingAPIKeyEnv),
	})
	if err != nil {
		return nil, fmt.Errorf("goreason: creating embedding provider: %w", err)
	}
	return embedder.New(embedder.DefaultConfig(c.Rag.EmbeddingModel), embedProviderBackend{provider: provider})
}
