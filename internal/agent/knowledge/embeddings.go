package knowledge

import (
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// EmbeddingConfig selects the embedding backend used to index and query.
type EmbeddingConfig struct {
	Provider      string
	Model         string
	OllamaBaseURL string
	OpenAIAPIKey  string
}

// NewEmbeddingFunc returns the chromem embedding function for the provider.
// The ollama base URL is the server root; chromem expects the /api prefix.
func NewEmbeddingFunc(cfg EmbeddingConfig) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		baseURL := strings.TrimRight(cfg.OllamaBaseURL, "/")
		if baseURL != "" && !strings.HasSuffix(baseURL, "/api") {
			baseURL += "/api"
		}
		return chromem.NewEmbeddingFuncOllama(cfg.Model, baseURL), nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY")
		}
		model := chromem.EmbeddingModelOpenAI(cfg.Model)
		if cfg.Model == "" {
			model = chromem.EmbeddingModelOpenAI3Small
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIAPIKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
