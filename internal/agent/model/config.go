package model

// ================ Config ================
type ConversationConfig struct {
	TTL       string `envconfig:"CONVERSATION_TTL" default:"24h"`
	ThreadID  string `envconfig:"CONVERSATION_THREAD_ID" default:"default"`
	MaxTokens int    `envconfig:"CONVERSATION_MAX_TOKENS" default:"2000"`
	Tools     struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
	}
}

// ChatModelConfig selects and tunes the chat model. Provider and Model are
// normally overridden from the command line.
type ChatModelConfig struct {
	Provider    string  `envconfig:"CHAT_PROVIDER" default:"ollama"`
	Model       string  `envconfig:"CHAT_MODEL" default:"llama3.2"`
	MaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`
}

type ProviderConfig struct {
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`
	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
}

type AuthConfig struct {
	Username     string `envconfig:"AUTH_USERNAME" default:"admin"`
	Password     string `envconfig:"AUTH_PASSWORD" default:"password"`
	PasswordHash string `envconfig:"AUTH_PASSWORD_HASH"`
	// MaxAttempts bounds login retries within one turn; 0 leaves them unbounded.
	MaxAttempts int `envconfig:"AUTH_MAX_ATTEMPTS" default:"0"`
}

type KnowledgeConfig struct {
	ChunkSize    int    `envconfig:"KNOWLEDGE_CHUNK_SIZE" default:"1000"`
	ChunkOverlap int    `envconfig:"KNOWLEDGE_CHUNK_OVERLAP" default:"200"`
	TopK         int    `envconfig:"KNOWLEDGE_TOP_K" default:"2"`
	SnippetChars int    `envconfig:"KNOWLEDGE_SNIPPET_CHARS" default:"500"`
	CacheTTL     string `envconfig:"KNOWLEDGE_CACHE_TTL" default:"5m"`
	// Embedding provider defaults to the chat provider when empty.
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL"`
}

type ProfileConfig struct {
	StorePath string `envconfig:"PROFILE_STORE_PATH" default:"data/employee_db.json"`
}
