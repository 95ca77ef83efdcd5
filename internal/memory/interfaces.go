package memory

import "context"

// Embedder maps text to a unit-norm vector of fixed dimension. Fails
// with ErrEmbedderUnavailable when the backing model cannot be reached;
// callers treat recall/ingest as best-effort and skip the turn on
// failure. Implementations may pool a single extractor and serialize
// access internally, but the per-call ordering of EmbedBatch's returned
// slice must match the input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// GenerateOptions configures one LanguageModel.Generate call.
type GenerateOptions struct {
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

// ChatMessage is one turn in a LanguageModel.Generate request.
type ChatMessage struct {
	Role    string
	Content string
}

// LanguageModel performs chat completion with optional JSON-object mode.
// When JSONMode is set, implementations that lack native structured
// output must append a JSON-only instruction to the last message, strip
// chain-of-thought fences from the response, and return the literal "{}"
// rather than an error on empty or unparsable output. Non-200 HTTP
// responses are reported as *LanguageModelError with the body truncated
// to 240 characters; transport failures (no HTTP response at all) are
// returned as ordinary wrapped errors, not as *LanguageModelError.
type LanguageModel interface {
	Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error)
}
