package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer condenses message content into a short summary.
// Implementations must be thread-safe for concurrent use.
type Summarizer interface {
	// SummarizeText produces a one-or-two sentence summary of the text.
	// Returns an error if summary generation fails.
	SummarizeText(ctx context.Context, text string) (string, error)
}

// Completer generates assistant completions over a conversation history.
// Implementations must be thread-safe for concurrent use.
type Completer interface {
	// StreamCompletion generates a completion for the request, invoking emit
	// for each event as it becomes available: zero or more EventPartial
	// events carrying text fragments, zero or more EventCall events carrying
	// tool invocations the model requested, and exactly one terminating
	// EventFinal event. If emit returns an error, generation stops and the
	// error is returned.
	StreamCompletion(ctx context.Context, req CompletionRequest, emit func(CompletionEvent) error) error
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Completer, Embedder, and Summarizer instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Completer returns the chat completion service.
	// The returned Completer is safe for concurrent use.
	Completer() Completer

	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Summarizer returns the summarization service.
	// The returned Summarizer is safe for concurrent use.
	Summarizer() Summarizer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
