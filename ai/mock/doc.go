// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Completer, ai.Embedder,
// ai.Summarizer, and ai.AIProvider for use in unit tests. The mocks allow
// tests to run without external AI service dependencies and enable
// controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	embeddings, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Scripted completion streams
//	completer := mock.NewMockCompleter()
//	completer.Enqueue(
//	    ai.CompletionEvent{Kind: ai.EventPartial, Text: "hello "},
//	    ai.CompletionEvent{Kind: ai.EventFinal, Text: "hello there"},
//	)
//
//	// Check call counts
//	count := completer.CallCount()
//
// # Default Behavior
//
// The mock implementations provide sensible defaults:
//
//   - MockCompleter: Echoes the last request message as a streamed completion
//   - MockEmbedder: Returns deterministic vectors based on text hash
//   - MockSummarizer: Returns a deterministic truncation of the input
//   - MockProvider: Aggregates the three mock services
package mock
