package mock

import (
	"context"
	"strings"
)

// maxSummaryWords bounds the default mock summary length.
const maxSummaryWords = 8

// MockSummarizer is a test double for ai.Summarizer.
// It allows custom behavior injection via a function field.
type MockSummarizer struct {
	// SummarizeTextFunc is called by SummarizeText if set.
	// If nil, uses default deterministic behavior.
	SummarizeTextFunc func(ctx context.Context, text string) (string, error)

	callCount int
}

// NewMockSummarizer creates a mock summarizer with default deterministic behavior.
// Note: Returns concrete type to allow test assertions via GetMockSummarizer().
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

// SummarizeText returns a deterministic truncation of the input.
func (m *MockSummarizer) SummarizeText(ctx context.Context, text string) (string, error) {
	m.callCount++

	if m.SummarizeTextFunc != nil {
		return m.SummarizeTextFunc(ctx, text)
	}

	words := strings.Fields(text)
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	return "summary: " + strings.Join(words, " "), nil
}

// CallCount returns the number of times SummarizeText was called.
func (m *MockSummarizer) CallCount() int {
	return m.callCount
}

// Reset clears the call count.
func (m *MockSummarizer) Reset() {
	m.callCount = 0
	m.SummarizeTextFunc = nil
}
