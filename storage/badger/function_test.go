package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/arbor/core"
)

func TestFunctionResultFraming(t *testing.T) {
	messages, _, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()
	callID := uuid.NewString()

	if _, err := functions.AppendFunctionResult(ctx, callID, "alpha"); err != nil {
		t.Fatalf("Failed to append result: %v", err)
	}
	if _, err := functions.AppendFunctionResult(ctx, callID, "beta"); err != nil {
		t.Fatalf("Failed to append result: %v", err)
	}
	if _, err := functions.CompleteFunction(ctx, callID); err != nil {
		t.Fatalf("Failed to complete function: %v", err)
	}

	results, err := functions.FunctionResults(ctx, callID)
	if err != nil {
		t.Fatalf("Failed to read results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 2 payloads plus completion marker, got %d records", len(results))
	}
	if results[0].Result != "alpha" || results[0].Completed {
		t.Fatalf("Unexpected first record: %+v", results[0])
	}
	if results[1].Result != "beta" || results[1].Completed {
		t.Fatalf("Unexpected second record: %+v", results[1])
	}
	if !results[2].Completed || results[2].Result != "" {
		t.Fatalf("Expected trailing completion marker, got %+v", results[2])
	}

	done, err := functions.FunctionCompleted(ctx, callID)
	if err != nil || !done {
		t.Fatalf("Expected completed, got %v, %v", done, err)
	}
}

func TestFunctionResultsIncomplete(t *testing.T) {
	messages, _, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()
	callID := uuid.NewString()

	if _, err := functions.AppendFunctionResult(ctx, callID, "partial"); err != nil {
		t.Fatalf("Failed to append result: %v", err)
	}

	// No completion marker until CompleteFunction runs.
	results, err := functions.FunctionResults(ctx, callID)
	if err != nil {
		t.Fatalf("Failed to read results: %v", err)
	}
	if len(results) != 1 || results[0].Completed {
		t.Fatalf("Expected single incomplete payload, got %+v", results)
	}

	done, err := functions.FunctionCompleted(ctx, callID)
	if err != nil || done {
		t.Fatalf("Expected incomplete, got %v, %v", done, err)
	}
}

func TestAppendAfterCompletion(t *testing.T) {
	messages, _, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()
	callID := uuid.NewString()

	if _, err := functions.AppendFunctionResult(ctx, callID, "only"); err != nil {
		t.Fatalf("Failed to append result: %v", err)
	}
	if _, err := functions.CompleteFunction(ctx, callID); err != nil {
		t.Fatalf("Failed to complete function: %v", err)
	}

	if _, err := functions.AppendFunctionResult(ctx, callID, "late"); !errors.Is(err, core.ErrResultsCompleted) {
		t.Fatalf("Expected ErrResultsCompleted, got %v", err)
	}
}

func TestFunctionDependencies(t *testing.T) {
	messages, _, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	msg, err := messages.SaveMessage(ctx, &core.Candidate{
		Role: core.RoleFunction, Content: "function body",
	})
	if err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	callID := uuid.NewString()
	if _, err := functions.AddFunctionDependency(ctx, msg.Hash, callID, "helper_b"); err != nil {
		t.Fatalf("Failed to add dependency: %v", err)
	}
	if _, err := functions.AddFunctionDependency(ctx, msg.Hash, callID, "helper_a"); err != nil {
		t.Fatalf("Failed to add dependency: %v", err)
	}
	// Duplicate names collapse to the first record.
	if _, err := functions.AddFunctionDependency(ctx, msg.Hash, callID, "helper_a"); err != nil {
		t.Fatalf("Failed to re-add dependency: %v", err)
	}

	deps, err := functions.FunctionDependencies(ctx, msg.Hash)
	if err != nil {
		t.Fatalf("Failed to list dependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("Expected 2 dependencies, got %d", len(deps))
	}
	if deps[0].Name != "helper_a" || deps[1].Name != "helper_b" {
		t.Fatalf("Expected name-ordered dependencies, got %+v", deps)
	}
}

func TestDependencyAfterCompletion(t *testing.T) {
	messages, _, functions, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	defer func() { functions.Close(); messages.Close(); backend.Close() }()

	ctx := context.Background()

	msg, err := messages.SaveMessage(ctx, &core.Candidate{
		Role: core.RoleFunction, Content: "another body",
	})
	if err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}

	callID := uuid.NewString()
	if _, err := functions.CompleteFunction(ctx, callID); err != nil {
		t.Fatalf("Failed to complete function: %v", err)
	}

	if _, err := functions.AddFunctionDependency(ctx, msg.Hash, callID, "too_late"); !errors.Is(err, core.ErrResultsCompleted) {
		t.Fatalf("Expected ErrResultsCompleted, got %v", err)
	}
}
