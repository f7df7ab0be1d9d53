// Package functions implements the function-calling engine: a registry of
// callable functions with JSON-schema introspection, an execution engine
// that records every call as a function message before running it, dynamic
// functions stored on the message graph with resolved dependency closures,
// and the rag builtin that answers queries through a throwaway retrieval
// conversation.
package functions
