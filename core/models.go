package core

import "time"

// Role identifies the author of a message.
type Role int

const (
	// RoleUser represents a human participant.
	RoleUser Role = iota + 1
	// RoleAssistant represents an AI participant.
	RoleAssistant
	// RoleSystem represents the system itself (instructions, reconciliation notes).
	RoleSystem
	// RoleFunction marks a message whose content is a serialized function call envelope.
	RoleFunction
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	case RoleFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Message is the unhashed payload of a conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Candidate is a message staged for persistence. Hash may be left empty,
// in which case it is derived from Parent, Role and Content on save.
// A pre-set Hash is trusted as given (e.g. records synced from another
// device) and is still subject to the parent integrity check.
type Candidate struct {
	Role    Role
	Content string
	Parent  Hash
	Hash    Hash
}

// Message returns the unhashed message payload of the candidate.
func (c *Candidate) Message() Message {
	return Message{Role: c.Role, Content: c.Content}
}

// PersistedMessage is an immutable, content-addressed conversation turn.
// Messages form a forest rooted at RootHash: each node has exactly one
// parent and any number of children (branches).
type PersistedMessage struct {
	Hash       Hash
	Parent     Hash
	Role       Role
	Content    string
	Seq        uint64    // Insertion sequence; the ordering authority for siblings
	InsertedAt time.Time // Local creation time; display and tie-breaking only
}

// AsMessage returns the unhashed message payload.
func (m *PersistedMessage) AsMessage() Message {
	return Message{Role: m.Role, Content: m.Content}
}

// EmbeddingRecord holds the embedding vector for a message's content.
// Created lazily, immutable once created.
type EmbeddingRecord struct {
	MessageHash Hash
	Vector      []float32
	CreatedAt   time.Time
}

// SummaryRecord holds a condensed restatement of a message's content.
type SummaryRecord struct {
	MessageHash Hash
	Summary     string
	CreatedAt   time.Time
}

// SummaryEmbeddingRecord holds the embedding vector for a message's summary.
type SummaryEmbeddingRecord struct {
	MessageHash Hash
	Vector      []float32
	CreatedAt   time.Time
}

// PinRecord marks a leaf message as externally archived. RemoteAt carries
// the remote side's timestamp for reconciliation.
type PinRecord struct {
	MessageHash Hash
	RemoteAt    time.Time
	CreatedAt   time.Time
}

// FunctionResult is one record in a function invocation's result sequence.
// A sequence is zero or more payload records followed by exactly one
// completion marker (Completed true, empty Result). A sequence with no
// marker is still streaming, or failed if the invocation has ended.
type FunctionResult struct {
	UUID      string
	Seq       uint64
	Result    string
	Completed bool
}

// FunctionDependency records that a dynamically generated function depends
// on another named or hashed function. Keyed by (FunctionHash, Name).
type FunctionDependency struct {
	FunctionHash Hash
	Name         string
	CreatedAt    time.Time
}
