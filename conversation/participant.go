package conversation

import (
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/arbor/core"
)

// Participant is one source of typing and send events in a conversation.
// Participants are created and exclusively owned by a Conversation; they
// are released when removed or when the conversation is torn down.
type Participant struct {
	ID   uuid.UUID
	Role core.Role

	typingCh chan string
	sendCh   chan string
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newParticipant(role core.Role) *Participant {
	return &Participant{
		ID:       uuid.New(),
		Role:     role,
		typingCh: make(chan string, 16),
		sendCh:   make(chan string, 16),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Stopped reports teardown: the returned channel is closed before the
// participant is detached from its conversation, giving work owned by the
// participant a chance to unsubscribe and cancel itself.
func (p *Participant) Stopped() <-chan struct{} {
	return p.stopCh
}

// stop signals teardown. Safe to call more than once.
func (p *Participant) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
