package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/arbor/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveMessage(t *testing.T, ch <-chan MessageEvent) MessageEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "message channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
		return MessageEvent{}
	}
}

func receiveTyping(t *testing.T, ch <-chan TypingEvent) TypingEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "typing channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing event")
		return TypingEvent{}
	}
}

func TestConversationSettings(t *testing.T) {
	conv := NewConversation(
		WithModel("qwen2.5:3b"),
		WithTemperature(0.2),
		WithMaxTokens(512),
		WithFunctions([]string{"search_messages"}),
	)
	defer conv.Close()

	assert.Equal(t, "qwen2.5:3b", conv.Model())
	assert.Equal(t, 0.2, conv.Temperature())
	assert.Equal(t, 512, conv.MaxTokens())
	assert.Equal(t, []string{"search_messages"}, conv.Functions())
}

func TestSendMessageOrdering(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	messages, cancel := conv.SubscribeMessages()
	defer cancel()

	require.NoError(t, conv.SendMessage(user, "first"))
	require.NoError(t, conv.SendMessage(user, "second"))
	require.NoError(t, conv.SendMessage(user, "third"))

	assert.Equal(t, "first", receiveMessage(t, messages).Content)
	assert.Equal(t, "second", receiveMessage(t, messages).Content)
	third := receiveMessage(t, messages)
	assert.Equal(t, "third", third.Content)
	assert.Equal(t, core.RoleUser, third.Role)
	assert.Equal(t, user.ID, third.Participant)
}

func TestSendEmptyMessageIsNoOp(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	require.NoError(t, conv.SendMessage(user, ""))
	require.NoError(t, conv.SendMessage(user, "real"))

	messages, cancel := conv.SubscribeMessages()
	defer cancel()

	assert.Equal(t, "real", receiveMessage(t, messages).Content)
	assert.Empty(t, messages)
}

func TestTypingUpdates(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	assistant, err := conv.AddParticipant(core.RoleAssistant)
	require.NoError(t, err)

	typing, cancel := conv.SubscribeTyping()
	defer cancel()

	// Initial snapshot is empty.
	assert.Empty(t, receiveTyping(t, typing).States)

	require.NoError(t, conv.TypeMessage(assistant, "Hello wor"))
	event := receiveTyping(t, typing)
	assert.Equal(t, "Hello wor", event.States[assistant.ID])
}

func TestSendClearsTyping(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	assistant, err := conv.AddParticipant(core.RoleAssistant)
	require.NoError(t, err)

	require.NoError(t, conv.TypeMessage(assistant, "Hello wor"))
	require.Eventually(t, func() bool {
		return conv.TypingStates()[assistant.ID] == "Hello wor"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conv.SendMessage(assistant, "Hello world"))
	require.Eventually(t, func() bool {
		return conv.TypingStates()[assistant.ID] == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayWindow(t *testing.T) {
	conv := NewConversation(WithHistoryLimit(3))
	defer conv.Close()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, conv.SendMessage(user, content))
	}
	require.Eventually(t, func() bool {
		return len(conv.History()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// A late subscriber replays only the bounded window.
	messages, cancel := conv.SubscribeMessages()
	defer cancel()

	assert.Equal(t, "three", receiveMessage(t, messages).Content)
	assert.Equal(t, "four", receiveMessage(t, messages).Content)
	assert.Equal(t, "five", receiveMessage(t, messages).Content)
}

func TestRemoveParticipant(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)
	assistant, err := conv.AddParticipant(core.RoleAssistant)
	require.NoError(t, err)
	require.Len(t, conv.Participants(), 2)

	require.NoError(t, conv.RemoveParticipant(assistant))
	require.Len(t, conv.Participants(), 1)

	// The stop signal fired during removal.
	select {
	case <-assistant.Stopped():
	default:
		t.Fatal("expected participant stop signal")
	}

	// Events for a removed participant are rejected.
	assert.ErrorIs(t, conv.SendMessage(assistant, "late"), ErrUnknownParticipant)

	// Removing again reports the participant as unknown.
	assert.ErrorIs(t, conv.RemoveParticipant(assistant), ErrUnknownParticipant)

	// The surviving participant is unaffected.
	require.NoError(t, conv.SendMessage(user, "still here"))
}

func TestRemoveParticipantClearsTyping(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	assistant, err := conv.AddParticipant(core.RoleAssistant)
	require.NoError(t, err)

	require.NoError(t, conv.TypeMessage(assistant, "partial"))
	require.Eventually(t, func() bool {
		return conv.TypingStates()[assistant.ID] == "partial"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conv.RemoveParticipant(assistant))
	_, present := conv.TypingStates()[assistant.ID]
	assert.False(t, present)
}

func TestSendError(t *testing.T) {
	conv := NewConversation()
	defer conv.Close()

	assistant, err := conv.AddParticipant(core.RoleAssistant)
	require.NoError(t, err)

	messages, cancel := conv.SubscribeMessages()
	defer cancel()

	upstream := errors.New("completion failed")
	require.NoError(t, conv.SendError(assistant, upstream))

	event := receiveMessage(t, messages)
	assert.ErrorIs(t, event.Err, upstream)
	assert.Empty(t, event.Content)
}

func TestClose(t *testing.T) {
	conv := NewConversation()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	messages, cancel := conv.SubscribeMessages()
	defer cancel()
	typing, cancelTyping := conv.SubscribeTyping()
	defer cancelTyping()
	receiveTyping(t, typing)

	conv.Close()

	// Subscriptions are closed.
	_, ok := <-messages
	assert.False(t, ok)
	_, ok = <-typing
	assert.False(t, ok)

	// Participants were stopped.
	select {
	case <-user.Stopped():
	default:
		t.Fatal("expected participant stop signal")
	}

	// Further operations fail.
	assert.ErrorIs(t, conv.SendMessage(user, "late"), ErrConversationClosed)
	_, err = conv.AddParticipant(core.RoleUser)
	assert.ErrorIs(t, err, ErrConversationClosed)

	// Closing twice is safe.
	conv.Close()
}

func TestPublishSkipsStalledSubscriber(t *testing.T) {
	conv := NewConversation(WithHistoryLimit(1))
	defer conv.Close()

	user, err := conv.AddParticipant(core.RoleUser)
	require.NoError(t, err)

	// A subscriber that never drains must not block or starve the others
	// once its buffer fills; its overflow events are dropped.
	_, cancelStalled := conv.SubscribeMessages()
	defer cancelStalled()

	active, cancelActive := conv.SubscribeMessages()
	defer cancelActive()

	const total = 300
	received := make(chan []string, 1)
	go func() {
		var got []string
		for event := range active {
			got = append(got, event.Content)
			if len(got) == total {
				break
			}
		}
		received <- got
	}()

	for i := 0; i < total; i++ {
		require.NoError(t, conv.SendMessage(user, fmt.Sprintf("m%03d", i)))
	}

	select {
	case got := <-received:
		require.Len(t, got, total)
		for i, content := range got {
			assert.Equal(t, fmt.Sprintf("m%03d", i), content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("draining subscriber starved behind a stalled one")
	}
}
