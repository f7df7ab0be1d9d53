package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/arbor/core"
)

const (
	// defaultHistoryLimit bounds the replay window for new subscribers.
	defaultHistoryLimit = 100

	// subscriberBuffer is the channel capacity for each subscriber beyond
	// the replayed history.
	subscriberBuffer = 256
)

// MessageEvent is one terminal event on a conversation's outgoing stream:
// either a sent message or an error pseudo-message (Err non-nil).
type MessageEvent struct {
	Participant uuid.UUID
	Role        core.Role
	Content     string
	Err         error
	SentAt      time.Time
}

// TypingEvent is a snapshot of every participant's in-progress text,
// republished on each update.
type TypingEvent struct {
	States map[uuid.UUID]string
}

// Conversation multiplexes its participants' send events into one ordered
// outgoing message stream and their typing events into one shared state
// map. It is an in-memory aggregate: only the messages it relays are ever
// persisted, by whoever subscribes to them.
type Conversation struct {
	mu           sync.Mutex
	participants []*Participant
	typing       map[uuid.UUID]string
	history      []MessageEvent
	historyLimit int
	messageSubs  map[uint64]chan MessageEvent
	typingSubs   map[uint64]chan TypingEvent
	nextSubID    uint64
	closed       bool

	model          string
	temperature    float64
	maxTokens      int
	functions      []string
	lockedFunction string
	logger         *slog.Logger
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithModel sets the completion model used for this conversation.
func WithModel(model string) Option {
	return func(c *Conversation) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature for this conversation's
// completions. Zero leaves the provider default in place.
func WithTemperature(temperature float64) Option {
	return func(c *Conversation) {
		c.temperature = temperature
	}
}

// WithMaxTokens caps completion length for this conversation. Zero leaves
// the provider default in place.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Conversation) {
		c.maxTokens = maxTokens
	}
}

// WithFunctions sets the names of the functions enabled for this conversation.
func WithFunctions(names []string) Option {
	return func(c *Conversation) {
		c.functions = names
	}
}

// WithLockedFunction forces the model to call the named function.
func WithLockedFunction(name string) Option {
	return func(c *Conversation) {
		c.lockedFunction = name
	}
}

// WithHistoryLimit overrides the replay window size.
func WithHistoryLimit(limit int) Option {
	return func(c *Conversation) {
		if limit > 0 {
			c.historyLimit = limit
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConversation creates an empty conversation with no participants.
func NewConversation(opts ...Option) *Conversation {
	c := &Conversation{
		typing:       make(map[uuid.UUID]string),
		historyLimit: defaultHistoryLimit,
		messageSubs:  make(map[uint64]chan MessageEvent),
		typingSubs:   make(map[uint64]chan TypingEvent),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the completion model configured for this conversation.
func (c *Conversation) Model() string {
	return c.model
}

// Functions returns the enabled function names.
func (c *Conversation) Functions() []string {
	return c.functions
}

// Temperature returns the conversation's sampling temperature, 0 if unset.
func (c *Conversation) Temperature() float64 {
	return c.temperature
}

// MaxTokens returns the conversation's completion length cap, 0 if unset.
func (c *Conversation) MaxTokens() int {
	return c.maxTokens
}

// LockedFunction returns the forced tool choice, or empty.
func (c *Conversation) LockedFunction() string {
	return c.lockedFunction
}

// AddParticipant creates a participant with the given role and wires its
// event streams into the conversation.
func (c *Conversation) AddParticipant(role core.Role) (*Participant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConversationClosed
	}

	p := newParticipant(role)
	c.participants = append(c.participants, p)
	go c.pump(p)
	return p, nil
}

// RemoveParticipant tears the participant down and detaches it. The
// participant's stop signal fires before it is unwired, so any work it
// owns can cancel itself while events are still flowing.
func (c *Conversation) RemoveParticipant(p *Participant) error {
	c.mu.Lock()
	if !c.owns(p) {
		c.mu.Unlock()
		return ErrUnknownParticipant
	}
	c.mu.Unlock()

	p.stop()
	<-p.doneCh

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.participants {
		if existing == p {
			c.participants = append(c.participants[:i], c.participants[i+1:]...)
			break
		}
	}
	if _, ok := c.typing[p.ID]; ok {
		delete(c.typing, p.ID)
		c.broadcastTypingLocked()
	}
	return nil
}

// Participants returns the current participant list.
func (c *Conversation) Participants() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// TypeMessage publishes an in-progress typing update for the participant.
// May fire at high frequency; each update replaces the previous text.
func (c *Conversation) TypeMessage(p *Participant, text string) error {
	if err := c.checkParticipant(p); err != nil {
		return err
	}
	select {
	case p.typingCh <- text:
		return nil
	case <-p.stopCh:
		return nil
	}
}

// SendMessage publishes a terminal message event for the participant.
// Empty text is a no-op, not an error.
func (c *Conversation) SendMessage(p *Participant, text string) error {
	if text == "" {
		return nil
	}
	if err := c.checkParticipant(p); err != nil {
		return err
	}
	select {
	case p.sendCh <- text:
		return nil
	case <-p.stopCh:
		return nil
	}
}

// SendError publishes an error pseudo-message on the outgoing stream so
// subscribers can render the failure inline where generation broke down.
func (c *Conversation) SendError(p *Participant, err error) error {
	if err == nil {
		return nil
	}
	if checkErr := c.checkParticipant(p); checkErr != nil {
		return checkErr
	}
	c.publishMessage(p, MessageEvent{
		Participant: p.ID,
		Role:        p.Role,
		Err:         err,
		SentAt:      time.Now().UTC(),
	})
	return nil
}

// SubscribeMessages returns a channel that first replays the bounded
// message history and then delivers new message events in publish order.
// The cancel function releases the subscription.
//
// Delivery is best-effort per subscriber: publishing never blocks on a
// subscriber, so one that stops draining loses events once its buffer
// (the replay window plus 256 slots) fills. Other subscribers are
// unaffected.
func (c *Conversation) SubscribeMessages() (<-chan MessageEvent, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan MessageEvent, c.historyLimit+subscriberBuffer)
	for _, event := range c.history {
		ch <- event
	}
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.messageSubs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.messageSubs[id]; ok {
			delete(c.messageSubs, id)
			close(sub)
		}
	}
}

// SubscribeTyping returns a channel delivering typing-state snapshots,
// starting with the current state. The cancel function releases the
// subscription.
func (c *Conversation) SubscribeTyping() (<-chan TypingEvent, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan TypingEvent, subscriberBuffer)
	ch <- TypingEvent{States: c.typingSnapshotLocked()}
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.typingSubs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.typingSubs[id]; ok {
			delete(c.typingSubs, id)
			close(sub)
		}
	}
}

// History returns a copy of the bounded replay window.
func (c *Conversation) History() []MessageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MessageEvent, len(c.history))
	copy(out, c.history)
	return out
}

// TypingStates returns a copy of the current typing map.
func (c *Conversation) TypingStates() map[uuid.UUID]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingSnapshotLocked()
}

// Close tears the conversation down: every participant is stopped, then
// all subscriptions are released. Safe to call more than once.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	participants := make([]*Participant, len(c.participants))
	copy(participants, c.participants)
	c.mu.Unlock()

	// Stop signals fire before subscriptions are torn down.
	for _, p := range participants {
		p.stop()
	}
	for _, p := range participants {
		<-p.doneCh
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants = nil
	for id, ch := range c.messageSubs {
		delete(c.messageSubs, id)
		close(ch)
	}
	for id, ch := range c.typingSubs {
		delete(c.typingSubs, id)
		close(ch)
	}
}

// pump relays one participant's input streams into the conversation until
// the participant is stopped.
func (c *Conversation) pump(p *Participant) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			// Flush messages that were queued before the stop signal so
			// a send immediately followed by removal is never dropped.
			for {
				select {
				case text := <-p.sendCh:
					c.publishMessage(p, MessageEvent{
						Participant: p.ID,
						Role:        p.Role,
						Content:     text,
						SentAt:      time.Now().UTC(),
					})
				default:
					return
				}
			}
		case text := <-p.typingCh:
			c.publishTyping(p, text)
		case text := <-p.sendCh:
			c.publishMessage(p, MessageEvent{
				Participant: p.ID,
				Role:        p.Role,
				Content:     text,
				SentAt:      time.Now().UTC(),
			})
		}
	}
}

func (c *Conversation) publishTyping(p *Participant, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.typing[p.ID] = text
	c.broadcastTypingLocked()
}

func (c *Conversation) publishMessage(p *Participant, event MessageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	// A sent message ends the sender's in-progress typing.
	if c.typing[p.ID] != "" {
		c.typing[p.ID] = ""
		c.broadcastTypingLocked()
	}

	c.history = append(c.history, event)
	if len(c.history) > c.historyLimit {
		c.history = c.history[len(c.history)-c.historyLimit:]
	}

	for _, ch := range c.messageSubs {
		select {
		case ch <- event:
		default:
			c.logger.Warn("dropping message event for slow subscriber",
				"participant", event.Participant)
		}
	}
}

func (c *Conversation) broadcastTypingLocked() {
	snapshot := c.typingSnapshotLocked()
	for _, ch := range c.typingSubs {
		select {
		case ch <- TypingEvent{States: snapshot}:
		default:
			// Typing updates are high frequency; a slow subscriber just
			// misses intermediate states.
		}
	}
}

func (c *Conversation) typingSnapshotLocked() map[uuid.UUID]string {
	snapshot := make(map[uuid.UUID]string, len(c.typing))
	for id, text := range c.typing {
		snapshot[id] = text
	}
	return snapshot
}

func (c *Conversation) checkParticipant(p *Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConversationClosed
	}
	if !c.owns(p) {
		return ErrUnknownParticipant
	}
	return nil
}

func (c *Conversation) owns(p *Participant) bool {
	for _, existing := range c.participants {
		if existing == p {
			return true
		}
	}
	return false
}
