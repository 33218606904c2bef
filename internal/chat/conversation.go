package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyMessage is returned when the user text is blank.
var ErrEmptyMessage = errors.New("chat: empty message")

// ErrBusy is returned when a send is already in progress.
var ErrBusy = errors.New("chat: a reply is still streaming")

// Sender delivers a transcript and streams the answer. Client satisfies it.
type Sender interface {
	Send(ctx context.Context, transcript []Message, sensor *SensorData, onDelta func(string)) (string, error)
}

// Conversation is a transcript that starts with the assistant greeting.
// One send may be in flight at a time.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	busy     bool
}

// NewConversation creates a Conversation seeded with Greeting.
func NewConversation() *Conversation {
	return &Conversation{
		messages: []Message{{Role: RoleAssistant, Content: Greeting}},
	}
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Send appends the user's text, then streams the assistant reply into a new
// message, calling onDelta for each fragment. If the send fails while the
// reply is still empty, the empty assistant message is removed; the user
// message stays.
func (c *Conversation) Send(ctx context.Context, s Sender, text string, sensor *SensorData, onDelta func(string)) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.busy = true
	c.messages = append(c.messages, Message{Role: RoleUser, Content: text})
	transcript := append([]Message(nil), c.messages...)
	c.messages = append(c.messages, Message{Role: RoleAssistant})
	idx := len(c.messages) - 1
	c.mu.Unlock()

	reply, err := s.Send(ctx, transcript, sensor, func(delta string) {
		c.mu.Lock()
		c.messages[idx].Content += delta
		c.mu.Unlock()
		if onDelta != nil {
			onDelta(delta)
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil && c.messages[idx].Content == "" {
		c.messages = c.messages[:idx]
	}
	return reply, err
}
