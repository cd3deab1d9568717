package domain

import (
	"strings"

	"github.com/google/uuid"
)

type MessageType string

const (
	ChatMessage      MessageType = "chat"
	NormalMessage    MessageType = "normal"
	GroupchatMessage MessageType = "groupchat"
)

// Message is an inbound chat stanza, already decoded by the transport.
type Message struct {
	ID   uuid.UUID
	Type MessageType
	From JID // full JID of the stanza sender (occupant JID for groupchat)
	// Sender is the resolved bare JID of the author. For groupchat stanzas
	// the transport resolves it from the occupant nickname; it stays empty
	// when the resolution fails.
	Sender JID
	Nick   string // room nickname of the author, groupchat only
	Body   string
}

// Words returns the whitespace-split tokens of the body. The first token
// is the command name, the rest are its arguments.
func (m Message) Words() []string {
	return strings.Fields(m.Body)
}

// Args returns the command arguments (body tokens minus the command name).
func (m Message) Args() []string {
	words := m.Words()
	if len(words) <= 1 {
		return nil
	}
	return words[1:]
}

// ArgsText returns the body with the command name stripped, keeping the
// original spacing of the remainder. Used by commands that treat the rest
// of the line as free text.
func (m Message) ArgsText() string {
	words := m.Words()
	if len(words) <= 1 {
		return ""
	}
	idx := strings.Index(m.Body, words[0])
	return strings.TrimSpace(m.Body[idx+len(words[0]):])
}

// Reply is an outbound message produced by the command pipeline and handed
// back to the transport for sending.
type Reply struct {
	To   JID
	Body string
	Type MessageType
}

// Reply builds a reply addressed back to the author: to the room for
// groupchat messages, to the sender's full JID otherwise.
func (m Message) Reply(body string) *Reply {
	if m.Type == GroupchatMessage {
		return &Reply{To: m.From.Bare(), Body: body, Type: GroupchatMessage}
	}
	return &Reply{To: m.From, Body: body, Type: m.Type}
}
