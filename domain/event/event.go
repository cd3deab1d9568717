// Package event defines the protocol events delivered by the transport
// session. Each event is handled on an independent dispatch worker so a
// slow command handler never stalls receipt of new protocol events.
package event

import "mucbot/domain"

type Event interface {
	isEvent()
}

// SessionStarted fires once the session with the chat server is
// established and the bot may join its room.
type SessionStarted struct{}

// IncomingMessage wraps a decoded chat or groupchat message stanza.
type IncomingMessage struct {
	Msg domain.Message
}

// RoomPresence reports an occupant entering or leaving the managed room.
type RoomPresence struct {
	Room        domain.JID
	Nick        string
	JID         domain.JID // bare JID of the occupant, empty when anonymous
	Affiliation string
	Role        string
	Online      bool
}

// Presence is a non-room presence stanza. The core only logs these; the
// subscription policy lives in the transport.
type Presence struct {
	From domain.JID
	Type string
}

func (SessionStarted) isEvent()  {}
func (IncomingMessage) isEvent() {}
func (RoomPresence) isEvent()    {}
func (Presence) isEvent()        {}
