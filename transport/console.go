// Package transport holds transport implementations of the session
// boundary. The production deployment plugs a real protocol session in
// here; Console is a stand-in that logs outbound traffic and feeds stdin
// lines to the bot, for local operation and smoke testing.
package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"mucbot/contract"
	"mucbot/domain"
)

var _ contract.Transport = (*Console)(nil)

// Receiver is the slice of the bot's event intake the console needs.
type Receiver interface {
	OnSessionStart()
	OnMessage(msg domain.Message)
}

// Console is a loopback transport: every line read from its input is
// delivered as a direct chat message from the configured operator JID.
type Console struct {
	mu        sync.Mutex
	log       *slog.Logger
	in        io.Reader
	operator  domain.JID
	connected bool
	closed    bool
}

func NewConsole(log *slog.Logger, in io.Reader, operator domain.JID) *Console {
	return &Console{log: log, in: in, operator: operator}
}

// Run announces the session and pumps input lines until EOF, cancel or
// Close.
func (c *Console) Run(ctx context.Context, receiver Receiver) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	c.mu.Unlock()

	receiver.OnSessionStart()

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return nil
		}
		body := scanner.Text()
		if body == "" {
			continue
		}
		receiver.OnMessage(domain.Message{
			ID:     uuid.New(),
			Type:   domain.ChatMessage,
			From:   c.operator,
			Sender: c.operator.Bare(),
			Body:   body,
		})
	}
	return scanner.Err()
}

func (c *Console) SendMessage(to domain.JID, body string, mtype domain.MessageType) error {
	c.log.Info("-> message", "to", to, "type", string(mtype), "body", body)
	return nil
}

func (c *Console) JoinRoom(room domain.JID, nick string, historyLimit int) error {
	c.log.Info("-> join room", "room", room, "nick", nick, "history", historyLimit)
	return nil
}

func (c *Console) LeaveRoom(room domain.JID, nick string) error {
	c.log.Info("-> leave room", "room", room, "nick", nick)
	return nil
}

func (c *Console) SetRoomAffiliations(room domain.JID, items []contract.Affiliation) error {
	c.log.Info("-> set affiliations", "room", room, "count", len(items))
	return nil
}

func (c *Console) RoomConfigFields(room domain.JID) (map[string]string, error) {
	return map[string]string{}, nil
}

func (c *Console) SetRoomConfigFields(room domain.JID, fields map[string]string) error {
	c.log.Info("-> set room config", "room", room, "fields", fields)
	return nil
}

func (c *Console) Invite(room domain.JID, user domain.JID) error {
	c.log.Info("-> invite", "room", room, "jid", user)
	return nil
}

func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Console) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
