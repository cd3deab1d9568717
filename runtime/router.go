package runtime

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mucbot/domain"
	"mucbot/plugins"
)

// fallbackReply is returned for any unknown command. This path must never
// fail: unknown input always gets the same pointer to help.
const fallbackHint = "Please type \"help\" for more info"

// Router parses an incoming message into a command invocation, resolves
// it against the plugin registry, enforces role gating and executes the
// handler.
type Router struct {
	log      *slog.Logger
	nick     string
	registry *plugins.Registry
	roles    func() *domain.RoleSets
	resolve  func(nick string) (domain.JID, bool)
}

// NewRouter builds a router. roles returns the current role-set snapshot;
// resolve maps a room nickname to a bare JID and may be nil when no room
// is managed.
func NewRouter(log *slog.Logger, nick string, registry *plugins.Registry,
	roles func() *domain.RoleSets, resolve func(nick string) (domain.JID, bool)) *Router {
	return &Router{log: log, nick: nick, registry: registry, roles: roles, resolve: resolve}
}

// Dispatch runs the command pipeline for one message and returns the
// reply to send, or nil when there is nothing to say. Handler errors
// propagate to the caller, which logs and swallows them so one failing
// command cannot take down the session.
func (r *Router) Dispatch(msg domain.Message) (*domain.Reply, error) {
	switch msg.Type {
	case domain.ChatMessage, domain.NormalMessage:
		// Direct messages pass through as-is.
	case domain.GroupchatMessage:
		prepared, ok := r.prepareGroupchat(&msg)
		if !ok {
			return nil, nil
		}
		msg = prepared
	default:
		return nil, nil
	}

	words := msg.Words()
	if len(words) == 0 {
		return nil, nil
	}
	name := words[0]

	cmd, ok := r.registry.Lookup(name)
	if !ok {
		return msg.Reply(fmt.Sprintf("Sorry, I don't understand %q\n%s", msg.Body, fallbackHint)), nil
	}

	sender := msg.Sender
	if sender == "" {
		sender = msg.From.Bare()
	}

	if !r.roles().Allows(cmd.Gate, sender) {
		// Unauthorized senders get silence, not an error disclosure.
		r.log.Warn("Unauthorized command", "command", cmd.Name, "sender", sender, "gate", cmd.Gate.String())
		return nil, nil
	}

	if len(words)-1 < cmd.MinArgs {
		return msg.Reply(fmt.Sprintf("Usage: %s\n%s", cmd.Usage, cmd.Help)), nil
	}

	start := time.Now()
	reply, err := cmd.Handler(msg)
	if err != nil {
		return nil, fmt.Errorf("command %s.%s: %w", cmd.Module, cmd.Name, err)
	}

	r.log.Info("Command finished", "module", cmd.Module, "command", cmd.Name,
		"elapsed", time.Since(start))

	// A nil reply means the handler did its own sending.
	return reply, nil
}

// prepareGroupchat applies the room rules: the bot never answers itself,
// the body must start with the bot's nickname followed by a delimiter,
// and the sender nickname must resolve to a JID. Anything else is a
// silent drop.
func (r *Router) prepareGroupchat(msg *domain.Message) (domain.Message, bool) {
	if msg.Nick == r.nick {
		return domain.Message{}, false
	}

	body := strings.TrimSpace(msg.Body)
	rest, ok := strings.CutPrefix(body, r.nick)
	if !ok {
		return domain.Message{}, false
	}
	if len(rest) == 0 || (rest[0] != ':' && rest[0] != ',') {
		return domain.Message{}, false
	}

	out := *msg
	out.Body = strings.TrimSpace(rest[1:])

	if out.Sender == "" && r.resolve != nil {
		if jid, found := r.resolve(msg.Nick); found {
			out.Sender = jid
		}
	}
	if out.Sender == "" {
		r.log.Debug("Dropping groupchat message from unresolvable sender", "nick", msg.Nick)
		return domain.Message{}, false
	}

	return out, true
}
