// Package runtime orchestrates the bot: the lifecycle controller, the
// room membership manager and the command router. It owns all mutable
// registry/room/role state; collaborators receive references, never
// ambient globals.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mucbot/contract"
	"mucbot/domain"
	"mucbot/domain/event"
	boterrors "mucbot/errors"
	"mucbot/plugins"
	"mucbot/runtime/workers"
)

// BotPhase is the lifecycle controller state. Exactly one instance,
// mutated only by the controller.
type BotPhase int32

const (
	Starting BotPhase = iota
	Running
	Reloading
	ShuttingDown
	Stopped
)

func (p BotPhase) String() string {
	switch p {
	case Running:
		return "Running"
	case Reloading:
		return "Reloading"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return "Starting"
	}
}

// Store keys for the durable room-membership state.
const (
	keyRoomInvited  = "bot:room_users_invited"
	keyRoomLastSeen = "bot:room_users_last_seen"
)

// Options carries the bot settings derived from configuration. A reload
// passes a fresh Options value.
type Options struct {
	Nick         string
	SelfJID      domain.JID
	Room         domain.JID // empty means no managed room
	HistoryLimit int
	RoomInvites  bool
	Roles        domain.RolesSpec
	Workers      int
	BufferSize   int
}

// ReloadSource produces fresh configuration for an operator-triggered
// reload: options, plugin specs and per-section plugin config.
type ReloadSource func() (Options, []contract.PluginSpec, map[string]map[string]string, error)

var _ contract.BotContext = (*Bot)(nil)
var _ workers.EventHandler = (*Bot)(nil)

// Bot is the lifecycle controller. It sequences configuration load,
// plugin (re)loading, collaborator start/stop and persistence flush, and
// fans protocol events out to the room manager and the command router.
type Bot struct {
	log *slog.Logger

	transport contract.Transport
	store     contract.Store         // may be nil
	sched     contract.Scheduler     // may be nil
	web       contract.WebhookServer // may be nil

	registry *plugins.Registry
	room     *RoomManager // nil when no room is configured
	router   *Router

	// phaseMu serializes lifecycle transitions: only one reload or
	// shutdown may be in flight. phaseCond is broadcast when a reload
	// finishes so a shutdown can wait it out.
	phaseMu   sync.Mutex
	phaseCond *sync.Cond
	phase     BotPhase

	// rolesMu guards the snapshot reference only; the RoleSets value
	// itself is immutable.
	rolesMu sync.RWMutex
	roles   *domain.RoleSets

	// optsMu guards opts/specs/pluginConfig, which a reload rewrites
	// while dispatch workers read them through the BotContext.
	optsMu       sync.RWMutex
	opts         Options
	specs        []contract.PluginSpec
	pluginConfig map[string]map[string]string

	events    chan event.Event
	startTime time.Time

	reloadSource ReloadSource
	stopRequest  func()
}

// New constructs the bot in the Starting phase: role sets and plugins are
// loaded, persisted room state is restored, collaborators are attached
// exactly once. Workers are started separately through the supervisor.
func New(log *slog.Logger, opts Options, transport contract.Transport,
	store contract.Store, sched contract.Scheduler, web contract.WebhookServer,
	specs []contract.PluginSpec, pluginConfig map[string]map[string]string) *Bot {

	bot := &Bot{
		log:          log,
		transport:    transport,
		store:        store,
		sched:        sched,
		web:          web,
		registry:     plugins.NewRegistry(log),
		phase:        Starting,
		opts:         opts,
		specs:        specs,
		pluginConfig: pluginConfig,
		events:       make(chan event.Event, opts.BufferSize),
		startTime:    time.Now(),
	}
	bot.phaseCond = sync.NewCond(&bot.phaseMu)

	log.Info("Initializing jabber bot", "nick", opts.Nick)
	bot.loadRoles(opts.Roles)

	if opts.Room != "" {
		bot.room = NewRoomManager(log, transport, opts.Room, opts.Nick,
			opts.SelfJID, opts.HistoryLimit, opts.RoomInvites)
		bot.loadState()
	}

	var resolve func(string) (domain.JID, bool)
	if bot.room != nil {
		resolve = bot.room.ResolveNick
	}
	bot.router = NewRouter(log, opts.Nick, bot.registry, bot.Roles, resolve)

	bot.registry.Load(bot, pluginConfig, specs, plugins.Init)

	return bot
}

// SetReloadSource installs the callback that re-reads configuration for
// operator-triggered reloads.
func (b *Bot) SetReloadSource(source ReloadSource) { b.reloadSource = source }

// SetStopRequest installs the callback that RequestShutdown uses to stop
// the process (typically the signal context's cancel).
func (b *Bot) SetStopRequest(stop func()) { b.stopRequest = stop }

// Workers returns the supervised workers of the bot: the event dispatch
// pool and, when attached, the webhook server.
func (b *Bot) Workers() []contract.Worker {
	b.optsMu.RLock()
	n := b.opts.Workers
	b.optsMu.RUnlock()
	if n < 1 {
		n = 1
	}

	var out []contract.Worker
	for i := 0; i < n; i++ {
		out = append(out, workers.NewDispatchWorker(b.events, b, b.log))
	}
	if b.web != nil {
		out = append(out, b.web)
	}
	return out
}

// Start flips the bot to Running and starts the scheduler. Collaborators
// were attached in New; they are never re-attached later.
func (b *Bot) Start() {
	if b.sched != nil {
		b.sched.Start()
	}

	b.phaseMu.Lock()
	b.phase = Running
	b.phaseMu.Unlock()

	b.log.Info("Bot is running", "nick", b.Nick())
}

func (b *Bot) Phase() BotPhase {
	b.phaseMu.Lock()
	defer b.phaseMu.Unlock()
	return b.phase
}

// --- event intake (transport callbacks) ---

func (b *Bot) OnSessionStart() { b.enqueue(event.SessionStarted{}) }

func (b *Bot) OnMessage(msg domain.Message) { b.enqueue(event.IncomingMessage{Msg: msg}) }

func (b *Bot) OnPresence(p event.Presence) { b.enqueue(p) }

func (b *Bot) OnRoomPresence(p event.RoomPresence) { b.enqueue(p) }

func (b *Bot) enqueue(e event.Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn("Event channel full, dropping event")
	}
}

// HandleEvent runs on a dispatch worker. Handler failures are logged and
// swallowed here so one failing command cannot take down the session.
func (b *Bot) HandleEvent(_ context.Context, e event.Event) {
	switch ev := e.(type) {
	case event.SessionStarted:
		b.log.Info("Session established")
		if b.room != nil {
			if err := b.room.Join(); err != nil {
				b.log.Error("Could not join MUC room", "room", b.room.JID(), "error", err)
			}
		}
	case event.RoomPresence:
		if b.room != nil {
			b.room.HandlePresence(ev, b.Roles())
		}
	case event.IncomingMessage:
		reply, err := b.router.Dispatch(ev.Msg)
		if err != nil {
			b.log.Error("Command handler failed", "error", err)
			return
		}
		if reply != nil {
			if err := b.transport.SendMessage(reply.To, reply.Body, reply.Type); err != nil {
				b.log.Error("Could not send reply", "to", reply.To, "error", err)
			}
		}
	case event.Presence:
		b.log.Debug("Presence", "from", ev.From, "type", ev.Type)
	}
}

// --- lifecycle: reload ---

// Reload swaps configuration and plugins in place and rejoins the room.
// Only one reload may be in flight; a concurrent request is rejected.
// Nick, SelfJID, Room and HistoryLimit are fixed at construction and kept
// across reloads; changing them requires a restart.
func (b *Bot) Reload(opts Options, specs []contract.PluginSpec, pluginConfig map[string]map[string]string) error {
	b.phaseMu.Lock()
	if b.phase != Running {
		phase := b.phase
		b.phaseMu.Unlock()
		b.log.Warn("Reload rejected", "phase", phase.String())
		return boterrors.ErrReloadInFlight
	}
	b.phase = Reloading
	b.phaseMu.Unlock()

	b.log.Info("Requested reload")

	b.optsMu.RLock()
	current := b.opts
	b.optsMu.RUnlock()
	opts.Nick = current.Nick
	opts.SelfJID = current.SelfJID
	opts.Room = current.Room
	opts.HistoryLimit = current.HistoryLimit

	// Flush durable state before anything is torn down.
	b.persistState()

	// Reset-then-install: scheduler and webhook registrations are
	// cleared before the new plugin set repopulates them, so a plugin
	// never observes half-old/half-new sibling state.
	if b.sched != nil {
		b.sched.Reset()
	}
	if b.web != nil {
		b.web.ResetWebhooks()
		b.web.ResetApp()
	}

	b.loadRoles(opts.Roles)

	if b.room != nil {
		b.room.SetInvites(opts.RoomInvites)
		b.room.PruneInvited(b.Roles())
	}

	b.optsMu.Lock()
	b.opts = opts
	b.specs = specs
	b.pluginConfig = pluginConfig
	b.optsMu.Unlock()

	b.registry.Load(b, pluginConfig, specs, plugins.Reload)

	if b.room != nil {
		b.log.Info("Reinitializing multi-user chat room", "room", b.room.JID())
		if err := b.room.Leave(); err != nil {
			b.log.Error("Could not leave MUC room", "error", err)
		}
		if err := b.room.Join(); err != nil {
			b.log.Error("Could not rejoin MUC room", "error", err)
		}
	}

	// Only resume Running if no shutdown overtook the reload; either way
	// a waiting shutdown is released.
	b.phaseMu.Lock()
	if b.phase == Reloading {
		b.phase = Running
	}
	b.phaseCond.Broadcast()
	b.phaseMu.Unlock()

	return nil
}

// reloadFromSource re-reads configuration and runs Reload; used by the
// reload command.
func (b *Bot) reloadFromSource() error {
	if b.reloadSource == nil {
		b.optsMu.RLock()
		opts, specs, pluginConfig := b.opts, b.specs, b.pluginConfig
		b.optsMu.RUnlock()
		return b.Reload(opts, specs, pluginConfig)
	}

	opts, specs, pluginConfig, err := b.reloadSource()
	if err != nil {
		b.log.Error("Could not re-read configuration", "error", err)
		return err
	}
	return b.Reload(opts, specs, pluginConfig)
}

// --- lifecycle: shutdown ---

// Shutdown stops the collaborators independently and fault-tolerantly:
// one failure never prevents attempting the others. An in-flight reload
// is waited out first, so teardown never interleaves with a room rejoin.
// Calling Shutdown again while shutting down is a logged no-op.
func (b *Bot) Shutdown() error {
	b.phaseMu.Lock()
	for b.phase == Reloading {
		b.log.Info("Waiting for in-flight reload before shutdown")
		b.phaseCond.Wait()
	}
	if b.phase == ShuttingDown || b.phase == Stopped {
		b.phaseMu.Unlock()
		b.log.Warn("Shutdown is already in progress...")
		return nil
	}
	b.phase = ShuttingDown
	b.phaseMu.Unlock()

	b.log.Info("Requested shutdown")

	if b.web != nil {
		if err := b.web.Stop(); err != nil {
			b.log.Error("Webserver shutdown failed", "error", err)
		}
	}

	if b.sched != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("Cron shutdown failed", "panic", r)
				}
			}()
			b.sched.Stop()
		}()
	}

	if b.store != nil {
		b.persistState()
		if err := b.store.Close(); err != nil {
			b.log.Error("Persistent store could not be properly closed", "error", err)
		}
	}

	err := b.transport.Close()

	b.phaseMu.Lock()
	b.phase = Stopped
	b.phaseMu.Unlock()

	if err != nil {
		if !b.transport.Connected() {
			// Never connected: tolerated, but the process exits with a
			// distinguished status instead of propagating the fault.
			b.log.Error("Session teardown failed without an established session", "error", err)
			return boterrors.ErrSessionNotEstablished
		}
		return err
	}
	return nil
}

// --- BotContext ---

func (b *Bot) Nick() string {
	b.optsMu.RLock()
	defer b.optsMu.RUnlock()
	return b.opts.Nick
}

func (b *Bot) StartTime() time.Time { return b.startTime }

func (b *Bot) Logger() *slog.Logger { return b.log }

func (b *Bot) Store() contract.Store { return b.store }

func (b *Bot) Scheduler() contract.Scheduler { return b.sched }

func (b *Bot) Webhooks() contract.WebhookServer { return b.web }

func (b *Bot) RoomJID() domain.JID {
	if b.room == nil {
		return ""
	}
	return b.room.JID()
}

func (b *Bot) Roles() *domain.RoleSets {
	b.rolesMu.RLock()
	defer b.rolesMu.RUnlock()
	return b.roles
}

func (b *Bot) SendMessage(to domain.JID, body string, mtype domain.MessageType) error {
	return b.transport.SendMessage(to, body, mtype)
}

func (b *Bot) Broadcast(body string) int {
	users := b.Roles().Users()
	for _, jid := range users {
		if err := b.transport.SendMessage(jid, body, domain.ChatMessage); err != nil {
			b.log.Error("Broadcast send failed", "to", jid, "error", err)
		}
	}
	return len(users)
}

func (b *Bot) CommandTable() []domain.Command { return b.registry.Commands() }

func (b *Bot) RequestReload() error { return b.reloadFromSource() }

func (b *Bot) RequestShutdown() {
	if b.stopRequest != nil {
		b.stopRequest()
	}
}

// Registry exposes the plugin registry, for status display and tests.
func (b *Bot) Registry() *plugins.Registry { return b.registry }

// Room exposes the room manager; nil when no room is configured.
func (b *Bot) Room() *RoomManager { return b.room }

// --- internals ---

// loadRoles resolves the role spec and swaps the snapshot reference in
// one step, so concurrent readers see either the old or the new sets.
func (b *Bot) loadRoles(spec domain.RolesSpec) {
	roles, warnings := domain.LoadRoleSets(spec)
	for _, warning := range warnings {
		b.log.Warn(warning)
	}

	b.log.Info("Current users", "users", roles.Users())
	b.log.Info("Current room users", "room_users", roles.RoomMembers())

	b.rolesMu.Lock()
	b.roles = roles
	b.rolesMu.Unlock()
}

// persistState flushes the two durable keys. Called on shutdown and
// before every reload.
func (b *Bot) persistState() {
	if b.store == nil || b.room == nil {
		return
	}

	b.log.Info("Syncing bot data with persistent store")
	if err := b.store.Set(keyRoomInvited, b.room.Invited()); err != nil {
		b.log.Error("Could not persist invited set", "error", err)
	}
	if err := b.store.Set(keyRoomLastSeen, b.room.LastSeen()); err != nil {
		b.log.Error("Could not persist last-seen map", "error", err)
	}
}

// loadState restores the two durable keys on attach and prunes stale
// invites against the configured membership.
func (b *Bot) loadState() {
	if b.store == nil || b.room == nil {
		return
	}

	b.log.Info("Loading bot data from persistent store")

	var invited []domain.JID
	if _, err := b.store.Get(keyRoomInvited, &invited); err != nil {
		b.log.Error("Could not load invited set", "error", err)
	}

	lastSeen := make(map[domain.JID]time.Time)
	if _, err := b.store.Get(keyRoomLastSeen, &lastSeen); err != nil {
		b.log.Error("Could not load last-seen map", "error", err)
	}

	b.room.RestoreState(invited, lastSeen)
	b.room.PruneInvited(b.Roles())
}
