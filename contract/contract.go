// Package contract declares the interfaces between the bot core and its
// collaborators. The transport, store, scheduler and webhook server are
// external subsystems: the core only depends on these boundaries.
package contract

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"mucbot/domain"
)

// Transport is the protocol session. Connection handling, TLS, stream
// parsing and stanza encoding all live behind it.
type Transport interface {
	SendMessage(to domain.JID, body string, mtype domain.MessageType) error
	JoinRoom(room domain.JID, nick string, historyLimit int) error
	LeaveRoom(room domain.JID, nick string) error
	SetRoomAffiliations(room domain.JID, items []Affiliation) error
	RoomConfigFields(room domain.JID) (map[string]string, error)
	SetRoomConfigFields(room domain.JID, fields map[string]string) error
	Invite(room domain.JID, user domain.JID) error
	// Close tears the session down. Connected reports whether a session
	// was ever established; shutdown uses it to pick the exit path.
	Close() error
	Connected() bool
}

// Affiliation assigns a room role to an identity, independent of presence.
type Affiliation struct {
	JID  domain.JID
	Role string // "owner", "admin" or "member"
}

// Store is the persistent key-value collaborator. The core persists
// exactly two keys: the invited set and the last-seen map.
type Store interface {
	// Get decodes the value under key into out and reports whether the
	// key existed.
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	Close() error
}

// CronJob is a periodic job registered by a plugin.
type CronJob struct {
	Module string
	Name   string
	Spec   string // cron expression, including the @every form
	Fn     func()
}

// Scheduler runs periodic jobs as an independent long-lived worker. Reset
// clears all registrations so a reload can repopulate them from the new
// plugin set.
type Scheduler interface {
	Start()
	Stop()
	Reset()
	Register(job CronJob) error
	ListJobs() []string
}

// WebhookServer receives HTTP callbacks for plugins. It runs as a
// supervised worker; the lifecycle controller owns its stop call.
type WebhookServer interface {
	Worker
	RegisterWebhook(module, path string, handler http.HandlerFunc) error
	ResetWebhooks()
	ResetApp()
	ListWebhooks() []string
	Stop() error
}

// Plugin is a loadable unit contributing commands. Instances are owned
// exclusively by the plugin registry.
type Plugin interface {
	Module() string
	Version() string
	Commands() []domain.Command
}

// Constructor builds a plugin against its config section. reinit is true
// when the module is being replaced during a reload, so a plugin may carry
// forward internal state deliberately. A constructor error means the
// plugin is simply omitted from the registry.
type Constructor func(bot BotContext, config map[string]string, reinit bool) (Plugin, error)

// PluginSpec declares a plugin to load: its stable module key, the name of
// its config section and its constructor.
type PluginSpec struct {
	Module  string
	Section string
	New     Constructor
}

// BotContext is the back-reference handed to plugin constructors. It is
// the only way a plugin reaches the rest of the bot; there is no ambient
// global registry.
type BotContext interface {
	Nick() string
	StartTime() time.Time
	RoomJID() domain.JID // empty when no room is configured

	// Logger returns the bot's logger, for plugin diagnostics.
	Logger() *slog.Logger

	// Roles returns the current role-set snapshot. The reference is
	// replaced whole on reload; holding it across calls is safe.
	Roles() *domain.RoleSets

	SendMessage(to domain.JID, body string, mtype domain.MessageType) error
	// Broadcast sends body to every configured user and returns how many
	// were addressed.
	Broadcast(body string) int

	// CommandTable lists the currently registered commands in
	// registration order, for help and status output.
	CommandTable() []domain.Command

	// Store, Scheduler and Webhooks return nil when the corresponding
	// collaborator is not attached.
	Store() Store
	Scheduler() Scheduler
	Webhooks() WebhookServer

	// RequestReload and RequestShutdown trigger the lifecycle
	// transitions from operator commands.
	RequestReload() error
	RequestShutdown()
}

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// for logging and supervision purposes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
