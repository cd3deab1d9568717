package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mucbot/contract"
	"mucbot/domain"
	"mucbot/domain/event"
)

// RoomPhase is the state of the managed chat room.
type RoomPhase int32

const (
	Unjoined RoomPhase = iota
	Joining
	ConfiguringRoom
	RoomReady
)

func (p RoomPhase) String() string {
	switch p {
	case Joining:
		return "Joining"
	case ConfiguringRoom:
		return "ConfiguringRoom"
	case RoomReady:
		return "Ready"
	default:
		return "Unjoined"
	}
}

// Room configuration field names, from the MUC owner form.
const (
	fieldMembersOnly      = "muc#roomconfig_membersonly"
	fieldMembersByDefault = "members_by_default"
)

// RoomManager tracks live presence, invitation state and last-seen
// timestamps for the single managed room, and drives its configuration
// and invitations. All state mutations go through one mutex so two
// presence events for different identities cannot lose updates.
type RoomManager struct {
	mu        sync.Mutex
	log       *slog.Logger
	transport contract.Transport

	room         domain.JID
	nick         string
	selfJID      domain.JID
	historyLimit int
	invites      bool

	phase        RoomPhase
	presentNicks map[string]domain.JID
	invited      map[domain.JID]struct{}
	lastSeen     map[domain.JID]time.Time
}

func NewRoomManager(log *slog.Logger, transport contract.Transport, room domain.JID,
	nick string, selfJID domain.JID, historyLimit int, invites bool) *RoomManager {
	return &RoomManager{
		log:          log,
		transport:    transport,
		room:         room,
		nick:         nick,
		selfJID:      selfJID.Bare(),
		historyLimit: historyLimit,
		invites:      invites,
		phase:        Unjoined,
		presentNicks: make(map[string]domain.JID),
		invited:      make(map[domain.JID]struct{}),
		lastSeen:     make(map[domain.JID]time.Time),
	}
}

func (r *RoomManager) JID() domain.JID { return r.room }

func (r *RoomManager) Phase() RoomPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// SetInvites toggles whether reconciliation may send invitations; applied
// on reload.
func (r *RoomManager) SetInvites(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites = enabled
}

// Join issues the room join request with a bounded history length.
func (r *RoomManager) Join() error {
	r.mu.Lock()
	if r.phase != Unjoined {
		r.mu.Unlock()
		r.log.Warn("Join requested while room is not unjoined", "phase", r.phase.String())
		return nil
	}
	r.phase = Joining
	r.mu.Unlock()

	r.log.Info("Initializing multi-user chat room", "room", r.room)
	return r.transport.JoinRoom(r.room, r.nick, r.historyLimit)
}

// Leave exits the room before a reload rejoins it with new configuration.
func (r *RoomManager) Leave() error {
	r.mu.Lock()
	r.phase = Unjoined
	r.presentNicks = make(map[string]domain.JID)
	r.mu.Unlock()

	return r.transport.LeaveRoom(r.room, r.nick)
}

// HandlePresence processes one room presence event. The bot's own
// presence drives the configuration and reconciliation steps; everybody
// else's updates presence bookkeeping and, once the room is ready,
// last-seen stamps and greetings.
func (r *RoomManager) HandlePresence(ev event.RoomPresence, roles *domain.RoleSets) {
	if ev.Online && ev.Nick == r.nick {
		r.selfOnline(roles)
		return
	}

	r.mu.Lock()
	ready := r.phase == RoomReady

	if ev.Online {
		if ev.JID != "" {
			r.presentNicks[ev.Nick] = ev.JID.Bare()
		}
		if ready && ev.JID != "" {
			r.lastSeen[ev.JID.Bare()] = time.Now().UTC()
		}
	} else {
		delete(r.presentNicks, ev.Nick)
		if ready && ev.JID != "" {
			r.lastSeen[ev.JID.Bare()] = time.Now().UTC()
		}
	}
	r.mu.Unlock()

	// Events received before the room is ready get no greeting.
	if !ready {
		return
	}

	if ev.Online {
		r.log.Info("User joining MUC room", "jid", ev.JID, "nick", ev.Nick,
			"role", ev.Role, "affiliation", ev.Affiliation)
		r.say(fmt.Sprintf("Hello %s!", ev.Nick))
	} else {
		r.log.Info("User leaving MUC room", "jid", ev.JID, "nick", ev.Nick,
			"role", ev.Role, "affiliation", ev.Affiliation)
		r.say(fmt.Sprintf("Bye bye %s", ev.Nick))
	}
}

// selfOnline runs when the bot's own presence in the room is confirmed.
// It configures the room, transitions to Ready and reconciles membership.
// The whole path is idempotent: the bot's own presence echo may fire it
// again without duplicate invitations.
func (r *RoomManager) selfOnline(roles *domain.RoleSets) {
	r.mu.Lock()
	announce := r.phase != RoomReady
	if r.phase == Joining {
		r.phase = ConfiguringRoom
	}
	r.mu.Unlock()

	r.configure(roles)

	r.mu.Lock()
	r.phase = RoomReady
	r.mu.Unlock()

	if announce {
		r.say(fmt.Sprintf("%s is here!", r.nick))
	}

	r.Reconcile(roles)
}

// configure pushes the room configuration and the affiliation list. Every
// failure here is logged and the room stays usable in degraded mode;
// configuration failures are never fatal to the bot process.
func (r *RoomManager) configure(roles *domain.RoleSets) {
	r.log.Info("Getting current configuration for MUC room", "room", r.room)

	fields, err := r.transport.RoomConfigFields(r.room)
	if err != nil {
		r.log.Error("Could not get MUC room configuration. Maybe the room is not (properly) initialized.",
			"room", r.room, "error", err)
		return
	}
	if fields == nil {
		fields = make(map[string]string)
	}

	if roles.HasRoomMembers() {
		fields[fieldMembersOnly] = "1"
		fields[fieldMembersByDefault] = "0"
	} else {
		fields[fieldMembersOnly] = "0"
		fields[fieldMembersByDefault] = "1"
	}

	r.log.Info("Setting new configuration for MUC room", "room", r.room)
	if err := r.transport.SetRoomConfigFields(r.room, fields); err != nil {
		r.log.Error("Could not configure MUC room", "room", r.room, "error", err)
	}

	r.log.Info("Setting member list for MUC room", "room", r.room)
	if err := r.transport.SetRoomAffiliations(r.room, r.affiliations(roles)); err != nil {
		r.log.Error("Could not configure MUC room member list", "room", r.room, "error", err)
	}
}

// affiliations builds the full affiliation list: the bot is always owner,
// configured room admins get admin, every other configured room member
// gets member. Nobody else is assigned anything.
func (r *RoomManager) affiliations(roles *domain.RoleSets) []contract.Affiliation {
	items := []contract.Affiliation{{JID: r.selfJID, Role: "owner"}}

	for _, jid := range roles.RoomMembers() {
		role := "member"
		if roles.IsRoomAdmin(jid) {
			role = "admin"
		}
		items = append(items, contract.Affiliation{JID: jid, Role: role})
	}
	return items
}

// Reconcile aligns live room presence and invite state with the
// configured membership. Present members get a last-seen stamp; absent
// members get at most one invitation while invitations are enabled.
// Re-running it with no presence change sends nothing twice.
func (r *RoomManager) Reconcile(roles *domain.RoleSets) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range roles.RoomMembers() {
		if r.presentLocked(user) {
			r.log.Info("User already in MUC room", "jid", user)
			r.lastSeen[user] = time.Now().UTC()
			continue
		}

		if seen, ok := r.lastSeen[user]; ok {
			r.log.Info("User is not currently present in MUC room",
				"jid", user, "last_seen", seen.Format(time.RFC3339))
		} else {
			r.log.Info("User is not present in MUC room", "jid", user)
		}

		if !r.invites {
			continue
		}
		if _, ok := r.invited[user]; ok {
			r.log.Info("User was already invited to MUC room", "jid", user)
			continue
		}

		r.log.Info("Inviting user to MUC room", "jid", user)
		if err := r.transport.Invite(r.room, user); err != nil {
			r.log.Error("Could not invite user to MUC room", "jid", user, "error", err)
			continue
		}
		r.invited[user] = struct{}{}
	}
}

func (r *RoomManager) presentLocked(jid domain.JID) bool {
	for _, present := range r.presentNicks {
		if present == jid {
			return true
		}
	}
	return false
}

// PruneInvited drops stale invites for users removed from the
// configuration, keeping invited a subset of the configured members.
func (r *RoomManager) PruneInvited(roles *domain.RoleSets) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for jid := range r.invited {
		if !roles.IsRoomMember(jid) {
			delete(r.invited, jid)
		}
	}
}

// Invited returns the current invited set, for persistence and tests.
func (r *RoomManager) Invited() []domain.JID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.JID, 0, len(r.invited))
	for jid := range r.invited {
		out = append(out, jid)
	}
	return out
}

// LastSeen returns a copy of the last-seen map, for persistence and tests.
func (r *RoomManager) LastSeen() map[domain.JID]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.JID]time.Time, len(r.lastSeen))
	for jid, at := range r.lastSeen {
		out[jid] = at
	}
	return out
}

// RestoreState merges persisted invite and last-seen state, on startup.
func (r *RoomManager) RestoreState(invited []domain.JID, lastSeen map[domain.JID]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, jid := range invited {
		r.invited[jid.Bare()] = struct{}{}
	}
	for jid, at := range lastSeen {
		r.lastSeen[jid.Bare()] = at
	}
}

// ResolveNick maps a room nickname to the occupant's bare JID, for
// groupchat sender resolution.
func (r *RoomManager) ResolveNick(nick string) (domain.JID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jid, ok := r.presentNicks[nick]
	return jid, ok
}

func (r *RoomManager) say(body string) {
	if err := r.transport.SendMessage(r.room, body, domain.GroupchatMessage); err != nil {
		r.log.Error("Could not send room message", "room", r.room, "error", err)
	}
}
