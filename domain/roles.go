package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// RolesSpec carries the raw comma-separated identity lists from the
// configuration. Entries may reference an already-resolved list with the
// @users, @admins and @room_users keywords.
type RolesSpec struct {
	Users      string
	Admins     string
	RoomUsers  string
	RoomAdmins string
}

// RoleSets holds the four resolved identity sets. A RoleSets value is
// immutable after LoadRoleSets: reloads build a fresh value and swap the
// reference, so concurrent readers always see a fully-formed snapshot.
type RoleSets struct {
	users       map[JID]struct{}
	admins      map[JID]struct{}
	roomMembers map[JID]struct{}
	roomAdmins  map[JID]struct{}
}

// LoadRoleSets resolves a RolesSpec into role sets. The lists are resolved
// in a fixed order (users, admins, room_users, room_admins) so keywords can
// only expand to a list resolved earlier in the same pass. Malformed
// entries and admin-not-in-users inconsistencies produce warnings, never
// errors: the bot must run with whatever survives.
func LoadRoleSets(spec RolesSpec) (*RoleSets, []string) {
	var warnings []string

	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	resolved := map[string]map[JID]struct{}{}

	parse := func(option, value string, keywords ...string) map[JID]struct{} {
		jids := make(map[JID]struct{})

		for _, entry := range strings.Split(value, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}

			if !strings.Contains(entry, "@") {
				warn("Skipping invalid JID %q from setting %q", entry, option)
				continue
			}

			if strings.HasPrefix(entry, "@") {
				kwd := entry[1:]
				if lo.Contains(keywords, kwd) {
					for jid := range resolved[kwd] {
						jids[jid] = struct{}{}
					}
				} else {
					warn("Skipping invalid keyword %q from setting %q", entry, option)
				}
				continue
			}

			jids[JID(entry).Bare()] = struct{}{}
		}

		resolved[option] = jids
		return jids
	}

	rs := &RoleSets{}
	rs.users = parse("users", spec.Users)
	rs.admins = parse("admins", spec.Admins, "users")
	rs.roomMembers = parse("room_users", spec.RoomUsers, "users", "admins")
	rs.roomAdmins = parse("room_admins", spec.RoomAdmins, "users", "admins", "room_users")

	for jid := range rs.admins {
		if _, ok := rs.users[jid]; !ok {
			warn("Admin %q is not specified in users. This may lead to unexpected behaviour.", jid)
		}
	}
	for jid := range rs.roomAdmins {
		if _, ok := rs.roomMembers[jid]; !ok {
			warn("Room admin %q is not specified in room_users. This may lead to unexpected behaviour.", jid)
		}
	}

	return rs, warnings
}

// IsUser reports whether jid may talk to the bot. An empty users list
// means the bot is open to everybody, mirroring the subscription policy
// of the original deployment.
func (r *RoleSets) IsUser(jid JID) bool {
	if len(r.users) == 0 {
		return true
	}
	_, ok := r.users[jid.Bare()]
	return ok
}

// IsAdmin is strict membership: an empty admins list means nobody is one.
func (r *RoleSets) IsAdmin(jid JID) bool {
	_, ok := r.admins[jid.Bare()]
	return ok
}

func (r *RoleSets) IsRoomMember(jid JID) bool {
	_, ok := r.roomMembers[jid.Bare()]
	return ok
}

func (r *RoleSets) IsRoomAdmin(jid JID) bool {
	_, ok := r.roomAdmins[jid.Bare()]
	return ok
}

// Allows checks a role gate against a sender identity.
func (r *RoleSets) Allows(gate RoleGate, sender JID) bool {
	switch gate {
	case GateAdmin:
		return r.IsAdmin(sender)
	case GateUser:
		return r.IsUser(sender)
	default:
		return true
	}
}

// Users returns the users set as a sorted slice, for rosters and broadcast.
func (r *RoleSets) Users() []JID {
	return sortedJIDs(r.users)
}

// RoomMembers returns the configured room member set as a sorted slice.
// The order makes affiliation pushes and reconciliation deterministic.
func (r *RoleSets) RoomMembers() []JID {
	return sortedJIDs(r.roomMembers)
}

func (r *RoleSets) RoomAdmins() []JID {
	return sortedJIDs(r.roomAdmins)
}

// HasRoomMembers reports whether any room member is configured; it drives
// the members-only vs open room configuration policy.
func (r *RoleSets) HasRoomMembers() bool {
	return len(r.roomMembers) > 0
}

func sortedJIDs(set map[JID]struct{}) []JID {
	jids := lo.Keys(set)
	sort.Slice(jids, func(i, j int) bool { return jids[i] < jids[j] })
	return jids
}
